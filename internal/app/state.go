// Package app provides the Bubble Tea watch view and its shared state.
package app

import (
	"strconv"
	"sync"
	"time"

	"github.com/j-veylop/tokenwatch/internal/db"
	"github.com/j-veylop/tokenwatch/internal/events"
	"github.com/j-veylop/tokenwatch/internal/models"
	"github.com/j-veylop/tokenwatch/internal/services"
)

// NotificationType defines the type of notification.
type NotificationType int

const (
	NotificationSuccess NotificationType = iota
	NotificationError
	NotificationWarning
	NotificationInfo
	// NotificationLoading is rendered with the spinner.
	NotificationLoading
)

// LoadingNotificationID is the fixed ID for the loading notification.
const LoadingNotificationID = "__loading__"

// Retention of UI-side series.
const (
	maxRatePoints    = 180
	maxAlerts        = 50
	maxNotifications = 10
)

// String returns the string representation of a NotificationType.
func (n NotificationType) String() string {
	switch n {
	case NotificationSuccess:
		return "success"
	case NotificationError:
		return "error"
	case NotificationWarning:
		return "warning"
	case NotificationInfo:
		return "info"
	case NotificationLoading:
		return "loading"
	default:
		return "unknown"
	}
}

// Notification represents a user-facing toast.
type Notification struct {
	ID        string
	Type      NotificationType
	Message   string
	CreatedAt time.Time
	Duration  time.Duration
}

// IsExpired returns true if the notification has expired.
func (n *Notification) IsExpired() bool {
	if n.Duration <= 0 {
		return false
	}
	return time.Since(n.CreatedAt) > n.Duration
}

// Snapshot is a consistent copy of the state for rendering.
type Snapshot struct {
	Latest      *models.UsageSample
	Rates       []float64
	BudgetUsed  int64
	Quota       int64
	Prediction  *models.Prediction
	Forecast    []models.Prediction
	Alerts      []models.Alert
	Backend     db.Stats
	Loaded      bool
	LastUpdated time.Time
}

// UnacknowledgedCount returns how many alerts are still unacknowledged.
func (s Snapshot) UnacknowledgedCount() int {
	n := 0
	for _, a := range s.Alerts {
		if !a.Acknowledged {
			n++
		}
	}
	return n
}

// State is shared by the root model and its tabs.
type State struct {
	mu sync.RWMutex

	snap Snapshot

	notifications   []Notification
	notificationSeq int
}

// NewState returns an empty state.
func NewState() *State {
	return &State{}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.snap
	out.Rates = append([]float64(nil), s.snap.Rates...)
	out.Forecast = append([]models.Prediction(nil), s.snap.Forecast...)
	out.Alerts = append([]models.Alert(nil), s.snap.Alerts...)
	return out
}

// ApplyInitial replaces the state with a monitor snapshot.
func (s *State) ApplyInitial(st services.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Latest = st.Latest
	s.snap.BudgetUsed = st.BudgetUsed
	s.snap.Quota = st.Quota
	s.snap.Prediction = st.Prediction
	s.snap.Forecast = append([]models.Prediction(nil), st.Forecast...)
	s.snap.Alerts = append([]models.Alert(nil), st.Alerts...)
	s.snap.Backend = st.Backend
	s.snap.Rates = s.snap.Rates[:0]
	for _, h := range st.History {
		s.appendRateLocked(h.TokensPerHour)
	}
	s.snap.Loaded = true
	s.snap.LastUpdated = time.Now()
}

// ApplyEvent folds one monitor event into the state.
func (s *State) ApplyEvent(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case events.SampleCollected:
		sample := e.Sample
		s.snap.Latest = &sample
		s.snap.BudgetUsed = e.BudgetUsed
		s.snap.Quota = e.Quota
		s.appendRateLocked(sample.TokensPerHour)
	case events.PredictionUpdated:
		s.snap.Prediction = e.Exhaustion
		s.snap.Forecast = append([]models.Prediction(nil), e.Daily...)
	case events.AlertCreated:
		s.snap.Alerts = append([]models.Alert{e.Alert}, s.snap.Alerts...)
		if len(s.snap.Alerts) > maxAlerts {
			s.snap.Alerts = s.snap.Alerts[:maxAlerts]
		}
	}
	s.snap.LastUpdated = time.Now()
}

func (s *State) appendRateLocked(rate float64) {
	s.snap.Rates = append(s.snap.Rates, rate)
	if len(s.snap.Rates) > maxRatePoints {
		s.snap.Rates = s.snap.Rates[len(s.snap.Rates)-maxRatePoints:]
	}
}

// MarkAcknowledged flags the alert with id as acknowledged.
func (s *State) MarkAcknowledged(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.snap.Alerts {
		if s.snap.Alerts[i].ID == id {
			s.snap.Alerts[i].Acknowledged = true
			return
		}
	}
}

// AddNotification adds a new notification and returns its ID.
func (s *State) AddNotification(notifType NotificationType, message string, duration time.Duration) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notificationSeq++
	id := "n" + strconv.Itoa(s.notificationSeq)

	s.notifications = append(s.notifications, Notification{
		ID:        id,
		Type:      notifType,
		Message:   message,
		CreatedAt: time.Now(),
		Duration:  duration,
	})
	if len(s.notifications) > maxNotifications {
		s.notifications = s.notifications[len(s.notifications)-maxNotifications:]
	}
	return id
}

// RemoveNotification removes a notification by ID.
func (s *State) RemoveNotification(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, n := range s.notifications {
		if n.ID == id {
			s.notifications = append(s.notifications[:i], s.notifications[i+1:]...)
			return
		}
	}
}

// ClearExpiredNotifications removes all expired notifications.
func (s *State) ClearExpiredNotifications() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = activeNotifications(s.notifications)
}

// GetNotifications returns a copy of all active notifications.
func (s *State) GetNotifications() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeNotifications(s.notifications)
}

// SetLoadingNotification sets the loading notification message.
func (s *State) SetLoadingNotification(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, n := range s.notifications {
		if n.ID == LoadingNotificationID {
			s.notifications[i].Message = message
			return
		}
	}
	s.notifications = append(s.notifications, Notification{
		ID:        LoadingNotificationID,
		Type:      NotificationLoading,
		Message:   message,
		CreatedAt: time.Now(),
	})
}

// ClearLoadingNotification removes the loading notification.
func (s *State) ClearLoadingNotification() {
	s.RemoveNotification(LoadingNotificationID)
}

func activeNotifications(in []Notification) []Notification {
	out := make([]Notification, 0, len(in))
	for _, n := range in {
		if !n.IsExpired() {
			out = append(out, n)
		}
	}
	return out
}
