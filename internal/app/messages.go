package app

import (
	"time"

	"github.com/j-veylop/tokenwatch/internal/events"
	"github.com/j-veylop/tokenwatch/internal/services"
)

// TickMsg is sent periodically to expire notifications.
type TickMsg struct {
	Time time.Time
}

// InitialStateMsg carries the monitor snapshot loaded at startup or on refresh.
type InitialStateMsg struct {
	State services.State
	Err   error
}

// SubscriptionEventMsg hands the event channel to the model.
type SubscriptionEventMsg struct {
	Channel chan events.Event
}

// MonitorEventMsg wraps one event from the monitor.
type MonitorEventMsg struct {
	Event events.Event
}

// AcknowledgeMsg requests acknowledging an alert.
type AcknowledgeMsg struct {
	ID string
}

// AcknowledgedMsg is the result of an acknowledgement.
type AcknowledgedMsg struct {
	ID  string
	Err error
}

// RefreshMsg requests reloading the monitor snapshot.
type RefreshMsg struct{}

// AddNotificationMsg requests adding a new notification.
type AddNotificationMsg struct {
	Type     NotificationType
	Message  string
	Duration time.Duration
}

// RemoveNotificationMsg requests removal of a notification.
type RemoveNotificationMsg struct {
	ID string
}

// TabSwitchMsg requests switching to a specific tab.
type TabSwitchMsg struct {
	Tab TabID
}

// ToggleHelpMsg toggles the help display.
type ToggleHelpMsg struct{}
