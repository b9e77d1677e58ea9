package app

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/j-veylop/tokenwatch/internal/events"
	"github.com/j-veylop/tokenwatch/internal/services"
)

const (
	// DefaultTickInterval is the default interval between ticks.
	DefaultTickInterval = 2 * time.Second

	// DefaultNotificationDuration is the default duration for notifications.
	DefaultNotificationDuration = 5 * time.Second

	// LongNotificationDuration is for important notifications.
	LongNotificationDuration = 10 * time.Second

	// loadTimeout bounds snapshot and acknowledgement calls from the UI.
	loadTimeout = 10 * time.Second
)

// Monitor is what the watch view needs from the running monitor.
type Monitor interface {
	Subscribe() (chan events.Event, tea.Cmd)
	InitialState(ctx context.Context) (services.State, error)
	Acknowledge(ctx context.Context, id string) error
}

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}

func defaultTickCmd() tea.Cmd {
	return tickCmd(DefaultTickInterval)
}

// loadStateCmd returns a command that loads the monitor snapshot.
func loadStateCmd(mon Monitor) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		st, err := mon.InitialState(ctx)
		return InitialStateMsg{State: st, Err: err}
	}
}

// subscribeCmd returns a command that subscribes to monitor events.
func subscribeCmd(mon Monitor) tea.Cmd {
	ch, _ := mon.Subscribe()
	return func() tea.Msg {
		return SubscriptionEventMsg{Channel: ch}
	}
}

// waitForEventCmd waits for the next monitor event. A closed channel ends
// the subscription.
func waitForEventCmd(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return MonitorEventMsg{Event: ev}
	}
}

// acknowledgeCmd returns a command that acknowledges an alert.
func acknowledgeCmd(mon Monitor, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		return AcknowledgedMsg{ID: id, Err: mon.Acknowledge(ctx, id)}
	}
}

func clearNotificationCmd(id string, delay time.Duration) tea.Cmd {
	return tea.Tick(delay, func(_ time.Time) tea.Msg {
		return RemoveNotificationMsg{ID: id}
	})
}

func notifyCmd(t NotificationType, message string, d time.Duration) tea.Cmd {
	return func() tea.Msg {
		return AddNotificationMsg{Type: t, Message: message, Duration: d}
	}
}

func notifySuccessCmd(message string) tea.Cmd {
	return notifyCmd(NotificationSuccess, message, DefaultNotificationDuration)
}

func notifyErrorCmd(message string) tea.Cmd {
	return notifyCmd(NotificationError, message, LongNotificationDuration)
}

func notifyWarningCmd(message string) tea.Cmd {
	return notifyCmd(NotificationWarning, message, LongNotificationDuration)
}

func notifyInfoCmd(message string) tea.Cmd {
	return notifyCmd(NotificationInfo, message, DefaultNotificationDuration)
}

// Acknowledge returns a message command that asks the root model to
// acknowledge id. Tabs use it so only the root talks to the monitor.
func Acknowledge(id string) tea.Cmd {
	return func() tea.Msg { return AcknowledgeMsg{ID: id} }
}

// Refresh returns a message command that reloads the snapshot.
func Refresh() tea.Cmd {
	return func() tea.Msg { return RefreshMsg{} }
}
