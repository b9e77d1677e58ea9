package alerts

import (
	"github.com/gen2brain/beeep"

	"github.com/j-veylop/tokenwatch/internal/models"
)

// DesktopNotifier shows alerts as desktop notifications. Info alerts are
// skipped.
type DesktopNotifier struct {
	notify func(title, message string) error
}

// NewDesktopNotifier creates a notifier backed by the OS notification service.
func NewDesktopNotifier() *DesktopNotifier {
	return &DesktopNotifier{notify: func(title, message string) error {
		return beeep.Notify(title, message, "")
	}}
}

// Notify implements Notifier.
func (d *DesktopNotifier) Notify(alert models.Alert) error {
	if alert.Severity == models.SeverityInfo {
		return nil
	}
	return d.notify(alert.Title, alert.Message)
}
