package models

import (
	"time"

	"github.com/j-veylop/tokenwatch/internal/db"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeveritySuccess  Severity = "success"
)

// AlertType names the check that raised an alert.
type AlertType string

const (
	AlertUsageWarning        AlertType = "usage_warning"
	AlertUsageCritical       AlertType = "usage_critical"
	AlertHighRate            AlertType = "high_rate"
	AlertExhaustionPredicted AlertType = "exhaustion_predicted"
	AlertUsageNormal         AlertType = "usage_normal"
)

// Alert is a persisted threshold breach. Only Acknowledged and ResolvedAt
// change after creation; alerts are never deleted.
type Alert struct {
	ID           string
	Type         AlertType
	Severity     Severity
	Title        string
	Message      string
	Timestamp    time.Time
	Acknowledged bool
	ResolvedAt   *time.Time
}

// TableName implements db.Record.
func (a Alert) TableName() string { return db.TableAlerts }

// Columns implements db.Record.
func (a Alert) Columns() db.Row {
	return db.Row{
		"id":           a.ID,
		"type":         string(a.Type),
		"severity":     string(a.Severity),
		"title":        a.Title,
		"message":      a.Message,
		"timestamp":    a.Timestamp,
		"acknowledged": a.Acknowledged,
		"resolved_at":  a.ResolvedAt,
	}
}

// AlertFromRow builds an alert from an alerts row.
func AlertFromRow(r db.Row) Alert {
	return Alert{
		ID:           r.String("id"),
		Type:         AlertType(r.String("type")),
		Severity:     Severity(r.String("severity")),
		Title:        r.String("title"),
		Message:      r.String("message"),
		Timestamp:    r.Time("timestamp"),
		Acknowledged: r.Bool("acknowledged"),
		ResolvedAt:   r.TimePtr("resolved_at"),
	}
}

// AlertsFromRows converts a slice of alerts rows.
func AlertsFromRows(rows []db.Row) []Alert {
	out := make([]Alert, len(rows))
	for i, r := range rows {
		out[i] = AlertFromRow(r)
	}
	return out
}
