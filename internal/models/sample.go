// Package models defines data structures and domain types.
package models

import (
	"time"

	"github.com/j-veylop/tokenwatch/internal/db"
)

// UsageSample is one measurement taken by the collector. Samples are never
// modified after they are stored.
type UsageSample struct {
	ID              int64
	Timestamp       time.Time
	TokensUsed      int64
	RequestsCount   int64
	AvgResponseTime float64 // milliseconds
	ActiveUsers     int64
	ErrorCount      int64
	CostUSD         float64
	// Derived over the trailing hour, including this sample.
	TokensPerHour   float64
	RequestsPerHour float64
}

// TableName implements db.Record.
func (s UsageSample) TableName() string { return db.TableUsageData }

// Columns implements db.Record.
func (s UsageSample) Columns() db.Row {
	return db.Row{
		"id":                s.ID,
		"timestamp":         s.Timestamp,
		"tokens_used":       s.TokensUsed,
		"requests_count":    s.RequestsCount,
		"avg_response_time": s.AvgResponseTime,
		"active_users":      s.ActiveUsers,
		"error_count":       s.ErrorCount,
		"cost_usd":          s.CostUSD,
		"tokens_per_hour":   s.TokensPerHour,
		"requests_per_hour": s.RequestsPerHour,
	}
}

// SampleFromRow builds a sample from a usage_data row.
func SampleFromRow(r db.Row) UsageSample {
	return UsageSample{
		ID:              r.Int64("id"),
		Timestamp:       r.Time("timestamp"),
		TokensUsed:      r.Int64("tokens_used"),
		RequestsCount:   r.Int64("requests_count"),
		AvgResponseTime: r.Float64("avg_response_time"),
		ActiveUsers:     r.Int64("active_users"),
		ErrorCount:      r.Int64("error_count"),
		CostUSD:         r.Float64("cost_usd"),
		TokensPerHour:   r.Float64("tokens_per_hour"),
		RequestsPerHour: r.Float64("requests_per_hour"),
	}
}

// SamplesFromRows converts a slice of usage_data rows.
func SamplesFromRows(rows []db.Row) []UsageSample {
	out := make([]UsageSample, len(rows))
	for i, r := range rows {
		out[i] = SampleFromRow(r)
	}
	return out
}
