package models

import (
	"time"

	"github.com/j-veylop/tokenwatch/internal/db"
)

// PredictionKind distinguishes the two prediction shapes.
type PredictionKind string

const (
	PredictionExhaustion PredictionKind = "exhaustion"
	PredictionDaily      PredictionKind = "daily"
)

// UnboundedHours is stored as HoursRemaining when usage is not growing.
const UnboundedHours = -1.0

// Prediction is one persisted projection. Exhaustion predictions carry
// ExhaustionTime and HoursRemaining; daily forecasts carry ForDate,
// PredictedTokens and PredictedCost.
type Prediction struct {
	ID         int64
	Timestamp  time.Time
	Kind       PredictionKind
	Confidence float64

	// ExhaustionTime is nil when the projection is unbounded.
	ExhaustionTime *time.Time
	HoursRemaining *float64

	ForDate         string // YYYY-MM-DD
	PredictedTokens *float64
	PredictedCost   *float64
}

// Unbounded reports whether the projection never reaches the quota.
func (p Prediction) Unbounded() bool {
	return p.Kind == PredictionExhaustion && p.ExhaustionTime == nil
}

// TableName implements db.Record.
func (p Prediction) TableName() string { return db.TablePredictions }

// Columns implements db.Record.
func (p Prediction) Columns() db.Row {
	row := db.Row{
		"id":                        p.ID,
		"timestamp":                 p.Timestamp,
		"kind":                      string(p.Kind),
		"confidence":                p.Confidence,
		"predicted_exhaustion_time": p.ExhaustionTime,
		"hours_remaining":           p.HoursRemaining,
		"predicted_tokens":          p.PredictedTokens,
		"predicted_cost":            p.PredictedCost,
		"for_date":                  nil,
	}
	if p.ForDate != "" {
		row["for_date"] = p.ForDate
	}
	return row
}

// PredictionFromRow builds a prediction from a predictions row.
func PredictionFromRow(r db.Row) Prediction {
	return Prediction{
		ID:              r.Int64("id"),
		Timestamp:       r.Time("timestamp"),
		Kind:            PredictionKind(r.String("kind")),
		Confidence:      r.Float64("confidence"),
		ExhaustionTime:  r.TimePtr("predicted_exhaustion_time"),
		HoursRemaining:  r.FloatPtr("hours_remaining"),
		ForDate:         r.String("for_date"),
		PredictedTokens: r.FloatPtr("predicted_tokens"),
		PredictedCost:   r.FloatPtr("predicted_cost"),
	}
}
