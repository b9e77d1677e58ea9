// Package alerts turns threshold breaches into persisted alerts.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/j-veylop/tokenwatch/internal/config"
	"github.com/j-veylop/tokenwatch/internal/db"
	"github.com/j-veylop/tokenwatch/internal/events"
	"github.com/j-veylop/tokenwatch/internal/logger"
	"github.com/j-veylop/tokenwatch/internal/metrics"
	"github.com/j-veylop/tokenwatch/internal/models"
	"github.com/j-veylop/tokenwatch/internal/services/predictor"
)

// ErrAlertNotFound is returned when no alert has the given id.
var ErrAlertNotFound = errors.New("alert not found")

// Config holds alerting thresholds.
type Config struct {
	Quota       int64
	WarningPct  float64
	CriticalPct float64
	// HighRate is the tokens/hour above which an info alert is raised.
	// Zero disables the check.
	HighRate float64
	// ExhaustionHorizon raises a warning when the projected exhaustion is
	// at most this far away.
	ExhaustionHorizon time.Duration
	// Cooldown suppresses repeats of the same alert type. Zero disables
	// suppression.
	Cooldown time.Duration
}

// ConfigFrom builds an engine config from the application thresholds.
func ConfigFrom(quota int64, t config.Thresholds) Config {
	return Config{
		Quota:             quota,
		WarningPct:        t.WarningPct,
		CriticalPct:       t.CriticalPct,
		HighRate:          t.HighRate,
		ExhaustionHorizon: t.ExhaustionHorizon,
		Cooldown:          t.Cooldown,
	}
}

// Notifier forwards created alerts outside the process.
type Notifier interface {
	Notify(alert models.Alert) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier forwards every created alert to n.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine evaluates usage and predictions against thresholds.
type Engine struct {
	cfg      Config
	store    *db.Adapter
	bus      *events.Bus
	notifier Notifier
	now      func() time.Time

	mu         sync.Mutex
	lastRaised map[models.AlertType]time.Time
}

// New creates an alert engine.
func New(store *db.Adapter, bus *events.Bus, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		store:      store,
		bus:        bus,
		now:        time.Now,
		lastRaised: make(map[models.AlertType]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckSample runs the absolute-value checks for a freshly collected sample.
func (e *Engine) CheckSample(ctx context.Context, sample models.UsageSample, budgetUsed int64) error {
	_, usageErr := e.CheckUsage(ctx, budgetUsed)
	_, rateErr := e.CheckRate(ctx, sample.TokensPerHour)
	return errors.Join(usageErr, rateErr)
}

// CheckUsage compares used against the quota. At most one alert is created:
// critical above CriticalPct, else warning above WarningPct. Below WarningPct
// any open usage alerts are resolved and a success alert records the recovery.
func (e *Engine) CheckUsage(ctx context.Context, used int64) (*models.Alert, error) {
	if e.cfg.Quota <= 0 {
		return nil, nil
	}
	pct := float64(used) / float64(e.cfg.Quota) * 100
	detail := fmt.Sprintf("%.1f%% of quota used (%s / %s tokens)",
		pct, humanize.Comma(used), humanize.Comma(e.cfg.Quota))

	switch {
	case pct >= e.cfg.CriticalPct:
		return e.raise(ctx, models.AlertUsageCritical, models.SeverityCritical, "Token budget critical", detail)
	case pct >= e.cfg.WarningPct:
		return e.raise(ctx, models.AlertUsageWarning, models.SeverityWarning, "Token budget warning", detail)
	default:
		return e.recover(ctx, detail)
	}
}

// CheckRate raises an info alert when the hourly rate exceeds HighRate.
func (e *Engine) CheckRate(ctx context.Context, tokensPerHour float64) (*models.Alert, error) {
	if e.cfg.HighRate <= 0 || tokensPerHour <= e.cfg.HighRate {
		return nil, nil
	}
	msg := fmt.Sprintf("Consuming %s tokens/hour (threshold %s)",
		humanize.Commaf(tokensPerHour), humanize.Commaf(e.cfg.HighRate))
	return e.raise(ctx, models.AlertHighRate, models.SeverityInfo, "High token rate", msg)
}

// CheckPrediction raises a warning when the budget is projected to run out
// within ExhaustionHorizon.
func (e *Engine) CheckPrediction(ctx context.Context, p models.Prediction) (*models.Alert, error) {
	if p.Kind != models.PredictionExhaustion || p.Unbounded() || p.HoursRemaining == nil {
		return nil, nil
	}
	if e.cfg.ExhaustionHorizon <= 0 || *p.HoursRemaining > e.cfg.ExhaustionHorizon.Hours() {
		return nil, nil
	}
	msg := fmt.Sprintf("Budget projected to run out %s (%.1fh, confidence %.0f%%)",
		humanize.RelTime(*p.ExhaustionTime, e.now(), "ago", "from now"), *p.HoursRemaining, p.Confidence*100)
	return e.raise(ctx, models.AlertExhaustionPredicted, models.SeverityWarning, "Budget exhaustion predicted", msg)
}

// checker adapts the engine to the predictor's error-only interface.
type checker struct{ e *Engine }

func (c checker) CheckPrediction(ctx context.Context, p models.Prediction) error {
	_, err := c.e.CheckPrediction(ctx, p)
	return err
}

// PredictionChecker returns the engine as a predictor check.
func (e *Engine) PredictionChecker() predictor.Checker {
	return checker{e}
}

func (e *Engine) recover(ctx context.Context, detail string) (*models.Alert, error) {
	open, err := e.store.QueryTable(ctx, db.TableAlerts,
		"SELECT "+db.AlertsTable.SelectList()+" FROM alerts WHERE type IN (?, ?) AND resolved_at IS NULL",
		string(models.AlertUsageWarning), string(models.AlertUsageCritical))
	if err != nil {
		return nil, fmt.Errorf("failed to load open alerts: %w", err)
	}
	if len(open) == 0 {
		return nil, nil
	}

	now := db.CanonicalTime(e.now())
	for _, a := range models.AlertsFromRows(open) {
		if _, err := e.store.Update(ctx, db.TableAlerts, db.Row{"resolved_at": now}, db.Row{"id": a.ID}); err != nil {
			return nil, fmt.Errorf("failed to resolve alert %s: %w", a.ID, err)
		}
	}
	logger.Info("usage recovered", "resolved", len(open))
	return e.create(ctx, models.AlertUsageNormal, models.SeveritySuccess, "Token budget back to normal", detail)
}

func (e *Engine) raise(ctx context.Context, typ models.AlertType, sev models.Severity, title, msg string) (*models.Alert, error) {
	if e.cfg.Cooldown > 0 {
		e.mu.Lock()
		last, ok := e.lastRaised[typ]
		e.mu.Unlock()
		if ok && e.now().Sub(last) < e.cfg.Cooldown {
			logger.Debug("alert suppressed", "type", typ, "since", e.now().Sub(last))
			return nil, nil
		}
	}
	return e.create(ctx, typ, sev, title, msg)
}

func (e *Engine) create(ctx context.Context, typ models.AlertType, sev models.Severity, title, msg string) (*models.Alert, error) {
	alert := models.Alert{
		ID:        uuid.NewString(),
		Type:      typ,
		Severity:  sev,
		Title:     title,
		Message:   msg,
		Timestamp: db.CanonicalTime(e.now()),
	}
	if _, err := e.store.Insert(ctx, alert); err != nil {
		metrics.PersistErrorsTotal.WithLabelValues(db.TableAlerts).Inc()
		return nil, fmt.Errorf("failed to persist alert: %w", err)
	}

	e.mu.Lock()
	e.lastRaised[typ] = alert.Timestamp
	e.mu.Unlock()

	metrics.AlertsTotal.WithLabelValues(string(sev)).Inc()
	logger.Warn("alert created", "type", typ, "severity", sev, "message", msg)

	if e.bus != nil {
		e.bus.Publish(events.AlertCreated{Alert: alert})
	}
	if e.notifier != nil {
		if err := e.notifier.Notify(alert); err != nil {
			logger.Debug("notification failed", "error", err)
		}
	}
	return &alert, nil
}

// Acknowledge marks an alert as seen.
func (e *Engine) Acknowledge(ctx context.Context, id string) error {
	return e.patch(ctx, id, db.Row{"acknowledged": true})
}

// Resolve sets the resolution time of an alert.
func (e *Engine) Resolve(ctx context.Context, id string) error {
	return e.patch(ctx, id, db.Row{"resolved_at": db.CanonicalTime(e.now())})
}

func (e *Engine) patch(ctx context.Context, id string, patch db.Row) error {
	n, err := e.store.Update(ctx, db.TableAlerts, patch, db.Row{"id": id})
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	return nil
}

// Unacknowledged returns alerts not yet acknowledged, newest first.
func (e *Engine) Unacknowledged(ctx context.Context) ([]models.Alert, error) {
	rows, err := e.store.Select(ctx, db.TableAlerts, db.Row{"acknowledged": false},
		db.SelectOptions{OrderBy: "timestamp DESC"})
	if err != nil {
		return nil, fmt.Errorf("failed to load alerts: %w", err)
	}
	return models.AlertsFromRows(rows), nil
}

// Recent returns the newest limit alerts.
func (e *Engine) Recent(ctx context.Context, limit int) ([]models.Alert, error) {
	rows, err := e.store.Select(ctx, db.TableAlerts, nil,
		db.SelectOptions{OrderBy: "timestamp DESC", Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to load alerts: %w", err)
	}
	return models.AlertsFromRows(rows), nil
}
