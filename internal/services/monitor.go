// Package services wires the collector, predictor and alert engine around
// one storage adapter.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/j-veylop/tokenwatch/internal/config"
	"github.com/j-veylop/tokenwatch/internal/db"
	"github.com/j-veylop/tokenwatch/internal/events"
	"github.com/j-veylop/tokenwatch/internal/logger"
	"github.com/j-veylop/tokenwatch/internal/models"
	"github.com/j-veylop/tokenwatch/internal/services/alerts"
	"github.com/j-veylop/tokenwatch/internal/services/collector"
	"github.com/j-veylop/tokenwatch/internal/services/predictor"
	"github.com/j-veylop/tokenwatch/internal/services/samples"
	"github.com/j-veylop/tokenwatch/internal/usage"
)

// shutdownTimeout bounds how long Run waits for in-flight jobs after its
// context is cancelled.
const shutdownTimeout = 30 * time.Second

// recentAlerts is the number of alerts included in the initial state.
const recentAlerts = 10

// State is a snapshot of the monitor for late subscribers such as the UI.
type State struct {
	Latest     *models.UsageSample
	History    []models.UsageSample
	BudgetUsed int64
	Quota      int64
	Prediction *models.Prediction
	// Forecast is the daily forecast of the last prediction cycle run by
	// this process; it is not read back from storage.
	Forecast []models.Prediction
	Alerts   []models.Alert
	Backend  db.Stats
}

// Option configures a Monitor.
type Option func(*options)

type options struct {
	notifier alerts.Notifier
	now      func() time.Time
}

// WithNotifier forwards created alerts to n.
func WithNotifier(n alerts.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithClock replaces time.Now in every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Monitor owns the event bus and the three scheduled components. The
// adapter is owned by the caller.
type Monitor struct {
	cfg   *config.Config
	store *db.Adapter
	bus   *events.Bus
	now   func() time.Time

	collector *collector.Collector
	predictor *predictor.Predictor
	alerts    *alerts.Engine

	closeOnce sync.Once
}

// NewMonitor builds the monitor from configuration. The store must already
// be initialized.
func NewMonitor(cfg *config.Config, store *db.Adapter, source usage.Source, opts ...Option) *Monitor {
	o := options{now: time.Now}
	if cfg.NotifyDesktop {
		o.notifier = alerts.NewDesktopNotifier()
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Monitor{
		cfg:   cfg,
		store: store,
		bus:   events.NewBus(),
		now:   o.now,
	}

	alertOpts := []alerts.Option{alerts.WithClock(o.now)}
	if o.notifier != nil {
		alertOpts = append(alertOpts, alerts.WithNotifier(o.notifier))
	}
	m.alerts = alerts.New(store, m.bus, alerts.ConfigFrom(cfg.TokenQuota, cfg.Thresholds), alertOpts...)

	predCfg := predictor.DefaultConfig()
	predCfg.Quota = cfg.TokenQuota
	predCfg.QuotaWindow = cfg.QuotaWindow
	predCfg.HistoryHours = cfg.HistoryHours
	predCfg.CostPerToken = cfg.CostPerToken
	m.predictor = predictor.New(store, m.bus, predCfg,
		predictor.WithChecker(m.alerts.PredictionChecker()),
		predictor.WithClock(o.now),
	)

	m.collector = collector.New(store, source, m.bus, collector.Config{
		Interval:           cfg.CollectionInterval,
		PredictionInterval: cfg.PredictionInterval,
		Quota:              cfg.TokenQuota,
		QuotaWindow:        cfg.QuotaWindow,
		CostPerToken:       cfg.CostPerToken,
		CollectOnStart:     cfg.CollectOnStart,
	},
		collector.WithChecker(m.alerts),
		collector.WithPredictionJob(m.predictionCycle),
		collector.WithClock(o.now),
	)

	return m
}

// Start begins sampling and prediction.
func (m *Monitor) Start(ctx context.Context) error {
	return m.collector.Start(ctx)
}

// Stop halts the schedule and waits up to shutdownTimeout for running jobs.
// Subscriber channels are closed afterwards.
func (m *Monitor) Stop() error {
	err := m.collector.Stop()
	if errors.Is(err, collector.ErrNotRunning) {
		err = nil
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if werr := m.collector.Wait(waitCtx); werr != nil {
		err = errors.Join(err, fmt.Errorf("failed to wait for running jobs: %w", werr))
	}

	m.closeOnce.Do(m.bus.Close)
	return err
}

// Run starts the monitor and blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return m.Stop()
}

// predictionCycle runs on the prediction timer: project, then apply retention.
func (m *Monitor) predictionCycle(ctx context.Context) {
	if _, err := m.predictor.Predict(ctx); err != nil {
		logger.Error("prediction failed", "error", err)
	}
	if _, err := m.Cleanup(ctx); err != nil {
		logger.Error("retention cleanup failed", "error", err)
	}
}

// Cleanup deletes usage samples older than the retention period and
// compacts the store when anything was removed. Alerts are never deleted.
func (m *Monitor) Cleanup(ctx context.Context) (int64, error) {
	if m.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := db.CanonicalTime(m.now().AddDate(0, 0, -m.cfg.RetentionDays))
	n, err := m.store.Exec(ctx, "DELETE FROM usage_data WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old samples: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	logger.Info("old samples deleted", "count", n, "before", cutoff)
	if err := m.store.Vacuum(ctx); err != nil {
		return n, fmt.Errorf("failed to vacuum: %w", err)
	}
	return n, nil
}

// Subscribe creates a channel for receiving monitor events.
// Returns a tea.Cmd that can be used in Bubble Tea's Init or Update.
func (m *Monitor) Subscribe() (chan events.Event, tea.Cmd) {
	ch := m.bus.Subscribe()
	return ch, WaitForEvent(ch)
}

// Unsubscribe removes a subscriber channel.
func (m *Monitor) Unsubscribe(ch chan events.Event) {
	m.bus.Unsubscribe(ch)
}

// WaitForEvent returns a tea.Cmd for the next event on a channel. A closed
// channel yields nil.
func WaitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return ev
	}
}

// InitialState returns the current state for UI initialization.
func (m *Monitor) InitialState(ctx context.Context) (State, error) {
	state := State{
		Quota:    m.cfg.TokenQuota,
		Forecast: m.predictor.Cached().Daily,
		Backend:  m.store.Stats(),
	}

	var errs []error
	var err error

	since := m.now().Add(-time.Duration(m.cfg.HistoryHours) * time.Hour)
	if state.History, err = samples.Since(ctx, m.store, since); err != nil {
		errs = append(errs, err)
	}

	if state.Latest, err = samples.Latest(ctx, m.store); err != nil {
		errs = append(errs, err)
	}
	if state.BudgetUsed, err = m.collector.CurrentUsage(ctx); err != nil {
		errs = append(errs, err)
	}
	if state.Prediction, err = m.predictor.Latest(ctx); err != nil {
		errs = append(errs, err)
	}
	if state.Alerts, err = m.alerts.Recent(ctx, recentAlerts); err != nil {
		errs = append(errs, err)
	}
	return state, errors.Join(errs...)
}

// Collector returns the sample collector.
func (m *Monitor) Collector() *collector.Collector {
	return m.collector
}

// Predictor returns the trend predictor.
func (m *Monitor) Predictor() *predictor.Predictor {
	return m.predictor
}

// Alerts returns the alert engine.
func (m *Monitor) Alerts() *alerts.Engine {
	return m.alerts
}

// Store returns the shared storage adapter.
func (m *Monitor) Store() *db.Adapter {
	return m.store
}

// Acknowledge marks an alert as seen.
func (m *Monitor) Acknowledge(ctx context.Context, id string) error {
	return m.alerts.Acknowledge(ctx, id)
}
