// Package collector samples token usage on a fixed schedule and stores one
// UsageSample per tick.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/j-veylop/tokenwatch/internal/db"
	"github.com/j-veylop/tokenwatch/internal/events"
	"github.com/j-veylop/tokenwatch/internal/logger"
	"github.com/j-veylop/tokenwatch/internal/metrics"
	"github.com/j-veylop/tokenwatch/internal/models"
	"github.com/j-veylop/tokenwatch/internal/services/samples"
	"github.com/j-veylop/tokenwatch/internal/usage"
)

// RateWindow is the trailing window the hourly rates are summed over.
const RateWindow = time.Hour

var (
	// ErrAlreadyRunning is returned by Start while the collector runs.
	ErrAlreadyRunning = errors.New("collector already running")
	// ErrNotRunning is returned by Stop while the collector is stopped.
	ErrNotRunning = errors.New("collector not running")
)

// Config holds collector configuration.
type Config struct {
	Interval           time.Duration
	PredictionInterval time.Duration
	Quota              int64
	QuotaWindow        time.Duration
	CostPerToken       float64
	CollectOnStart     bool
}

// DefaultConfig returns the default collector configuration.
func DefaultConfig() Config {
	return Config{
		Interval:           60 * time.Second,
		PredictionInterval: time.Hour,
		Quota:              1_000_000,
		QuotaWindow:        24 * time.Hour,
		CostPerToken:       0.000002,
		CollectOnStart:     true,
	}
}

// Checker evaluates absolute thresholds against a freshly stored sample.
type Checker interface {
	CheckSample(ctx context.Context, sample models.UsageSample, budgetUsed int64) error
}

// Option configures a Collector.
type Option func(*Collector)

// WithChecker runs c after every stored sample.
func WithChecker(c Checker) Option {
	return func(col *Collector) { col.checker = c }
}

// WithPredictionJob schedules fn on the prediction interval.
func WithPredictionJob(fn func(ctx context.Context)) Option {
	return func(col *Collector) { col.predict = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(col *Collector) { col.now = now }
}

// Collector produces one usage sample per tick.
type Collector struct {
	cfg     Config
	store   *db.Adapter
	source  usage.Source
	bus     *events.Bus
	checker Checker
	predict func(ctx context.Context)
	now     func() time.Time

	mu       sync.Mutex
	running  bool
	cron     *cron.Cron
	stopDone context.Context

	histMu  sync.Mutex
	history []models.UsageSample
}

// New creates a collector. It does nothing until Start.
func New(store *db.Adapter, source usage.Source, bus *events.Bus, cfg Config, opts ...Option) *Collector {
	c := &Collector{
		cfg:    cfg,
		store:  store,
		source: source,
		bus:    bus,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start seeds the rate window from storage and schedules the sampling and
// prediction jobs. Jobs run detached from ctx cancellation so Stop never
// interrupts a storage call in flight.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		logger.Warn("collector start ignored", "reason", ErrAlreadyRunning)
		return ErrAlreadyRunning
	}

	if err := c.seedHistory(ctx); err != nil {
		logger.Warn("failed to seed rate window", "error", err)
	}

	jobCtx := context.WithoutCancel(ctx)
	cl := cronLogger{}
	sched := cron.New(cron.WithChain(cron.DelayIfStillRunning(cl)), cron.WithLogger(cl))

	if _, err := sched.AddFunc(every(c.cfg.Interval), func() { c.tick(jobCtx) }); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to schedule collection: %w", err)
	}
	if c.predict != nil {
		if _, err := sched.AddFunc(every(c.cfg.PredictionInterval), func() { c.predict(jobCtx) }); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("failed to schedule prediction: %w", err)
		}
	}

	sched.Start()
	c.cron = sched
	c.running = true
	c.mu.Unlock()

	logger.Info("collector started",
		"interval", c.cfg.Interval,
		"prediction_interval", c.cfg.PredictionInterval,
		"quota", c.cfg.Quota,
	)

	if c.cfg.CollectOnStart {
		c.tick(jobCtx)
	}
	return nil
}

// Stop halts the schedule. Jobs already running finish on their own; Wait
// blocks until they have.
func (c *Collector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		logger.Warn("collector stop ignored", "reason", ErrNotRunning)
		return ErrNotRunning
	}
	c.stopDone = c.cron.Stop()
	c.running = false
	logger.Info("collector stopped")
	return nil
}

// Wait blocks until the jobs running at the last Stop have returned or ctx
// is done.
func (c *Collector) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.stopDone
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the schedule is active.
func (c *Collector) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// NextCollection returns when the next sample is due, or nil when stopped.
func (c *Collector) NextCollection() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	entries := c.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

func (c *Collector) tick(ctx context.Context) {
	if _, err := c.Collect(ctx); err != nil {
		logger.Error("collection tick failed", "error", err)
	}
}

// Collect takes one sample, stores it, runs the threshold checks and
// publishes it. A failing usage source yields a zero sample; a failing store
// is returned as an error and nothing is published.
func (c *Collector) Collect(ctx context.Context) (models.UsageSample, error) {
	now := db.CanonicalTime(c.now())

	raw, err := c.source.Fetch(ctx)
	if err != nil {
		metrics.SampleFetchErrorsTotal.Inc()
		logger.Warn("usage fetch failed, recording zero sample", "error", err)
		raw = usage.Usage{}
	}

	sample := models.UsageSample{
		Timestamp:       now,
		TokensUsed:      max(raw.TokensUsed, 0),
		RequestsCount:   max(raw.RequestsMade, 0),
		AvgResponseTime: max(raw.AvgResponseTime, 0),
		ActiveUsers:     max(raw.ActiveUsers, 0),
		ErrorCount:      max(raw.ErrorCount, 0),
	}
	sample.CostUSD = float64(sample.TokensUsed) * c.cfg.CostPerToken
	sample.TokensPerHour, sample.RequestsPerHour = c.rates(sample)

	row, err := c.store.Insert(ctx, sample)
	if err != nil {
		metrics.PersistErrorsTotal.WithLabelValues(db.TableUsageData).Inc()
		return sample, fmt.Errorf("failed to persist sample: %w", err)
	}
	sample.ID = row.Int64("id")
	c.remember(sample)

	metrics.SamplesTotal.Inc()
	metrics.TokensPerHour.Set(sample.TokensPerHour)

	used, err := c.CurrentUsage(ctx)
	if err != nil {
		logger.Warn("failed to read current usage", "error", err)
		used = sample.TokensUsed
	}
	if c.cfg.Quota > 0 {
		metrics.BudgetUsedRatio.Set(float64(used) / float64(c.cfg.Quota))
	}

	if c.checker != nil {
		if err := c.checker.CheckSample(ctx, sample, used); err != nil {
			logger.Error("threshold check failed", "error", err)
		}
	}

	if c.bus != nil {
		c.bus.Publish(events.SampleCollected{Sample: sample, BudgetUsed: used, Quota: c.cfg.Quota})
	}

	logger.Debug("sample collected",
		"tokens", sample.TokensUsed,
		"tokens_per_hour", sample.TokensPerHour,
		"budget_used", used,
	)
	return sample, nil
}

// CurrentUsage returns the tokens consumed within the quota window.
func (c *Collector) CurrentUsage(ctx context.Context) (int64, error) {
	return samples.TokensSince(ctx, c.store, c.now().Add(-c.cfg.QuotaWindow))
}

// rates sums the window history plus s. Samples outside (now-1h, now] are
// ignored.
func (c *Collector) rates(s models.UsageSample) (tokensPerHour, requestsPerHour float64) {
	c.histMu.Lock()
	defer c.histMu.Unlock()

	c.pruneLocked(s.Timestamp)
	tokens, requests := s.TokensUsed, s.RequestsCount
	for _, h := range c.history {
		if h.Timestamp.After(s.Timestamp) {
			continue
		}
		tokens += h.TokensUsed
		requests += h.RequestsCount
	}
	return float64(tokens), float64(requests)
}

func (c *Collector) remember(s models.UsageSample) {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	c.history = append(c.history, s)
	c.pruneLocked(s.Timestamp)
}

func (c *Collector) pruneLocked(now time.Time) {
	cutoff := now.Add(-RateWindow)
	keep := c.history[:0]
	for _, h := range c.history {
		if h.Timestamp.After(cutoff) {
			keep = append(keep, h)
		}
	}
	c.history = keep
}

func (c *Collector) seedHistory(ctx context.Context) error {
	recent, err := samples.Since(ctx, c.store, c.now().Add(-RateWindow))
	if err != nil {
		return err
	}
	c.histMu.Lock()
	c.history = recent
	c.histMu.Unlock()
	return nil
}

// History returns a copy of the samples in the current rate window.
func (c *Collector) History() []models.UsageSample {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	return append([]models.UsageSample(nil), c.history...)
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger routes scheduler messages to the package logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("scheduler: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("scheduler: "+msg, append(keysAndValues, "error", err)...)
}
