// Package predictor projects when the token quota will run out and forecasts
// daily usage for the coming week.
package predictor

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/j-veylop/tokenwatch/internal/db"
	"github.com/j-veylop/tokenwatch/internal/events"
	"github.com/j-veylop/tokenwatch/internal/logger"
	"github.com/j-veylop/tokenwatch/internal/metrics"
	"github.com/j-veylop/tokenwatch/internal/models"
	"github.com/j-veylop/tokenwatch/internal/services/samples"
)

const (
	minHistoryPoints     = 2
	minVariancePoints    = 10
	sparseConfidence     = 0.3
	maxConfidence        = 0.95
	forecastBaseConf     = 0.9
	forecastConfStep     = 0.1
	forecastConfFloor    = 0.5
	defaultGrowthFactor  = 0.02
	defaultJitterBound   = 0.1
	defaultForecastDays  = 7
	defaultHistoryWindow = 24
)

// maxProjectableHours is the largest horizon a time.Duration can hold.
var maxProjectableHours = float64(math.MaxInt64) / float64(time.Hour)

// Config holds predictor configuration.
type Config struct {
	Quota        int64
	QuotaWindow  time.Duration
	HistoryHours int
	CostPerToken float64
	// GrowthFactor is the assumed day-over-day usage growth of the forecast.
	GrowthFactor float64
	// JitterBound scales each forecast day by a uniform factor in
	// [1-JitterBound, 1+JitterBound].
	JitterBound  float64
	ForecastDays int
}

// DefaultConfig returns the default predictor configuration.
func DefaultConfig() Config {
	return Config{
		Quota:        1_000_000,
		QuotaWindow:  24 * time.Hour,
		HistoryHours: defaultHistoryWindow,
		CostPerToken: 0.000002,
		GrowthFactor: defaultGrowthFactor,
		JitterBound:  defaultJitterBound,
		ForecastDays: defaultForecastDays,
	}
}

// Checker evaluates a fresh exhaustion projection.
type Checker interface {
	CheckPrediction(ctx context.Context, p models.Prediction) error
}

// Result is the output of one prediction cycle. Both parts are empty when
// there is not enough history.
type Result struct {
	Exhaustion *models.Prediction
	Daily      []models.Prediction
}

// Empty reports whether the cycle produced nothing.
func (r Result) Empty() bool {
	return r.Exhaustion == nil && len(r.Daily) == 0
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithChecker runs c after every stored exhaustion projection.
func WithChecker(c Checker) Option {
	return func(p *Predictor) { p.checker = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Predictor) { p.now = now }
}

// WithRand sets the random source of the forecast jitter.
func WithRand(r *rand.Rand) Option {
	return func(p *Predictor) { p.rnd = r }
}

// Predictor turns usage history into persisted predictions.
type Predictor struct {
	cfg     Config
	store   *db.Adapter
	bus     *events.Bus
	checker Checker
	now     func() time.Time

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu     sync.RWMutex
	cached Result
}

// New creates a predictor.
func New(store *db.Adapter, bus *events.Bus, cfg Config, opts ...Option) *Predictor {
	if cfg.HistoryHours <= 0 {
		cfg.HistoryHours = defaultHistoryWindow
	}
	if cfg.ForecastDays <= 0 {
		cfg.ForecastDays = defaultForecastDays
	}
	p := &Predictor{
		cfg:   cfg,
		store: store,
		bus:   bus,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rnd == nil {
		seed := uint64(time.Now().UnixNano())
		p.rnd = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return p
}

// Predict runs one cycle: read history, project, store, publish.
func (p *Predictor) Predict(ctx context.Context) (Result, error) {
	now := db.CanonicalTime(p.now())

	history, err := samples.Since(ctx, p.store, now.Add(-time.Duration(p.cfg.HistoryHours)*time.Hour))
	if err != nil {
		return Result{}, err
	}
	if len(history) < minHistoryPoints {
		logger.Debug("not enough history to predict", "points", len(history))
		return Result{}, nil
	}

	rates := make([]float64, len(history))
	for i, s := range history {
		rates[i] = s.TokensPerHour
	}

	used, err := samples.TokensSince(ctx, p.store, now.Add(-p.cfg.QuotaWindow))
	if err != nil {
		return Result{}, err
	}

	exhaustion := ProjectExhaustion(rates, p.cfg.Quota, used, now)
	daily := p.forecast(mean(rates), now)

	stored, err := p.store.Insert(ctx, exhaustion)
	if err != nil {
		metrics.PersistErrorsTotal.WithLabelValues(db.TablePredictions).Inc()
		return Result{}, fmt.Errorf("failed to persist prediction: %w", err)
	}
	exhaustion.ID = stored.Int64("id")

	for i := range daily {
		row, err := p.store.Insert(ctx, daily[i])
		if err != nil {
			metrics.PersistErrorsTotal.WithLabelValues(db.TablePredictions).Inc()
			return Result{}, fmt.Errorf("failed to persist forecast: %w", err)
		}
		daily[i].ID = row.Int64("id")
	}

	result := Result{Exhaustion: &exhaustion, Daily: daily}
	p.mu.Lock()
	p.cached = result
	p.mu.Unlock()

	metrics.HoursRemaining.Set(*exhaustion.HoursRemaining)
	metrics.PredictionConfidence.Set(exhaustion.Confidence)

	if p.checker != nil {
		if err := p.checker.CheckPrediction(ctx, exhaustion); err != nil {
			logger.Error("prediction check failed", "error", err)
		}
	}
	if p.bus != nil {
		p.bus.Publish(events.PredictionUpdated{Exhaustion: result.Exhaustion, Daily: result.Daily})
	}

	logger.Info("prediction updated",
		"points", len(history),
		"hours_remaining", *exhaustion.HoursRemaining,
		"confidence", exhaustion.Confidence,
	)
	return result, nil
}

// ProjectExhaustion projects when used reaches quota at the mean of rates.
// A mean rate of zero or less never reaches it and is reported unbounded, as
// is a horizon too far out to represent as a time.
func ProjectExhaustion(rates []float64, quota, used int64, now time.Time) models.Prediction {
	pred := models.Prediction{
		Timestamp:  now,
		Kind:       models.PredictionExhaustion,
		Confidence: Confidence(rates),
	}

	rate := mean(rates)
	hours := models.UnboundedHours
	if rate > 0 && !math.IsNaN(rate) {
		hours = math.Max(0, float64(quota-used)/rate)
	}
	if hours < 0 || hours >= maxProjectableHours || math.IsInf(hours, 0) {
		hours = models.UnboundedHours
		pred.HoursRemaining = &hours
		return pred
	}

	at := now.Add(time.Duration(hours * float64(time.Hour)))
	pred.HoursRemaining = &hours
	pred.ExhaustionTime = &at
	return pred
}

// Confidence scores how steady the rates are: 1 - stddev/mean, clamped to
// [0.3, 0.95]. Fewer than 10 rates always score 0.3.
func Confidence(rates []float64) float64 {
	if len(rates) < minVariancePoints {
		return sparseConfidence
	}
	m := mean(rates)
	if m <= 0 {
		return sparseConfidence
	}
	return clamp(1-stddev(rates, m)/m, sparseConfidence, maxConfidence)
}

// forecast builds the daily projections. The jitter is a bounded placeholder
// for real variation, not a fitted model.
func (p *Predictor) forecast(rate float64, now time.Time) []models.Prediction {
	daily := make([]models.Prediction, 0, p.cfg.ForecastDays)
	base := math.Max(rate, 0) * 24
	for d := 1; d <= p.cfg.ForecastDays; d++ {
		tokens := base * math.Pow(1+p.cfg.GrowthFactor, float64(d)) * (1 + p.jitter())
		cost := tokens * p.cfg.CostPerToken
		daily = append(daily, models.Prediction{
			Timestamp:       now,
			Kind:            models.PredictionDaily,
			ForDate:         now.AddDate(0, 0, d).Format(time.DateOnly),
			PredictedTokens: &tokens,
			PredictedCost:   &cost,
			Confidence:      ForecastConfidence(d),
		})
	}
	return daily
}

// ForecastConfidence is 0.9 for tomorrow, dropping 0.1 per day to a floor of 0.5.
func ForecastConfidence(day int) float64 {
	return math.Max(forecastConfFloor, forecastBaseConf-forecastConfStep*float64(day-1))
}

func (p *Predictor) jitter() float64 {
	if p.cfg.JitterBound <= 0 {
		return 0
	}
	p.rndMu.Lock()
	defer p.rndMu.Unlock()
	return (p.rnd.Float64()*2 - 1) * p.cfg.JitterBound
}

// Cached returns the result of the last successful cycle.
func (p *Predictor) Cached() Result {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cached
}

// Latest returns the newest stored exhaustion projection, or nil.
func (p *Predictor) Latest(ctx context.Context) (*models.Prediction, error) {
	rows, err := p.store.Select(ctx, db.TablePredictions,
		db.Row{"kind": string(models.PredictionExhaustion)},
		db.SelectOptions{OrderBy: "timestamp DESC", Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to load latest prediction: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	pred := models.PredictionFromRow(rows[0])
	return &pred, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, m float64) float64 {
	var sq float64
	for _, x := range xs {
		sq += (x - m) * (x - m)
	}
	return math.Sqrt(sq / float64(len(xs)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
