package alerts

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/j-veylop/tokenwatch/internal/db"
	"github.com/j-veylop/tokenwatch/internal/events"
	"github.com/j-veylop/tokenwatch/internal/models"
)

func newTestStore(t *testing.T) *db.Adapter {
	t.Helper()
	a := db.NewAdapter(db.FallbackStrategy{
		Fallback: db.SQLiteConnector{Path: filepath.Join(t.TempDir(), "usage.db")},
	})
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []models.Alert
}

func (r *recordingNotifier) Notify(a models.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func testConfig() Config {
	return Config{
		Quota:             1_000_000,
		WarningPct:        80,
		CriticalPct:       95,
		HighRate:          50_000,
		ExhaustionHorizon: 24 * time.Hour,
	}
}

func newTestEngine(t *testing.T, cfg Config, opts ...Option) (*Engine, *db.Adapter, *clock) {
	t.Helper()
	store := newTestStore(t)
	c := &clock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(c.Now)}, opts...)
	return New(store, nil, cfg, opts...), store, c
}

func TestCheckUsage_WarningCrossing(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	ch := bus.Subscribe()

	store := newTestStore(t)
	e := New(store, bus, testConfig())

	alert, err := e.CheckUsage(context.Background(), 820_000)
	if err != nil {
		t.Fatalf("CheckUsage() failed: %v", err)
	}
	if alert == nil || alert.Severity != models.SeverityWarning || alert.Acknowledged {
		t.Fatalf("CheckUsage() = %+v, want unacknowledged warning", alert)
	}

	all, err := e.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("stored %d alerts, want 1", len(all))
	}
	if all[0].ID != alert.ID || all[0].Type != models.AlertUsageWarning || all[0].Acknowledged || all[0].ResolvedAt != nil {
		t.Errorf("stored alert = %+v", all[0])
	}

	select {
	case ev := <-ch:
		if created, ok := ev.(events.AlertCreated); !ok || created.Alert.ID != alert.ID {
			t.Errorf("unexpected event %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no AlertCreated event")
	}
}

func TestCheckUsage_Levels(t *testing.T) {
	tests := []struct {
		name string
		used int64
		want models.Severity
	}{
		{"below warning", 500_000, ""},
		{"at warning", 800_000, models.SeverityWarning},
		{"between", 940_000, models.SeverityWarning},
		{"at critical", 950_000, models.SeverityCritical},
		{"over quota", 1_200_000, models.SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, _ := newTestEngine(t, testConfig())
			alert, err := e.CheckUsage(context.Background(), tt.used)
			if err != nil {
				t.Fatalf("CheckUsage() failed: %v", err)
			}
			var got models.Severity
			if alert != nil {
				got = alert.Severity
			}
			if got != tt.want {
				t.Errorf("severity = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCheckUsage_RepeatsWithoutCooldown(t *testing.T) {
	e, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := e.CheckUsage(ctx, 850_000); err != nil {
			t.Fatalf("CheckUsage() failed: %v", err)
		}
	}
	all, err := e.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("stored %d alerts, want 3", len(all))
	}
}

func TestCheckUsage_Cooldown(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown = 30 * time.Minute
	e, _, c := newTestEngine(t, cfg)
	ctx := context.Background()

	first, _ := e.CheckUsage(ctx, 850_000)
	if first == nil {
		t.Fatal("first check should alert")
	}
	c.Advance(10 * time.Minute)
	if again, _ := e.CheckUsage(ctx, 850_000); again != nil {
		t.Error("repeat inside cooldown should be suppressed")
	}
	if crit, _ := e.CheckUsage(ctx, 990_000); crit == nil {
		t.Error("cooldown is per type; critical should alert")
	}
	c.Advance(25 * time.Minute)
	if later, _ := e.CheckUsage(ctx, 850_000); later == nil {
		t.Error("repeat after cooldown should alert")
	}
}

func TestCheckUsage_Recovery(t *testing.T) {
	e, _, c := newTestEngine(t, testConfig())
	ctx := context.Background()

	warn, _ := e.CheckUsage(ctx, 850_000)
	crit, _ := e.CheckUsage(ctx, 960_000)
	if warn == nil || crit == nil {
		t.Fatal("expected warning and critical alerts")
	}

	c.Advance(time.Hour)
	ok, err := e.CheckUsage(ctx, 100_000)
	if err != nil {
		t.Fatalf("CheckUsage() failed: %v", err)
	}
	if ok == nil || ok.Severity != models.SeveritySuccess || ok.Type != models.AlertUsageNormal {
		t.Fatalf("recovery alert = %+v, want success", ok)
	}

	all, _ := e.Recent(ctx, 0)
	if len(all) != 3 {
		t.Fatalf("stored %d alerts, want 3", len(all))
	}
	for _, a := range all {
		if a.ID == ok.ID {
			continue
		}
		if a.ResolvedAt == nil || !a.ResolvedAt.Equal(c.Now()) {
			t.Errorf("alert %s resolved_at = %v, want %v", a.Type, a.ResolvedAt, c.Now())
		}
	}

	// Nothing left open: no second success alert.
	if again, _ := e.CheckUsage(ctx, 100_000); again != nil {
		t.Errorf("second recovery check = %+v, want nil", again)
	}
}

func TestCheckUsage_NoQuota(t *testing.T) {
	cfg := testConfig()
	cfg.Quota = 0
	e, _, _ := newTestEngine(t, cfg)
	if a, err := e.CheckUsage(context.Background(), 1_000_000); a != nil || err != nil {
		t.Errorf("CheckUsage() = %+v, %v; want nil, nil", a, err)
	}
}

func TestCheckRate(t *testing.T) {
	e, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	if a, _ := e.CheckRate(ctx, 50_000); a != nil {
		t.Error("rate at threshold should not alert")
	}
	a, err := e.CheckRate(ctx, 75_000)
	if err != nil {
		t.Fatalf("CheckRate() failed: %v", err)
	}
	if a == nil || a.Severity != models.SeverityInfo || a.Type != models.AlertHighRate {
		t.Errorf("CheckRate() = %+v, want info high_rate", a)
	}
}

func TestCheckSample(t *testing.T) {
	e, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	sample := models.UsageSample{TokensPerHour: 60_000}
	if err := e.CheckSample(ctx, sample, 900_000); err != nil {
		t.Fatalf("CheckSample() failed: %v", err)
	}
	all, _ := e.Recent(ctx, 0)
	if len(all) != 2 {
		t.Fatalf("stored %d alerts, want 2", len(all))
	}
}

func TestCheckPrediction(t *testing.T) {
	e, _, c := newTestEngine(t, testConfig())
	ctx := context.Background()

	hours := func(h float64) *float64 { return &h }
	at := c.Now().Add(10 * time.Hour)

	tests := []struct {
		name  string
		pred  models.Prediction
		alert bool
	}{
		{"within horizon", models.Prediction{Kind: models.PredictionExhaustion, HoursRemaining: hours(10), ExhaustionTime: &at, Confidence: 0.9}, true},
		{"beyond horizon", models.Prediction{Kind: models.PredictionExhaustion, HoursRemaining: hours(48), ExhaustionTime: &at}, false},
		{"unbounded", models.Prediction{Kind: models.PredictionExhaustion, HoursRemaining: hours(models.UnboundedHours)}, false},
		{"daily", models.Prediction{Kind: models.PredictionDaily, ForDate: "2026-06-02"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := e.CheckPrediction(ctx, tt.pred)
			if err != nil {
				t.Fatalf("CheckPrediction() failed: %v", err)
			}
			if (a != nil) != tt.alert {
				t.Errorf("CheckPrediction() = %+v, want alert=%v", a, tt.alert)
			}
			if a != nil && a.Type != models.AlertExhaustionPredicted {
				t.Errorf("type = %q", a.Type)
			}
		})
	}

	if err := e.PredictionChecker().CheckPrediction(ctx, tests[0].pred); err != nil {
		t.Errorf("PredictionChecker() failed: %v", err)
	}
}

func TestCheckPrediction_MessageUsesEngineClock(t *testing.T) {
	e, _, c := newTestEngine(t, testConfig())
	at := c.Now().Add(10 * time.Hour)
	h := 10.0

	a, err := e.CheckPrediction(context.Background(), models.Prediction{
		Kind: models.PredictionExhaustion, HoursRemaining: &h, ExhaustionTime: &at, Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("CheckPrediction() failed: %v", err)
	}
	if a == nil {
		t.Fatal("CheckPrediction() returned no alert")
	}
	if !strings.Contains(a.Message, "10 hours from now") {
		t.Errorf("Message = %q, want it relative to the engine clock", a.Message)
	}
}

func TestAcknowledgeAndResolve(t *testing.T) {
	e, _, c := newTestEngine(t, testConfig())
	ctx := context.Background()

	a, _ := e.CheckUsage(ctx, 900_000)
	b, _ := e.CheckUsage(ctx, 900_000)

	if err := e.Acknowledge(ctx, a.ID); err != nil {
		t.Fatalf("Acknowledge() failed: %v", err)
	}
	open, err := e.Unacknowledged(ctx)
	if err != nil {
		t.Fatalf("Unacknowledged() failed: %v", err)
	}
	if len(open) != 1 || open[0].ID != b.ID {
		t.Errorf("Unacknowledged() = %+v, want only %s", open, b.ID)
	}

	if err := e.Resolve(ctx, b.ID); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	all, _ := e.Recent(ctx, 0)
	for _, got := range all {
		if got.ID == b.ID && (got.ResolvedAt == nil || !got.ResolvedAt.Equal(c.Now())) {
			t.Errorf("resolved_at = %v, want %v", got.ResolvedAt, c.Now())
		}
		if got.ID == a.ID && !got.Acknowledged {
			t.Error("acknowledged flag not stored")
		}
	}

	if err := e.Acknowledge(ctx, "missing"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("Acknowledge(missing) error = %v, want ErrAlertNotFound", err)
	}
	if err := e.Resolve(ctx, "missing"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("Resolve(missing) error = %v, want ErrAlertNotFound", err)
	}
}

func TestNotifier(t *testing.T) {
	n := &recordingNotifier{}
	e, _, _ := newTestEngine(t, testConfig(), WithNotifier(n))
	ctx := context.Background()

	_, _ = e.CheckUsage(ctx, 990_000)
	_, _ = e.CheckRate(ctx, 99_000)

	if len(n.alerts) != 2 {
		t.Fatalf("notifier got %d alerts, want 2", len(n.alerts))
	}
}

func TestDesktopNotifier_SkipsInfo(t *testing.T) {
	var titles []string
	d := &DesktopNotifier{notify: func(title, _ string) error {
		titles = append(titles, title)
		return nil
	}}

	_ = d.Notify(models.Alert{Severity: models.SeverityInfo, Title: "info"})
	_ = d.Notify(models.Alert{Severity: models.SeverityCritical, Title: "crit"})

	if len(titles) != 1 || titles[0] != "crit" {
		t.Errorf("notified %v, want [crit]", titles)
	}
}

func TestCreate_StoreClosed(t *testing.T) {
	e, store, _ := newTestEngine(t, testConfig())
	_ = store.Close()
	if _, err := e.CheckUsage(context.Background(), 900_000); !errors.Is(err, db.ErrClosed) {
		t.Errorf("CheckUsage() error = %v, want ErrClosed", err)
	}
}
