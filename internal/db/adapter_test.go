package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// rowRecord is a Record backed by a literal row.
type rowRecord struct {
	table string
	row   Row
}

func (r rowRecord) TableName() string { return r.table }
func (r rowRecord) Columns() Row      { return r.row }

// failingConnector never connects and counts attempts.
type failingConnector struct {
	calls atomic.Int32
}

func (c *failingConnector) Kind() Kind { return KindPostgres }

func (c *failingConnector) Connect(context.Context) (Backend, error) {
	c.calls.Add(1)
	return nil, errors.New("connection refused")
}

// countingConnector wraps a working connector and counts connects.
type countingConnector struct {
	Connector
	calls atomic.Int32
}

func (c *countingConnector) Connect(ctx context.Context) (Backend, error) {
	c.calls.Add(1)
	return c.Connector.Connect(ctx)
}

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a := NewAdapter(FallbackStrategy{
		Fallback: SQLiteConnector{Path: filepath.Join(t.TempDir(), "usage.db")},
	})
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestAdapter_SelectLatestSample(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	t0 := time.Date(2026, 5, 4, 12, 30, 0, 0, time.UTC)
	older := rowRecord{TableUsageData, Row{"timestamp": t0.Add(-time.Minute), "tokens_used": int64(40)}}
	if _, err := a.Insert(ctx, older); err != nil {
		t.Fatalf("Insert(older) failed: %v", err)
	}
	latest := rowRecord{TableUsageData, Row{
		"timestamp":      t0,
		"tokens_used":    int64(100),
		"requests_count": int64(5),
		"cost_usd":       0.0002,
	}}
	if _, err := a.Insert(ctx, latest); err != nil {
		t.Fatalf("Insert(latest) failed: %v", err)
	}

	rows, err := a.Select(ctx, TableUsageData, nil, SelectOptions{OrderBy: "timestamp DESC", Limit: 1})
	if err != nil {
		t.Fatalf("Select() failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Select() returned %d rows, want 1", len(rows))
	}
	got := rows[0]
	if !got.Time("timestamp").Equal(t0) {
		t.Errorf("timestamp = %v, want %v", got.Time("timestamp"), t0)
	}
	if got.Int64("tokens_used") != 100 || got.Int64("requests_count") != 5 || got.Float64("cost_usd") != 0.0002 {
		t.Errorf("unexpected row %v", got)
	}
}

func TestAdapter_RoundTrip(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	ts := time.Date(2026, 5, 4, 12, 30, 15, 987654321, time.FixedZone("X", -5*3600))
	in := Row{
		"timestamp":         ts,
		"tokens_used":       int64(1234),
		"requests_count":    int64(9),
		"avg_response_time": 412.5,
		"active_users":      int64(3),
		"error_count":       int64(1),
		"cost_usd":          0.002468,
		"tokens_per_hour":   5000.0,
		"requests_per_hour": 42.0,
	}

	stored, err := a.Insert(ctx, rowRecord{TableUsageData, in})
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	id := stored.Int64("id")
	if id == 0 {
		t.Fatal("Insert() did not return a generated id")
	}

	rows, err := a.Select(ctx, TableUsageData, Row{"id": id}, SelectOptions{})
	if err != nil {
		t.Fatalf("Select() failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Select() returned %d rows, want 1", len(rows))
	}
	got := rows[0]

	for k, v := range in {
		switch want := v.(type) {
		case time.Time:
			if !got.Time(k).Equal(CanonicalTime(want)) {
				t.Errorf("%s = %v, want %v", k, got[k], CanonicalTime(want))
			}
		default:
			if got[k] != want {
				t.Errorf("%s = %#v, want %#v", k, got[k], want)
			}
		}
	}
	for k, v := range stored {
		if k == "timestamp" {
			continue
		}
		if got[k] != v {
			t.Errorf("stored %s = %#v, selected %#v", k, v, got[k])
		}
	}
}

func TestAdapter_FallbackWhenPrimaryUnreachable(t *testing.T) {
	primary := &failingConnector{}
	path := filepath.Join(t.TempDir(), "fallback.db")
	a := NewAdapter(FallbackStrategy{
		Primary:         primary,
		Fallback:        SQLiteConnector{Path: path},
		PrimaryAttempts: 3,
	})
	defer a.Close()

	ctx := context.Background()
	if err := a.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() should fall back silently, got %v", err)
	}
	if got := primary.calls.Load(); got != 3 {
		t.Errorf("primary attempts = %d, want 3", got)
	}

	stats := a.Stats()
	if stats.Backend != KindSQLite {
		t.Errorf("Stats().Backend = %q, want %q", stats.Backend, KindSQLite)
	}
	if stats.Path != path {
		t.Errorf("Stats().Path = %q, want %q", stats.Path, path)
	}
	if stats.PrimaryError == "" {
		t.Error("Stats().PrimaryError should explain why the primary was skipped")
	}

	if _, err := a.Insert(ctx, rowRecord{TableUsageData, Row{"timestamp": time.Now(), "tokens_used": int64(1)}}); err != nil {
		t.Fatalf("Insert() against fallback failed: %v", err)
	}
	rows, err := a.Select(ctx, TableUsageData, nil, SelectOptions{})
	if err != nil {
		t.Fatalf("Select() against fallback failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("Select() returned %d rows, want 1", len(rows))
	}
}

func TestAdapter_InitializeIdempotent(t *testing.T) {
	primary := &countingConnector{Connector: SQLiteConnector{Path: filepath.Join(t.TempDir(), "primary.db")}}
	a := NewAdapter(FallbackStrategy{Primary: primary})
	defer a.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := a.Initialize(ctx); err != nil {
			t.Fatalf("Initialize() #%d failed: %v", i+1, err)
		}
	}
	if got := primary.calls.Load(); got != 1 {
		t.Errorf("primary connects = %d, want 1", got)
	}
	if a.Stats().PrimaryError != "" {
		t.Errorf("PrimaryError = %q, want empty", a.Stats().PrimaryError)
	}
}

func TestAdapter_FallbackExhausted(t *testing.T) {
	tmpDir := t.TempDir()
	blocker := filepath.Join(tmpDir, "blocker")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatalf("failed to create blocker file: %v", err)
	}

	a := NewAdapter(FallbackStrategy{
		Primary:  &failingConnector{},
		Fallback: SQLiteConnector{Path: filepath.Join(blocker, "sub", "usage.db")},
	})
	err := a.Initialize(context.Background())

	var fe *FallbackExhaustedError
	if !errors.As(err, &fe) {
		t.Fatalf("Initialize() error = %v, want FallbackExhaustedError", err)
	}
	var ce *ConnectionError
	if !errors.As(err, &ce) || ce.Backend != KindPostgres {
		t.Errorf("expected a primary ConnectionError in the chain, got %v", err)
	}
}

func TestAdapter_NotInitialized(t *testing.T) {
	a := NewAdapter(FallbackStrategy{})
	if _, err := a.Select(context.Background(), TableAlerts, nil, SelectOptions{}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Select() error = %v, want ErrNotInitialized", err)
	}
	if a.Kind() != "" {
		t.Errorf("Kind() = %q, want empty", a.Kind())
	}
}

func TestAdapter_Close(t *testing.T) {
	a := newTestAdapter(t)
	if err := a.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
	if _, err := a.Query(context.Background(), "SELECT 1"); !errors.Is(err, ErrClosed) {
		t.Errorf("Query() after Close error = %v, want ErrClosed", err)
	}
	if err := a.Initialize(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Initialize() after Close error = %v, want ErrClosed", err)
	}
}

func TestAdapter_Validation(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.Insert(ctx, rowRecord{TableUsageData, Row{"timestamp": time.Now(), "tokenz": int64(1)}})
	if !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("Insert(unknown column) error = %v, want ErrUnknownColumn", err)
	}

	_, err = a.Insert(ctx, rowRecord{"sessions", Row{"id": int64(1)}})
	if !errors.Is(err, ErrUnknownTable) {
		t.Errorf("Insert(unknown table) error = %v, want ErrUnknownTable", err)
	}

	_, err = a.Select(ctx, TableUsageData, Row{"nope": 1}, SelectOptions{})
	if !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("Select(unknown filter) error = %v, want ErrUnknownColumn", err)
	}

	_, err = a.Select(ctx, TableUsageData, nil, SelectOptions{OrderBy: "timestamp; DROP TABLE usage_data"})
	if err == nil {
		t.Error("Select() should reject an invalid order clause")
	}

	_, err = a.Update(ctx, TableAlerts, Row{"acknowledged": true}, nil)
	if !errors.Is(err, ErrEmptyFilter) {
		t.Errorf("Update(no filter) error = %v, want ErrEmptyFilter", err)
	}
}

func TestAdapter_UpdateAlert(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	now := time.Now()
	for _, id := range []string{"a-1", "a-2"} {
		rec := rowRecord{TableAlerts, Row{
			"id":           id,
			"type":         "usage_warning",
			"severity":     "warning",
			"title":        "High usage",
			"message":      "80% of quota used",
			"timestamp":    now,
			"acknowledged": false,
		}}
		if _, err := a.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert(%s) failed: %v", id, err)
		}
	}

	n, err := a.Update(ctx, TableAlerts, Row{"acknowledged": true}, Row{"id": "a-1"})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Update() affected %d rows, want 1", n)
	}

	open, err := a.Select(ctx, TableAlerts, Row{"acknowledged": false}, SelectOptions{})
	if err != nil {
		t.Fatalf("Select() failed: %v", err)
	}
	if len(open) != 1 || open[0].String("id") != "a-2" {
		t.Errorf("unacknowledged alerts = %v, want only a-2", open)
	}

	acked, err := a.Select(ctx, TableAlerts, Row{"id": "a-1"}, SelectOptions{})
	if err != nil {
		t.Fatalf("Select() failed: %v", err)
	}
	if len(acked) != 1 || acked[0]["acknowledged"] != true || acked[0]["resolved_at"] != nil {
		t.Errorf("acknowledged alert = %v", acked)
	}
}

func TestAdapter_QueryTable(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := rowRecord{TableUsageData, Row{"timestamp": base.Add(time.Duration(i) * time.Hour), "tokens_used": int64(10)}}
		if _, err := a.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert() failed: %v", err)
		}
	}

	rows, err := a.QueryTable(ctx, TableUsageData,
		"SELECT timestamp, tokens_used FROM usage_data WHERE timestamp >= ? ORDER BY timestamp ASC", base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("QueryTable() failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("QueryTable() returned %d rows, want 3", len(rows))
	}
	if _, ok := rows[0]["timestamp"].(time.Time); !ok {
		t.Errorf("timestamp should be normalized to time.Time, got %T", rows[0]["timestamp"])
	}

	sum, err := a.Query(ctx, "SELECT CAST(COALESCE(SUM(tokens_used), 0) AS BIGINT) AS total FROM usage_data")
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if got := sum[0].Int64("total"); got != 50 {
		t.Errorf("total = %d, want 50", got)
	}

	n, err := a.Exec(ctx, "DELETE FROM usage_data WHERE timestamp < ?", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Exec() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Exec() affected %d rows, want 1", n)
	}
	if err := a.Vacuum(ctx); err != nil {
		t.Errorf("Vacuum() failed: %v", err)
	}

	_, err = a.Query(ctx, "SELECT nope FROM usage_data")
	var qe *QueryError
	if !errors.As(err, &qe) {
		t.Errorf("Query() error = %v, want QueryError", err)
	}
}

func TestAdapter_RejectsNonFinite(t *testing.T) {
	a := newTestAdapter(t)
	rec := rowRecord{TablePredictions, Row{
		"timestamp":       time.Now(),
		"kind":            "exhaustion",
		"hours_remaining": 1 / zero(),
		"confidence":      0.3,
	}}
	var qe *QueryError
	if _, err := a.Insert(context.Background(), rec); !errors.As(err, &qe) {
		t.Errorf("Insert(+Inf) error = %v, want QueryError", err)
	}
}

func zero() float64 { return 0 }
