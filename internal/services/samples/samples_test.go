package samples

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/j-veylop/tokenwatch/internal/db"
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

func TestSinceAndTokensSince(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		s := models.UsageSample{Timestamp: now.Add(-time.Duration(i) * time.Hour), TokensUsed: int64(100 * (i + 1))}
		if _, err := store.Insert(ctx, s); err != nil {
			t.Fatalf("Insert() failed: %v", err)
		}
	}

	got, err := Since(ctx, store, now.Add(-150*time.Minute))
	if err != nil {
		t.Fatalf("Since() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Since() returned %d samples, want 3", len(got))
	}
	if !got[0].Timestamp.Before(got[2].Timestamp) {
		t.Error("Since() should return oldest first")
	}

	total, err := TokensSince(ctx, store, now.Add(-150*time.Minute))
	if err != nil {
		t.Fatalf("TokensSince() failed: %v", err)
	}
	if total != 600 {
		t.Errorf("TokensSince() = %d, want 600", total)
	}

	none, err := TokensSince(ctx, store, now)
	if err != nil || none != 0 {
		t.Errorf("TokensSince(now) = %d, %v; want 0", none, err)
	}

	latest, err := Latest(ctx, store)
	if err != nil {
		t.Fatalf("Latest() failed: %v", err)
	}
	if latest == nil || !latest.Timestamp.Equal(now) || latest.TokensUsed != 100 {
		t.Errorf("Latest() = %+v", latest)
	}
}

func TestLatest_Empty(t *testing.T) {
	latest, err := Latest(context.Background(), newTestStore(t))
	if err != nil || latest != nil {
		t.Errorf("Latest() = %+v, %v; want nil, nil", latest, err)
	}
}
