// Package samples holds the usage_data reads shared by the collector,
// predictor and alert engine.
package samples

import (
	"context"
	"fmt"
	"time"

	"github.com/j-veylop/tokenwatch/internal/db"
	"github.com/j-veylop/tokenwatch/internal/models"
)

var (
	sinceQuery = "SELECT " + db.UsageDataTable.SelectList() +
		" FROM usage_data WHERE timestamp > ? ORDER BY timestamp ASC"
	// CAST keeps the sum an integer on PostgreSQL, where SUM(BIGINT) is NUMERIC.
	tokensSinceQuery = "SELECT CAST(COALESCE(SUM(tokens_used), 0) AS BIGINT) AS total" +
		" FROM usage_data WHERE timestamp > ?"
)

// Since returns samples newer than since, oldest first.
func Since(ctx context.Context, store *db.Adapter, since time.Time) ([]models.UsageSample, error) {
	rows, err := store.QueryTable(ctx, db.TableUsageData, sinceQuery, db.CanonicalTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to load samples: %w", err)
	}
	return models.SamplesFromRows(rows), nil
}

// TokensSince returns the tokens consumed by samples newer than since.
func TokensSince(ctx context.Context, store *db.Adapter, since time.Time) (int64, error) {
	rows, err := store.Query(ctx, tokensSinceQuery, db.CanonicalTime(since))
	if err != nil {
		return 0, fmt.Errorf("failed to sum tokens: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Int64("total"), nil
}

// Latest returns the newest sample, or nil when none is stored.
func Latest(ctx context.Context, store *db.Adapter) (*models.UsageSample, error) {
	rows, err := store.Select(ctx, db.TableUsageData, nil, db.SelectOptions{OrderBy: "timestamp DESC", Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to load latest sample: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	s := models.SampleFromRow(rows[0])
	return &s, nil
}
