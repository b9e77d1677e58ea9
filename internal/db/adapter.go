package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/j-veylop/tokenwatch/internal/config"
	"github.com/j-veylop/tokenwatch/internal/logger"
	"github.com/j-veylop/tokenwatch/internal/metrics"
)

// SelectOptions shapes a Select. OrderBy is "<column> [ASC|DESC]".
type SelectOptions struct {
	OrderBy string
	Limit   int
}

// Adapter is the single storage surface shared by the collector, predictor
// and alert engine. The backend is chosen once by Initialize and never
// switched afterwards.
type Adapter struct {
	mu         sync.RWMutex
	strategy   FallbackStrategy
	backend    Backend
	primaryErr error
	closed     bool
}

// NewAdapter creates an adapter. Nothing is opened until Initialize.
func NewAdapter(strategy FallbackStrategy) *Adapter {
	return &Adapter{strategy: strategy}
}

// StrategyFromConfig builds the fallback strategy described by cfg. An empty
// primary DSN means the fallback is used directly.
func StrategyFromConfig(cfg config.BackendConfig) FallbackStrategy {
	s := FallbackStrategy{
		Fallback:        SQLiteConnector{Path: cfg.FallbackPath},
		PrimaryAttempts: cfg.ConnectAttempts,
		PrimaryBackoff:  cfg.ConnectBackoff,
	}
	if cfg.PrimaryDSN != "" {
		s.Primary = PostgresConnector{
			DSN:            cfg.PrimaryDSN,
			MaxConns:       cfg.MaxConns,
			ConnectTimeout: cfg.ConnectTimeout,
		}
	}
	return s
}

// Initialize connects the primary backend, falling back to the embedded
// backend when the primary is unreachable. A second call is a no-op.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.backend != nil {
		return nil
	}

	if a.strategy.Primary != nil {
		backend, err := a.connectPrimary(ctx)
		if err == nil {
			if err = backend.EnsureSchema(ctx, Tables); err == nil {
				a.backend = backend
				logger.Info("storage backend ready", "backend", backend.Kind())
				return nil
			}
			_ = backend.Close()
		}
		a.primaryErr = &ConnectionError{Backend: a.strategy.Primary.Kind(), Err: err}
		logger.Warn("primary storage unavailable, using fallback", "error", a.primaryErr)
	}

	if a.strategy.Fallback == nil {
		return &FallbackExhaustedError{Primary: a.primaryErr, Fallback: errors.New("no fallback configured")}
	}

	backend, err := a.strategy.Fallback.Connect(ctx)
	if err != nil {
		return &FallbackExhaustedError{
			Primary:  a.primaryErr,
			Fallback: &ConnectionError{Backend: a.strategy.Fallback.Kind(), Err: err},
		}
	}
	if err := backend.EnsureSchema(ctx, Tables); err != nil {
		_ = backend.Close()
		return &FallbackExhaustedError{Primary: a.primaryErr, Fallback: err}
	}

	a.backend = backend
	logger.Info("storage backend ready", "backend", backend.Kind(), "stats", backend.Stats())
	return nil
}

// connectPrimary runs the primary connector under a bounded retry policy.
func (a *Adapter) connectPrimary(ctx context.Context) (Backend, error) {
	attempts := a.strategy.PrimaryAttempts
	if attempts < 1 {
		attempts = 1
	}

	builder := retrypolicy.NewBuilder[Backend]().WithMaxRetries(attempts - 1)
	if backoff := a.strategy.PrimaryBackoff; backoff > 0 {
		builder = builder.WithBackoff(backoff, 8*backoff)
	}

	var lastErr error
	backend, err := failsafe.With(builder.Build()).WithContext(ctx).Get(func() (Backend, error) {
		b, err := a.strategy.Primary.Connect(ctx)
		if err != nil {
			lastErr = err
			logger.Debug("primary connect attempt failed", "backend", a.strategy.Primary.Kind(), "error", err)
		}
		return b, err
	})
	if err != nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, err
	}
	return backend, nil
}

func (a *Adapter) active() (Backend, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, ErrClosed
	}
	if a.backend == nil {
		return nil, ErrNotInitialized
	}
	return a.backend, nil
}

// Kind returns the active backend kind, or "" before Initialize.
func (a *Adapter) Kind() Kind {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.backend == nil {
		return ""
	}
	return a.backend.Kind()
}

// Query runs a statement written with "?" markers and returns the raw rows.
func (a *Adapter) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	b, err := a.active()
	if err != nil {
		return nil, err
	}
	started := time.Now()
	rows, err := b.Query(ctx, Rebind(b.Placeholder(), query), args...)
	metrics.ObserveStorage(string(b.Kind()), "query", started, err)
	if err != nil {
		return nil, &QueryError{Op: "query", Err: err}
	}
	return rows, nil
}

// QueryTable runs a statement like Query and normalizes the result to the
// declared column types of table.
func (a *Adapter) QueryTable(ctx context.Context, table, query string, args ...any) ([]Row, error) {
	t, err := LookupTable(table)
	if err != nil {
		return nil, err
	}
	rows, err := a.Query(ctx, query, args...)
	if err != nil {
		var qe *QueryError
		if errors.As(err, &qe) {
			qe.Table = table
		}
		return nil, err
	}
	return normalizeRows(t, rows)
}

// Exec runs a statement that returns no rows.
func (a *Adapter) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	b, err := a.active()
	if err != nil {
		return 0, err
	}
	started := time.Now()
	res, err := b.Exec(ctx, Rebind(b.Placeholder(), query), args...)
	metrics.ObserveStorage(string(b.Kind()), "exec", started, err)
	if err != nil {
		return 0, &QueryError{Op: "exec", Err: err}
	}
	return res.RowsAffected, nil
}

// Insert stores rec in its table and returns the stored row. PostgreSQL
// returns the full row; SQLite returns the written columns plus the
// generated id.
func (a *Adapter) Insert(ctx context.Context, rec Record) (Row, error) {
	b, err := a.active()
	if err != nil {
		return nil, err
	}
	t, err := LookupTable(rec.TableName())
	if err != nil {
		return nil, err
	}

	values := rec.Columns()
	if err := t.validate(values); err != nil {
		return nil, err
	}

	pk := t.PrimaryKey()
	var cols []string
	var args []any
	written := make(Row, len(values))
	for _, c := range t.Columns {
		v, ok := values[c.Name]
		if !ok {
			continue
		}
		if c.Generated && isZeroID(v) {
			continue
		}
		ev, err := encodeValue(c, v)
		if err != nil {
			return nil, &QueryError{Op: "insert", Table: t.Name, Err: err}
		}
		cols = append(cols, c.Name)
		args = append(args, ev)
		written[c.Name] = ev
	}
	if len(cols) == 0 {
		return nil, &QueryError{Op: "insert", Table: t.Name, Err: errors.New("no columns to insert")}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.Name, strings.Join(cols, ", "), placeholders(len(cols)))

	started := time.Now()
	if b.SupportsReturning() {
		rows, err := b.Query(ctx, Rebind(b.Placeholder(), query+" RETURNING "+t.SelectList()), args...)
		metrics.ObserveStorage(string(b.Kind()), "insert", started, err)
		if err != nil {
			return nil, &QueryError{Op: "insert", Table: t.Name, Err: err}
		}
		if len(rows) == 0 {
			return nil, &QueryError{Op: "insert", Table: t.Name, Err: errors.New("no row returned")}
		}
		return t.Normalize(rows[0])
	}

	res, err := b.Exec(ctx, Rebind(b.Placeholder(), query), args...)
	metrics.ObserveStorage(string(b.Kind()), "insert", started, err)
	if err != nil {
		return nil, &QueryError{Op: "insert", Table: t.Name, Err: err}
	}
	if pk.Generated {
		if _, ok := written[pk.Name]; !ok {
			written[pk.Name] = res.LastInsertID
		}
	}
	return written, nil
}

// Select returns rows of table matching every filter key by equality.
func (a *Adapter) Select(ctx context.Context, table string, filter Row, opts SelectOptions) ([]Row, error) {
	b, err := a.active()
	if err != nil {
		return nil, err
	}
	t, err := LookupTable(table)
	if err != nil {
		return nil, err
	}

	where, args, err := whereClause(t, filter)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + t.SelectList() + " FROM " + t.Name + where
	if opts.OrderBy != "" {
		order, err := orderClause(t, opts.OrderBy)
		if err != nil {
			return nil, err
		}
		query += order
	}
	if opts.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(opts.Limit)
	}

	started := time.Now()
	rows, err := b.Query(ctx, Rebind(b.Placeholder(), query), args...)
	metrics.ObserveStorage(string(b.Kind()), "select", started, err)
	if err != nil {
		return nil, &QueryError{Op: "select", Table: t.Name, Err: err}
	}
	return normalizeRows(t, rows)
}

// Update applies patch to the rows of table matching filter and returns the
// number of affected rows.
func (a *Adapter) Update(ctx context.Context, table string, patch, filter Row) (int64, error) {
	b, err := a.active()
	if err != nil {
		return 0, err
	}
	t, err := LookupTable(table)
	if err != nil {
		return 0, err
	}
	if len(filter) == 0 {
		return 0, ErrEmptyFilter
	}
	if len(patch) == 0 {
		return 0, nil
	}
	if err := t.validate(patch); err != nil {
		return 0, err
	}

	keys := sortedKeys(patch)
	sets := make([]string, len(keys))
	args := make([]any, 0, len(keys)+len(filter))
	for i, k := range keys {
		col, _ := t.Column(k)
		ev, err := encodeValue(col, patch[k])
		if err != nil {
			return 0, &QueryError{Op: "update", Table: t.Name, Err: err}
		}
		sets[i] = k + " = ?"
		args = append(args, ev)
	}

	where, whereArgs, err := whereClause(t, filter)
	if err != nil {
		return 0, err
	}
	args = append(args, whereArgs...)

	query := "UPDATE " + t.Name + " SET " + strings.Join(sets, ", ") + where

	started := time.Now()
	res, err := b.Exec(ctx, Rebind(b.Placeholder(), query), args...)
	metrics.ObserveStorage(string(b.Kind()), "update", started, err)
	if err != nil {
		return 0, &QueryError{Op: "update", Table: t.Name, Err: err}
	}
	return res.RowsAffected, nil
}

// Vacuum reclaims free space on backends that need it explicitly. It is a
// no-op elsewhere.
func (a *Adapter) Vacuum(ctx context.Context) error {
	b, err := a.active()
	if err != nil {
		return err
	}
	v, ok := b.(interface{ Vacuum(context.Context) error })
	if !ok {
		return nil
	}
	started := time.Now()
	err = v.Vacuum(ctx)
	metrics.ObserveStorage(string(b.Kind()), "vacuum", started, err)
	if err != nil {
		return &QueryError{Op: "vacuum", Err: err}
	}
	return nil
}

// Stats describes the active backend.
func (a *Adapter) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var s Stats
	if a.backend != nil {
		s = a.backend.Stats()
	}
	if a.primaryErr != nil {
		s.PrimaryError = a.primaryErr.Error()
	}
	return s
}

// Close releases the active backend. Safe to call repeatedly.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.backend == nil {
		return nil
	}
	return a.backend.Close()
}

func whereClause(t Table, filter Row) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	if err := t.validate(filter); err != nil {
		return "", nil, err
	}
	keys := sortedKeys(filter)
	conds := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		col, _ := t.Column(k)
		ev, err := encodeValue(col, filter[k])
		if err != nil {
			return "", nil, &QueryError{Op: "filter", Table: t.Name, Err: err}
		}
		conds[i] = k + " = ?"
		args[i] = ev
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func orderClause(t Table, orderBy string) (string, error) {
	fields := strings.Fields(orderBy)
	if len(fields) == 0 || len(fields) > 2 {
		return "", fmt.Errorf("invalid order %q", orderBy)
	}
	if _, ok := t.Column(fields[0]); !ok {
		return "", fmt.Errorf("%w %q in table %s", ErrUnknownColumn, fields[0], t.Name)
	}
	dir := "ASC"
	if len(fields) == 2 {
		dir = strings.ToUpper(fields[1])
		if dir != "ASC" && dir != "DESC" {
			return "", fmt.Errorf("invalid order direction %q", fields[1])
		}
	}
	return " ORDER BY " + fields[0] + " " + dir, nil
}

func normalizeRows(t Table, rows []Row) ([]Row, error) {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		nr, err := t.Normalize(r)
		if err != nil {
			return nil, err
		}
		out = append(out, nr)
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func sortedKeys(r Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isZeroID(v any) bool {
	switch id := v.(type) {
	case nil:
		return true
	case int64:
		return id == 0
	case int:
		return id == 0
	}
	return false
}
