package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres connector defaults
const (
	pgDefaultConnectTimeout = 10 * time.Second
	pgDefaultMaxConns       = 10
)

// PostgresConnector opens the networked primary backend.
type PostgresConnector struct {
	DSN            string
	MaxConns       int32
	ConnectTimeout time.Duration
}

// Kind implements Connector.
func (c PostgresConnector) Kind() Kind { return KindPostgres }

// Connect implements Connector. The pool is verified with a ping so an
// unreachable server fails here rather than on first use.
func (c PostgresConnector) Connect(ctx context.Context) (Backend, error) {
	if c.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	poolCfg, err := pgxpool.ParseConfig(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres DSN: %w", err)
	}
	poolCfg.MaxConns = c.MaxConns
	if poolCfg.MaxConns <= 0 {
		poolCfg.MaxConns = pgDefaultMaxConns
	}

	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = pgDefaultConnectTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

type postgresBackend struct {
	pool *pgxpool.Pool
}

func (b *postgresBackend) Kind() Kind                    { return KindPostgres }
func (b *postgresBackend) Placeholder() PlaceholderStyle { return PlaceholderDollar }
func (b *postgresBackend) SupportsReturning() bool       { return true }

func (b *postgresBackend) EnsureSchema(ctx context.Context, tables []Table) error {
	for _, t := range tables {
		if _, err := b.pool.Exec(ctx, postgresDDL(t)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func postgresDDL(t Table) string {
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		var def string
		switch {
		case c.PrimaryKey && c.Generated:
			def = c.Name + " BIGSERIAL PRIMARY KEY"
		case c.PrimaryKey:
			def = c.Name + " TEXT PRIMARY KEY"
		default:
			def = c.Name + " " + postgresType(c.Type) + columnConstraint(c, "FALSE")
		}
		defs = append(defs, def)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n\t%s\n);\n", t.Name, strings.Join(defs, ",\n\t"))
	for _, col := range t.Indexes {
		fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s);\n", t.Name, col, t.Name, col)
	}
	return b.String()
}

func postgresType(t ColumnType) string {
	switch t {
	case ColumnInt:
		return "BIGINT"
	case ColumnFloat:
		return "DOUBLE PRECISION"
	case ColumnTime:
		return "TIMESTAMPTZ"
	case ColumnBool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func (b *postgresBackend) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var result []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(Row, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func (b *postgresBackend) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	tag, err := b.pool.Exec(ctx, query, args...)
	if err != nil {
		return Result{}, err
	}
	return Result{RowsAffected: tag.RowsAffected()}, nil
}

func (b *postgresBackend) Stats() Stats {
	s := b.pool.Stat()
	return Stats{
		Backend: KindPostgres,
		Pool: &PoolStats{
			TotalConns:    s.TotalConns(),
			IdleConns:     s.IdleConns(),
			AcquiredConns: s.AcquiredConns(),
			MaxConns:      s.MaxConns(),
		},
	}
}

// Close releases the pool. pgxpool.Pool.Close is itself idempotent.
func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
