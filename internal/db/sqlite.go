package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	// Import modernc.org/sqlite as a blank import to register the driver
	_ "modernc.org/sqlite"
)

// SQLiteConnector opens the embedded single-file backend.
type SQLiteConnector struct {
	Path string
}

// Kind implements Connector.
func (c SQLiteConnector) Kind() Kind { return KindSQLite }

// Connect implements Connector.
func (c SQLiteConnector) Connect(ctx context.Context) (Backend, error) {
	return openSQLite(ctx, c.Path)
}

type sqliteBackend struct {
	db        *sql.DB
	path      string
	closeOnce sync.Once
	closeErr  error
}

// openSQLite creates the database file and its directory if needed.
func openSQLite(ctx context.Context, path string) (*sqliteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: pragmas are per connection and SQLite has a single writer.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := &sqliteBackend{db: sqlDB, path: path}
	if err := b.configure(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	return b, nil
}

// configure sets up database pragmas for optimal performance.
func (b *sqliteBackend) configure(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000", // 64MB cache
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := b.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

func (b *sqliteBackend) Kind() Kind                    { return KindSQLite }
func (b *sqliteBackend) Placeholder() PlaceholderStyle { return PlaceholderQuestion }

// SupportsReturning is false so inserts read the generated id through
// LastInsertId, which every SQLite build provides.
func (b *sqliteBackend) SupportsReturning() bool { return false }

func (b *sqliteBackend) EnsureSchema(ctx context.Context, tables []Table) error {
	for _, t := range tables {
		if _, err := b.db.ExecContext(ctx, sqliteDDL(t)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func sqliteDDL(t Table) string {
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		var def string
		switch {
		case c.PrimaryKey && c.Generated:
			def = c.Name + " INTEGER PRIMARY KEY AUTOINCREMENT"
		case c.PrimaryKey:
			def = c.Name + " TEXT PRIMARY KEY"
		default:
			def = c.Name + " " + sqliteType(c.Type) + columnConstraint(c, "0")
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

func sqliteType(t ColumnType) string {
	switch t {
	case ColumnInt, ColumnBool:
		return "INTEGER"
	case ColumnFloat:
		return "REAL"
	default:
		// Times are stored as fixed-width text; declaring them DATETIME would
		// make the driver guess at the format on read.
		return "TEXT"
	}
}

// columnConstraint renders NOT NULL and a zero default for non-nullable columns.
func columnConstraint(c Column, falseLiteral string) string {
	if c.Nullable {
		return ""
	}
	switch c.Type {
	case ColumnInt, ColumnFloat:
		return " NOT NULL DEFAULT 0"
	case ColumnBool:
		return " NOT NULL DEFAULT " + falseLiteral
	case ColumnText:
		return " NOT NULL DEFAULT ''"
	default:
		return " NOT NULL"
	}
}

func (b *sqliteBackend) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := b.db.QueryContext(ctx, query, sqliteArgs(args)...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, name := range cols {
			row[name] = values[i]
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func (b *sqliteBackend) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	res, err := b.db.ExecContext(ctx, query, sqliteArgs(args)...)
	if err != nil {
		return Result{}, err
	}
	var out Result
	out.RowsAffected, _ = res.RowsAffected()
	out.LastInsertID, _ = res.LastInsertId()
	return out, nil
}

// sqliteArgs encodes times as fixed-width text and booleans as integers so
// comparisons in SQL agree with the stored representation.
func sqliteArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case time.Time:
			out[i] = CanonicalTime(v).Format(timeLayout)
		case bool:
			if v {
				out[i] = int64(1)
			} else {
				out[i] = int64(0)
			}
		default:
			out[i] = a
		}
	}
	return out
}

func (b *sqliteBackend) Stats() Stats {
	return Stats{Backend: KindSQLite, Path: b.path}
}

// Vacuum performs database maintenance to reclaim space.
func (b *sqliteBackend) Vacuum(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close checkpoints the WAL and closes the handle. Safe to call repeatedly.
func (b *sqliteBackend) Close() error {
	b.closeOnce.Do(func() {
		_, _ = b.db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)")
		b.closeErr = b.db.Close()
	})
	return b.closeErr
}
