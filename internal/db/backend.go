// Package db provides the storage adapter: one CRUD surface over a primary
// PostgreSQL backend and an embedded SQLite fallback.
package db

import (
	"context"
	"time"
)

// Kind identifies a storage backend.
type Kind string

const (
	KindPostgres Kind = "postgres"
	KindSQLite   Kind = "sqlite"
)

// Result reports the effect of a statement that returns no rows.
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

// PoolStats describes the connection pool of a networked backend.
type PoolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
}

// Stats describes the active backend. Pool is set for PostgreSQL, Path for SQLite.
type Stats struct {
	Backend Kind       `json:"backend"`
	Pool    *PoolStats `json:"pool,omitempty"`
	Path    string     `json:"path,omitempty"`
	// PrimaryError is the reason the primary was skipped, if it was.
	PrimaryError string `json:"primary_error,omitempty"`
}

// Backend is one concrete storage engine. Statements passed to Query and
// Exec are already rebound to the backend's placeholder style.
type Backend interface {
	Kind() Kind
	Placeholder() PlaceholderStyle
	// SupportsReturning reports whether INSERT ... RETURNING * is used to
	// read back the stored row.
	SupportsReturning() bool
	EnsureSchema(ctx context.Context, tables []Table) error
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	Exec(ctx context.Context, query string, args ...any) (Result, error)
	Stats() Stats
	Close() error
}

// Connector opens a backend.
type Connector interface {
	Kind() Kind
	Connect(ctx context.Context) (Backend, error)
}

// FallbackStrategy selects the backend once at Initialize: the primary is
// tried first and the fallback is used when it cannot be reached.
type FallbackStrategy struct {
	// Primary may be nil, in which case the fallback is used directly.
	Primary  Connector
	Fallback Connector
	// PrimaryAttempts bounds connection attempts to the primary (minimum 1).
	PrimaryAttempts int
	// PrimaryBackoff is the initial delay between primary attempts.
	PrimaryBackoff time.Duration
}
