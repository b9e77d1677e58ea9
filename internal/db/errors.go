package db

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by every operation before Initialize succeeds.
	ErrNotInitialized = errors.New("storage adapter not initialized")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("storage adapter closed")
	// ErrUnknownTable is returned when a table has no declared schema.
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnknownColumn is returned when a record, filter or patch names a column
	// the table does not declare.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrEmptyFilter is returned by Update when no filter is given.
	ErrEmptyFilter = errors.New("update requires a filter")
)

// ConnectionError reports that a backend could not be reached.
type ConnectionError struct {
	Backend Kind
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s backend: %v", e.Backend, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// FallbackExhaustedError reports that neither the primary nor the fallback
// backend could be initialized. It is fatal for the process.
type FallbackExhaustedError struct {
	Primary  error
	Fallback error
}

func (e *FallbackExhaustedError) Error() string {
	if e.Primary == nil {
		return fmt.Sprintf("fallback backend unavailable: %v", e.Fallback)
	}
	return fmt.Sprintf("all storage backends unavailable: primary: %v; fallback: %v", e.Primary, e.Fallback)
}

func (e *FallbackExhaustedError) Unwrap() []error {
	var errs []error
	if e.Primary != nil {
		errs = append(errs, e.Primary)
	}
	if e.Fallback != nil {
		errs = append(errs, e.Fallback)
	}
	return errs
}

// QueryError wraps a failed statement. It is never retried inside this package.
type QueryError struct {
	Op    string
	Table string
	Err   error
}

func (e *QueryError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
