// Package usage reads raw consumption figures from whatever reports them:
// an in-process function, an HTTP endpoint or a JSON file.
package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	// ErrInvalidPayload is returned when a source document is not JSON.
	ErrInvalidPayload = errors.New("usage payload is not valid JSON")
	// ErrMissingField is returned when the tokens path matches nothing.
	ErrMissingField = errors.New("usage payload missing field")
)

// Usage is one raw reading. TokensUsed and RequestsMade are consumption since
// the previous reading unless the source is wrapped in Cumulative.
type Usage struct {
	TokensUsed      int64
	RequestsMade    int64
	AvgResponseTime float64 // milliseconds
	ActiveUsers     int64
	ErrorCount      int64
}

// Source produces usage readings.
type Source interface {
	Fetch(ctx context.Context) (Usage, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Usage, error)

// Fetch implements Source.
func (f SourceFunc) Fetch(ctx context.Context) (Usage, error) { return f(ctx) }

// Paths are gjson paths locating each figure in a JSON document. Only
// Tokens is required; an empty path leaves the figure at zero.
type Paths struct {
	Tokens          string
	Requests        string
	AvgResponseTime string
	ActiveUsers     string
	Errors          string
}

// DefaultPaths matches a flat document such as {"tokens_used": 10, "requests_made": 2}.
func DefaultPaths() Paths {
	return Paths{
		Tokens:          "tokens_used",
		Requests:        "requests_made",
		AvgResponseTime: "avg_response_time",
		ActiveUsers:     "active_users",
		Errors:          "error_count",
	}
}

// Parse extracts a reading from a JSON document.
func Parse(data []byte, p Paths) (Usage, error) {
	if !gjson.ValidBytes(data) {
		return Usage{}, ErrInvalidPayload
	}
	doc := gjson.ParseBytes(data)

	tokens := doc.Get(p.Tokens)
	if p.Tokens == "" || !tokens.Exists() {
		return Usage{}, fmt.Errorf("%w %q", ErrMissingField, p.Tokens)
	}

	u := Usage{
		TokensUsed:      tokens.Int(),
		RequestsMade:    optional(doc, p.Requests).Int(),
		AvgResponseTime: optional(doc, p.AvgResponseTime).Float(),
		ActiveUsers:     optional(doc, p.ActiveUsers).Int(),
		ErrorCount:      optional(doc, p.Errors).Int(),
	}
	if u.TokensUsed < 0 || u.RequestsMade < 0 {
		return Usage{}, fmt.Errorf("negative usage in payload: tokens=%d requests=%d", u.TokensUsed, u.RequestsMade)
	}
	return u, nil
}

func optional(doc gjson.Result, path string) gjson.Result {
	if path == "" {
		return gjson.Result{}
	}
	return doc.Get(path)
}
