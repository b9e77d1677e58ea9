package db

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestLookupTable(t *testing.T) {
	for _, name := range []string{TableUsageData, TablePredictions, TableAlerts} {
		tbl, err := LookupTable(name)
		if err != nil {
			t.Fatalf("LookupTable(%q) failed: %v", name, err)
		}
		if tbl.PrimaryKey().Name != "id" {
			t.Errorf("%s primary key = %q, want id", name, tbl.PrimaryKey().Name)
		}
	}

	if _, err := LookupTable("sessions"); !errors.Is(err, ErrUnknownTable) {
		t.Errorf("LookupTable(sessions) error = %v, want ErrUnknownTable", err)
	}
}

func TestTableNormalize(t *testing.T) {
	row := Row{
		"id":           int64(7),
		"timestamp":    "2026-03-01T10:00:00.000000Z",
		"acknowledged": int64(1),
		"resolved_at":  nil,
		"title":        []byte("High usage"),
		"extra":        "kept",
	}

	got, err := AlertsTable.Normalize(row)
	if err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}

	if got["id"] != "7" {
		t.Errorf("id = %#v, want \"7\"", got["id"])
	}
	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if ts, ok := got["timestamp"].(time.Time); !ok || !ts.Equal(want) {
		t.Errorf("timestamp = %#v, want %v", got["timestamp"], want)
	}
	if got["acknowledged"] != true {
		t.Errorf("acknowledged = %#v, want true", got["acknowledged"])
	}
	if got["resolved_at"] != nil {
		t.Errorf("resolved_at = %#v, want nil", got["resolved_at"])
	}
	if got["title"] != "High usage" {
		t.Errorf("title = %#v, want string", got["title"])
	}
	if got["extra"] != "kept" {
		t.Errorf("undeclared column should pass through, got %#v", got["extra"])
	}
}

func TestTableNormalize_BadValue(t *testing.T) {
	if _, err := UsageDataTable.Normalize(Row{"tokens_used": "lots"}); err == nil {
		t.Error("Normalize() should fail on a non-numeric integer column")
	}
}

func TestEncodeValue(t *testing.T) {
	col, _ := UsageDataTable.Column("cost_usd")
	if _, err := encodeValue(col, math.NaN()); err == nil {
		t.Error("encodeValue(NaN) should fail")
	}
	if _, err := encodeValue(col, math.Inf(1)); err == nil {
		t.Error("encodeValue(+Inf) should fail")
	}

	var nilFloat *float64
	if v, err := encodeValue(col, nilFloat); err != nil || v != nil {
		t.Errorf("encodeValue(nil *float64) = %v, %v; want nil, nil", v, err)
	}

	tsCol, _ := UsageDataTable.Column("timestamp")
	local := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.FixedZone("CET", 3600))
	v, err := encodeValue(tsCol, &local)
	if err != nil {
		t.Fatalf("encodeValue(*time.Time) failed: %v", err)
	}
	ts := v.(time.Time)
	if ts.Location() != time.UTC || ts.Nanosecond() != 123456000 {
		t.Errorf("encodeValue(*time.Time) = %v, want UTC microsecond precision", ts)
	}
}

func TestDDL(t *testing.T) {
	lite := sqliteDDL(UsageDataTable)
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS usage_data",
		"id INTEGER PRIMARY KEY AUTOINCREMENT",
		"timestamp TEXT NOT NULL",
		"cost_usd REAL NOT NULL DEFAULT 0",
		"CREATE INDEX IF NOT EXISTS idx_usage_data_timestamp ON usage_data(timestamp)",
	} {
		if !strings.Contains(lite, want) {
			t.Errorf("sqliteDDL missing %q:\n%s", want, lite)
		}
	}

	pg := postgresDDL(AlertsTable)
	for _, want := range []string{
		"id TEXT PRIMARY KEY",
		"timestamp TIMESTAMPTZ NOT NULL",
		"acknowledged BOOLEAN NOT NULL DEFAULT FALSE",
		"resolved_at TIMESTAMPTZ\n",
	} {
		if !strings.Contains(pg, want) {
			t.Errorf("postgresDDL missing %q:\n%s", want, pg)
		}
	}

	if !strings.Contains(postgresDDL(PredictionsTable), "id BIGSERIAL PRIMARY KEY") {
		t.Error("postgresDDL should use BIGSERIAL for generated keys")
	}
}

func TestRowAccessors(t *testing.T) {
	r := Row{"n": int64(3), "f": 1.5, "s": "x", "b": true, "null": nil}
	if r.Int64("n") != 3 || r.Float64("f") != 1.5 || r.String("s") != "x" || !r.Bool("b") {
		t.Errorf("accessors returned wrong values for %v", r)
	}
	if r.FloatPtr("null") != nil || r.TimePtr("null") != nil {
		t.Error("pointer accessors should return nil for NULL")
	}
	if r.Int64("missing") != 0 || r.String("missing") != "" {
		t.Error("missing keys should return zero values")
	}
}
