package db

import (
	"fmt"
	"strings"
)

// Table names owned by the monitor.
const (
	TableUsageData   = "usage_data"
	TablePredictions = "predictions"
	TableAlerts      = "alerts"
)

// ColumnType is the logical type of a column, independent of the backend.
type ColumnType int

const (
	ColumnInt ColumnType = iota
	ColumnFloat
	ColumnText
	ColumnTime
	ColumnBool
)

func (t ColumnType) String() string {
	switch t {
	case ColumnInt:
		return "int"
	case ColumnFloat:
		return "float"
	case ColumnText:
		return "text"
	case ColumnTime:
		return "time"
	case ColumnBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Column declares one column of a table.
type Column struct {
	Name       string
	Type       ColumnType
	PrimaryKey bool
	// Generated marks a primary key assigned by the backend.
	Generated bool
	Nullable  bool
}

// Table declares the columns and indexes of one persisted shape.
type Table struct {
	Name    string
	Columns []Column
	// Indexes lists single-column indexes to create.
	Indexes []string
}

// Column returns the named column.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// PrimaryKey returns the primary key column.
func (t Table) PrimaryKey() Column {
	for _, c := range t.Columns {
		if c.PrimaryKey {
			return c
		}
	}
	return Column{}
}

// ColumnNames returns column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// SelectList returns the comma separated column list for SELECT statements.
func (t Table) SelectList() string {
	return strings.Join(t.ColumnNames(), ", ")
}

// Normalize converts a row read from any backend into canonical Go values.
// Columns the table does not declare are passed through untouched.
func (t Table) Normalize(row Row) (Row, error) {
	out := make(Row, len(row))
	for k, v := range row {
		col, ok := t.Column(k)
		if !ok {
			out[k] = v
			continue
		}
		nv, err := normalizeValue(col.Type, v)
		if err != nil {
			return nil, fmt.Errorf("column %s.%s: %w", t.Name, k, err)
		}
		out[k] = nv
	}
	return out, nil
}

// validate checks that every key of values is a declared column.
func (t Table) validate(values Row) error {
	for k := range values {
		if _, ok := t.Column(k); !ok {
			return fmt.Errorf("%w %q in table %s", ErrUnknownColumn, k, t.Name)
		}
	}
	return nil
}

// UsageDataTable stores one row per collection tick.
var UsageDataTable = Table{
	Name: TableUsageData,
	Columns: []Column{
		{Name: "id", Type: ColumnInt, PrimaryKey: true, Generated: true},
		{Name: "timestamp", Type: ColumnTime},
		{Name: "tokens_used", Type: ColumnInt},
		{Name: "requests_count", Type: ColumnInt},
		{Name: "avg_response_time", Type: ColumnFloat},
		{Name: "active_users", Type: ColumnInt},
		{Name: "error_count", Type: ColumnInt},
		{Name: "cost_usd", Type: ColumnFloat},
		{Name: "tokens_per_hour", Type: ColumnFloat},
		{Name: "requests_per_hour", Type: ColumnFloat},
	},
	Indexes: []string{"timestamp"},
}

// PredictionsTable stores exhaustion projections and daily forecasts.
var PredictionsTable = Table{
	Name: TablePredictions,
	Columns: []Column{
		{Name: "id", Type: ColumnInt, PrimaryKey: true, Generated: true},
		{Name: "timestamp", Type: ColumnTime},
		{Name: "kind", Type: ColumnText},
		{Name: "predicted_exhaustion_time", Type: ColumnTime, Nullable: true},
		{Name: "hours_remaining", Type: ColumnFloat, Nullable: true},
		{Name: "for_date", Type: ColumnText, Nullable: true},
		{Name: "predicted_tokens", Type: ColumnFloat, Nullable: true},
		{Name: "predicted_cost", Type: ColumnFloat, Nullable: true},
		{Name: "confidence", Type: ColumnFloat},
	},
	Indexes: []string{"timestamp", "kind"},
}

// AlertsTable stores threshold alerts. Rows are never deleted.
var AlertsTable = Table{
	Name: TableAlerts,
	Columns: []Column{
		{Name: "id", Type: ColumnText, PrimaryKey: true},
		{Name: "type", Type: ColumnText},
		{Name: "severity", Type: ColumnText},
		{Name: "title", Type: ColumnText},
		{Name: "message", Type: ColumnText},
		{Name: "timestamp", Type: ColumnTime},
		{Name: "acknowledged", Type: ColumnBool},
		{Name: "resolved_at", Type: ColumnTime, Nullable: true},
	},
	Indexes: []string{"timestamp", "type"},
}

// Tables lists every declared table in creation order.
var Tables = []Table{UsageDataTable, PredictionsTable, AlertsTable}

// LookupTable returns the declared schema for name.
func LookupTable(name string) (Table, error) {
	for _, t := range Tables {
		if t.Name == name {
			return t, nil
		}
	}
	return Table{}, fmt.Errorf("%w %q", ErrUnknownTable, name)
}
