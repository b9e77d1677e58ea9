package db

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// timeLayout is the text encoding of time values on backends without a
// native timestamp type. It is fixed width so lexical order is time order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// legacyTimeLayouts are accepted when reading text timestamps.
var legacyTimeLayouts = []string{
	timeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

// Row is one record keyed by column name.
type Row map[string]any

// Record is a typed value that maps onto one declared table.
type Record interface {
	TableName() string
	Columns() Row
}

// Int64 returns the integer value of key, or 0.
func (r Row) Int64(key string) int64 {
	v, _ := normalizeInt(r[key])
	return v
}

// Float64 returns the float value of key, or 0.
func (r Row) Float64(key string) float64 {
	v, _ := normalizeFloat(r[key])
	return v
}

// FloatPtr returns the float value of key, or nil when it is NULL.
func (r Row) FloatPtr(key string) *float64 {
	if r[key] == nil {
		return nil
	}
	v := r.Float64(key)
	return &v
}

// String returns the text value of key, or "".
func (r Row) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns the boolean value of key.
func (r Row) Bool(key string) bool {
	v, _ := normalizeBool(r[key])
	return v
}

// Time returns the time value of key, or the zero time.
func (r Row) Time(key string) time.Time {
	v, _ := normalizeTime(r[key])
	return v
}

// TimePtr returns the time value of key, or nil when it is NULL.
func (r Row) TimePtr(key string) *time.Time {
	if r[key] == nil {
		return nil
	}
	t := r.Time(key)
	return &t
}

// CanonicalTime is the precision and location every stored time is reduced to.
func CanonicalTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func normalizeValue(typ ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typ {
	case ColumnInt:
		return normalizeInt(v)
	case ColumnFloat:
		return normalizeFloat(v)
	case ColumnText:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		default:
			return fmt.Sprint(s), nil
		}
	case ColumnTime:
		return normalizeTime(v)
	case ColumnBool:
		return normalizeBool(v)
	}
	return nil, fmt.Errorf("unsupported column type %d", typ)
}

// encodeValue prepares a caller value for binding. Values are checked against
// the column type so a bad record fails before reaching the backend.
func encodeValue(col Column, v any) (any, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case *time.Time:
		if p == nil {
			return nil, nil
		}
		v = *p
	case *float64:
		if p == nil {
			return nil, nil
		}
		v = *p
	case *string:
		if p == nil {
			return nil, nil
		}
		v = *p
	}

	nv, err := normalizeValue(col.Type, v)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", col.Name, err)
	}
	if f, ok := nv.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil, fmt.Errorf("column %s: non-finite value %v", col.Name, f)
	}
	return nv, nil
}

func normalizeInt(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case float32:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to int", v)
}

func normalizeFloat(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case []byte:
		return strconv.ParseFloat(string(n), 64)
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to float", v)
}

func normalizeBool(v any) (bool, error) {
	switch b := v.(type) {
	case nil:
		return false, nil
	case bool:
		return b, nil
	case int64:
		return b != 0, nil
	case int:
		return b != 0, nil
	case []byte:
		return strconv.ParseBool(string(b))
	case string:
		return strconv.ParseBool(b)
	}
	return false, fmt.Errorf("cannot convert %T to bool", v)
}

func normalizeTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return CanonicalTime(t), nil
	case []byte:
		return parseTimeString(string(t))
	case string:
		return parseTimeString(t)
	}
	return time.Time{}, fmt.Errorf("cannot convert %T to time", v)
}

func parseTimeString(s string) (time.Time, error) {
	for _, layout := range legacyTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return CanonicalTime(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format %q", s)
}
