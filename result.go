package dbsource

import "time"

// Row is a single result row keyed by column name.
type Row map[string]any

// Result is the outcome of executing a statement. Statements that return
// no rows leave Rows empty and report RowsAffected when the backend
// provides it.
type Result struct {
	Columns      []string
	Rows         []Row
	RowsAffected int64
}

// First returns the first row, or nil when the result is empty.
func (r *Result) First() Row {
	if r == nil || len(r.Rows) == 0 {
		return nil
	}
	return r.Rows[0]
}

// Len returns the number of rows.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// String returns the named column as a string. Byte slices are converted;
// the second return is false when the column is absent, NULL, or not
// text-like.
func (r Row) String(column string) (string, bool) {
	switch v := r[column].(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	}
	return "", false
}

// Int64 returns the named column as an int64, converting from the integer
// widths backends commonly produce.
func (r Row) Int64(column string) (int64, bool) {
	switch v := r[column].(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int16:
		return int64(v), true
	case int:
		return int64(v), true
	case uint32:
		return int64(v), true
	}
	return 0, false
}

// Float64 returns the named column as a float64.
func (r Row) Float64(column string) (float64, bool) {
	switch v := r[column].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	}
	return 0, false
}

// Bool returns the named column as a bool. Integer columns are treated as
// booleans for backends without a native boolean type.
func (r Row) Bool(column string) (bool, bool) {
	switch v := r[column].(type) {
	case bool:
		return v, true
	case int64:
		return v != 0, true
	}
	return false, false
}

// Time returns the named column as a time.Time. Text columns are parsed as
// RFC 3339 for backends that store timestamps as text.
func (r Row) Time(column string) (time.Time, bool) {
	switch v := r[column].(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Bytes returns the named column as raw bytes.
func (r Row) Bytes(column string) ([]byte, bool) {
	switch v := r[column].(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	}
	return nil, false
}
