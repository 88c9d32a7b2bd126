// Package result defines the uniform value shape returned by a completed
// pipelined request. It is a closed tagged variant over a row set, a
// command-affected row count, and a raw array — the three shapes the backend
// can hand back for any statement this adapter issues.
//
// Type-casting of individual column values is delegated to a
// typeregistry.Registry collaborator; this package only carries raw decoded
// Go values plus enough metadata (column names, OIDs) for that decoding to
// have already happened by the time a Value reaches the caller.
package result

import "fmt"

// Kind discriminates which field of Value is populated.
type Kind int

const (
	// KindRowSet means Columns/Rows/ColumnTypes are populated — the reply to
	// a query that produced tuples.
	KindRowSet Kind = iota
	// KindAffectedCount means N is populated — the reply to an
	// INSERT/UPDATE/DELETE or other command tag with a row count.
	KindAffectedCount
	// KindRawArray means Items is populated — an array-shaped reply (e.g.
	// the result of an administrative statement returning a list).
	KindRawArray
)

// ColumnType describes one column of a RowSet, enough for a caller or a
// collaborator typeregistry.Registry to interpret Rows' raw values.
type ColumnType struct {
	Name     string
	OID      uint32
	Modifier int32
}

// Value is the materialized result of one statement. Exactly one of the
// payload fields is meaningful, selected by Kind.
type Value struct {
	Kind Kind

	// KindRowSet payload.
	Columns     []string
	Rows        [][]any
	ColumnTypes []ColumnType

	// KindAffectedCount payload.
	N int64

	// KindRawArray payload.
	Items []any
}

// RowSet constructs a Value of KindRowSet.
func RowSet(columns []string, rows [][]any, types []ColumnType) Value {
	return Value{Kind: KindRowSet, Columns: columns, Rows: rows, ColumnTypes: types}
}

// AffectedCount constructs a Value of KindAffectedCount.
func AffectedCount(n int64) Value {
	return Value{Kind: KindAffectedCount, N: n}
}

// RawArray constructs a Value of KindRawArray.
func RawArray(items []any) Value {
	return Value{Kind: KindRawArray, Items: items}
}

// Len reports the number of rows (KindRowSet), the affected count
// (KindAffectedCount), or the number of items (KindRawArray).
func (v Value) Len() int {
	switch v.Kind {
	case KindRowSet:
		return len(v.Rows)
	case KindAffectedCount:
		return int(v.N)
	case KindRawArray:
		return len(v.Items)
	default:
		return 0
	}
}

// First returns the first row of a KindRowSet value as a column-name-keyed
// map, for convenient single-row access. It returns an error for any other
// Kind or an empty row set.
func (v Value) First() (map[string]any, error) {
	if v.Kind != KindRowSet {
		return nil, fmt.Errorf("result: First: value is not a row set (kind=%d)", v.Kind)
	}
	if len(v.Rows) == 0 {
		return nil, fmt.Errorf("result: First: row set is empty")
	}
	return v.rowAsMap(0), nil
}

// Each calls fn once per row of a KindRowSet value, in order, passing a
// column-name-keyed map. It is a no-op for any other Kind.
func (v Value) Each(fn func(row map[string]any)) {
	if v.Kind != KindRowSet {
		return
	}
	for i := range v.Rows {
		fn(v.rowAsMap(i))
	}
}

func (v Value) rowAsMap(i int) map[string]any {
	row := make(map[string]any, len(v.Columns))
	for c, name := range v.Columns {
		if c < len(v.Rows[i]) {
			row[name] = v.Rows[i][c]
		}
	}
	return row
}

// RowsAffected returns N for a KindAffectedCount value, and an error
// otherwise — mirroring database/sql's Result.RowsAffected shape.
func (v Value) RowsAffected() (int64, error) {
	if v.Kind != KindAffectedCount {
		return 0, fmt.Errorf("result: RowsAffected: value is not a command result (kind=%d)", v.Kind)
	}
	return v.N, nil
}
