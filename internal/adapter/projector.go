package adapter

import "context"

// defaultProjector turns a row set into []map[string]any, keyed by column
// name — a reasonable default for callers that have no domain-record type
// of their own. Callers with an ORM/SQL-builder layer above this adapter
// supply their own RowProjector instead (spec.md §6).
type defaultProjector struct{}

// DefaultProjector returns the built-in RowProjector used when no
// domain-specific one is supplied to New.
func DefaultProjector() RowProjector {
	return defaultProjector{}
}

func (defaultProjector) Project(_ context.Context, columns []string, rows [][]any) (any, error) {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		m := make(map[string]any, len(columns))
		for c, name := range columns {
			if c < len(row) {
				m[name] = row[c]
			}
		}
		out[i] = m
	}
	return out, nil
}
