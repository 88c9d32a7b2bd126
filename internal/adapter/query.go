package adapter

import (
	"context"
	"fmt"

	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/pipeline"
	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/result"
)

// ExecQuery builds a pipelined request and returns a Handle immediately
// (spec.md §4.F). name is purely diagnostic — it appears in the
// instrumentation event alongside sql/binds. prepare selects the prepared
// vs. non-prepared issue path (spec.md §4.D); the returned handle's
// callback is the configured RowProjector, so a successful force yields
// whatever domain shape the projector produces rather than a raw
// result.Value.
func (a *Adapter) ExecQuery(ctx context.Context, sql, name string, binds []any, prepare bool) (*pipeline.Handle, error) {
	if err := a.rejectIfReadOnly(sql); err != nil {
		return nil, err
	}

	cb := func(v result.Value) (any, error) {
		if v.Kind != result.KindRowSet {
			return v, nil
		}
		return a.projector.Project(ctx, v.Columns, v.Rows)
	}

	a.logger.Debug("adapter: exec_query", "sql", sql, "name", name, "binds", binds, "prepared", prepare)

	if prepare {
		return a.engine.IssuePrepared(ctx, sql, binds, cb)
	}
	return a.engine.Issue(ctx, sql, binds, cb)
}

// Execute runs a statement synchronously via the flush helper and returns
// its row count (spec.md §4.F "execute ... for raw text use the flush
// helper; command statements are immediate"). §4.D also routes row-returning
// admin statements like "SELECT 1" through Execute, so a KindRowSet reply is
// tolerated here too — Len reports row count the same way RowsAffected
// reports affected count for a command tag.
func (a *Adapter) Execute(ctx context.Context, sql string, binds []any) (int64, error) {
	if err := a.rejectIfReadOnly(sql); err != nil {
		return 0, err
	}

	v, err := a.engine.ExecuteRaw(ctx, sql, binds)
	if err != nil {
		return 0, err
	}
	if v.Kind == result.KindRowSet {
		return int64(v.Len()), nil
	}
	return v.RowsAffected()
}

// Query runs a row-returning statement synchronously via the flush helper
// and applies the configured RowProjector to the result (spec.md §4.F
// "select_* ... for raw text use the flush helper").
func (a *Adapter) Query(ctx context.Context, sql string, binds []any) (any, error) {
	v, err := a.engine.ExecuteRaw(ctx, sql, binds)
	if err != nil {
		return nil, err
	}
	if v.Kind != result.KindRowSet {
		return nil, fmt.Errorf("adapter: Query: statement did not return rows")
	}
	return a.projector.Project(ctx, v.Columns, v.Rows)
}
