package adapter

import (
	"context"
	"fmt"

	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/pgerr"
)

// Reset drains any outstanding pipelined work, issues ROLLBACK if the
// connection's transaction status is non-idle, then DISCARD ALL — all
// through the flush helper under the engine's mutex (spec.md §4.F
// `reset!`).
func (a *Adapter) Reset(ctx context.Context) error {
	if err := a.engine.DrainAll(ctx); err != nil {
		return fmt.Errorf("adapter: reset: drain: %w", err)
	}

	if a.engine.TxStatus() != pgerr.TxIdle {
		if _, err := a.engine.ExecuteRaw(ctx, "ROLLBACK", nil); err != nil {
			return fmt.Errorf("adapter: reset: rollback: %w", err)
		}
	}

	if _, err := a.engine.ExecuteRaw(ctx, "DISCARD ALL", nil); err != nil {
		return fmt.Errorf("adapter: reset: discard all: %w", err)
	}
	return nil
}
