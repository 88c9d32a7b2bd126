package adapter

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/pipeline"
)

// Reconnect closes the current connection, fails every remaining Pending
// handle with ErrConnectionReset (spec.md §9 open question, resolved —
// see DESIGN.md), and dials a fresh one with a new engine and statement
// cache (a reconnected connection has none of the server-side prepared
// statements the old one had).
func (a *Adapter) Reconnect(ctx context.Context) error {
	a.engine.Abandon()
	if a.pgConn != nil {
		_ = a.pgConn.Close(ctx)
	}

	pgConn, err := pgconn.Connect(ctx, a.cfg.DSN)
	if err != nil {
		return fmt.Errorf("adapter: reconnect: %w", err)
	}

	backend := newPgxBackend(pgConn, a.registry, a.logger)
	engine, err := pipeline.New(backend, pipeline.Options{
		StatementLimit:       a.cfg.StatementLimit,
		EndlessLoopThreshold: a.cfg.EndlessLoopSeconds,
		DebugTrace:           a.cfg.DebugTrace,
		Logger:               a.logger,
	})
	if err != nil {
		pgConn.Close(ctx)
		return fmt.Errorf("adapter: reconnect: new engine: %w", err)
	}

	a.pgConn = pgConn
	a.engine = engine
	return nil
}

// Disconnect fails every remaining Pending handle with ErrConnectionReset
// and closes the connection for good (spec.md §4.F `disconnect!`).
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.engine.Abandon()
	if a.pgConn == nil {
		return nil
	}
	err := a.pgConn.Close(ctx)
	a.pgConn = nil
	if err != nil {
		return fmt.Errorf("adapter: disconnect: %w", err)
	}
	return nil
}
