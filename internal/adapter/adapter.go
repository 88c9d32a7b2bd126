// Package adapter implements the facade a caller actually uses: construct it
// over a DSN, issue statements through it, and let it own the pipeline
// engine, the prepared statement cache, and the underlying connection
// (spec.md §4.F). Everything it does is delegated to internal/pipeline; this
// package's own job is wiring a real backend connection to the engine and
// exposing the small fixed operation set above it.
package adapter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/config"
	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/pgerr"
	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/pipeline"
	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/typeregistry"
)

// RowProjector turns a materialized row set into whatever domain shape the
// caller actually wants. The core treats its output as opaque (spec.md §6).
type RowProjector interface {
	Project(ctx context.Context, columns []string, rows [][]any) (any, error)
}

// Adapter holds every collaborator the facade needs as a field, wired once
// at construction — the same shape as the teacher's api.Server.
type Adapter struct {
	engine    *pipeline.Engine
	registry  *typeregistry.Registry
	projector RowProjector

	cfg    config.Config
	logger *slog.Logger

	pgConn *pgconn.PgConn
}

// New dials the backend over cfg.DSN, enters pipeline mode, and returns a
// ready-to-use Adapter. registry and projector are required collaborators;
// pass typeregistry.New() and a default projector if the caller has no
// custom needs.
func New(ctx context.Context, cfg config.Config, registry *typeregistry.Registry, projector RowProjector, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pgConn, err := pgconn.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("adapter: connect: %w", err)
	}

	backend := newPgxBackend(pgConn, registry, logger)
	engine, err := pipeline.New(backend, pipeline.Options{
		StatementLimit:       cfg.StatementLimit,
		EndlessLoopThreshold: cfg.EndlessLoopSeconds,
		DebugTrace:           cfg.DebugTrace,
		Logger:               logger,
	})
	if err != nil {
		pgConn.Close(ctx)
		return nil, fmt.Errorf("adapter: new engine: %w", err)
	}

	return &Adapter{
		engine:    engine,
		registry:  registry,
		projector: projector,
		cfg:       cfg,
		logger:    logger,
		pgConn:    pgConn,
	}, nil
}

// Active reports whether the underlying connection is still usable
// (spec.md §4.F `active?`).
func (a *Adapter) Active() bool {
	return a.engine.Active()
}

// rejectIfReadOnly enforces the read-only policy before transmission
// (spec.md §7 ReadOnlyError "raised before transmission, never reaches the
// backend").
func (a *Adapter) rejectIfReadOnly(sql string) error {
	if a.cfg.ReadOnly && isWriteStatement(sql) {
		return pgerr.ReadOnly(sql, nil)
	}
	return nil
}
