package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/adapter"
	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/config"
	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/typeregistry"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	// JSON in production, pretty text in development.
	var logger *slog.Logger
	if os.Getenv("ENV") == "production" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	sql := flag.String("sql", "SELECT 1", "statement to issue")
	prepare := flag.Bool("prepare", false, "route the statement through the prepared statement cache")
	repeat := flag.Int("repeat", 1, "number of times to issue the statement before draining")
	flag.Parse()

	// ── Config ────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger.Info("config loaded", "env", cfg.Env, "statement_limit", cfg.StatementLimit)

	// ── Adapter ───────────────────────────────────────────────────────────────
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := adapter.New(ctx, *cfg, typeregistry.New(), adapter.DefaultProjector(), logger)
	if err != nil {
		return fmt.Errorf("adapter: connect: %w", err)
	}
	defer a.Disconnect(context.Background())
	logger.Info("adapter connected")

	// Issue the statement *repeat* times without forcing in between, then
	// force every handle — exercises the deferred-result/FIFO-drain path
	// end to end against a real connection.
	handles := make([]deferredHandle, 0, *repeat)
	for i := 0; i < *repeat; i++ {
		h, err := a.ExecQuery(ctx, *sql, "", nil, *prepare)
		if err != nil {
			return fmt.Errorf("exec query (iteration %d): %w", i, err)
		}
		handles = append(handles, h)
	}

	for i, h := range handles {
		v, err := h.Force(ctx)
		if err != nil {
			return fmt.Errorf("force (iteration %d): %w", i, err)
		}
		logger.Info("result", "iteration", i, "value", v)
	}

	if err := a.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	logger.Info("done")
	return nil
}

// deferredHandle is the subset of *pipeline.Handle this command needs,
// named locally so the import list stays limited to the adapter facade.
type deferredHandle interface {
	Force(ctx context.Context) (any, error)
}
