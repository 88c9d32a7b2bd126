package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/pgerr"
	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/pipeline"
	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/result"
	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/typeregistry"
)

// pgxBackend is the production pipeline.BackendConn, a thin adapter over
// *pgconn.PgConn's native Pipeline mode (spec.md §6 — grounded in the
// corpus's pgconn.go reference architecture: async send, ResultReader
// polling, ErrorResponse → PgError translation).
//
// aborted tracks whether the backend is currently in PGRES_PIPELINE_ABORTED
// territory — set the moment a result fails, cleared the moment the next
// sync marker is consumed, matching libpq's own per-sync-group semantics.
type pgxBackend struct {
	conn     *pgconn.PgConn
	pipeline *pgconn.Pipeline
	logger   *slog.Logger
	registry *typeregistry.Registry
	aborted  bool
}

func newPgxBackend(conn *pgconn.PgConn, registry *typeregistry.Registry, logger *slog.Logger) *pgxBackend {
	return &pgxBackend{conn: conn, registry: registry, logger: logger}
}

func (b *pgxBackend) SendQueryParams(sql string, binds []any) error {
	if b.pipeline == nil {
		return fmt.Errorf("adapter: pgxBackend: not in pipeline mode")
	}
	params, err := encodeParams(binds)
	if err != nil {
		return err
	}
	b.pipeline.SendQueryParams(sql, params, nil, nil, nil)
	return nil
}

func (b *pgxBackend) SendPrepare(name, sql string) error {
	if b.pipeline == nil {
		return fmt.Errorf("adapter: pgxBackend: not in pipeline mode")
	}
	b.pipeline.SendPrepare(name, sql, nil)
	return nil
}

func (b *pgxBackend) SendQueryPrepared(name string, binds []any) error {
	if b.pipeline == nil {
		return fmt.Errorf("adapter: pgxBackend: not in pipeline mode")
	}
	params, err := encodeParams(binds)
	if err != nil {
		return err
	}
	b.pipeline.SendQueryPrepared(name, params, nil, nil)
	return nil
}

func (b *pgxBackend) SendDeallocate(name string) error {
	if b.pipeline == nil {
		return fmt.Errorf("adapter: pgxBackend: not in pipeline mode")
	}
	b.pipeline.SendDeallocate(name)
	return nil
}

func (b *pgxBackend) Sync() error {
	if b.pipeline == nil {
		return fmt.Errorf("adapter: pgxBackend: not in pipeline mode")
	}
	return b.pipeline.Sync()
}

// NextResult blocks until the next pipeline result is available and
// classifies it into pipeline.Reply.
func (b *pgxBackend) NextResult(ctx context.Context) (pipeline.Reply, error) {
	if b.pipeline == nil {
		return pipeline.Reply{}, fmt.Errorf("adapter: pgxBackend: not in pipeline mode")
	}
	if err := ctx.Err(); err != nil {
		return pipeline.Reply{}, err
	}

	results, err := b.pipeline.GetResults()
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			b.aborted = true
			return pipeline.Reply{Kind: pipeline.ReplyFatal, Err: pgErr}, nil
		}
		return pipeline.Reply{}, fmt.Errorf("adapter: pgxBackend: get results: %w", err)
	}

	switch r := results.(type) {
	case nil:
		return pipeline.Reply{Kind: pipeline.ReplyNone}, nil

	case *pgconn.PipelineSync:
		b.aborted = false
		return pipeline.Reply{Kind: pipeline.ReplySync}, nil

	case *pgconn.StatementDescription:
		return pipeline.Reply{Kind: pipeline.ReplyCommand, Value: result.AffectedCount(0)}, nil

	case *pgconn.ResultReader:
		if b.aborted {
			_, _ = r.Close()
			return pipeline.Reply{Kind: pipeline.ReplyAborted}, nil
		}
		return b.readResult(r)

	default:
		return pipeline.Reply{}, fmt.Errorf("adapter: pgxBackend: unexpected pipeline result type %T", results)
	}
}

func (b *pgxBackend) readResult(r *pgconn.ResultReader) (pipeline.Reply, error) {
	fields := r.FieldDescriptions()
	columns := make([]string, len(fields))
	types := make([]result.ColumnType, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
		types[i] = result.ColumnType{Name: f.Name, OID: f.DataTypeOID, Modifier: f.TypeModifier}
	}

	var rows [][]any
	for r.NextRow() {
		raw := r.Values()
		row := make([]any, len(raw))
		for i, v := range raw {
			decoded, err := b.registry.Decode(fields[i].DataTypeOID, fields[i].TypeModifier, fields[i].Name, v)
			if err != nil {
				return pipeline.Reply{}, err
			}
			row[i] = decoded
		}
		rows = append(rows, row)
	}

	tag, err := r.Close()
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			b.aborted = true
			return pipeline.Reply{Kind: pipeline.ReplyFatal, Err: pgErr}, nil
		}
		return pipeline.Reply{}, fmt.Errorf("adapter: pgxBackend: close result: %w", err)
	}

	if len(fields) > 0 {
		return pipeline.Reply{Kind: pipeline.ReplyRows, Value: result.RowSet(columns, rows, types)}, nil
	}
	return pipeline.Reply{Kind: pipeline.ReplyCommand, Value: result.AffectedCount(tag.RowsAffected())}, nil
}

func (b *pgxBackend) TxStatus() pgerr.TxStatus {
	return pgerr.TxStatus(b.conn.TxStatus())
}

func (b *pgxBackend) EnterPipelineMode() error {
	b.pipeline = b.conn.StartPipeline(context.Background())
	b.logger.Debug("adapter: entered pipeline mode")
	return nil
}

func (b *pgxBackend) ExitPipelineMode() error {
	if b.pipeline == nil {
		return nil
	}
	err := b.pipeline.Close()
	b.pipeline = nil
	b.logger.Debug("adapter: exited pipeline mode")
	return err
}

func (b *pgxBackend) Close(ctx context.Context) error {
	b.logger.Debug("adapter: closing connection")
	return b.conn.Close(ctx)
}

func (b *pgxBackend) IsAlive() bool {
	return b.conn.IsAlive()
}

// encodeParams renders binds as the text-format [][]byte SendQueryParams
// expects when no explicit param OIDs are supplied, letting the server
// infer types the same way database/sql's text protocol path does.
func encodeParams(binds []any) ([][]byte, error) {
	out := make([][]byte, len(binds))
	for i, v := range binds {
		if v == nil {
			out[i] = nil
			continue
		}
		s, err := encodeParam(v)
		if err != nil {
			return nil, fmt.Errorf("adapter: pgxBackend: encode param %d: %w", i, err)
		}
		out[i] = []byte(s)
	}
	return out, nil
}

func encodeParam(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case fmt.Stringer:
		return val.String(), nil
	case bool:
		if val {
			return "t", nil
		}
		return "f", nil
	default:
		return fmt.Sprintf("%v", val), nil
	}
}
