package pipeline

import (
	"context"

	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/pgerr"
	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/result"
)

// ReplyKind classifies one reply popped off the backend's result stream.
type ReplyKind int

const (
	// ReplyRows is a reply carrying a materialized row set.
	ReplyRows ReplyKind = iota
	// ReplyCommand is a reply carrying a command-affected row count.
	ReplyCommand
	// ReplySync is the PIPELINE_SYNC marker the backend emits after every
	// sync boundary the client sent.
	ReplySync
	// ReplyAborted means the backend rejected this request because an
	// earlier request in the same pipeline (since the last sync) failed.
	ReplyAborted
	// ReplyFatal is a genuine error reply for the request at the head of
	// the queue.
	ReplyFatal
	// ReplyTxError means the connection's transaction status is
	// in-error; the caller must ROLLBACK before further pipelined work
	// succeeds.
	ReplyTxError
	// ReplyNone means no reply is available yet — used by backends that
	// poll rather than block, so the drain loop can apply the endless-loop
	// diagnostic without blocking forever.
	ReplyNone
)

// Reply is one classified unit from the backend's reply stream.
type Reply struct {
	Kind  ReplyKind
	Value result.Value
	Err   error
}

// BackendConn is the minimal surface the dispatch/drain engine needs from the
// underlying PostgreSQL wire client. It deliberately mirrors the shape of
// pgx/v5's pgconn.Pipeline (SendQueryParams/SendPrepare/Sync/GetResults) so
// the production implementation (internal/adapter.pgxBackend) is a thin,
// mostly mechanical wrapper rather than a reimplementation of the wire
// protocol.
//
// A BackendConn is not safe for concurrent use — all calls happen under the
// Engine's single mutex, matching spec.md's single-threaded-per-connection
// concurrency model.
type BackendConn interface {
	// SendQueryParams sends a parameterized query through the extended
	// query protocol using an unnamed statement. It must not block on a
	// reply.
	SendQueryParams(sql string, binds []any) error

	// SendPrepare sends a PREPARE for name/sql. It must not block on a
	// reply.
	SendPrepare(name, sql string) error

	// SendQueryPrepared sends an EXECUTE of the named prepared statement.
	// It must not block on a reply.
	SendQueryPrepared(name string, binds []any) error

	// SendDeallocate sends a DEALLOCATE of name. It must not block on a
	// reply.
	SendDeallocate(name string) error

	// Sync emits a pipeline-sync boundary.
	Sync() error

	// NextResult blocks (respecting ctx) until the next reply is
	// available and returns it classified. It is the engine's only
	// blocking call.
	NextResult(ctx context.Context) (Reply, error)

	// TxStatus reports the connection's current backend transaction
	// status.
	TxStatus() pgerr.TxStatus

	// EnterPipelineMode / ExitPipelineMode toggle pipeline mode on the
	// underlying connection.
	EnterPipelineMode() error
	ExitPipelineMode() error

	// Close tears down the connection.
	Close(ctx context.Context) error

	// IsAlive reports whether the connection is still usable.
	IsAlive() bool
}
