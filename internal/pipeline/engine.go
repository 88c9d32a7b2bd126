// Package pipeline implements the deferred result handle, the FIFO pipeline
// queue, and the dispatch/drain engine that multiplexes in-flight requests
// on one backend connection (spec.md §4.B–§4.D). It is the hardest and
// largest component of the core: everything else in this module either feeds
// requests into it (internal/adapter, internal/prepared) or supplies it with
// a concrete backend (internal/adapter's pgxBackend).
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/pgerr"
	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/prepared"
	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/result"
)

// EndlessLoopSeconds is the spec's ENDLESS_LOOP_SECONDS observation
// threshold: how long the drain loop can see no progress before it logs a
// diagnostic. It is not a cancellation deadline.
const EndlessLoopSeconds = 20 * time.Second

// Options configures an Engine. Zero values fall back to spec defaults.
type Options struct {
	// StatementLimit bounds the prepared statement cache. Default 100.
	StatementLimit int

	// EndlessLoopThreshold overrides EndlessLoopSeconds, mainly for tests.
	EndlessLoopThreshold time.Duration

	// DebugTrace enables capturing a bounded call-site trace on every
	// issued handle (spec.md §9 — off by default, since walking the stack
	// on every issue is wasted cost in production).
	DebugTrace bool

	Logger *slog.Logger
}

// Engine multiplexes in-flight pipelined requests on a single backend
// connection (component D). A single mutex serializes every operation that
// touches the queue, the prepared statement cache, or the backend
// connection, matching spec.md §5's single-threaded-per-connection model.
type Engine struct {
	mu sync.Mutex

	backend BackendConn
	queue   *queue
	cache   *prepared.Cache
	logger  *slog.Logger

	endlessLoopThreshold time.Duration
	debugTrace           bool

	pipelineMode bool

	// unsynced is true when Issue/IssuePrepared has sent a request since the
	// last sync boundary. A drain flushes it lazily (ensurePendingSyncLocked)
	// rather than Issue/IssuePrepared syncing immediately after every send,
	// so that back-to-back issues with no intervening drain land in the same
	// sync group — required for scenario S5 (§8 glossary: "on error, only
	// requests up to the next sync are aborted").
	unsynced bool
}

// New constructs an Engine over backend. Pipeline mode is entered
// immediately — the engine has no use for a connection that isn't
// pipelining.
func New(backend BackendConn, opts Options) (*Engine, error) {
	cache, err := prepared.New(opts.StatementLimit)
	if err != nil {
		return nil, fmt.Errorf("pipeline: new engine: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	threshold := opts.EndlessLoopThreshold
	if threshold <= 0 {
		threshold = EndlessLoopSeconds
	}

	e := &Engine{
		backend:              backend,
		queue:                newQueue(),
		cache:                cache,
		logger:               logger,
		endlessLoopThreshold: threshold,
		debugTrace:           opts.DebugTrace,
	}

	if err := backend.EnterPipelineMode(); err != nil {
		return nil, fmt.Errorf("pipeline: enter pipeline mode: %w", err)
	}
	e.pipelineMode = true

	return e, nil
}

// Issue sends a parameterized, non-prepared query through the pipeline and
// returns a Handle immediately (spec.md §4.D "Issue path (non-prepared)").
// It does not sync: consecutive Issue/IssuePrepared calls with no
// intervening drain accumulate in the same sync group, so a failure in one
// request aborts every request sent after it in that group, exactly
// as a real pipelined connection behaves. The next drain (Force, DrainAll,
// or the flush helper) flushes the sync boundary lazily.
func (e *Engine) Issue(ctx context.Context, sql string, binds []any, cb Callback) (*Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.issueLocked(sql, binds, cb)
}

func (e *Engine) issueLocked(sql string, binds []any, cb Callback) (*Handle, error) {
	if err := e.backend.SendQueryParams(sql, binds); err != nil {
		return nil, fmt.Errorf("pipeline: send query: %w", err)
	}
	e.unsynced = true
	h := newHandle(e, sql, binds, cb, e.debugTrace)
	e.queue.push(h)
	e.logger.Debug("pipeline: issued query", "sql", sql, "binds", binds)
	return h, nil
}

// IssuePrepared runs the statement through the prepared statement cache
// (preparing it synchronously on a miss), then issues the EXECUTE through
// the pipeline exactly like Issue — no sync of its own, same batching as
// Issue — with a cache-expiry recovery hook installed (spec.md §4.D "Issue
// path (prepared)", §4.E).
func (e *Engine) IssuePrepared(ctx context.Context, sql string, binds []any, cb Callback) (*Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.issuePreparedLocked(ctx, sql, binds, cb)
}

func (e *Engine) issuePreparedLocked(ctx context.Context, sql string, binds []any, cb Callback) (*Handle, error) {
	name, err := e.getOrPrepareNameLocked(ctx, sql)
	if err != nil {
		return nil, err
	}

	if err := e.backend.SendQueryPrepared(name, binds); err != nil {
		return nil, fmt.Errorf("pipeline: send execute prepared: %w", err)
	}
	e.unsynced = true
	h := newHandle(e, sql, binds, cb, e.debugTrace)
	e.queue.push(h)
	e.logger.Debug("pipeline: issued prepared execute", "sql", sql, "name", name, "binds", binds)

	h.OnError(e.cacheExpiryHook(sql, binds, cb))
	return h, nil
}

// cacheExpiryHook builds the ErrorHook installed on every prepared-execute
// handle. It runs while the engine's mutex is already held (it is only ever
// invoked from inside assignError, itself only ever called from
// drainLocked), so it calls the *Locked helpers directly rather than
// re-entering through Issue/IssuePrepared/resolve.
func (e *Engine) cacheExpiryHook(sql string, binds []any, cb Callback) ErrorHook {
	return func(ctx context.Context, h *Handle, err error) error {
		if !pgerr.IsCacheExpired(err) {
			return err
		}

		if e.backend.TxStatus() != pgerr.TxIdle {
			// Not recoverable without a ROLLBACK — surface as-is.
			return err
		}

		e.logger.Warn("pipeline: prepared statement cache expired, re-preparing and retrying", "sql", sql)
		e.cache.Remove(sql)

		retry, issueErr := e.issuePreparedLocked(ctx, sql, binds, cb)
		if issueErr != nil {
			return issueErr
		}
		if drainErr := e.drainLocked(ctx, retry); drainErr != nil {
			return drainErr
		}
		if retry.state == stateFailed {
			return retry.err
		}

		// Resolve the ORIGINAL handle with the retry's already-projected
		// result (retry was issued with the same callback, so it must not be
		// applied a second time here) so the caller, who may already hold
		// the original handle, still sees one successful result (spec.md
		// §4.E).
		h.value = retry.value
		h.state = stateResolved
		h.resolvedTime = time.Now()
		return nil
	}
}

// getOrPrepareNameLocked is the prepared cache's get-or-prepare step (spec.md §4.E): a hit
// returns the cached name; a miss allocates a name, PREPAREs it
// synchronously via flushAndSyncLocked, inserts it, and DEALLOCATEs whatever
// the insertion evicted.
func (e *Engine) getOrPrepareNameLocked(ctx context.Context, sql string) (string, error) {
	if name, ok := e.cache.Lookup(sql); ok {
		return name, nil
	}

	name := e.cache.NextName()
	_, err := e.flushAndSyncLocked(ctx, name, nil, func() error {
		return e.backend.SendPrepare(name, sql)
	})
	if err != nil {
		return "", fmt.Errorf("pipeline: prepare %q: %w", name, err)
	}

	for _, evicted := range e.cache.Insert(sql, name) {
		e.deallocateLocked(ctx, evicted.Name)
	}

	return name, nil
}

func (e *Engine) deallocateLocked(ctx context.Context, name string) {
	_, err := e.flushAndSyncLocked(ctx, name, nil, func() error {
		return e.backend.SendDeallocate(name)
	})
	if err != nil {
		// DEALLOCATE failure is logged, not fatal (spec.md §4.E).
		e.logger.Error("pipeline: deallocate failed", "name", name, "error", err)
	}
}

// FlushAndSync is flush_pipeline_and_get_sync_result (spec.md §4.D): it
// drains any outstanding queue, runs sendOp, emits a sync boundary, and
// consumes exactly the one expected reply plus its trailing sync marker.
// Administrative statements (PREPARE, DEALLOCATE, DISCARD ALL, ROLLBACK,
// SELECT 1) all go through this so they never interleave with user handles.
func (e *Engine) FlushAndSync(ctx context.Context, name string, binds []any, sendOp func() error) (result.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushAndSyncLocked(ctx, name, binds, sendOp)
}

func (e *Engine) flushAndSyncLocked(ctx context.Context, name string, binds []any, sendOp func() error) (result.Value, error) {
	if err := e.drainLocked(ctx, nil); err != nil {
		return result.Value{}, err
	}
	if err := sendOp(); err != nil {
		return result.Value{}, fmt.Errorf("pipeline: flushAndSync send: %w", err)
	}
	if err := e.backend.Sync(); err != nil {
		return result.Value{}, fmt.Errorf("pipeline: flushAndSync sync: %w", err)
	}

	h := newHandle(e, name, binds, nil, e.debugTrace)
	e.queue.push(h)
	e.logger.Debug("pipeline: issued admin statement", "name", name+" [SYNC]", "binds", binds)

	if err := e.drainLocked(ctx, h); err != nil {
		return result.Value{}, err
	}
	if h.state == stateFailed {
		return result.Value{}, h.err
	}
	v, _ := h.value.(result.Value)
	return v, nil
}

// ExecuteRaw runs sql as an immediate, non-prepared statement through the
// flush helper, draining any outstanding pipelined work first (spec.md
// §4.F "execute/select_* for raw text use the flush helper"). It is how the
// adapter facade issues synchronous commands and queries without going
// through the prepared statement cache.
func (e *Engine) ExecuteRaw(ctx context.Context, sql string, binds []any) (result.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushAndSyncLocked(ctx, sql, binds, func() error {
		return e.backend.SendQueryParams(sql, binds)
	})
}

// resolve is the only externally-locking entry point that drains toward a
// specific handle; Handle.Force calls this.
func (e *Engine) resolve(ctx context.Context, target *Handle) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if target.state == statePending {
		if err := e.drainLocked(ctx, target); err != nil {
			return nil, err
		}
	}

	switch target.state {
	case stateResolved:
		return target.value, nil
	case stateFailed:
		return nil, target.err
	default:
		return nil, fmt.Errorf("pipeline: handle still pending after drain (context: %w)", ctx.Err())
	}
}

// DrainAll drains every outstanding handle on this connection — used by the
// check-in hook and by Reset before issuing ROLLBACK/DISCARD ALL.
func (e *Engine) DrainAll(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drainLocked(ctx, nil)
}

// ensurePendingSyncLocked flushes a sync boundary for everything sent by
// Issue/IssuePrepared since the last one, so the drain loop has a
// deterministic reply stream — exactly the requests sent since the previous
// sync, terminated by one PipelineSync marker — to consume. Callers must
// hold e.mu.
func (e *Engine) ensurePendingSyncLocked() error {
	if !e.unsynced {
		return nil
	}
	if err := e.backend.Sync(); err != nil {
		return fmt.Errorf("pipeline: sync: %w", err)
	}
	e.unsynced = false
	return nil
}

// drainLocked is the drain loop (spec.md §4.D). Callers must hold e.mu. A
// nil target drains everything currently queued; a non-nil target stops as
// soon as that handle is terminal, leaving any remaining replies queued for
// a later drain.
func (e *Engine) drainLocked(ctx context.Context, target *Handle) error {
	if err := e.ensurePendingSyncLocked(); err != nil {
		return err
	}

	lastProgress := time.Now()
	awaitingSync := false

	for {
		if target != nil && !awaitingSync {
			if target.state != statePending {
				return nil
			}
		} else if target == nil && !awaitingSync && e.queue.len() == 0 {
			return nil
		}

		reply, err := e.backend.NextResult(ctx)
		if err != nil {
			return fmt.Errorf("pipeline: drain: %w", err)
		}

		switch reply.Kind {
		case ReplyNone:
			if e.queue.len() > 0 && time.Since(lastProgress) >= e.endlessLoopThreshold {
				e.logger.Warn("pipeline: drain loop has made no progress",
					"waited", time.Since(lastProgress), "queue_len", e.queue.len())
				lastProgress = time.Now()
			}
			continue

		case ReplySync:
			if e.queue.len() == 0 {
				return nil
			}
			continue

		case ReplyRows, ReplyCommand:
			h := e.queue.popFront()
			if h == nil {
				continue
			}
			h.assign(reply.Value)
			lastProgress = time.Now()
			if e.queue.len() == 0 {
				awaitingSync = true
				continue // consume the trailing sync marker, then stop
			}
			if target != nil && h == target {
				return nil
			}

		case ReplyAborted:
			h := e.queue.popFront()
			if h == nil {
				continue
			}
			h.assignError(ctx, pgerr.PipelineAborted(h.sql, h.binds))
			lastProgress = time.Now()
			if target != nil && h == target {
				return nil
			}

		case ReplyFatal:
			h := e.queue.popFront()
			if h == nil {
				// Nothing to attribute this to — surface it directly.
				return pgerr.Classify(reply.Err, "", nil)
			}
			classified := pgerr.Classify(reply.Err, h.sql, h.binds)
			h.assignError(ctx, classified)
			lastProgress = time.Now()
			if target != nil && h == target {
				return nil
			}

		case ReplyTxError:
			e.logger.Warn("pipeline: connection transaction status is in-error; caller must ROLLBACK before further pipelined work succeeds")
			return nil

		default:
			return fmt.Errorf("pipeline: unknown reply kind %d", reply.Kind)
		}
	}
}

// TxStatus reports the backend connection's current transaction status.
func (e *Engine) TxStatus() pgerr.TxStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend.TxStatus()
}

// Active reports whether the underlying connection is still usable.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend.IsAlive()
}

// Abandon fails every remaining Pending handle with ErrConnectionReset and
// empties the queue — used by Reconnect/Disconnect (spec.md §9 open
// question, resolved: the Ruby source silently discarded these handles,
// which would leave a caller's Force blocked forever; this module does not
// ship that bug).
func (e *Engine) Abandon() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range e.queue.clear() {
		h.failLocked(pgerr.ConnectionReset(h.sql, h.binds))
	}
}

// StatementCacheLen exposes the prepared cache's current size, mainly for
// tests asserting testable property 5 (LRU bound).
func (e *Engine) StatementCacheLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Len()
}

// QueueLen exposes the pipeline queue's current length, mainly for tests.
func (e *Engine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.len()
}
