package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"time"

	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/result"
)

// state is a Handle's position in its one-way Pending → {Resolved, Failed}
// transition (spec.md §3).
type state int

const (
	statePending state = iota
	stateResolved
	stateFailed
)

// Callback post-processes a successful raw result.Value into whatever shape
// the caller actually wants (e.g. a row-set → domain-record projector). It
// runs exactly once, at the moment a handle resolves successfully.
type Callback func(result.Value) (any, error)

// ErrorHook is invoked, in registration order, when a handle fails. A hook
// that returns nil consumes the error — propagation stops. A hook that
// returns a non-nil error replaces the current error for the remaining
// hooks (or becomes the final error if no more hooks run). A hook that wants
// to turn a failure into a success (e.g. the prepared-statement cache-expiry
// retry) resolves the handle itself via the *Handle passed to it before
// returning nil.
type ErrorHook func(ctx context.Context, h *Handle, err error) error

// Handle is a placeholder for a reply not yet read from the backend socket.
// It is returned immediately by every pipelined issue path and transparently
// materializes on first access via Force or any of the fixed accessors.
//
// All state transitions happen under the owning Engine's mutex — a Handle
// has no lock of its own, matching spec.md's "single mutex guards the
// connection context" invariant.
type Handle struct {
	engine *Engine

	sql   string
	binds []any

	state state
	value any
	err   error

	callback   Callback
	errorHooks []ErrorHook

	creationSite []uintptr
	creationTime time.Time
	resolvedTime time.Time
}

func newHandle(e *Engine, sql string, binds []any, cb Callback, debugTrace bool) *Handle {
	h := &Handle{
		engine:       e,
		sql:          sql,
		binds:        binds,
		callback:     cb,
		creationTime: time.Now(),
	}
	if debugTrace {
		pcs := make([]uintptr, 8)
		n := runtime.Callers(3, pcs)
		h.creationSite = pcs[:n]
	}
	return h
}

// SQL returns the statement text this handle was issued with. It never
// forces.
func (h *Handle) SQL() string { return h.sql }

// Binds returns the parameter values this handle was issued with, in order.
// It never forces.
func (h *Handle) Binds() []any { return h.binds }

// Scheduled reports whether this handle has not yet reached a terminal
// state. It never forces.
//
// Like OnError below, this does not take the engine's mutex: registration
// and identity operations on a handle are expected to happen from the same
// goroutine that issued it, consistent with spec.md's single-threaded-per-
// connection concurrency model (§5) — only the drain loop and Force itself
// need the mutex.
func (h *Handle) Scheduled() bool {
	return h.state == statePending
}

// OnError appends an error hook. Multiple hooks are allowed and run in
// registration order when the handle fails. It never forces.
func (h *Handle) OnError(hook ErrorHook) {
	h.errorHooks = append(h.errorHooks, hook)
}

// CreationSite returns the captured call-site trace, if the engine was
// constructed with debug tracing enabled. It never forces.
func (h *Handle) CreationSite() []uintptr { return h.creationSite }

// Force blocks until this handle reaches a terminal state (draining the
// connection as needed) and returns the materialized value or the error it
// failed with. A second call returns the cached terminal state without
// draining again.
func (h *Handle) Force(ctx context.Context) (any, error) {
	return h.engine.resolve(ctx, h)
}

// Rows returns the materialized row set as [][]any, forcing first. It
// returns an error if the handle's value is not a row set.
func (h *Handle) Rows(ctx context.Context) ([][]any, error) {
	v, err := h.forceValue(ctx)
	if err != nil {
		return nil, err
	}
	if v.Kind != result.KindRowSet {
		return nil, fmt.Errorf("pipeline: Rows: handle value is not a row set")
	}
	return v.Rows, nil
}

// Columns returns the row set's column names, forcing first.
func (h *Handle) Columns(ctx context.Context) ([]string, error) {
	v, err := h.forceValue(ctx)
	if err != nil {
		return nil, err
	}
	if v.Kind != result.KindRowSet {
		return nil, fmt.Errorf("pipeline: Columns: handle value is not a row set")
	}
	return v.Columns, nil
}

// RowsAffected returns the command-affected row count, forcing first.
func (h *Handle) RowsAffected(ctx context.Context) (int64, error) {
	v, err := h.forceValue(ctx)
	if err != nil {
		return 0, err
	}
	return v.RowsAffected()
}

// First returns the first row as a column-name-keyed map, forcing first.
func (h *Handle) First(ctx context.Context) (map[string]any, error) {
	v, err := h.forceValue(ctx)
	if err != nil {
		return nil, err
	}
	return v.First()
}

// Each calls fn once per row, in order, forcing first.
func (h *Handle) Each(ctx context.Context, fn func(row map[string]any)) error {
	v, err := h.forceValue(ctx)
	if err != nil {
		return err
	}
	v.Each(fn)
	return nil
}

// Equal forces this handle and compares its materialized value against v.
// Equality against a bare (non-handle) value always forces — there is no
// cheap path, matching spec.md's explicit invariant.
func (h *Handle) Equal(ctx context.Context, v any) bool {
	forced, err := h.Force(ctx)
	if err != nil {
		return false
	}
	other, ok := v.(*Handle)
	if !ok {
		return reflect.DeepEqual(forced, v)
	}
	otherForced, err := other.Force(ctx)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(forced, otherForced)
}

// forceValue forces the handle and type-asserts the result to result.Value,
// which is what every issue path installs unless a callback rewrote it —
// the fixed row/column/affected accessors only make sense pre-callback, so
// callers that install a callback should use Force directly.
func (h *Handle) forceValue(ctx context.Context) (result.Value, error) {
	v, err := h.Force(ctx)
	if err != nil {
		return result.Value{}, err
	}
	rv, ok := v.(result.Value)
	if !ok {
		return result.Value{}, fmt.Errorf("pipeline: handle has a callback-projected value; use Force instead of the row/column accessors")
	}
	return rv, nil
}

// assign performs the first (and only) successful terminal transition. It
// must be called with the owning Engine's mutex held.
func (h *Handle) assign(raw result.Value) {
	if h.state != statePending {
		return
	}
	if h.callback != nil {
		v, err := h.callback(raw)
		if err != nil {
			h.failLocked(err)
			return
		}
		h.value = v
	} else {
		h.value = raw
	}
	h.state = stateResolved
	h.resolvedTime = time.Now()
}

// assignError runs the registered error hooks in order and, if any error
// remains afterward, performs the failing terminal transition. It must be
// called with the owning Engine's mutex held — hooks that need to issue
// further pipelined work (e.g. the cache-expiry retry) rely on that mutex
// already being held rather than trying to reacquire it.
func (h *Handle) assignError(ctx context.Context, err error) {
	if h.state != statePending {
		return
	}
	current := err
	for _, hook := range h.errorHooks {
		next := hook(ctx, h, current)
		if next == nil {
			current = nil
			break
		}
		current = next
	}
	if current == nil {
		// A hook may have already resolved h itself (e.g. with the result of
		// a retry). If not, the error is simply swallowed and h resolves
		// with a zero result.Value (passed through h's callback, if it has
		// one) — it must still reach a terminal state exactly once.
		if h.state == statePending {
			h.assign(result.Value{})
		}
		return
	}
	h.failLocked(current)
}

func (h *Handle) failLocked(err error) {
	if h.state != statePending {
		return
	}
	h.state = stateFailed
	h.err = err
	h.resolvedTime = time.Now()
}
