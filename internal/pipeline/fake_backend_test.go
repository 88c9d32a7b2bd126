package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/pgerr"
	"github.com/MohanThanigaivelan/pg-activerecord-ext/internal/pipeline"
)

// sentOp records one call the engine made against a fakeBackend, in order,
// so tests can assert on instrumentation/ordering (S3's "instrumented SQL
// order is H1 then H2").
type sentOp struct {
	kind  string // "query" | "prepare" | "execute" | "deallocate" | "sync"
	sql   string
	name  string
	binds []any
}

// fakeBackend is a scripted pipeline.BackendConn: the test preloads a slice
// of replies, and NextResult hands them out in order. It never talks to a
// real socket — the same "narrow collaborator interface + fake struct" idiom
// the teacher uses for ai.Hedger/stubHedger.
type fakeBackend struct {
	sent    []sentOp
	replies []pipeline.Reply
	pos     int

	txStatus pgerr.TxStatus
	alive    bool
}

func newFakeBackend(replies ...pipeline.Reply) *fakeBackend {
	return &fakeBackend{replies: replies, alive: true, txStatus: pgerr.TxIdle}
}

func (f *fakeBackend) SendQueryParams(sql string, binds []any) error {
	f.sent = append(f.sent, sentOp{kind: "query", sql: sql, binds: binds})
	return nil
}

func (f *fakeBackend) SendPrepare(name, sql string) error {
	f.sent = append(f.sent, sentOp{kind: "prepare", sql: sql, name: name})
	return nil
}

func (f *fakeBackend) SendQueryPrepared(name string, binds []any) error {
	f.sent = append(f.sent, sentOp{kind: "execute", name: name, binds: binds})
	return nil
}

func (f *fakeBackend) SendDeallocate(name string) error {
	f.sent = append(f.sent, sentOp{kind: "deallocate", name: name})
	return nil
}

func (f *fakeBackend) Sync() error {
	f.sent = append(f.sent, sentOp{kind: "sync"})
	return nil
}

func (f *fakeBackend) NextResult(ctx context.Context) (pipeline.Reply, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.Reply{}, err
	}
	if f.pos >= len(f.replies) {
		return pipeline.Reply{}, errors.New("fakeBackend: no more scripted replies")
	}
	r := f.replies[f.pos]
	f.pos++
	return r, nil
}

func (f *fakeBackend) TxStatus() pgerr.TxStatus { return f.txStatus }
func (f *fakeBackend) EnterPipelineMode() error { return nil }
func (f *fakeBackend) ExitPipelineMode() error  { return nil }
func (f *fakeBackend) Close(ctx context.Context) error {
	f.alive = false
	return nil
}
func (f *fakeBackend) IsAlive() bool { return f.alive }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t interface{ Fatalf(string, ...any) }, backend *fakeBackend) *pipeline.Engine {
	e, err := pipeline.New(backend, pipeline.Options{Logger: discardLogger(), StatementLimit: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}
