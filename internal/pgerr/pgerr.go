// Package pgerr maps backend reply status and connection transaction status
// to the error kinds callers of the adapter need to distinguish: a statement
// rejected outright, a data-level rejection, a prepared plan invalidated by a
// schema change, a request aborted because an earlier pipelined request
// failed, a dead connection, or a write blocked by read-only policy.
package pgerr

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind identifies which of the error categories below an error belongs to.
// It is exported so callers can branch on it without a long errors.As chain,
// while every constructed error also satisfies errors.Is/errors.As against
// the sentinel values below.
type Kind int

const (
	KindStatementInvalid Kind = iota
	KindValueTooLong
	KindDataError
	KindPreparedStatementCacheExpired
	KindPriorQueryPipelineError
	KindConnectionFailed
	KindConnectionReset
	KindReadOnlyError
)

// Error wraps an underlying cause (often a *pgconn.PgError, sometimes nil)
// with the Kind the adapter classified it as, plus the SQL/binds context of
// the handle it was attributed to.
type Error struct {
	Kind  Kind
	SQL   string
	Binds []any
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("pgerr: %s: %s (sql=%q)", e.kindName(), e.Cause.Error(), e.SQL)
	}
	return fmt.Sprintf("pgerr: %s (sql=%q)", e.kindName(), e.SQL)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets callers write errors.Is(err, pgerr.ErrPriorQueryPipeline) and the
// like without caring about the SQL/Cause payload.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Cause == nil
}

func (e *Error) kindName() string {
	switch e.Kind {
	case KindStatementInvalid:
		return "StatementInvalid"
	case KindValueTooLong:
		return "ValueTooLong"
	case KindDataError:
		return "DataError"
	case KindPreparedStatementCacheExpired:
		return "PreparedStatementCacheExpired"
	case KindPriorQueryPipelineError:
		return "PriorQueryPipelineError"
	case KindConnectionFailed:
		return "ConnectionFailed"
	case KindConnectionReset:
		return "ConnectionReset"
	case KindReadOnlyError:
		return "ReadOnlyError"
	default:
		return "Unknown"
	}
}

// Sentinel values for errors.Is comparisons. They carry no SQL/Cause context
// — use New/Classify to build the real error returned to a caller.
var (
	ErrStatementInvalid              = &Error{Kind: KindStatementInvalid}
	ErrValueTooLong                  = &Error{Kind: KindValueTooLong}
	ErrDataError                     = &Error{Kind: KindDataError}
	ErrPreparedStatementCacheExpired = &Error{Kind: KindPreparedStatementCacheExpired}
	ErrPriorQueryPipeline            = &Error{Kind: KindPriorQueryPipelineError}
	ErrConnectionFailed              = &Error{Kind: KindConnectionFailed}
	ErrConnectionReset               = &Error{Kind: KindConnectionReset}
	ErrReadOnly                      = &Error{Kind: KindReadOnlyError}
)

// New builds an *Error of the given kind carrying sql/binds context and an
// optional cause.
func New(kind Kind, sql string, binds []any, cause error) *Error {
	return &Error{Kind: kind, SQL: sql, Binds: binds, Cause: cause}
}

// sqlStateClass returns the two-character SQLSTATE class prefix ("42", "23",
// "22", ...) of a *pgconn.PgError, or "" if err is not one.
func sqlStateClass(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		return pgErr.Code[:2]
	}
	return ""
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// cachedPlanExpiredCode is the SQLSTATE Postgres raises when a cached plan
// for a prepared statement must be replanned after a schema change ("cached
// plan must not change result type" / the 0A000 feature-not-supported class
// Postgres reuses for this condition).
const cachedPlanExpiredCode = "0A000"

// TxStatus mirrors pgconn's backend transaction-status byte so this package
// does not need to import pgproto3 just for three constants.
type TxStatus byte

const (
	TxIdle    TxStatus = 'I'
	TxInTrans TxStatus = 'T'
	TxInError TxStatus = 'E'
)

// Classify maps a raw backend error to the adapter's error kinds (spec.md
// §7). sql/binds are attached for diagnostics; they are the context of the
// handle the error is being attributed to, not necessarily of err itself.
//
// Classify does not decide recoverability of PreparedStatementCacheExpired —
// that depends on the connection's transaction status at the moment of
// failure, which the engine already holds and checks itself before deciding
// whether to retry or surface the error (spec.md §4.E).
func Classify(err error, sql string, binds []any) error {
	if err == nil {
		return nil
	}

	code := sqlState(err)
	class := sqlStateClass(err)

	switch {
	case code == cachedPlanExpiredCode:
		return New(KindPreparedStatementCacheExpired, sql, binds, err)
	case class == "22":
		return New(KindDataError, sql, binds, err)
	case class == "42" || class == "23":
		return New(KindStatementInvalid, sql, binds, err)
	case class == "08":
		return New(KindConnectionFailed, sql, binds, err)
	default:
		return New(KindStatementInvalid, sql, binds, err)
	}
}

// PipelineAborted builds the PriorQueryPipelineError for a handle that never
// reached the backend because an earlier request in the same pipeline
// failed.
func PipelineAborted(sql string, binds []any) error {
	return New(KindPriorQueryPipelineError, sql, binds, nil)
}

// ConnectionReset builds the error assigned to every Pending handle left in
// the queue when the connection is reconnected or disconnected out from
// under them.
func ConnectionReset(sql string, binds []any) error {
	return New(KindConnectionReset, sql, binds, nil)
}

// ReadOnly builds the error raised before transmission when a write is
// attempted under a read-only policy.
func ReadOnly(sql string, binds []any) error {
	return New(KindReadOnlyError, sql, binds, nil)
}

// IsCacheExpired reports whether err is a PreparedStatementCacheExpired
// error, recoverable or not.
func IsCacheExpired(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindPreparedStatementCacheExpired
}

// IsPipelineAborted reports whether err is a PriorQueryPipelineError.
func IsPipelineAborted(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindPriorQueryPipelineError
}
