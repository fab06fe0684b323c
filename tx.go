package dbsource

import (
	"context"
	"fmt"
	"sync/atomic"
)

// IsolationLevel selects transaction consistency strength. Values use the
// SQL spelling so adapters can hand them to the backend untouched.
type IsolationLevel string

const (
	LevelDefault         IsolationLevel = ""
	LevelReadUncommitted IsolationLevel = "read uncommitted"
	LevelReadCommitted   IsolationLevel = "read committed"
	LevelRepeatableRead  IsolationLevel = "repeatable read"
	LevelSerializable    IsolationLevel = "serializable"
)

// TxOptions is the caller-facing transaction vocabulary.
type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool

	// RollbackOnly forces a rollback at the end of the transaction even
	// when the body succeeds. The body's results are kept; only the
	// database effects are discarded.
	RollbackOnly bool

	// Extra passes unrecognized options through to the transaction
	// primitive untouched, for forward compatibility.
	Extra map[string]any
}

// BeginOptions is the vocabulary the transaction primitive consumes.
// translateTxOptions produces it from TxOptions by pure key renaming.
type BeginOptions struct {
	IsolationLevel IsolationLevel
	ReadOnly       bool
	Rollback       bool
	Extra          map[string]any
}

// translateTxOptions renames the caller vocabulary into the primitive
// vocabulary. Values pass through unchanged: no coercion, no key invented
// or dropped, Extra carried as-is.
func translateTxOptions(opts *TxOptions) BeginOptions {
	if opts == nil {
		return BeginOptions{}
	}
	return BeginOptions{
		IsolationLevel: opts.Isolation,
		ReadOnly:       opts.ReadOnly,
		Rollback:       opts.RollbackOnly,
		Extra:          opts.Extra,
	}
}

// DefaultTxOptions returns default transaction options
func DefaultTxOptions() *TxOptions {
	return &TxOptions{}
}

// ReadOnlyTxOptions returns options for read-only transactions
func ReadOnlyTxOptions() *TxOptions {
	return &TxOptions{ReadOnly: true}
}

// SerializableTxOptions returns options for serializable transactions
func SerializableTxOptions() *TxOptions {
	return &TxOptions{Isolation: LevelSerializable}
}

// TxFunc is a function executed within a transaction
type TxFunc func(ctx context.Context, conn Conn) error

// InTransaction reports whether the connection currently has an open
// transaction, including one that already failed and awaits rollback.
func InTransaction(conn Conn) bool {
	return !conn.Idle()
}

// Transact resolves source, opens a transaction with the translated
// options, runs body, commits on success and rolls back on failure. The
// body error is re-raised unchanged; a secondary rollback failure is
// chained onto it instead of masking it. With RollbackOnly set, the
// transaction rolls back even on success and the call still returns nil.
//
// Transact resolves but does not release: on a Pool or Config source the
// connection stays borrowed or open afterwards. WithTransaction combines
// transaction scoping with release and is the usual entry point.
//
// On a connection that is already inside a transaction, Transact nests via
// a savepoint; the options apply only to the outermost transaction.
func Transact(ctx context.Context, source any, opts *TxOptions, body TxFunc) error {
	conn, _, err := resolve(ctx, "Transact", source)
	if err != nil {
		return err
	}
	return transactOn(ctx, conn, opts, body)
}

// WithTransaction is WithConnection composed with Transact: resolve, begin,
// run body, commit or roll back, and release the connection, all in one
// call.
func WithTransaction(ctx context.Context, source any, opts *TxOptions, body TxFunc) error {
	return WithConnection(ctx, source, func(ctx context.Context, conn Conn) error {
		return transactOn(ctx, conn, opts, body)
	})
}

func transactOn(ctx context.Context, conn Conn, opts *TxOptions, body TxFunc) error {
	if InTransaction(conn) {
		return savepointScope(ctx, conn, body)
	}

	begin := translateTxOptions(opts)
	if err := conn.Begin(ctx, begin); err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = conn.Rollback(ctx)
			panic(p)
		}
	}()

	if err := body(ctx, conn); err != nil {
		if rbErr := conn.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("dbsource: rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if begin.Rollback {
		return conn.Rollback(ctx)
	}
	return conn.Commit(ctx)
}

// savepointSeq numbers savepoints so nested scopes on the same connection
// do not collide.
var savepointSeq int64

func savepointScope(ctx context.Context, conn Conn, body TxFunc) error {
	id := atomic.AddInt64(&savepointSeq, 1)
	savepoint := fmt.Sprintf("sp_%d", id)

	if _, err := conn.ExecText(ctx, "SAVEPOINT "+savepoint, ExecOptions{}); err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_, _ = conn.ExecText(ctx, "ROLLBACK TO SAVEPOINT "+savepoint, ExecOptions{})
			panic(p)
		}
	}()

	if err := body(ctx, conn); err != nil {
		if _, rbErr := conn.ExecText(ctx, "ROLLBACK TO SAVEPOINT "+savepoint, ExecOptions{}); rbErr != nil {
			return fmt.Errorf("dbsource: savepoint rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	_, err := conn.ExecText(ctx, "RELEASE SAVEPOINT "+savepoint, ExecOptions{})
	return err
}

// Savepoint creates a named savepoint for manual control
func Savepoint(ctx context.Context, conn Conn, name string) error {
	_, err := conn.ExecText(ctx, "SAVEPOINT "+name, ExecOptions{})
	return err
}

// RollbackTo rolls back to a named savepoint
func RollbackTo(ctx context.Context, conn Conn, name string) error {
	_, err := conn.ExecText(ctx, "ROLLBACK TO SAVEPOINT "+name, ExecOptions{})
	return err
}

// ReleaseSavepoint releases a named savepoint
func ReleaseSavepoint(ctx context.Context, conn Conn, name string) error {
	_, err := conn.ExecText(ctx, "RELEASE SAVEPOINT "+name, ExecOptions{})
	return err
}
