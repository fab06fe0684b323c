package dbsource

import (
	"context"
	"sort"
	"sync"
)

// Conn is a live database session. Implementations are provided by the
// adapter packages (pgxconn, sqlconn, sqliteconn) or by callers with their
// own backends. A Conn is not safe for concurrent use; within a scope all
// operations on it are strictly sequential.
type Conn interface {
	// Idle reports whether the connection has no open transaction. An
	// aborted-but-open transaction is not idle.
	Idle() bool

	// ExecText compiles and runs a SQL statement with the parameters and
	// options given.
	ExecText(ctx context.Context, sql string, opts ExecOptions) (*Result, error)

	// ExecStatement binds parameters to an already-prepared statement and
	// runs it. The statement must have been prepared on a connection of the
	// same backend.
	ExecStatement(ctx context.Context, stmt Statement, opts ExecOptions) (*Result, error)

	// Prepare compiles a statement for repeated execution.
	Prepare(ctx context.Context, sql string) (Statement, error)

	// Begin opens a transaction with the translated options. Calling Begin
	// on a connection that is not idle is an error; use Transact, which
	// nests via savepoints.
	Begin(ctx context.Context, opts BeginOptions) error

	// Commit commits the open transaction.
	Commit(ctx context.Context) error

	// Rollback aborts the open transaction.
	Rollback(ctx context.Context) error

	// Close terminates the session and releases its resources.
	Close(ctx context.Context) error
}

// Pool manages a bounded set of connections. Borrowed connections are the
// exclusive property of the borrower until released. Acquire/Release safety
// under concurrency is the pool's own discipline; this package adds no
// locking on top.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
	Release(conn Conn)
}

// Statement is an opaque handle to a precompiled statement.
type Statement interface {
	// Name identifies the prepared statement within its backend.
	Name() string
	// SQL returns the statement text the handle was prepared from.
	SQL() string
}

// Opener opens a fresh connection from a configuration. Adapters register
// their openers by driver name so Config sources resolve without this
// package importing any driver.
type Opener func(ctx context.Context, cfg *Config) (Conn, error)

var (
	openersMu sync.RWMutex
	openers   = make(map[string]Opener)
)

// RegisterOpener makes an opener available by driver name. It is intended
// to be called from adapter init functions, so a blank import is enough to
// make Config sources with that Driver resolvable. Registering twice for
// the same name, or registering a nil opener, panics.
func RegisterOpener(name string, open Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	if open == nil {
		panic("dbsource: RegisterOpener opener is nil")
	}
	if _, dup := openers[name]; dup {
		panic("dbsource: RegisterOpener called twice for driver " + name)
	}
	openers[name] = open
}

// Openers returns the sorted names of the registered openers.
func Openers() []string {
	openersMu.RLock()
	defer openersMu.RUnlock()
	list := make([]string, 0, len(openers))
	for name := range openers {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

func lookupOpener(name string) (Opener, bool) {
	openersMu.RLock()
	defer openersMu.RUnlock()
	open, ok := openers[name]
	return open, ok
}
