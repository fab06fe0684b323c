package dbsource

import (
	"context"
	"errors"
	"fmt"
)

// fakeConn is a scriptable in-memory Conn for tests. Results are consumed
// front to back by execute calls; every call is recorded so tests can
// assert on the exact sequence of operations.
type fakeConn struct {
	inTx bool

	results     []*Result
	execErr     error
	execErrAt   int // 1-based exec call that fails; 0 fails every call
	execCalls   int
	prepareErr  error
	beginErr    error
	commitErr   error
	rollbackErr error
	closeErr    error

	executed      []string
	executedStmts []string
	params        [][]any
	firstRowOnly  []bool
	beginOpts     []BeginOptions
	prepared      []string
	lastCtx       context.Context

	begins    int
	commits   int
	rollbacks int
	closes    int
}

var _ Conn = (*fakeConn)(nil)

func (c *fakeConn) Idle() bool {
	return !c.inTx
}

func (c *fakeConn) nextResult() *Result {
	if len(c.results) == 0 {
		return &Result{}
	}
	res := c.results[0]
	c.results = c.results[1:]
	return res
}

func (c *fakeConn) failsThisCall() bool {
	c.execCalls++
	return c.execErr != nil && (c.execErrAt == 0 || c.execCalls == c.execErrAt)
}

func (c *fakeConn) ExecText(ctx context.Context, sql string, opts ExecOptions) (*Result, error) {
	c.lastCtx = ctx
	c.executed = append(c.executed, sql)
	c.params = append(c.params, opts.Params)
	c.firstRowOnly = append(c.firstRowOnly, opts.FirstRowOnly)
	if c.failsThisCall() {
		return nil, c.execErr
	}
	return c.nextResult(), nil
}

func (c *fakeConn) ExecStatement(ctx context.Context, stmt Statement, opts ExecOptions) (*Result, error) {
	c.lastCtx = ctx
	c.executedStmts = append(c.executedStmts, stmt.SQL())
	c.params = append(c.params, opts.Params)
	c.firstRowOnly = append(c.firstRowOnly, opts.FirstRowOnly)
	if c.failsThisCall() {
		return nil, c.execErr
	}
	return c.nextResult(), nil
}

func (c *fakeConn) Prepare(ctx context.Context, sql string) (Statement, error) {
	c.lastCtx = ctx
	if c.prepareErr != nil {
		return nil, c.prepareErr
	}
	c.prepared = append(c.prepared, sql)
	return &fakeStatement{name: fmt.Sprintf("fake_%d", len(c.prepared)), sql: sql}, nil
}

func (c *fakeConn) Begin(ctx context.Context, opts BeginOptions) error {
	c.lastCtx = ctx
	c.begins++
	c.beginOpts = append(c.beginOpts, opts)
	if c.beginErr != nil {
		return c.beginErr
	}
	if c.inTx {
		return errors.New("fake: transaction already open")
	}
	c.inTx = true
	return nil
}

func (c *fakeConn) Commit(ctx context.Context) error {
	c.lastCtx = ctx
	c.commits++
	if c.commitErr != nil {
		return c.commitErr
	}
	c.inTx = false
	return nil
}

func (c *fakeConn) Rollback(ctx context.Context) error {
	c.lastCtx = ctx
	c.rollbacks++
	if c.rollbackErr != nil {
		return c.rollbackErr
	}
	c.inTx = false
	return nil
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.closes++
	c.inTx = false
	return c.closeErr
}

type fakeStatement struct {
	name string
	sql  string
}

func (s *fakeStatement) Name() string { return s.name }
func (s *fakeStatement) SQL() string  { return s.sql }

// fakePool hands out a single shared fakeConn and counts borrows and
// returns, so ownership tests can verify release discipline.
type fakePool struct {
	conn       *fakeConn
	acquireErr error

	acquires int
	releases int
	released []Conn
}

var _ Pool = (*fakePool)(nil)

func (p *fakePool) Acquire(ctx context.Context) (Conn, error) {
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	p.acquires++
	if p.conn == nil {
		p.conn = &fakeConn{}
	}
	return p.conn, nil
}

func (p *fakePool) Release(conn Conn) {
	p.releases++
	p.released = append(p.released, conn)
}

// The "fake" driver opens fresh fakeConns so Config sources are testable
// without a database. fakefail always errors, for the failure path.
var (
	fakeOpens    int
	lastFakeConn *fakeConn
)

var errFakeOpen = errors.New("fake: open failed")

func init() {
	RegisterOpener("fake", func(ctx context.Context, cfg *Config) (Conn, error) {
		fakeOpens++
		lastFakeConn = &fakeConn{}
		return lastFakeConn, nil
	})
	RegisterOpener("fakefail", func(ctx context.Context, cfg *Config) (Conn, error) {
		return nil, errFakeOpen
	})
}
