package dbsource

import (
	"context"
	"time"
)

// QueryEvent describes one operation on a connection as seen by hooks.
type QueryEvent struct {
	Op        string // "execute", "prepare", "begin", "commit", "rollback"
	SQL       string
	Params    []any
	StartTime time.Time
	Rows      int64 // rows returned, or rows affected for row-less statements
	Err       error
}

// QueryHook observes operations on a connection. BeforeQuery may derive a
// new context (for example to carry a span); AfterQuery sees the same
// event with Rows and Err filled in.
type QueryHook interface {
	BeforeQuery(ctx context.Context, event *QueryEvent) context.Context
	AfterQuery(ctx context.Context, event *QueryEvent)
}

// WithHooks wraps a connection so every operation on it runs through the
// given hooks. With no hooks the connection is returned unchanged.
func WithHooks(conn Conn, hooks ...QueryHook) Conn {
	if len(hooks) == 0 {
		return conn
	}
	return &hookedConn{conn: conn, hooks: hooks}
}

// WithPoolHooks wraps a pool so every connection it hands out is hooked.
// Release unwraps before delegating, so the pool always sees the
// connections it created.
func WithPoolHooks(pool Pool, hooks ...QueryHook) Pool {
	if len(hooks) == 0 {
		return pool
	}
	return &hookedPool{pool: pool, hooks: hooks}
}

type hookedConn struct {
	conn  Conn
	hooks []QueryHook
}

var _ Conn = (*hookedConn)(nil)

// Unwrap returns the underlying connection.
func (c *hookedConn) Unwrap() Conn {
	return c.conn
}

func (c *hookedConn) before(ctx context.Context, event *QueryEvent) context.Context {
	for _, h := range c.hooks {
		ctx = h.BeforeQuery(ctx, event)
	}
	return ctx
}

func (c *hookedConn) after(ctx context.Context, event *QueryEvent) {
	for _, h := range c.hooks {
		h.AfterQuery(ctx, event)
	}
}

func (c *hookedConn) Idle() bool {
	return c.conn.Idle()
}

func (c *hookedConn) ExecText(ctx context.Context, sql string, opts ExecOptions) (*Result, error) {
	event := &QueryEvent{Op: "execute", SQL: sql, Params: opts.Params, StartTime: time.Now()}
	ctx = c.before(ctx, event)
	res, err := c.conn.ExecText(ctx, sql, opts)
	event.Rows = resultRows(res)
	event.Err = err
	c.after(ctx, event)
	return res, err
}

func (c *hookedConn) ExecStatement(ctx context.Context, stmt Statement, opts ExecOptions) (*Result, error) {
	event := &QueryEvent{Op: "execute", SQL: stmt.SQL(), Params: opts.Params, StartTime: time.Now()}
	ctx = c.before(ctx, event)
	res, err := c.conn.ExecStatement(ctx, stmt, opts)
	event.Rows = resultRows(res)
	event.Err = err
	c.after(ctx, event)
	return res, err
}

func (c *hookedConn) Prepare(ctx context.Context, sql string) (Statement, error) {
	event := &QueryEvent{Op: "prepare", SQL: sql, StartTime: time.Now()}
	ctx = c.before(ctx, event)
	stmt, err := c.conn.Prepare(ctx, sql)
	event.Err = err
	c.after(ctx, event)
	return stmt, err
}

func (c *hookedConn) Begin(ctx context.Context, opts BeginOptions) error {
	event := &QueryEvent{Op: "begin", SQL: "BEGIN", StartTime: time.Now()}
	ctx = c.before(ctx, event)
	err := c.conn.Begin(ctx, opts)
	event.Err = err
	c.after(ctx, event)
	return err
}

func (c *hookedConn) Commit(ctx context.Context) error {
	event := &QueryEvent{Op: "commit", SQL: "COMMIT", StartTime: time.Now()}
	ctx = c.before(ctx, event)
	err := c.conn.Commit(ctx)
	event.Err = err
	c.after(ctx, event)
	return err
}

func (c *hookedConn) Rollback(ctx context.Context) error {
	event := &QueryEvent{Op: "rollback", SQL: "ROLLBACK", StartTime: time.Now()}
	ctx = c.before(ctx, event)
	err := c.conn.Rollback(ctx)
	event.Err = err
	c.after(ctx, event)
	return err
}

func (c *hookedConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

func resultRows(res *Result) int64 {
	if res == nil {
		return 0
	}
	if len(res.Rows) > 0 {
		return int64(len(res.Rows))
	}
	return res.RowsAffected
}

type hookedPool struct {
	pool  Pool
	hooks []QueryHook
}

var _ Pool = (*hookedPool)(nil)

// Unwrap returns the underlying pool.
func (p *hookedPool) Unwrap() Pool {
	return p.pool
}

func (p *hookedPool) Acquire(ctx context.Context) (Conn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return WithHooks(conn, p.hooks...), nil
}

func (p *hookedPool) Release(conn Conn) {
	if hc, ok := conn.(*hookedConn); ok {
		conn = hc.conn
	}
	p.pool.Release(conn)
}
