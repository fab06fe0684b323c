package sqliteconn

import (
	"context"
	"runtime"
	"strings"

	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/fernandezvara/dbsource"
	"github.com/fernandezvara/dbsource/hooks"
)

// Pool adapts *sqlitex.Pool. Connections it hands out carry the hook
// chain the pool was built with.
type Pool struct {
	pool  *sqlitex.Pool
	chain []dbsource.QueryHook
}

var _ dbsource.Pool = (*Pool)(nil)

// NewPool opens a SQLite connection pool. Pool size comes from
// MaxOpenConns; in-memory databases are capped at one connection since
// each in-memory connection sees its own database.
func NewPool(ctx context.Context, cfg *dbsource.Config) (*Pool, error) {
	path := databasePath(cfg)
	if path == "" {
		return nil, &dbsource.Error{
			Code:    dbsource.CodeConnectionFailed,
			Message: "sqlite requires a database path (or :memory:)",
			Op:      "NewPool",
		}
	}

	size := cfg.MaxOpenConns
	if size <= 0 {
		size = runtime.NumCPU()
	}
	if strings.Contains(path, ":memory:") {
		size = 1
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, wrapError(err, "NewPool")
	}

	// Take one connection so open and pragma errors surface now
	conn, err := pool.Take(ctx)
	if err != nil {
		_ = pool.Close()
		return nil, wrapError(err, "NewPool")
	}
	pool.Put(conn)

	chain, err := hooks.FromConfig(cfg)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	return &Pool{pool: pool, chain: chain}, nil
}

// FromPool wraps an existing SQLite pool. The caller keeps ownership of
// the underlying pool.
func FromPool(pool *sqlitex.Pool, chain ...dbsource.QueryHook) *Pool {
	return &Pool{pool: pool, chain: chain}
}

// SQLitePool returns the underlying pool
func (p *Pool) SQLitePool() *sqlitex.Pool {
	return p.pool
}

// Acquire borrows a connection from the pool
func (p *Pool) Acquire(ctx context.Context) (dbsource.Conn, error) {
	conn, err := p.pool.Take(ctx)
	if err != nil {
		return nil, wrapError(err, "Acquire")
	}
	pc := &poolConn{Conn: Conn{conn: conn}, pool: p.pool}
	return dbsource.WithHooks(pc, p.chain...), nil
}

// Release returns a connection to the pool. A transaction left open is
// rolled back first; connections from elsewhere are ignored.
func (p *Pool) Release(conn dbsource.Conn) {
	if unwrapper, ok := conn.(interface{ Unwrap() dbsource.Conn }); ok {
		conn = unwrapper.Unwrap()
	}
	pc, ok := conn.(*poolConn)
	if !ok {
		return
	}
	if pc.inTx {
		_ = pc.Conn.Rollback(context.Background())
	}
	p.pool.Put(pc.conn)
}

// Close closes the pool, blocking until all borrowed connections are
// returned
func (p *Pool) Close() error {
	return p.pool.Close()
}

// poolConn is a pooled connection; Close returns it to the pool
type poolConn struct {
	Conn
	pool *sqlitex.Pool
}

func (c *poolConn) Close(ctx context.Context) error {
	if c.inTx {
		_ = c.Conn.Rollback(ctx)
	}
	c.pool.Put(c.conn)
	return nil
}
