package sqlconn

import (
	"context"
	"database/sql"

	"github.com/fernandezvara/dbsource"
	"github.com/fernandezvara/dbsource/hooks"
)

// Pool adapts *sql.DB, which is itself a connection pool. Acquire
// checks out a dedicated connection; Release returns it.
type Pool struct {
	db    *sql.DB
	chain []dbsource.QueryHook
}

var (
	_ dbsource.Pool        = (*Pool)(nil)
	_ dbsource.PoolStatter = (*Pool)(nil)
)

// NewPool opens a pgdriver-backed pool sized and timed per the config
func NewPool(ctx context.Context, cfg *dbsource.Config) (*Pool, error) {
	db := openDB(cfg)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, dbsource.WrapError(err, "NewPool")
	}

	chain, err := hooks.FromConfig(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Pool{db: db, chain: chain}, nil
}

// FromDB wraps an existing database handle. The caller keeps ownership
// of the underlying pool.
func FromDB(db *sql.DB, chain ...dbsource.QueryHook) *Pool {
	return &Pool{db: db, chain: chain}
}

// DB returns the underlying database handle
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Acquire checks a dedicated connection out of the pool
func (p *Pool) Acquire(ctx context.Context) (dbsource.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, dbsource.WrapError(err, "Acquire")
	}
	return dbsource.WithHooks(&Conn{conn: conn}, p.chain...), nil
}

// Release returns a connection to the pool. A transaction left open is
// rolled back first; connections from elsewhere are ignored.
func (p *Pool) Release(conn dbsource.Conn) {
	if unwrapper, ok := conn.(interface{ Unwrap() dbsource.Conn }); ok {
		conn = unwrapper.Unwrap()
	}
	sc, ok := conn.(*Conn)
	if !ok {
		return
	}
	if sc.tx != nil {
		_ = sc.tx.Rollback()
		sc.tx = nil
	}
	_ = sc.conn.Close()
}

// Close closes the pool and every idle connection in it
func (p *Pool) Close() error {
	return p.db.Close()
}

// Ping verifies the pool can reach the database
func (p *Pool) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return dbsource.WrapError(err, "Ping")
	}
	return nil
}

// Stats reports pool statistics
func (p *Pool) Stats() dbsource.PoolStats {
	return dbsource.PoolStatsFromSQL(p.db.Stats())
}
