package pgxconn

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fernandezvara/dbsource"
	"github.com/fernandezvara/dbsource/hooks"
)

// Pool adapts *pgxpool.Pool. Connections it hands out carry the hook
// chain the pool was built with.
type Pool struct {
	pool  *pgxpool.Pool
	chain []dbsource.QueryHook
}

var (
	_ dbsource.Pool        = (*Pool)(nil)
	_ dbsource.PoolStatter = (*Pool)(nil)
)

// NewPool opens a pgx connection pool sized and timed per the config
func NewPool(ctx context.Context, cfg *dbsource.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, &dbsource.Error{
			Code:    dbsource.CodeConnectionFailed,
			Message: "invalid connection string",
			Op:      "NewPool",
			Cause:   err,
		}
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
	if cfg.DialTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.DialTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, dbsource.WrapError(err, "NewPool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, dbsource.WrapError(err, "NewPool")
	}

	chain, err := hooks.FromConfig(cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &Pool{pool: pool, chain: chain}, nil
}

// FromPool wraps an existing pgx pool. The caller keeps ownership of
// the underlying pool.
func FromPool(pool *pgxpool.Pool, chain ...dbsource.QueryHook) *Pool {
	return &Pool{pool: pool, chain: chain}
}

// PgxPool returns the underlying pgx pool
func (p *Pool) PgxPool() *pgxpool.Pool {
	return p.pool
}

// Acquire checks a connection out of the pool
func (p *Pool) Acquire(ctx context.Context) (dbsource.Conn, error) {
	pooled, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, dbsource.WrapError(err, "Acquire")
	}
	conn := &poolConn{Conn: Conn{conn: pooled.Conn()}, pooled: pooled}
	return dbsource.WithHooks(conn, p.chain...), nil
}

// Release returns a connection acquired from this pool. Connections
// from elsewhere are ignored.
func (p *Pool) Release(conn dbsource.Conn) {
	if unwrapper, ok := conn.(interface{ Unwrap() dbsource.Conn }); ok {
		conn = unwrapper.Unwrap()
	}
	if pc, ok := conn.(*poolConn); ok {
		pc.pooled.Release()
	}
}

// Close closes every connection in the pool
func (p *Pool) Close() {
	p.pool.Close()
}

// Ping verifies the pool can reach the database
func (p *Pool) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return dbsource.WrapError(err, "Ping")
	}
	return nil
}

// Stats reports pool statistics
func (p *Pool) Stats() dbsource.PoolStats {
	s := p.pool.Stat()
	return dbsource.PoolStats{
		MaxOpenConnections: int(s.MaxConns()),
		OpenConnections:    int(s.TotalConns()),
		InUse:              int(s.AcquiredConns()),
		Idle:               int(s.IdleConns()),
		WaitCount:          s.EmptyAcquireCount(),
		WaitDuration:       s.AcquireDuration(),
		MaxIdleTimeClosed:  s.MaxIdleDestroyCount(),
		MaxLifetimeClosed:  s.MaxLifetimeDestroyCount(),
	}
}

// poolConn is a pooled connection; Close destroys it instead of
// returning it to the pool
type poolConn struct {
	Conn
	pooled *pgxpool.Conn
}

func (c *poolConn) Close(ctx context.Context) error {
	err := c.Conn.Close(ctx)
	c.pooled.Release()
	return err
}
