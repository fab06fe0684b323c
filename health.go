package dbsource

import (
	"context"
	"database/sql"
	"time"
)

// HealthStatus describes the outcome of a health probe
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Latency       time.Duration `json:"latency"`
	Error         string        `json:"error,omitempty"`
	InTransaction bool          `json:"in_transaction"`
	Pool          *PoolStats    `json:"pool,omitempty"`
}

// PoolStats is a driver-neutral snapshot of a connection pool. The
// close counters are only reported by drivers that track them.
type PoolStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
	MaxIdleClosed      int64         `json:"max_idle_closed"`
	MaxIdleTimeClosed  int64         `json:"max_idle_time_closed"`
	MaxLifetimeClosed  int64         `json:"max_lifetime_closed"`
}

// PoolStatter is implemented by pools that can report statistics
type PoolStatter interface {
	Stats() PoolStats
}

// Health probes the source with a round-trip query and reports the
// latency. When the source is a pool implementing PoolStatter a
// snapshot of its statistics is included.
func Health(ctx context.Context, source any) HealthStatus {
	var status HealthStatus
	start := time.Now()

	err := WithConnection(ctx, source, func(ctx context.Context, conn Conn) error {
		status.InTransaction = InTransaction(conn)
		_, execErr := conn.ExecText(ctx, "select 1", ExecOptions{})
		return execErr
	})
	status.Latency = time.Since(start)

	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Healthy = true

	if stats, ok := poolStats(source); ok {
		status.Pool = &stats
	}
	return status
}

// poolStats finds a PoolStatter behind any pool decorators
func poolStats(source any) (PoolStats, bool) {
	for {
		if statter, ok := source.(PoolStatter); ok {
			return statter.Stats(), true
		}
		unwrapper, ok := source.(interface{ Unwrap() Pool })
		if !ok {
			return PoolStats{}, false
		}
		source = unwrapper.Unwrap()
	}
}

// Ping reports whether the source can serve a round-trip query
func Ping(ctx context.Context, source any) error {
	return WithConnection(ctx, source, func(ctx context.Context, conn Conn) error {
		_, err := conn.ExecText(ctx, "select 1", ExecOptions{})
		return err
	})
}

// IsHealthy returns true if the source is reachable
func IsHealthy(ctx context.Context, source any) bool {
	return Ping(ctx, source) == nil
}

// PoolStatsFromSQL converts sql.DBStats to PoolStats
func PoolStatsFromSQL(stats sql.DBStats) PoolStats {
	return PoolStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
		MaxIdleClosed:      stats.MaxIdleClosed,
		MaxIdleTimeClosed:  stats.MaxIdleTimeClosed,
		MaxLifetimeClosed:  stats.MaxLifetimeClosed,
	}
}
