package hooks

import (
	"github.com/fernandezvara/dbsource"
)

// FromConfig builds the hook chain a Config describes: logging when a
// Logger is set, metrics when a registry is set, tracing when a tracer
// is set, then any explicitly configured hooks. Adapters call this when
// opening a connection and wrap it with dbsource.WithHooks.
func FromConfig(cfg *dbsource.Config) ([]dbsource.QueryHook, error) {
	if cfg == nil {
		return nil, nil
	}

	var chain []dbsource.QueryHook

	if cfg.Logger != nil && (cfg.LogQueries || cfg.LogSlowQueries > 0) {
		chain = append(chain, NewLoggerHook(cfg.Logger, cfg.LogQueries, cfg.LogSlowQueries))
	}

	if cfg.MetricsRegistry != nil {
		metricsHook, err := NewMetricsHook(cfg.MetricsRegistry)
		if err != nil {
			return nil, err
		}
		chain = append(chain, metricsHook)
	}

	if cfg.Tracer != nil {
		chain = append(chain, NewTracingHook(cfg.Tracer).WithSystem(systemForDriver(cfg.Driver)))
	}

	chain = append(chain, cfg.Hooks...)
	return chain, nil
}

// systemForDriver maps a registered driver name to the OpenTelemetry
// db.system attribute value
func systemForDriver(driver string) string {
	switch driver {
	case "", "pgx", "pgdriver":
		return "postgresql"
	case "sqlite":
		return "sqlite"
	default:
		return driver
	}
}
