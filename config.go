// Package dbsource resolves heterogeneous connection sources into live
// database connections, dispatches query execution, and coordinates
// transactions with guaranteed release and rollback semantics.
package dbsource

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"
)

// Config describes how to open a connection. A Config value is itself a
// source: resolving it opens a fresh, locally-owned connection through the
// opener registered for its Driver.
type Config struct {
	// Connection. URL takes precedence; otherwise the discrete fields are
	// assembled into a postgres:// URL (the sqlite driver uses Database as
	// the file path).
	URL      string
	Driver   string // registered opener name (default: "pgx")
	Host     string // default: localhost
	Port     int    // default: 5432
	Database string
	User     string
	Password string
	SSLMode  string

	// Pool settings (used by the adapter pool constructors)
	MaxOpenConns    int           // Max open connections (default: 25)
	MaxIdleConns    int           // Max idle connections (default: 5)
	ConnMaxLifetime time.Duration // Max connection lifetime (default: 5m)
	ConnMaxIdleTime time.Duration // Max idle time (default: 1m)

	// Timeouts
	DialTimeout  time.Duration // Connection dial timeout (default: 5s)
	ReadTimeout  time.Duration // Read timeout (default: 30s)
	WriteTimeout time.Duration // Write timeout (default: 30s)

	// Observability (all optional)
	Logger          *slog.Logger          // Structured logger
	LogQueries      bool                  // Log all queries
	LogSlowQueries  time.Duration         // Log queries slower than this (0 = disabled)
	MetricsRegistry prometheus.Registerer // Prometheus registry for metrics
	Tracer          trace.Tracer          // OpenTelemetry tracer
	Hooks           []QueryHook           // Additional hooks, applied after the built-ins
}

// DefaultConfig returns sensible defaults
func DefaultConfig(url string) Config {
	cfg := Config{URL: url}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in zero values with defaults
func (c *Config) applyDefaults() {
	if c.Driver == "" {
		c.Driver = "pgx"
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 1 * time.Minute
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
}

// DSN returns the connection string: URL when set, otherwise a
// postgres:// URL assembled from the discrete fields.
func (c *Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}

	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + c.Database,
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Connect opens a fresh connection through the opener registered for the
// Driver. The caller owns the connection and must close it; resolving the
// Config inside WithConnection or WithTransaction closes it automatically.
func (c *Config) Connect(ctx context.Context) (Conn, error) {
	cfg := *c
	cfg.applyDefaults()

	open, ok := lookupOpener(cfg.Driver)
	if !ok {
		return nil, &Error{
			Code:    CodeConnectionFailed,
			Message: fmt.Sprintf("unknown driver %q (forgotten import?)", cfg.Driver),
			Op:      "Connect",
		}
	}
	return open(ctx, &cfg)
}

// WithDriver selects the opener used for Config sources
func (c Config) WithDriver(driver string) Config {
	c.Driver = driver
	return c
}

// WithLogger enables query logging
func (c Config) WithLogger(logger *slog.Logger) Config {
	c.Logger = logger
	c.LogQueries = true
	return c
}

// WithSlowQueryLog logs queries slower than the threshold
func (c Config) WithSlowQueryLog(threshold time.Duration) Config {
	c.LogSlowQueries = threshold
	return c
}

// WithMetrics enables Prometheus metrics
func (c Config) WithMetrics(registry prometheus.Registerer) Config {
	c.MetricsRegistry = registry
	return c
}

// WithTracing enables OpenTelemetry tracing
func (c Config) WithTracing(tracer trace.Tracer) Config {
	c.Tracer = tracer
	return c
}

// WithHooks appends query hooks applied to every opened connection
func (c Config) WithHooks(hooks ...QueryHook) Config {
	c.Hooks = append(c.Hooks, hooks...)
	return c
}

// fileConfig is the YAML shape of a Config. Durations are strings in
// time.ParseDuration format.
type fileConfig struct {
	URL             string `yaml:"url"`
	Driver          string `yaml:"driver"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"sslmode"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime string `yaml:"conn_max_idle_time"`
	DialTimeout     string `yaml:"dial_timeout"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	LogQueries      bool   `yaml:"log_queries"`
	LogSlowQueries  string `yaml:"log_slow_queries"`
}

// LoadConfig reads a Config from a YAML file. Runtime-only fields
// (Logger, MetricsRegistry, Tracer, Hooks) are not loadable and are set
// on the returned value by the caller.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("dbsource: read config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("dbsource: parse config: %w", err)
	}

	cfg := Config{
		URL:          fc.URL,
		Driver:       fc.Driver,
		Host:         fc.Host,
		Port:         fc.Port,
		Database:     fc.Database,
		User:         fc.User,
		Password:     fc.Password,
		SSLMode:      fc.SSLMode,
		MaxOpenConns: fc.MaxOpenConns,
		MaxIdleConns: fc.MaxIdleConns,
		LogQueries:   fc.LogQueries,
	}

	durations := []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"conn_max_lifetime", fc.ConnMaxLifetime, &cfg.ConnMaxLifetime},
		{"conn_max_idle_time", fc.ConnMaxIdleTime, &cfg.ConnMaxIdleTime},
		{"dial_timeout", fc.DialTimeout, &cfg.DialTimeout},
		{"read_timeout", fc.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", fc.WriteTimeout, &cfg.WriteTimeout},
		{"log_slow_queries", fc.LogSlowQueries, &cfg.LogSlowQueries},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return Config{}, fmt.Errorf("dbsource: config field %s: %w", d.field, err)
		}
		*d.dst = parsed
	}

	return cfg, nil
}
