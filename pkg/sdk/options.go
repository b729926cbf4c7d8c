package listsync

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	addrs     []string
	password  string
	keyPrefix string

	deadDriver string
	deadDSN    string

	canonicalDSN string

	retryAttempts   int
	retryBackoff    time.Duration
	retryMaxBackoff time.Duration

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// WithRedis sets the Redis instance holding the search index.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithKeyPrefix sets the namespace for index keys. Defaults to "listsync:".
func WithKeyPrefix(prefix string) Option {
	return optionFunc(func(c *clientConfig) {
		c.keyPrefix = prefix
	})
}

// WithDeadLetter sets the dead-letter log database. Driver is "pgx" or "sqlite3".
// Defaults to an SQLite file in the working directory.
func WithDeadLetter(driver, dsn string) Option {
	return optionFunc(func(c *clientConfig) {
		c.deadDriver = driver
		c.deadDSN = dsn
	})
}

// WithCanonical sets the canonical PostgreSQL database read by Reindex.
// Without it Reindex returns an error.
func WithCanonical(dsn string) Option {
	return optionFunc(func(c *clientConfig) {
		c.canonicalDSN = dsn
	})
}

// WithRetry configures retries of transient index failures before dead-lettering.
// Defaults: 3 attempts, 200ms initial backoff, 2s max backoff.
func WithRetry(attempts int, initial, maxBackoff time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.retryAttempts = attempts
		c.retryBackoff = initial
		c.retryMaxBackoff = maxBackoff
	})
}

// WithLogger enables structured logging for client operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers client metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
