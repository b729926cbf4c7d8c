package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Index drivers.
const (
	IndexDriverRedis         = "redis"
	IndexDriverBleve         = "bleve"
	IndexDriverElasticsearch = "elasticsearch"
)

// Change-feed drivers.
const (
	FeedDriverRedis  = "redis"
	FeedDriverMemory = "memory"
)

// Config holds the listsync configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Auth       AuthConfig       `yaml:"auth"`
	Index      IndexConfig      `yaml:"index"`
	Canonical  CanonicalConfig  `yaml:"canonical"`
	DeadLetter DeadLetterConfig `yaml:"deadletter"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
	Sync       SyncConfig       `yaml:"sync"`
	Reindex    ReindexConfig    `yaml:"reindex"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// TokenConfig is one static API token.
type TokenConfig struct {
	Name  string   `yaml:"name"`
	Token string   `yaml:"token"`
	Roles []string `yaml:"roles"`
}

// AuthConfig holds API authentication settings. No tokens disables authentication.
type AuthConfig struct {
	Tokens []TokenConfig `yaml:"tokens"`
	// PublisherRoles may POST /events, in addition to reindex.admin_roles.
	PublisherRoles []string `yaml:"publisher_roles"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
	// AdminRateLimit is the per-IP request budget per minute on /admin routes.
	AdminRateLimit int `yaml:"admin_rate_limit"`
}

// IndexConfig selects and configures the search index provider.
type IndexConfig struct {
	Driver           string   `yaml:"driver"` // redis (default), bleve, elasticsearch
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	// BlevePath is the on-disk index directory; empty keeps the index in memory.
	BlevePath string              `yaml:"bleve_path"`
	Elastic   ElasticsearchConfig `yaml:"elasticsearch"`
}

// ElasticsearchConfig holds Elasticsearch connection settings.
type ElasticsearchConfig struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	Index      string   `yaml:"index"`
	RetryMax   int      `yaml:"retry_max"`
	TimeoutSec int      `yaml:"timeout_sec"`
}

// CanonicalConfig holds the canonical PostgreSQL store settings.
type CanonicalConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

// DeadLetterConfig holds the dead-letter SQL store settings.
type DeadLetterConfig struct {
	Driver string `yaml:"driver"` // pgx, sqlite3 (default)
	DSN    string `yaml:"dsn"`
}

// ConsumerConfig holds change-feed consumer settings.
type ConsumerConfig struct {
	Driver   string `yaml:"driver"` // redis (default), memory
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	Group    string `yaml:"group"`
	Name     string `yaml:"name"`
	Workers  int    `yaml:"workers"`
	BlockMs  int    `yaml:"block_ms"`
	MaxLen   int64  `yaml:"max_len"`
	Buffer   int    `yaml:"buffer"`
}

// SyncConfig holds change handler settings.
type SyncConfig struct {
	RetryAttempts     int  `yaml:"retry_attempts"`
	RetryBackoffMs    int  `yaml:"retry_backoff_ms"`
	RetryMaxBackoffMs int  `yaml:"retry_max_backoff_ms"`
	VersionGuard      bool `yaml:"version_guard"`
	VersionTTLHours   int  `yaml:"version_ttl_hours"`
}

// ReindexConfig holds batch reindex settings.
type ReindexConfig struct {
	PageSize       int      `yaml:"page_size"`
	PageTimeoutSec int      `yaml:"page_timeout_sec"`
	PagesPerSecond float64  `yaml:"pages_per_second"`
	AdminRoles     []string `yaml:"admin_roles"`
	// TimeoutSec bounds a whole run started over HTTP. Zero means no bound.
	TimeoutSec int `yaml:"timeout_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
// A .env file in the working directory, when present, is loaded into the process environment first.
func Load(env string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse expands environment variables in data, decodes it, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// Reindex runs synchronously in the request.
		c.HTTP.WriteTimeoutSec = 900
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.AdminRateLimit <= 0 {
		c.HTTP.AdminRateLimit = 30
	}
	if c.Index.Driver == "" {
		c.Index.Driver = IndexDriverRedis
	}
	if c.Index.KeyPrefix == "" {
		c.Index.KeyPrefix = "listsync:"
	}
	if c.Index.ReadinessTimeout <= 0 {
		c.Index.ReadinessTimeout = 10
	}
	if c.Index.Elastic.Index == "" {
		c.Index.Elastic.Index = "listings"
	}
	if c.Index.Elastic.RetryMax <= 0 {
		c.Index.Elastic.RetryMax = 3
	}
	if c.Index.Elastic.TimeoutSec <= 0 {
		c.Index.Elastic.TimeoutSec = 30
	}
	if c.Canonical.MaxConns <= 0 {
		c.Canonical.MaxConns = 8
	}
	if c.DeadLetter.Driver == "" {
		c.DeadLetter.Driver = "sqlite3"
	}
	if c.DeadLetter.DSN == "" && c.DeadLetter.Driver == "sqlite3" {
		c.DeadLetter.DSN = "file:sync_errors.db?_busy_timeout=5000"
	}
	if c.Consumer.Driver == "" {
		c.Consumer.Driver = FeedDriverRedis
	}
	if c.Consumer.Stream == "" {
		c.Consumer.Stream = "listings:changes"
	}
	if c.Consumer.Group == "" {
		c.Consumer.Group = "listsync"
	}
	if c.Consumer.Name == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			c.Consumer.Name = host
		} else {
			c.Consumer.Name = "listsync"
		}
	}
	if c.Consumer.Workers <= 0 {
		c.Consumer.Workers = 4
	}
	if c.Consumer.BlockMs <= 0 {
		c.Consumer.BlockMs = 5000
	}
	if c.Consumer.Buffer <= 0 {
		c.Consumer.Buffer = 256
	}
	if c.Sync.RetryAttempts <= 0 {
		c.Sync.RetryAttempts = 3
	}
	if c.Sync.RetryBackoffMs <= 0 {
		c.Sync.RetryBackoffMs = 200
	}
	if c.Sync.RetryMaxBackoffMs <= 0 {
		c.Sync.RetryMaxBackoffMs = 2000
	}
	if c.Sync.VersionTTLHours <= 0 {
		c.Sync.VersionTTLHours = 24 * 30
	}
	if c.Reindex.PageSize <= 0 {
		c.Reindex.PageSize = 500
	}
	if c.Reindex.PageTimeoutSec <= 0 {
		c.Reindex.PageTimeoutSec = 30
	}
	if len(c.Reindex.AdminRoles) == 0 {
		c.Reindex.AdminRoles = []string{"admin", "superadmin"}
	}
	if len(c.Auth.PublisherRoles) == 0 {
		c.Auth.PublisherRoles = []string{"publisher"}
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.Index.Driver {
	case IndexDriverRedis:
		if len(c.Index.Addrs) == 0 {
			return fmt.Errorf("index.addrs is required for the redis driver")
		}
	case IndexDriverBleve:
	case IndexDriverElasticsearch:
		if len(c.Index.Elastic.URLs) == 0 {
			return fmt.Errorf("index.elasticsearch.urls is required for the elasticsearch driver")
		}
	default:
		return fmt.Errorf("index.driver must be %q, %q or %q, got %q",
			IndexDriverRedis, IndexDriverBleve, IndexDriverElasticsearch, c.Index.Driver)
	}

	if c.Canonical.DSN == "" {
		return fmt.Errorf("canonical.dsn is required")
	}

	switch c.DeadLetter.Driver {
	case "pgx", "sqlite3":
	default:
		return fmt.Errorf("deadletter.driver must be \"pgx\" or \"sqlite3\", got %q", c.DeadLetter.Driver)
	}
	if c.DeadLetter.DSN == "" {
		return fmt.Errorf("deadletter.dsn is required")
	}

	switch c.Consumer.Driver {
	case FeedDriverRedis:
		if c.Consumer.Addr == "" {
			return fmt.Errorf("consumer.addr is required for the redis driver")
		}
	case FeedDriverMemory:
	default:
		return fmt.Errorf("consumer.driver must be %q or %q, got %q",
			FeedDriverRedis, FeedDriverMemory, c.Consumer.Driver)
	}
	if c.Sync.VersionGuard && c.Consumer.Driver != FeedDriverRedis {
		return fmt.Errorf("sync.version_guard requires the redis consumer driver")
	}

	if c.Sync.RetryMaxBackoffMs < c.Sync.RetryBackoffMs {
		return fmt.Errorf("sync.retry_max_backoff_ms (%d) must not be below sync.retry_backoff_ms (%d)",
			c.Sync.RetryMaxBackoffMs, c.Sync.RetryBackoffMs)
	}
	if c.Reindex.PageSize > 5000 {
		return fmt.Errorf("reindex.page_size must be at most 5000, got %d", c.Reindex.PageSize)
	}
	if c.Reindex.PagesPerSecond < 0 {
		return fmt.Errorf("reindex.pages_per_second must not be negative")
	}
	if c.Reindex.TimeoutSec < 0 {
		return fmt.Errorf("reindex.timeout_sec must not be negative, got %d", c.Reindex.TimeoutSec)
	}

	for i, t := range c.Auth.Tokens {
		if t.Token == "" {
			return fmt.Errorf("auth.tokens[%d].token is required", i)
		}
		if t.Name == "" {
			return fmt.Errorf("auth.tokens[%d].name is required", i)
		}
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
