package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
)

// Transport modes selectable via MCP_TRANSPORT.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportBoth  = "both"
)

// Audit sanitisation strategies.
const (
	SanitiseTruncate = "TRUNCATE"
	SanitiseMask     = "MASK"
)

// APIKeyEntry is one configured API key. Key is compared in constant time and
// never logged; only a short digest of it may appear in logs.
type APIKeyEntry struct {
	Name        string
	Key         string
	Description string
}

// UnmarshalText parses "name:key" or "name:key:description".
func (e *APIKeyEntry) UnmarshalText(text []byte) error {
	parts := strings.SplitN(string(text), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("API key entry %q: want name:key[:description]", string(text))
	}
	e.Name, e.Key = parts[0], parts[1]
	if len(parts) == 3 {
		e.Description = parts[2]
	}
	return nil
}

// ToolLimit is a per-tool rate-limit override.
type ToolLimit struct {
	Tool          string
	Capacity      int
	RefillTokens  int
	RefillSeconds int
}

// UnmarshalText parses "tool=capacity:tokens:seconds".
func (t *ToolLimit) UnmarshalText(text []byte) error {
	name, spec, ok := strings.Cut(string(text), "=")
	if !ok || name == "" {
		return fmt.Errorf("rate-limit override %q: want tool=capacity:tokens:seconds", string(text))
	}
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return fmt.Errorf("rate-limit override %q: want tool=capacity:tokens:seconds", string(text))
	}
	vals := [3]int{}
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("rate-limit override %q: %q is not an integer", string(text), p)
		}
		vals[i] = v
	}
	t.Tool, t.Capacity, t.RefillTokens, t.RefillSeconds = name, vals[0], vals[1], vals[2]
	return nil
}

type Config struct {
	Transport string `env:"MCP_TRANSPORT" envDefault:"stdio"`
	LogLevel  string `env:"MCP_LOG_LEVEL" envDefault:"info"`

	HTTPPort           int           `env:"MCP_HTTP_PORT" envDefault:"8070"`
	APIKey             string        `env:"MCP_API_KEY"`
	APIKeys            []APIKeyEntry `env:"MCP_HTTP_API_KEYS" envSeparator:","`
	AuthDisabled       bool          `env:"MCP_HTTP_AUTH_DISABLED"`
	CORSEnabled        bool          `env:"MCP_HTTP_CORS_ENABLED"`
	CORSAllowedOrigins []string      `env:"MCP_HTTP_CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	SSEHeartbeatIntervalSeconds int `env:"MCP_HTTP_SSE_HEARTBEAT_INTERVAL_SECONDS" envDefault:"30"`
	SSEConnectionTimeoutMinutes int `env:"MCP_HTTP_SSE_CONNECTION_TIMEOUT_MINUTES" envDefault:"5"`
	SSEMaxConnections           int `env:"MCP_HTTP_SSE_MAX_CONNECTIONS" envDefault:"100"`

	RateLimitCapacity     int         `env:"MCP_RATE_LIMIT_CAPACITY" envDefault:"100"`
	RateLimitRefillTokens int         `env:"MCP_RATE_LIMIT_REFILL_TOKENS" envDefault:"100"`
	RateLimitRefillSecs   int         `env:"MCP_RATE_LIMIT_REFILL_SECONDS" envDefault:"60"`
	RateLimitTools        []ToolLimit `env:"MCP_RATE_LIMIT_TOOLS" envSeparator:","`

	BatchCorePoolSize       int `env:"MCP_ASYNC_BATCH_CORE_POOL_SIZE" envDefault:"2"`
	BatchMaxPoolSize        int `env:"MCP_ASYNC_BATCH_MAX_POOL_SIZE" envDefault:"4"`
	BatchQueueCapacity      int `env:"MCP_ASYNC_BATCH_QUEUE_CAPACITY" envDefault:"10"`
	BatchTerminationSeconds int `env:"MCP_ASYNC_BATCH_TERMINATION_SECONDS" envDefault:"30"`

	AuditEnabled            bool     `env:"MCP_AUDIT_ENABLED" envDefault:"true"`
	AuditCategories         []string `env:"MCP_AUDIT_CATEGORIES" envSeparator:","`
	AuditSensitiveMaxLength int      `env:"MCP_AUDIT_SENSITIVE_MAX_LENGTH" envDefault:"100"`
	AuditSensitiveStrategy  string   `env:"MCP_AUDIT_SENSITIVE_STRATEGY" envDefault:"TRUNCATE"`
	AuditFile               string   `env:"MCP_AUDIT_FILE" envDefault:"logs/audit.log"`
	AuditFileMaxSizeMB      int      `env:"MCP_AUDIT_FILE_MAX_SIZE_MB" envDefault:"100"`
	AuditFileMaxAgeDays     int      `env:"MCP_AUDIT_FILE_MAX_AGE_DAYS" envDefault:"30"`
	AuditFileMaxBackups     int      `env:"MCP_AUDIT_FILE_MAX_BACKUPS" envDefault:"30"`

	ResourceMaxTasks int `env:"MCP_RESOURCE_MAX_TASKS" envDefault:"1000"`

	DBHost     string `env:"DB_HOST"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBName     string `env:"DB_NAME" envDefault:"tasks"`
	DBUser     string `env:"DB_USER" envDefault:"tasks"`
	DBPassword string `env:"DB_PASSWORD"`
}

// StdioEnabled reports whether the STDIO transport must run.
func (c *Config) StdioEnabled() bool { return c.Transport == TransportStdio || c.Transport == TransportBoth }

// HTTPEnabled reports whether the HTTP transport must run.
func (c *Config) HTTPEnabled() bool { return c.Transport == TransportHTTP || c.Transport == TransportBoth }

// Keys merges the single-key and list-form variables into one key list.
func (c *Config) Keys() []APIKeyEntry {
	keys := make([]APIKeyEntry, 0, len(c.APIKeys)+1)
	if c.APIKey != "" {
		keys = append(keys, APIKeyEntry{Name: "default", Key: c.APIKey})
	}
	return append(keys, c.APIKeys...)
}

// Level converts MCP_LOG_LEVEL into a slog level.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// UsePostgres reports whether the PostgreSQL store is selected; an unset
// DB_HOST keeps everything in memory.
func (c *Config) UsePostgres() bool { return c.DBHost != "" }

// DSN builds the PostgreSQL connection string from the DB_* variables.
func (c *Config) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     c.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func (c *Config) validate() error {
	switch c.Transport {
	case TransportStdio, TransportHTTP, TransportBoth:
	default:
		return fmt.Errorf("MCP_TRANSPORT %q: must be stdio, http, or both", c.Transport)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("MCP_LOG_LEVEL %q: must be debug, info, warn, or error", c.LogLevel)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("MCP_HTTP_PORT %d: out of range", c.HTTPPort)
	}
	if c.HTTPEnabled() && !c.AuthDisabled && len(c.Keys()) == 0 {
		return errors.New("HTTP transport requires at least one API key (MCP_API_KEY or MCP_HTTP_API_KEYS) unless MCP_HTTP_AUTH_DISABLED=true")
	}
	if c.SSEHeartbeatIntervalSeconds < 1 || c.SSEConnectionTimeoutMinutes < 1 || c.SSEMaxConnections < 1 {
		return errors.New("SSE heartbeat interval, connection timeout, and max connections must all be positive")
	}
	if c.RateLimitCapacity < 1 || c.RateLimitRefillTokens < 1 || c.RateLimitRefillSecs < 1 {
		return errors.New("rate-limit capacity, refill tokens, and refill seconds must all be positive")
	}
	for _, tl := range c.RateLimitTools {
		if tl.Capacity < 1 || tl.RefillTokens < 1 || tl.RefillSeconds < 1 {
			return fmt.Errorf("rate-limit override for tool %q: capacity, tokens, and seconds must all be positive", tl.Tool)
		}
	}
	if c.BatchCorePoolSize < 1 {
		return errors.New("MCP_ASYNC_BATCH_CORE_POOL_SIZE must be positive")
	}
	if c.BatchMaxPoolSize < c.BatchCorePoolSize {
		return fmt.Errorf("MCP_ASYNC_BATCH_MAX_POOL_SIZE %d: must be >= core pool size %d", c.BatchMaxPoolSize, c.BatchCorePoolSize)
	}
	if c.BatchQueueCapacity < 1 {
		return errors.New("MCP_ASYNC_BATCH_QUEUE_CAPACITY must be positive")
	}
	if c.BatchTerminationSeconds < 0 {
		return errors.New("MCP_ASYNC_BATCH_TERMINATION_SECONDS must not be negative")
	}
	if c.AuditSensitiveStrategy != SanitiseTruncate && c.AuditSensitiveStrategy != SanitiseMask {
		return fmt.Errorf("MCP_AUDIT_SENSITIVE_STRATEGY %q: must be TRUNCATE or MASK", c.AuditSensitiveStrategy)
	}
	if c.AuditSensitiveMaxLength < 1 {
		return errors.New("MCP_AUDIT_SENSITIVE_MAX_LENGTH must be positive")
	}
	if c.ResourceMaxTasks < 1 {
		return errors.New("MCP_RESOURCE_MAX_TASKS must be positive")
	}
	return nil
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get returns the process-wide configuration, exiting on the first error so
// a misconfigured server never half-starts.
var Get = sync.OnceValue(func() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	return cfg
})
