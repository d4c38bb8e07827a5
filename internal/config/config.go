// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when the corresponding variable is unset or invalid.
const (
	DefaultMetaDBPath             = "duckflow_meta.sqlite"
	DefaultListenAddr             = ":8080"
	DefaultMaxConcurrent          = 5
	DefaultExecutionTimeout       = time.Hour
	DefaultRetryDelay             = 60 * time.Second
	DefaultSchedulerCheckInterval = 60 * time.Second
	DefaultCronMode               = "simple"
	DefaultUploadDirectory        = "uploads"
	DefaultOutputDirectory        = "outputs"
)

// EngineConfig holds execution engine and scheduler tuning.
type EngineConfig struct {
	MaxConcurrentExecutions int           // limiter capacity (default 5)
	ExecutionTimeout        time.Duration // per-execution timeout, 0 disables (default 1h)
	RetryDelay              time.Duration // fixed backoff between step retries (default 60s)
	SchedulerCheckInterval  time.Duration // scheduler tick interval (default 60s)
	CronMode                string        // "simple" or "standard"
}

// Config holds the configuration for the HTTP API, engine, and optional S3 storage.
type Config struct {
	// S3 fields are optional; nil when not configured.
	S3KeyID    *string
	S3Secret   *string
	S3Endpoint *string
	S3Region   *string
	S3Bucket   *string

	MetaDBPath      string // path to SQLite metadata file
	DuckDBPath      string // DuckDB database for step execution ("" = in-memory)
	ListenAddr      string // HTTP listen address (default ":8080")
	LogLevel        string // log level: debug, info, warn, error (default "info")
	Env             string // environment: "development" (default) or "production"
	UploadDirectory string // base directory for relative load paths
	OutputDirectory string // base directory for relative save paths
	JWTSecret       string // HS256 shared secret; empty disables bearer auth

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	Engine EngineConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// HasS3Config returns true if all required S3 fields are set.
func (c *Config) HasS3Config() bool {
	return c.S3KeyID != nil && c.S3Secret != nil &&
		c.S3Endpoint != nil && c.S3Region != nil
}

// AuthEnabled reports whether bearer-token auth guards the API.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

// LoadFromEnv loads configuration from environment variables.
// S3 variables are optional; the app can start without them.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		MetaDBPath:      os.Getenv("META_DB_PATH"),
		DuckDBPath:      os.Getenv("DUCKDB_PATH"),
		ListenAddr:      os.Getenv("LISTEN_ADDR"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		Env:             os.Getenv("ENV"),
		UploadDirectory: os.Getenv("UPLOAD_DIRECTORY"),
		OutputDirectory: os.Getenv("OUTPUT_DIRECTORY"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateLimitRPS = f
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("invalid RATE_LIMIT_RPS %q, using default", v))
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitBurst = n
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("invalid RATE_LIMIT_BURST %q, using default", v))
		}
	}

	// S3 fields are optional, only set if present
	if v := os.Getenv("S3_KEY_ID"); v != "" {
		cfg.S3KeyID = &v
	}
	if v := os.Getenv("S3_SECRET"); v != "" {
		cfg.S3Secret = &v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.S3Endpoint = &v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.S3Region = &v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.S3Bucket = &v
	}

	// Engine
	cfg.Engine = EngineConfig{
		MaxConcurrentExecutions: cfg.intEnv("MAX_CONCURRENT_EXECUTIONS", DefaultMaxConcurrent),
		ExecutionTimeout:        cfg.durationEnv("EXECUTION_TIMEOUT", DefaultExecutionTimeout, true),
		RetryDelay:              cfg.durationEnv("RETRY_DELAY", DefaultRetryDelay, true),
		SchedulerCheckInterval:  cfg.durationEnv("SCHEDULER_CHECK_INTERVAL", DefaultSchedulerCheckInterval, false),
		CronMode:                strings.ToLower(strings.TrimSpace(os.Getenv("CRON_MODE"))),
	}
	switch cfg.Engine.CronMode {
	case "":
		cfg.Engine.CronMode = DefaultCronMode
	case "simple", "standard":
	default:
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("unknown CRON_MODE %q, using %s", cfg.Engine.CronMode, DefaultCronMode))
		cfg.Engine.CronMode = DefaultCronMode
	}

	// Defaults
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = DefaultMetaDBPath
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.UploadDirectory == "" {
		cfg.UploadDirectory = DefaultUploadDirectory
	}
	if cfg.OutputDirectory == "" {
		cfg.OutputDirectory = DefaultOutputDirectory
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if cfg.JWTSecret == "" {
		cfg.Warnings = append(cfg.Warnings, "JWT_SECRET not set, API authentication is disabled")
	}
	if cfg.S3Bucket != nil && !cfg.HasS3Config() {
		cfg.Warnings = append(cfg.Warnings, "S3_BUCKET set without S3_KEY_ID/S3_SECRET/S3_ENDPOINT/S3_REGION, S3 outputs are disabled")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set in production (ENV=production)")
	}

	return cfg, nil
}

func (c *Config) intEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("invalid %s %q, using default %d", key, v, def))
		return def
	}
	return n
}

// durationEnv accepts Go duration syntax ("90s", "1h") or bare seconds ("60").
func (c *Config) durationEnv(key string, def time.Duration, allowZero bool) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := parseDuration(v)
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		c.Warnings = append(c.Warnings, fmt.Sprintf("invalid %s %q, using default %s", key, v, def))
		return def
	}
	return d
}

func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Env vars take precedence over the file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
