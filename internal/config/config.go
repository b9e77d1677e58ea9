// Package config contains everything related to configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// BackendConfig selects the storage backends. It is resolved once at start.
type BackendConfig struct {
	// PrimaryDSN is the PostgreSQL connection string. Empty skips the primary.
	PrimaryDSN      string
	FallbackPath    string
	MaxConns        int32
	ConnectTimeout  time.Duration
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

// Thresholds are the alerting limits. They may be overridden from a YAML file.
type Thresholds struct {
	WarningPct        float64       `yaml:"warning_pct"`
	CriticalPct       float64       `yaml:"critical_pct"`
	HighRate          float64       `yaml:"high_rate"`
	ExhaustionHorizon time.Duration `yaml:"exhaustion_horizon"`
	Cooldown          time.Duration `yaml:"cooldown"`
}

// Config holds the application configuration.
type Config struct {
	Backend BackendConfig

	TokenQuota   int64
	QuotaWindow  time.Duration
	CostPerToken float64
	Thresholds   Thresholds

	CollectionInterval time.Duration
	PredictionInterval time.Duration
	HistoryHours       int
	CollectOnStart     bool
	RetentionDays      int

	UsageSourceURL        string
	UsageSourceFile       string
	UsageTokensPath       string
	UsageRequestsPath     string
	UsageSourceCumulative bool

	MetricsAddr   string
	LogLevel      string
	LogFile       string
	NotifyDesktop bool
}

// Default values
const (
	defaultTokenQuota         = 1_000_000
	defaultQuotaWindow        = 24 * time.Hour
	defaultCostPerToken       = 0.000002
	defaultWarningPct         = 80
	defaultCriticalPct        = 95
	defaultHighRate           = 100_000
	defaultExhaustionHorizon  = 24 * time.Hour
	defaultCollectionInterval = 60 * time.Second
	defaultPredictionInterval = time.Hour
	defaultHistoryHours       = 24
	defaultRetentionDays      = 30
	defaultMaxConns           = 10
	defaultConnectTimeout     = 10 * time.Second
	defaultConnectAttempts    = 1
	defaultConnectBackoff     = time.Second
	defaultTokensPath         = "tokens_used"
	defaultRequestsPath       = "requests_made"
)

// History window bounds in hours.
const (
	MinHistoryHours = 24
	MaxHistoryHours = 168
)

// Load reads configuration from .env files and environment variables.
func Load() (*Config, error) {
	// Try loading .env from multiple locations
	envPaths := getEnvPaths()
	for _, path := range envPaths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			break
		}
	}

	cfg := &Config{
		Backend: BackendConfig{
			PrimaryDSN:      getEnvString("DATABASE_URL", ""),
			FallbackPath:    getEnvString("FALLBACK_DB_PATH", getDefaultDatabasePath()),
			MaxConns:        int32(getEnvInt("DB_MAX_CONNS", defaultMaxConns)),
			ConnectTimeout:  getEnvDuration("DB_CONNECT_TIMEOUT", defaultConnectTimeout),
			ConnectAttempts: getEnvInt("DB_CONNECT_ATTEMPTS", defaultConnectAttempts),
			ConnectBackoff:  getEnvDuration("DB_CONNECT_BACKOFF", defaultConnectBackoff),
		},
		TokenQuota:   int64(getEnvInt("TOKEN_QUOTA", defaultTokenQuota)),
		QuotaWindow:  getEnvDuration("QUOTA_WINDOW", defaultQuotaWindow),
		CostPerToken: getEnvFloat("COST_PER_TOKEN", defaultCostPerToken),
		Thresholds: Thresholds{
			WarningPct:        getEnvFloat("WARNING_THRESHOLD_PCT", defaultWarningPct),
			CriticalPct:       getEnvFloat("CRITICAL_THRESHOLD_PCT", defaultCriticalPct),
			HighRate:          getEnvFloat("HIGH_RATE_THRESHOLD", defaultHighRate),
			ExhaustionHorizon: getEnvDuration("EXHAUSTION_HORIZON", defaultExhaustionHorizon),
			Cooldown:          getEnvDuration("ALERT_COOLDOWN", 0),
		},
		CollectionInterval:    getEnvDuration("COLLECTION_INTERVAL", defaultCollectionInterval),
		PredictionInterval:    getEnvDuration("PREDICTION_INTERVAL", defaultPredictionInterval),
		HistoryHours:          getEnvInt("HISTORY_HOURS", defaultHistoryHours),
		CollectOnStart:        getEnvBool("COLLECT_ON_START", true),
		RetentionDays:         getEnvInt("RETENTION_DAYS", defaultRetentionDays),
		UsageSourceURL:        getEnvString("USAGE_SOURCE_URL", ""),
		UsageSourceFile:       getEnvString("USAGE_SOURCE_FILE", ""),
		UsageTokensPath:       getEnvString("USAGE_TOKENS_PATH", defaultTokensPath),
		UsageRequestsPath:     getEnvString("USAGE_REQUESTS_PATH", defaultRequestsPath),
		UsageSourceCumulative: getEnvBool("USAGE_SOURCE_CUMULATIVE", false),
		MetricsAddr:           getEnvString("METRICS_ADDR", ""),
		LogLevel:              getEnvString("LOG_LEVEL", "info"),
		LogFile:               getEnvString("LOG_FILE", ""),
		NotifyDesktop:         getEnvBool("NOTIFY_DESKTOP", false),
	}

	if path := getEnvString("THRESHOLDS_FILE", ""); path != "" {
		if err := cfg.LoadThresholds(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure database directory exists
	if err := ensureDir(filepath.Dir(cfg.Backend.FallbackPath)); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadThresholds overlays the thresholds found in a YAML file. Keys absent
// from the file keep their current values.
func (c *Config) LoadThresholds(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read thresholds file: %w", err)
	}
	if err := yaml.Unmarshal(data, &c.Thresholds); err != nil {
		return fmt.Errorf("failed to parse thresholds file: %w", err)
	}
	return nil
}

// Validate checks the configuration for values the monitor cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.TokenQuota <= 0 {
		errs = append(errs, fmt.Errorf("TOKEN_QUOTA must be positive, got %d", c.TokenQuota))
	}
	if c.Thresholds.WarningPct <= 0 || c.Thresholds.WarningPct > 100 {
		errs = append(errs, fmt.Errorf("warning threshold must be in (0, 100], got %v", c.Thresholds.WarningPct))
	}
	if c.Thresholds.CriticalPct < c.Thresholds.WarningPct || c.Thresholds.CriticalPct > 100 {
		errs = append(errs, fmt.Errorf("critical threshold must be in [warning, 100], got %v", c.Thresholds.CriticalPct))
	}
	if c.CollectionInterval <= 0 || c.PredictionInterval <= 0 {
		errs = append(errs, errors.New("collection and prediction intervals must be positive"))
	}
	if c.HistoryHours < MinHistoryHours || c.HistoryHours > MaxHistoryHours {
		errs = append(errs, fmt.Errorf("HISTORY_HOURS must be between %d and %d, got %d",
			MinHistoryHours, MaxHistoryHours, c.HistoryHours))
	}
	if c.CostPerToken < 0 {
		errs = append(errs, fmt.Errorf("COST_PER_TOKEN must not be negative, got %v", c.CostPerToken))
	}
	return errors.Join(errs...)
}

// getEnvPaths returns a list of paths to check for .env files.
func getEnvPaths() []string {
	var paths []string

	// Current directory
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}

	// Home directory locations
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "tokenwatch", ".env"),
			filepath.Join(home, ".tokenwatch", ".env"),
		)
	}

	// Parent directory (useful for development)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(cwd), ".env"))
	}

	return paths
}

// getDefaultDatabasePath returns the default path for the SQLite fallback.
func getDefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "usage.db"
	}
	return filepath.Join(home, ".config", "tokenwatch", "usage.db")
}

// getEnvString retrieves a string environment variable or returns the default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns the default.
// Underscore separators ("1_000_000") are accepted.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 0, 64); err == nil {
			return int(n)
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns the default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns the default.
// Accepts values like "30s", "1m", "500ms".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		// Try parsing as seconds if no unit specified
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

// ensureDir creates a directory and all parent directories if they don't exist.
func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return os.MkdirAll(path, 0o750)
}
