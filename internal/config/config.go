// Package config loads collector settings from an optional .env file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/Sternrassler/sdsc-collector/pkg/batch"
	"github.com/Sternrassler/sdsc-collector/pkg/client"
	"github.com/Sternrassler/sdsc-collector/pkg/logging"
	"github.com/Sternrassler/sdsc-collector/pkg/pagination"
	"github.com/Sternrassler/sdsc-collector/pkg/snapshot"
	"github.com/Sternrassler/sdsc-collector/pkg/storage"
	"github.com/spf13/viper"
)

// Config stores all configuration for the collector.
//
// REQUEST_TIMEOUT_SECONDS and PAGE_SIZE exist for tests against the mock API
// and for troubleshooting. Production runs keep the upstream-fixed 30s and
// 1000 rows; FixedOverrides reports when they are changed.
type Config struct {
	APIKey                string  `mapstructure:"API_KEY"`
	APIBaseURL            string  `mapstructure:"API_BASE_URL"`
	RequestTimeoutSeconds int     `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	PageSize              int     `mapstructure:"PAGE_SIZE"`
	MaxConcurrency        int     `mapstructure:"MAX_CONCURRENCY"`
	RateLimit             float64 `mapstructure:"RATE_LIMIT"`
	RateBurst             int     `mapstructure:"RATE_BURST"`

	DBType           string `mapstructure:"DB_TYPE"`
	SQLiteDBPath     string `mapstructure:"SQLITE_DB_PATH"`
	PostgresURL      string `mapstructure:"POSTGRES_URL"`
	PostgresHost     string `mapstructure:"POSTGRES_HOST"`
	PostgresPort     string `mapstructure:"POSTGRES_PORT"`
	PostgresDB       string `mapstructure:"POSTGRES_DB"`
	PostgresUser     string `mapstructure:"POSTGRES_USER"`
	PostgresPassword string `mapstructure:"POSTGRES_PASSWORD"`
	TableName        string `mapstructure:"TABLE_NAME"`

	RedisAddr        string `mapstructure:"REDIS_ADDR"`
	RedisPassword    string `mapstructure:"REDIS_PASSWORD"`
	RedisDB          int    `mapstructure:"REDIS_DB"`
	RawCacheTTLHours int    `mapstructure:"RAW_CACHE_TTL_HOURS"`

	SnapshotDir    string `mapstructure:"SNAPSHOT_DIR"`
	MinIOEndpoint  string `mapstructure:"MINIO_ENDPOINT"`
	MinIOAccessKey string `mapstructure:"MINIO_ACCESS_KEY"`
	MinIOSecretKey string `mapstructure:"MINIO_SECRET_KEY"`
	MinIOBucket    string `mapstructure:"MINIO_BUCKET"`
	MinIOPrefix    string `mapstructure:"MINIO_PREFIX"`
	MinIOUseSSL    bool   `mapstructure:"MINIO_USE_SSL"`

	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogPretty   bool   `mapstructure:"LOG_PRETTY"`
	LogFile     string `mapstructure:"LOG_FILE"`
	MetricsAddr string `mapstructure:"METRICS_ADDR"`

	RegionTimeoutSeconds int `mapstructure:"REGION_TIMEOUT_SECONDS"`
	SlowestN             int `mapstructure:"SLOWEST_N"`
}

// defaults lists every key. Keys must be known to viper for AutomaticEnv to
// reach them during Unmarshal, so empty defaults are set too.
var defaults = map[string]any{
	"API_KEY":                 "",
	"API_BASE_URL":            client.DefaultBaseURL,
	"REQUEST_TIMEOUT_SECONDS": 30,
	"PAGE_SIZE":               1000,
	"MAX_CONCURRENCY":         5,
	"RATE_LIMIT":              0,
	"RATE_BURST":              1,

	"DB_TYPE":           storage.DriverSQLite,
	"SQLITE_DB_PATH":    "data/commercial_district.db",
	"POSTGRES_URL":      "",
	"POSTGRES_HOST":     "localhost",
	"POSTGRES_PORT":     "5432",
	"POSTGRES_DB":       "commercial_district",
	"POSTGRES_USER":     "postgres",
	"POSTGRES_PASSWORD": "postgres",
	"TABLE_NAME":        storage.DefaultTable,

	"REDIS_ADDR":          "",
	"REDIS_PASSWORD":      "",
	"REDIS_DB":            0,
	"RAW_CACHE_TTL_HOURS": 0,

	"SNAPSHOT_DIR":     "",
	"MINIO_ENDPOINT":   "",
	"MINIO_ACCESS_KEY": "",
	"MINIO_SECRET_KEY": "",
	"MINIO_BUCKET":     "",
	"MINIO_PREFIX":     "",
	"MINIO_USE_SSL":    false,

	"LOG_LEVEL":    "info",
	"LOG_PRETTY":   false,
	"LOG_FILE":     "",
	"METRICS_ADDR": "",

	"REGION_TIMEOUT_SECONDS": 0,
	"SLOWEST_N":              5,
}

// Load reads configuration from the .env file at path, if it exists, and
// from environment variables, which take precedence. An empty path means ".env".
func Load(path string) (*Config, error) {
	if path == "" {
		path = ".env"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	// The file is optional; configuration can come purely from the environment.
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks settings needed by every run.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("API_KEY is required")
	}
	switch c.DBType {
	case storage.DriverSQLite, "sqlite3", storage.DriverPostgres, "postgres":
	default:
		return fmt.Errorf("DB_TYPE %q: %w", c.DBType, storage.ErrUnknownDriver)
	}
	if c.PageSize < 1 || c.PageSize > 1000 {
		return fmt.Errorf("PAGE_SIZE must be between 1 and 1000, got %d", c.PageSize)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("MAX_CONCURRENCY must be positive, got %d", c.MaxConcurrency)
	}
	return nil
}

// FixedOverrides names the keys set away from the values the upstream API is
// tuned for.
func (c *Config) FixedOverrides() []string {
	var keys []string
	if c.RequestTimeoutSeconds > 0 && time.Duration(c.RequestTimeoutSeconds)*time.Second != client.DefaultConfig("").Timeout {
		keys = append(keys, "REQUEST_TIMEOUT_SECONDS")
	}
	if c.PageSize != pagination.DefaultConfig().PageSize {
		keys = append(keys, "PAGE_SIZE")
	}
	return keys
}

// PostgresDSN returns POSTGRES_URL, or a URL built from the POSTGRES_* parts.
func (c *Config) PostgresDSN() string {
	if c.PostgresURL != "" {
		return c.PostgresURL
	}
	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   net.JoinHostPort(c.PostgresHost, c.PostgresPort),
		Path:   "/" + c.PostgresDB,
	}
	return u.String()
}

// Client returns the API client configuration.
func (c *Config) Client() client.Config {
	cc := client.DefaultConfig(c.APIKey)
	if c.APIBaseURL != "" {
		cc.BaseURL = c.APIBaseURL
	}
	if c.RequestTimeoutSeconds > 0 {
		cc.Timeout = time.Duration(c.RequestTimeoutSeconds) * time.Second
	}
	cc.RateLimit = c.RateLimit
	cc.RateBurst = c.RateBurst
	return cc
}

// Pagination returns the fetch orchestrator configuration.
func (c *Config) Pagination() pagination.Config {
	return pagination.Config{PageSize: c.PageSize, MaxConcurrency: c.MaxConcurrency}
}

// Storage returns the store configuration.
func (c *Config) Storage() storage.Config {
	return storage.Config{
		Driver:      c.DBType,
		SQLitePath:  c.SQLiteDBPath,
		PostgresURL: c.PostgresDSN(),
		Table:       c.TableName,
	}
}

// Batch returns the driver configuration.
func (c *Config) Batch() batch.Config {
	return batch.Config{
		RegionTimeout: time.Duration(c.RegionTimeoutSeconds) * time.Second,
		SlowestN:      c.SlowestN,
	}
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.LogLevel)
	cfg.Pretty = c.LogPretty
	cfg.File = c.LogFile
	return cfg
}

// CacheTTL is the raw cache entry lifetime. Zero keeps entries forever.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.RawCacheTTLHours) * time.Hour
}

// MinIO returns the object storage configuration and whether it is enabled.
func (c *Config) MinIO() (snapshot.MinIOConfig, bool) {
	if c.MinIOEndpoint == "" {
		return snapshot.MinIOConfig{}, false
	}
	return snapshot.MinIOConfig{
		Endpoint:  c.MinIOEndpoint,
		AccessKey: c.MinIOAccessKey,
		SecretKey: c.MinIOSecretKey,
		Bucket:    c.MinIOBucket,
		Prefix:    c.MinIOPrefix,
		UseSSL:    c.MinIOUseSSL,
	}, true
}
