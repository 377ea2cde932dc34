// Package config provides unified configuration loading for the merge service.
// Supports YAML files, a .env file, and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the merge service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Queue         QueueConfig         `yaml:"queue"`
	Storage       StorageConfig       `yaml:"storage"`
	Render        RenderConfig        `yaml:"render"`
	Assembly      AssemblyConfig      `yaml:"assembly"`
	API           APIConfig           `yaml:"api"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver      string         `yaml:"driver"` // sqlite or postgres
	AutoMigrate bool           `yaml:"auto_migrate"`
	SQLite      SQLiteConfig   `yaml:"sqlite"`
	Postgres    PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds settings for the job snapshot cache and progress pub/sub.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// QueueConfig holds task routing settings.
type QueueConfig struct {
	Driver      string        `yaml:"driver"` // local or redis
	Name        string        `yaml:"name"`
	Workers     int           `yaml:"workers"`
	Size        int           `yaml:"size"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	JobTimeout  time.Duration `yaml:"job_timeout"` // zero disables
}

// StorageConfig holds filesystem locations and retention.
type StorageConfig struct {
	TempDir         string        `yaml:"temp_dir"`
	OutputDir       string        `yaml:"output_dir"`
	Retention       time.Duration `yaml:"retention"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

// RenderConfig holds preview rasterization settings.
type RenderConfig struct {
	DPI     float64 `yaml:"dpi"`
	Workers int     `yaml:"workers"`
}

// AssemblyConfig holds cover/TOC synthesis settings.
type AssemblyConfig struct {
	FontPath    string `yaml:"font_path"` // optional TTF with wider glyph coverage
	PageNumbers bool   `yaml:"page_numbers"`
}

// APIConfig holds settings for the HTTP surface.
type APIConfig struct {
	PreviewURLPrefix string        `yaml:"preview_url_prefix"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:      "sqlite",
			AutoMigrate: true,
			SQLite: SQLiteConfig{
				Path:         "/tmp/psm-merge.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        10 * time.Minute,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
				Prefix:   "psm:",
			},
		},
		Queue: QueueConfig{
			Driver:      "local",
			Name:        "file_merge",
			Workers:     2,
			Size:        64,
			PollTimeout: 5 * time.Second,
		},
		Storage: StorageConfig{
			TempDir:         "/tmp/psm-merge/temp",
			OutputDir:       "/tmp/psm-merge/merged_files",
			Retention:       7 * 24 * time.Hour,
			JanitorInterval: 24 * time.Hour,
		},
		Render: RenderConfig{
			DPI:     150,
			Workers: 4,
		},
		Assembly: AssemblyConfig{
			PageNumbers: true,
		},
		API: APIConfig{
			PreviewURLPrefix: "/api/v1/merge/previews",
			RequestTimeout:   60 * time.Second,
		},
		Auth: AuthConfig{
			Enabled: false,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "psm-merge",
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port >= 1 && c.Server.Port <= 65535, "invalid server port: %d", c.Server.Port)
	check(oneOf(c.Database.Driver, "sqlite", "postgres"), "invalid database driver: %s", c.Database.Driver)
	check(c.Database.Driver != "postgres" || c.Database.Postgres.DSN != "", "postgres driver requires a dsn")
	check(oneOf(c.Cache.Driver, "memory", "redis"), "invalid cache driver: %s", c.Cache.Driver)
	check(oneOf(c.Queue.Driver, "local", "redis"), "invalid queue driver: %s", c.Queue.Driver)
	check(strings.TrimSpace(c.Queue.Name) != "", "queue name is required")
	check(c.Queue.Workers >= 1, "queue workers must be at least 1, got %d", c.Queue.Workers)
	check(c.Render.DPI >= 36 && c.Render.DPI <= 600, "render dpi must be between 36 and 600, got %v", c.Render.DPI)
	check(c.Storage.TempDir != "" && c.Storage.OutputDir != "", "storage temp_dir and output_dir are required")
	check(c.Storage.Retention > 0, "storage retention must be positive")
	check(c.Storage.JanitorInterval > 0, "storage janitor_interval must be positive")
	check(c.API.RequestTimeout > 0, "api request_timeout must be positive")
	check(!c.Auth.Enabled || c.Auth.Token != "", "auth enabled but no token configured")
	check(c.Assembly.FontPath == "" || isFile(c.Assembly.FontPath), "assembly font_path is not a file: %s", c.Assembly.FontPath)

	return errors.Join(errs...)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// DatabaseDSN returns the connection string of the selected driver.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides lets deployments override the file without editing it.
// Unparseable numbers and durations are ignored.
func applyEnvOverrides(cfg *Config) {
	envInt("SERVER_PORT", &cfg.Server.Port)
	envString("SERVER_HOST", &cfg.Server.Host)

	if v := os.Getenv("DATABASE_URL"); v != "" {
		switch {
		case strings.HasPrefix(v, "sqlite:"):
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		case strings.HasPrefix(v, "postgres"):
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	// REDIS_URL moves the snapshot cache to redis; the queue stays local
	// unless MERGE_QUEUE_DRIVER says otherwise.
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	envString("MERGE_QUEUE_DRIVER", &cfg.Queue.Driver)
	envString("MERGE_QUEUE_NAME", &cfg.Queue.Name)
	envInt("MERGE_WORKERS", &cfg.Queue.Workers)
	envString("MERGE_TEMP_DIR", &cfg.Storage.TempDir)
	envString("MERGE_OUTPUT_DIR", &cfg.Storage.OutputDir)
	envDuration("MERGE_RETENTION", &cfg.Storage.Retention)
	envFloat("MERGE_PREVIEW_DPI", &cfg.Render.DPI)
	envString("MERGE_FONT_PATH", &cfg.Assembly.FontPath)
	envString("LOG_LEVEL", &cfg.Observability.LogLevel)
	envString("LOG_FORMAT", &cfg.Observability.LogFormat)

	if v := os.Getenv("MERGE_AUTH_TOKEN"); v != "" {
		cfg.Auth.Enabled = true
		cfg.Auth.Token = v
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		*dst = n
	}
}

func envFloat(key string, dst *float64) {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		*dst = f
	}
}

func envDuration(key string, dst *time.Duration) {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		*dst = d
	}
}
