package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "file_merge", cfg.Queue.Name)
	assert.Equal(t, 2, cfg.Queue.Workers)
	assert.Equal(t, float64(150), cfg.Render.DPI)
	assert.Equal(t, 7*24*time.Hour, cfg.Storage.Retention)
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9001
queue:
  driver: local
  name: merge_custom
  workers: 3
render:
  dpi: 96
storage:
  temp_dir: /var/tmp/merge
  output_dir: /var/lib/merge
  retention: 48h
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("MERGE_WORKERS", "5")
	t.Setenv("DATABASE_URL", "sqlite:/tmp/override.db")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "merge_custom", cfg.Queue.Name)
	assert.Equal(t, 5, cfg.Queue.Workers)
	assert.Equal(t, float64(96), cfg.Render.DPI)
	assert.Equal(t, 48*time.Hour, cfg.Storage.Retention)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/override.db", cfg.DatabaseDSN())
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad db driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }},
		{"bad cache driver", func(c *Config) { c.Cache.Driver = "memcached" }},
		{"bad queue driver", func(c *Config) { c.Queue.Driver = "kafka" }},
		{"empty queue name", func(c *Config) { c.Queue.Name = " " }},
		{"no workers", func(c *Config) { c.Queue.Workers = 0 }},
		{"dpi too low", func(c *Config) { c.Render.DPI = 10 }},
		{"no output dir", func(c *Config) { c.Storage.OutputDir = "" }},
		{"auth without token", func(c *Config) { c.Auth.Enabled = true }},
		{"missing font", func(c *Config) { c.Assembly.FontPath = "/nonexistent/simsun.ttf" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = -1
	cfg.Queue.Workers = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server port")
	assert.Contains(t, err.Error(), "queue workers must be at least 1")
}

func TestLoad_IgnoresUnparseableEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-port")
	t.Setenv("MERGE_RETENTION", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Port, cfg.Server.Port)
	assert.Equal(t, 7*24*time.Hour, cfg.Storage.Retention)
}
