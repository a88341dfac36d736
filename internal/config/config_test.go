package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 10*time.Second, cfg.Ingest.Timeout)
	assert.Equal(t, int64(1<<20), cfg.Ingest.MaxBodyBytes)
	assert.Equal(t, 5, cfg.Ingest.RetryAttempts)
	assert.Equal(t, 5*time.Millisecond, cfg.Ingest.RetryBaseDelay)
	assert.InDelta(t, 0.5, cfg.Ingest.RetryJitter, 0.001)
	assert.Equal(t, "IT", cfg.Phone.DefaultCountry)
	assert.Equal(t, "new_lead", cfg.Deal.DefaultStage)
	assert.Equal(t, 5, cfg.Breaker.Threshold)
	assert.Equal(t, 10*time.Second, cfg.Breaker.Cooldown)
	assert.Empty(t, cfg.NATS.URL)
	assert.Equal(t, "crm", cfg.NATS.SubjectPrefix)
	assert.Equal(t, 4, cfg.Import.Concurrency)

	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: leads.db
log:
  level: debug
  format: console
server:
  port: 9090
ingest:
  timeout: 3s
phone:
  default_country: FR
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "leads.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Ingest.Timeout)
	assert.Equal(t, "FR", cfg.Phone.DefaultCountry)
	// Defaults still apply for unset values
	assert.Equal(t, "new_lead", cfg.Deal.DefaultStage)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("LEADS_STORE_DRIVER", "postgres")
	t.Setenv("LEADS_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("LEADS_SERVER_PORT", "3000")
	t.Setenv("LEADS_NATS_URL", "nats://localhost:4222")
	t.Setenv("LEADS_BREAKER_COOLDOWN", "1m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, time.Minute, cfg.Breaker.Cooldown)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.ErrorContains(t, err, "config: read file")
}

func TestValidate(t *testing.T) {
	chdirTemp(t)

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, "Driver"},
		{"missing database url", func(c *Config) { c.Store.DatabaseURL = "" }, "DatabaseURL"},
		{"min above max conns", func(c *Config) { c.Store.MinConns = 20 }, "MinConns"},
		{"port out of range", func(c *Config) { c.Server.Port = 0 }, "Port"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "Format"},
		{"zero timeout", func(c *Config) { c.Ingest.Timeout = 0 }, "Timeout"},
		{"jitter above one", func(c *Config) { c.Ingest.RetryJitter = 1.5 }, "RetryJitter"},
		{"country not two letters", func(c *Config) { c.Phone.DefaultCountry = "ITA" }, "DefaultCountry"},
		{"empty default stage", func(c *Config) { c.Deal.DefaultStage = "" }, "DefaultStage"},
		{"zero import concurrency", func(c *Config) { c.Import.Concurrency = 0 }, "Concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
