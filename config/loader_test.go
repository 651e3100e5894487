package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("RULESTREAM_CONFIG")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATSURL)
	assert.Equal(t, 1000, cfg.PageSize)
	assert.Equal(t, 10, cfg.IngestWorkers)
	assert.Equal(t, 5*time.Minute, cfg.PublishInterval)
	assert.Equal(t, "rule-config", cfg.ConfigBucket)
	assert.Equal(t, "rule-results", cfg.ObjectBucket)
	assert.Equal(t, "rule_results", cfg.WarehouseTable)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RULESTREAM_NATS_URL", "nats://nats.internal:4222")
	t.Setenv("RULESTREAM_PAGE_SIZE", "500")
	t.Setenv("RULESTREAM_PUBLISH_INTERVAL", "1m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "nats://nats.internal:4222", cfg.NATSURL)
	assert.Equal(t, 500, cfg.PageSize)
	assert.Equal(t, time.Minute, cfg.PublishInterval)
}

func TestLoad_FileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "nats_url: nats://from-file:4222\npage_size: 250\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("RULESTREAM_CONFIG", path)
	t.Setenv("RULESTREAM_NATS_URL", "nats://from-env:4222")

	cfg, err := Load()
	require.NoError(t, err)

	// Env wins over file; file wins over defaults
	assert.Equal(t, "nats://from-env:4222", cfg.NATSURL)
	assert.Equal(t, 250, cfg.PageSize)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty nats url", func(c *Config) { c.NATSURL = "" }},
		{"zero page size", func(c *Config) { c.PageSize = 0 }},
		{"negative workers", func(c *Config) { c.IngestWorkers = -1 }},
		{"zero publish interval", func(c *Config) { c.PublishInterval = 0 }},
		{"zero fetch batch", func(c *Config) { c.PublishFetchBatch = 0 }},
		{"empty warehouse table", func(c *Config) { c.WarehouseTable = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
