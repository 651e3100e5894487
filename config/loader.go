package config

import (
	"errors"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if RULESTREAM_CONFIG is set
//  3. env (prefix RULESTREAM_)
func Load() (*Config, error) {
	base := New()

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("RULESTREAM_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// Environment variables: RULESTREAM_NATS_URL, RULESTREAM_PAGE_SIZE, ...
	// Map env keys like RULESTREAM_PAGE_SIZE -> page_size (flat keys).
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("RULESTREAM_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "rulestream_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	return &cfg, cfg.Validate()
}

// Validate checks the configuration for usable values
func (c *Config) Validate() error {
	if c.NATSURL == "" {
		return errors.New("nats_url must not be empty")
	}
	if c.PageSize <= 0 {
		return errors.New("page_size must be positive")
	}
	if c.IngestWorkers <= 0 {
		return errors.New("ingest_workers must be positive")
	}
	if c.PublishInterval <= 0 {
		return errors.New("publish_interval must be positive")
	}
	if c.PublishFetchBatch <= 0 {
		return errors.New("publish_fetch_batch must be positive")
	}
	if c.WarehouseTable == "" {
		return errors.New("warehouse_table must not be empty")
	}
	return nil
}
