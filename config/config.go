// Package config defines the service configuration and its layered loading:
// defaults, then an optional YAML file, then environment variables.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Transport names shared by the pipeline stages. One stream carries all four
// logical channels.
const (
	StreamName = "RULES"

	SubjectSourceReady     = "rules.source.ready"
	SubjectRecordReady     = "rules.record.ready"
	SubjectVerdictBatch    = "rules.verdict.batch"
	SubjectMessageComplete = "rules.message.complete"

	// Durable consumer names, one per consumer group
	ConsumerEngine     = "rule-engine"
	ConsumerAggregator = "result-aggregator"
	ConsumerPublisher  = "result-publisher"
)

// Config holds all service settings
type Config struct {
	// Transport
	NATSURL string `koanf:"nats_url"`

	// Bulk source
	SourceDSN string `koanf:"source_dsn"`
	PageSize  int    `koanf:"page_size"`

	// Ingestion worker pool
	IngestWorkers   int `koanf:"ingest_workers"`
	IngestQueueSize int `koanf:"ingest_queue_size"`

	// Configuration store
	ConfigBucket string `koanf:"config_bucket"`

	// Aggregation exports
	ExportDir string `koanf:"export_dir"`

	// Publisher
	PublishInterval   time.Duration `koanf:"publish_interval"`
	PublishFetchBatch int           `koanf:"publish_fetch_batch"`
	ObjectBucket      string        `koanf:"object_bucket"`
	WarehouseDSN      string        `koanf:"warehouse_dsn"`
	WarehouseTable    string        `koanf:"warehouse_table"`

	// Observability
	MetricsAddr string `koanf:"metrics_addr"`
}

// New returns the default configuration
func New() *Config {
	return &Config{
		NATSURL:           "nats://127.0.0.1:4222",
		SourceDSN:         "file:rulestream.db",
		PageSize:          1000,
		IngestWorkers:     10,
		IngestQueueSize:   10,
		ConfigBucket:      "rule-config",
		ExportDir:         filepath.Join(os.TempDir(), "rulestream"),
		PublishInterval:   5 * time.Minute,
		PublishFetchBatch: 256,
		ObjectBucket:      "rule-results",
		WarehouseDSN:      "file:warehouse.db",
		WarehouseTable:    "rule_results",
		MetricsAddr:       ":9090",
	}
}
