// Package service wires the pipeline stages together and manages their
// lifecycle: transport setup, database handles, component start order, and
// the metrics endpoint.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/rulestream/aggregate"
	"github.com/c360/rulestream/config"
	"github.com/c360/rulestream/configstore"
	"github.com/c360/rulestream/engine"
	"github.com/c360/rulestream/errors"
	"github.com/c360/rulestream/ingest"
	"github.com/c360/rulestream/metric"
	"github.com/c360/rulestream/natsclient"
	"github.com/c360/rulestream/publish"
	"github.com/c360/rulestream/rule"
	"github.com/c360/rulestream/source"
	"github.com/c360/rulestream/warehouse"
)

// component is one started pipeline stage
type component struct {
	name  string
	start func(ctx context.Context) error
	stop  func(timeout time.Duration) error
}

// Service owns the pipeline's shared resources and component lifecycle
type Service struct {
	cfg     *config.Config
	client  *natsclient.Client
	metrics *metric.Registry
	logger  *slog.Logger

	sourceDB    *sql.DB
	warehouseDB *sql.DB

	components []component
	httpServer *http.Server
	cancelRun  context.CancelFunc
	runDone    chan struct{}
	mu         sync.Mutex
	running    bool
}

// New creates a Service for the given configuration
func New(cfg *config.Config) (*Service, error) {
	client, err := natsclient.NewClient(cfg.NATSURL)
	if err != nil {
		return nil, errors.Wrap(err, "Service", "New", "create transport client")
	}
	return &Service{
		cfg:     cfg,
		client:  client,
		metrics: metric.NewRegistry(),
		logger:  slog.Default().With("component", "service"),
	}, nil
}

// Start connects the transport, prepares storage, and starts every pipeline
// stage in dependency order
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if err := s.client.Connect(ctx); err != nil {
		return errors.Wrap(err, "Service", "Start", "connect transport")
	}

	if _, err := s.client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:     config.StreamName,
		Subjects: []string{"rules.>"},
	}); err != nil {
		return errors.Wrap(err, "Service", "Start", "ensure stream")
	}

	kvBucket, err := s.client.EnsureKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: s.cfg.ConfigBucket,
	})
	if err != nil {
		return errors.Wrap(err, "Service", "Start", "ensure config bucket")
	}

	objectStore, err := s.client.EnsureObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket: s.cfg.ObjectBucket,
	})
	if err != nil {
		return errors.Wrap(err, "Service", "Start", "ensure object bucket")
	}

	if err := os.MkdirAll(s.cfg.ExportDir, 0o755); err != nil {
		return errors.Wrap(err, "Service", "Start", "create export dir")
	}

	s.sourceDB, err = sql.Open("sqlite3", s.cfg.SourceDSN)
	if err != nil {
		return errors.Wrap(err, "Service", "Start", "open source database")
	}

	s.warehouseDB, err = sql.Open("sqlite3", s.cfg.WarehouseDSN)
	if err != nil {
		return errors.Wrap(err, "Service", "Start", "open warehouse database")
	}

	sink, err := warehouse.NewSink(s.warehouseDB, s.cfg.WarehouseTable)
	if err != nil {
		return errors.Wrap(err, "Service", "Start", "create warehouse sink")
	}
	if err := sink.EnsureSchema(ctx); err != nil {
		return errors.Wrap(err, "Service", "Start", "ensure warehouse schema")
	}

	// Ingestion
	reader := source.NewReader(s.sourceDB)
	coordinator := ingest.NewCoordinator(
		reader,
		ingest.NewNATSRecordPublisher(s.client),
		s.cfg.IngestWorkers,
		s.cfg.IngestQueueSize,
		ingest.WithPageSize(s.cfg.PageSize),
		ingest.WithMetricsRegistry(s.metrics),
	)
	listener := ingest.NewListener(s.client, coordinator)

	// Evaluation
	store := configstore.New(s.client.NewKVStore(kvBucket))
	evaluator := engine.NewEvaluator(
		store,
		rule.DefaultRegistry(),
		engine.NewNATSBatchPublisher(s.client),
		engine.WithMetricsRegistry(s.metrics),
	)
	engineConsumer := engine.NewConsumer(s.client, evaluator)

	// Aggregation
	aggregator := aggregate.NewAggregator(s.cfg.ExportDir, aggregate.WithMetricsRegistry(s.metrics))
	aggregateConsumer := aggregate.NewConsumer(s.client, aggregator)

	// Publication
	batchSource := publish.NewJetStreamSource(s.client, s.cfg.PublishFetchBatch)
	publisher := publish.NewPublisher(
		batchSource,
		publish.NewObjectStoreUploader(objectStore),
		sink,
		s.cfg.ExportDir,
		publish.WithInterval(s.cfg.PublishInterval),
		publish.WithMetricsRegistry(s.metrics),
	)

	s.components = []component{
		{name: "ingest-coordinator", start: coordinator.Start, stop: coordinator.Stop},
		{name: "ingest-listener", start: listener.Start, stop: listener.Stop},
		{name: "rule-engine", start: engineConsumer.Start, stop: engineConsumer.Stop},
		{name: "result-aggregator", start: aggregateConsumer.Start, stop: aggregateConsumer.Stop},
		{name: "result-publisher", start: batchSource.Start, stop: nil},
	}

	// Components run until Stop, not until the caller's setup ctx expires
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancelRun = cancel

	for i, c := range s.components {
		if err := c.start(runCtx); err != nil {
			s.stopComponents(i, 10*time.Second)
			cancel()
			return errors.Wrap(err, "Service", "Start", fmt.Sprintf("start %s", c.name))
		}
		s.logger.Info("Component started", "name", c.name)
	}

	s.runDone = make(chan struct{})
	go func() {
		defer close(s.runDone)
		_ = publisher.Run(runCtx)
	}()

	s.httpServer = &http.Server{Addr: s.cfg.MetricsAddr, Handler: s.metrics.Handler()}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()

	s.running = true
	s.logger.Info("Service started", "nats_url", s.cfg.NATSURL, "metrics_addr", s.cfg.MetricsAddr)
	return nil
}

// Stop shuts the pipeline down in reverse start order
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	// Components drain before the shared run context is cancelled
	s.stopComponents(len(s.components), timeout)

	if s.cancelRun != nil {
		s.cancelRun()
		select {
		case <-s.runDone:
		case <-time.After(timeout):
			s.logger.Warn("Publisher did not stop in time")
		}
	}

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}

	if s.sourceDB != nil {
		s.sourceDB.Close()
	}
	if s.warehouseDB != nil {
		s.warehouseDB.Close()
	}

	if err := s.client.Close(context.Background()); err != nil {
		s.logger.Warn("Transport close failed", "error", err)
	}

	s.running = false
	s.logger.Info("Service stopped")
	return nil
}

// stopComponents stops the first n components in reverse order
func (s *Service) stopComponents(n int, timeout time.Duration) {
	for i := n - 1; i >= 0; i-- {
		c := s.components[i]
		if c.stop == nil {
			continue
		}
		if err := c.stop(timeout); err != nil {
			s.logger.Warn("Component stop failed", "name", c.name, "error", err)
		}
	}
}
