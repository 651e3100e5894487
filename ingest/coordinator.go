// Package ingest paginates bulk source tables and fans records out to the
// transport through a bounded worker pool.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/rulestream/errors"
	"github.com/c360/rulestream/metric"
	"github.com/c360/rulestream/pkg/retry"
	"github.com/c360/rulestream/pkg/worker"
	"github.com/c360/rulestream/types"
)

// PageFetcher reads one page of the named source table
type PageFetcher interface {
	FetchPage(ctx context.Context, table string, offset, limit int) ([]types.Record, error)
}

// RecordPublisher forwards one record to the transport
type RecordPublisher interface {
	PublishRecord(ctx context.Context, rec types.Record) error
}

// pageWork is one fetched page queued for dispatch. done signals the
// submitting batch when the page's records have been forwarded.
type pageWork struct {
	messageID string
	records   []types.Record
	done      func()
}

// Coordinator pages a source table and dispatches records downstream
type Coordinator struct {
	fetcher   PageFetcher
	publisher RecordPublisher
	pool      *worker.Pool[pageWork]

	pageSize int
	retryCfg retry.Config
	logger   *slog.Logger

	// Metrics (nil unless a registry is configured)
	pagesFetched     prometheus.Counter
	recordsForwarded prometheus.Counter
	batchesAbandoned prometheus.Counter
}

// Option configures the Coordinator
type Option func(*Coordinator)

// WithPageSize overrides the default page size
func WithPageSize(size int) Option {
	return func(c *Coordinator) {
		if size > 0 {
			c.pageSize = size
		}
	}
}

// WithRetryConfig overrides the retry policy (used by tests to shrink delays)
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Coordinator) {
		c.retryCfg = cfg
	}
}

// WithMetricsRegistry registers ingestion metrics with the given registry
func WithMetricsRegistry(registry *metric.Registry) Option {
	return func(c *Coordinator) {
		c.pagesFetched = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_pages_fetched_total",
			Help: "Total non-empty pages fetched from source tables",
		})
		c.recordsForwarded = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_records_forwarded_total",
			Help: "Total records forwarded to the transport",
		})
		c.batchesAbandoned = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_batches_abandoned_total",
			Help: "Total source batches abandoned after retries exhausted",
		})
		registry.Register("ingest", "ingest_pages_fetched_total", c.pagesFetched)
		registry.Register("ingest", "ingest_records_forwarded_total", c.recordsForwarded)
		registry.Register("ingest", "ingest_batches_abandoned_total", c.batchesAbandoned)
	}
}

// NewCoordinator creates a Coordinator with the given collaborators. Workers
// bounds concurrent page dispatch; queueSize bounds buffered pages beyond
// the in-flight ones.
func NewCoordinator(fetcher PageFetcher, publisher RecordPublisher, workers, queueSize int, opts ...Option) *Coordinator {
	c := &Coordinator{
		fetcher:   fetcher,
		publisher: publisher,
		pageSize:  1000,
		retryCfg:  retry.Fixed(),
		logger:    slog.Default().With("component", "ingest-coordinator"),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.pool = worker.NewPool(workers, queueSize, c.dispatchPage)
	return c
}

// Start starts the dispatch worker pool
func (c *Coordinator) Start(ctx context.Context) error {
	return c.pool.Start(ctx)
}

// Stop stops the dispatch worker pool after in-flight pages drain
func (c *Coordinator) Stop(timeout time.Duration) error {
	return c.pool.Stop(timeout)
}

// ProcessSource paginates the descriptor's table and dispatches every record.
// The whole batch is retried on failure; after retries exhaust the batch is
// abandoned and the error logged. No partial-resume state is kept, so a
// retried batch restarts at offset zero and downstream idempotence absorbs
// the duplicates.
func (c *Coordinator) ProcessSource(ctx context.Context, desc types.SourceDescriptor) error {
	c.logger.Info("Processing source table",
		"message_id", desc.MessageID,
		"table", desc.TableName,
		"expected_records", desc.ExpectedRecordCount)

	err := retry.Do(ctx, c.retryCfg, func() error {
		return c.processTable(ctx, desc)
	})
	if err != nil {
		if c.batchesAbandoned != nil {
			c.batchesAbandoned.Inc()
		}
		c.logger.Error("Source batch abandoned",
			"message_id", desc.MessageID,
			"table", desc.TableName,
			"error", err)
		return errors.Wrap(fmt.Errorf("%w: %w", errors.ErrSourceExhausted, err),
			"Coordinator", "ProcessSource", fmt.Sprintf("process table %s", desc.TableName))
	}
	return nil
}

// processTable runs one pagination pass over the table. It returns only
// after the dispatch workers have forwarded every submitted page, so a
// caller observing success knows all of the batch's records went out.
func (c *Coordinator) processTable(ctx context.Context, desc types.SourceDescriptor) error {
	var inFlight sync.WaitGroup

	offset := 0
	for {
		page, err := retry.DoWithResult(ctx, c.retryCfg, func() ([]types.Record, error) {
			return c.fetcher.FetchPage(ctx, desc.TableName, offset, c.pageSize)
		})
		if err != nil {
			return errors.WrapTransient(err, "Coordinator", "processTable",
				fmt.Sprintf("fetch page at offset %d", offset))
		}

		if len(page) == 0 {
			break
		}
		offset += c.pageSize

		if c.pagesFetched != nil {
			c.pagesFetched.Inc()
		}

		// Blocking submit: ingestion rate tracks downstream capacity
		inFlight.Add(1)
		work := pageWork{messageID: desc.MessageID, records: page, done: inFlight.Done}
		if err := c.pool.SubmitWait(ctx, work); err != nil {
			inFlight.Done()
			return errors.WrapTransient(err, "Coordinator", "processTable", "submit page")
		}
	}

	inFlight.Wait()
	return nil
}

// dispatchPage forwards each record of one page to the transport. A record
// whose publish retries exhaust is logged and skipped; the rest of the page
// still goes out.
func (c *Coordinator) dispatchPage(ctx context.Context, work pageWork) error {
	if work.done != nil {
		defer work.done()
	}

	var lastErr error
	for i := range work.records {
		rec := work.records[i]
		rec.MessageID = work.messageID

		err := retry.Do(ctx, c.retryCfg, func() error {
			return c.publisher.PublishRecord(ctx, rec)
		})
		if err != nil {
			lastErr = err
			c.logger.Error("Record publish abandoned",
				"message_id", rec.MessageID,
				"rpc", rec.RPC,
				"error", err)
			continue
		}
		if c.recordsForwarded != nil {
			c.recordsForwarded.Inc()
		}
	}
	return lastErr
}
