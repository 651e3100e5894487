// Package publish drains accumulated verdicts on a schedule, stages them as
// a CSV object, and merges them into the warehouse. Drained messages are
// acked only after the merge commits, so a failed cycle redelivers the same
// verdicts and the keyed merge absorbs the replay.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/rulestream/errors"
	"github.com/c360/rulestream/export"
	"github.com/c360/rulestream/metric"
	"github.com/c360/rulestream/pkg/retry"
	"github.com/c360/rulestream/types"
)

// PendingBatch is one drained verdict batch with its acknowledgement handle
type PendingBatch struct {
	Verdicts []types.Verdict
	Ack      func() error
}

// BatchSource drains every pending verdict batch
type BatchSource interface {
	Drain(ctx context.Context) ([]PendingBatch, error)
}

// Uploader stages a local file under the given object key
type Uploader interface {
	Upload(ctx context.Context, key, filePath string) error
}

// Merger merges verdicts into the warehouse
type Merger interface {
	Merge(ctx context.Context, verdicts []types.Verdict) error
}

// Publisher runs the scheduled publication cycle
type Publisher struct {
	source   BatchSource
	uploader Uploader
	merger   Merger

	exportDir string
	interval  time.Duration
	retryCfg  retry.Config
	now       func() time.Time
	logger    *slog.Logger

	// Metrics (nil unless a registry is configured)
	cyclesRun        prometheus.Counter
	cyclesFailed     prometheus.Counter
	verdictsMerged   prometheus.Counter
	batchesPublished prometheus.Counter
}

// Option configures the Publisher
type Option func(*Publisher)

// WithInterval overrides the cycle interval
func WithInterval(interval time.Duration) Option {
	return func(p *Publisher) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithRetryConfig overrides the retry policy (used by tests to shrink delays)
func WithRetryConfig(cfg retry.Config) Option {
	return func(p *Publisher) {
		p.retryCfg = cfg
	}
}

// WithClock overrides the clock used for batch file names
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

// WithMetricsRegistry registers publication metrics with the given registry
func WithMetricsRegistry(registry *metric.Registry) Option {
	return func(p *Publisher) {
		p.cyclesRun = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "publish_cycles_run_total",
			Help: "Total publication cycles run",
		})
		p.cyclesFailed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "publish_cycles_failed_total",
			Help: "Total publication cycles abandoned",
		})
		p.verdictsMerged = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "publish_verdicts_merged_total",
			Help: "Total verdicts merged into the warehouse",
		})
		p.batchesPublished = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "publish_batches_published_total",
			Help: "Total staged batch files published",
		})
		registry.Register("publish", "publish_cycles_run_total", p.cyclesRun)
		registry.Register("publish", "publish_cycles_failed_total", p.cyclesFailed)
		registry.Register("publish", "publish_verdicts_merged_total", p.verdictsMerged)
		registry.Register("publish", "publish_batches_published_total", p.batchesPublished)
	}
}

// NewPublisher creates a Publisher with the given collaborators
func NewPublisher(source BatchSource, uploader Uploader, merger Merger, exportDir string, opts ...Option) *Publisher {
	p := &Publisher{
		source:    source,
		uploader:  uploader,
		merger:    merger,
		exportDir: exportDir,
		interval:  5 * time.Minute,
		retryCfg:  retry.Fixed(),
		now:       time.Now,
		logger:    slog.Default().With("component", "result-publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run drives publication cycles until the context is cancelled. Cycle
// failures are logged and the loop keeps going; the unacked verdicts come
// back in the next cycle.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("Publishing on interval", "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.PublishCycle(ctx); err != nil {
				p.logger.Error("Publication cycle failed", "error", err)
			}
		}
	}
}

// PublishCycle drains pending verdicts, stages them, merges them, and acks.
// Any failure abandons the cycle without acking.
func (p *Publisher) PublishCycle(ctx context.Context) error {
	if p.cyclesRun != nil {
		p.cyclesRun.Inc()
	}

	err := p.publishOnce(ctx)
	if err != nil {
		if p.cyclesFailed != nil {
			p.cyclesFailed.Inc()
		}
		return errors.Wrap(err, "Publisher", "PublishCycle", "publish pending verdicts")
	}
	return nil
}

func (p *Publisher) publishOnce(ctx context.Context) error {
	batches, err := p.source.Drain(ctx)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		p.logger.Debug("Nothing to publish")
		return nil
	}

	var verdicts []types.Verdict
	for _, b := range batches {
		verdicts = append(verdicts, b.Verdicts...)
	}

	fileName := fmt.Sprintf("rule_results_%s.csv", p.now().Format("2006-01-02T15:04:05"))
	path := filepath.Join(p.exportDir, fileName)
	if err := p.writeBatchFile(path, verdicts); err != nil {
		return err
	}

	key := "rule-results/" + fileName
	err = retry.Do(ctx, p.retryCfg, func() error {
		return p.uploader.Upload(ctx, key, path)
	})
	if err != nil {
		return errors.Wrap(err, "Publisher", "publishOnce", fmt.Sprintf("upload %s", key))
	}

	// Local file is only a staging artifact once the upload lands
	if err := os.Remove(path); err != nil {
		p.logger.Warn("Staged file not removed", "file", path, "error", err)
	}

	err = retry.Do(ctx, p.retryCfg, func() error {
		return p.merger.Merge(ctx, verdicts)
	})
	if err != nil {
		return errors.Wrap(err, "Publisher", "publishOnce", "merge into warehouse")
	}

	// Checkpoint: the batch is durable in the warehouse, spend the messages
	for _, b := range batches {
		if err := b.Ack(); err != nil {
			p.logger.Warn("Ack failed, batch will redeliver", "error", err)
		}
	}

	if p.verdictsMerged != nil {
		p.verdictsMerged.Add(float64(len(verdicts)))
	}
	if p.batchesPublished != nil {
		p.batchesPublished.Inc()
	}
	p.logger.Info("Batch published", "object_key", key, "verdicts", len(verdicts))
	return nil
}

func (p *Publisher) writeBatchFile(path string, verdicts []types.Verdict) error {
	writer, err := export.NewFileWriter(path)
	if err != nil {
		return err
	}
	for _, v := range verdicts {
		if err := writer.Write(v); err != nil {
			writer.Close()
			os.Remove(path)
			return err
		}
	}
	return writer.Close()
}
