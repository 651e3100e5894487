// Package aggregate collects per-record verdict batches into per-message
// sessions and exports each finished message as a CSV report.
package aggregate

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/rulestream/errors"
	"github.com/c360/rulestream/export"
	"github.com/c360/rulestream/metric"
	"github.com/c360/rulestream/types"
)

// session holds one message's verdicts grouped by record, in arrival order
type session struct {
	mu       sync.Mutex
	byRecord map[string][]types.Verdict
	order    []string
}

func (s *session) add(v types.Verdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.byRecord[v.RPC]; !seen {
		s.order = append(s.order, v.RPC)
	}
	s.byRecord[v.RPC] = append(s.byRecord[v.RPC], v)
}

// Aggregator accumulates verdicts per message and writes the CSV export
// when the message completes. Safe for any number of concurrent callers;
// contention is per session, not global.
type Aggregator struct {
	exportDir string
	sessions  sync.Map
	logger    *slog.Logger

	// Metrics (nil unless a registry is configured)
	verdictsCollected prometheus.Counter
	exportsWritten    prometheus.Counter
	exportFailures    prometheus.Counter
}

// Option configures the Aggregator
type Option func(*Aggregator)

// WithMetricsRegistry registers aggregation metrics with the given registry
func WithMetricsRegistry(registry *metric.Registry) Option {
	return func(a *Aggregator) {
		a.verdictsCollected = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aggregate_verdicts_collected_total",
			Help: "Total verdicts collected into sessions",
		})
		a.exportsWritten = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aggregate_exports_written_total",
			Help: "Total message CSV exports written",
		})
		a.exportFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aggregate_export_failures_total",
			Help: "Total message CSV exports that failed",
		})
		registry.Register("aggregate", "aggregate_verdicts_collected_total", a.verdictsCollected)
		registry.Register("aggregate", "aggregate_exports_written_total", a.exportsWritten)
		registry.Register("aggregate", "aggregate_export_failures_total", a.exportFailures)
	}
}

// NewAggregator creates an Aggregator exporting into exportDir
func NewAggregator(exportDir string, opts ...Option) *Aggregator {
	a := &Aggregator{
		exportDir: exportDir,
		logger:    slog.Default().With("component", "result-aggregator"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AddVerdicts files each verdict under its message's session
func (a *Aggregator) AddVerdicts(verdicts []types.Verdict) {
	for _, v := range verdicts {
		a.session(v.MessageID).add(v)
	}
	if a.verdictsCollected != nil {
		a.verdictsCollected.Add(float64(len(verdicts)))
	}
}

func (a *Aggregator) session(messageID string) *session {
	if loaded, ok := a.sessions.Load(messageID); ok {
		return loaded.(*session)
	}
	loaded, _ := a.sessions.LoadOrStore(messageID, &session{byRecord: map[string][]types.Verdict{}})
	return loaded.(*session)
}

// FinalizeMessage writes the message's session to rule_results_<messageId>.csv
// and evicts the session. Eviction happens whether or not the export
// succeeds; a failed export is logged and lost, never re-accumulated.
func (a *Aggregator) FinalizeMessage(messageID string) error {
	defer a.sessions.Delete(messageID)

	fileName := fmt.Sprintf("rule_results_%s.csv", messageID)
	path := filepath.Join(a.exportDir, fileName)

	err := a.writeExport(messageID, path)
	if err != nil {
		if a.exportFailures != nil {
			a.exportFailures.Inc()
		}
		a.logger.Error("Export failed", "message_id", messageID, "file", path, "error", err)
		return errors.Wrap(fmt.Errorf("%w: %w", errors.ErrExportFailed, err),
			"Aggregator", "FinalizeMessage", fmt.Sprintf("export message %s", messageID))
	}

	if a.exportsWritten != nil {
		a.exportsWritten.Inc()
	}
	a.logger.Info("Export written", "message_id", messageID, "file", path)
	return nil
}

func (a *Aggregator) writeExport(messageID, path string) error {
	writer, err := export.NewFileWriter(path)
	if err != nil {
		return err
	}

	// An unknown message still produces a header-only file
	if loaded, ok := a.sessions.Load(messageID); ok {
		sess := loaded.(*session)
		sess.mu.Lock()
		defer sess.mu.Unlock()

		// Records marshal in parallel; the writer serializes the rows
		var (
			wg       sync.WaitGroup
			writeErr error
			errOnce  sync.Once
		)
		for _, recordID := range sess.order {
			wg.Add(1)
			go func(verdicts []types.Verdict) {
				defer wg.Done()
				for _, v := range verdicts {
					if err := writer.Write(v); err != nil {
						errOnce.Do(func() { writeErr = err })
						return
					}
				}
			}(sess.byRecord[recordID])
		}
		wg.Wait()
		if writeErr != nil {
			writer.Close()
			return writeErr
		}
	}

	return writer.Close()
}
