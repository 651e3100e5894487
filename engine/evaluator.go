// Package engine evaluates the applicable rules against each record and
// emits one verdict batch per record.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/rulestream/errors"
	"github.com/c360/rulestream/metric"
	"github.com/c360/rulestream/pkg/retry"
	"github.com/c360/rulestream/rule"
	"github.com/c360/rulestream/types"
)

// ConfigSource resolves rule configuration and per-client enabled rules
type ConfigSource interface {
	RuleConfig(ctx context.Context, ruleName string) (types.RuleConfig, error)
	EnabledRules(ctx context.Context, clientID string) ([]string, error)
}

// BatchPublisher forwards one record's verdicts downstream as a single unit
type BatchPublisher interface {
	PublishVerdicts(ctx context.Context, verdicts []types.Verdict) error
}

// Evaluator runs the enabled, applicable rules against records
type Evaluator struct {
	store     ConfigSource
	registry  *rule.Registry
	publisher BatchPublisher
	retryCfg  retry.Config
	logger    *slog.Logger

	// Metrics (nil unless a registry is configured)
	recordsEvaluated prometheus.Counter
	recordsDropped   prometheus.Counter
	verdictsProduced prometheus.Counter
	ruleFailures     prometheus.Counter
}

// Option configures the Evaluator
type Option func(*Evaluator)

// WithRetryConfig overrides the retry policy (used by tests to shrink delays)
func WithRetryConfig(cfg retry.Config) Option {
	return func(e *Evaluator) {
		e.retryCfg = cfg
	}
}

// WithMetricsRegistry registers engine metrics with the given registry
func WithMetricsRegistry(registry *metric.Registry) Option {
	return func(e *Evaluator) {
		e.recordsEvaluated = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_records_evaluated_total",
			Help: "Total records evaluated",
		})
		e.recordsDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_records_dropped_total",
			Help: "Total records dropped after evaluation retries exhausted",
		})
		e.verdictsProduced = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_verdicts_produced_total",
			Help: "Total verdicts produced",
		})
		e.ruleFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_rule_failures_total",
			Help: "Total rule invocations captured as failing verdicts",
		})
		registry.Register("engine", "engine_records_evaluated_total", e.recordsEvaluated)
		registry.Register("engine", "engine_records_dropped_total", e.recordsDropped)
		registry.Register("engine", "engine_verdicts_produced_total", e.verdictsProduced)
		registry.Register("engine", "engine_rule_failures_total", e.ruleFailures)
	}
}

// NewEvaluator creates an Evaluator
func NewEvaluator(store ConfigSource, registry *rule.Registry, publisher BatchPublisher, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:     store,
		registry:  registry,
		publisher: publisher,
		retryCfg:  retry.Fixed(),
		logger:    slog.Default().With("component", "rule-engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessRecord evaluates one record, retrying the whole evaluation on
// top-level failures. After retries exhaust the record is dropped: no
// partial verdict set is emitted for it.
func (e *Evaluator) ProcessRecord(ctx context.Context, rec types.Record) error {
	err := ctx.Err()
	if err == nil {
		err = retry.Do(ctx, e.retryCfg, func() error {
			return e.evaluateAndPublish(ctx, rec)
		})
	}
	if err != nil {
		if e.recordsDropped != nil {
			e.recordsDropped.Inc()
		}
		e.logger.Error("Record evaluation dropped",
			"message_id", rec.MessageID,
			"rpc", rec.RPC,
			"error", err)
		return errors.Wrap(fmt.Errorf("%w: %w", errors.ErrRecordAbandoned, err),
			"Evaluator", "ProcessRecord", fmt.Sprintf("evaluate record %s", rec.RPC))
	}
	return nil
}

// evaluateAndPublish runs one evaluation pass for a record
func (e *Evaluator) evaluateAndPublish(ctx context.Context, rec types.Record) error {
	enabledNames, err := e.store.EnabledRules(ctx, rec.ClientID)
	if err != nil {
		return err
	}

	enabled := e.registry.Select(enabledNames)
	if e.recordsEvaluated != nil {
		e.recordsEvaluated.Inc()
	}
	if len(enabled) == 0 {
		return nil
	}

	// Evaluate rules independently and in parallel. Order across rules is
	// not guaranteed; only the grouping into one batch matters.
	var (
		mu           sync.Mutex
		verdicts     []types.Verdict
		transientErr error
		wg           sync.WaitGroup
	)

	for _, r := range enabled {
		wg.Add(1)
		go func(r rule.Rule) {
			defer wg.Done()

			verdict, skip, err := e.evaluateRule(ctx, r, rec)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if transientErr == nil {
					transientErr = err
				}
				return
			}
			if !skip {
				verdicts = append(verdicts, verdict)
			}
		}(r)
	}
	wg.Wait()

	// A transient failure (config store unreachable) aborts this pass so the
	// top-level retry can run the whole record again.
	if transientErr != nil {
		return transientErr
	}

	if len(verdicts) == 0 {
		return nil
	}

	if err := e.publisher.PublishVerdicts(ctx, verdicts); err != nil {
		return err
	}
	if e.verdictsProduced != nil {
		e.verdictsProduced.Add(float64(len(verdicts)))
	}
	return nil
}

// evaluateRule fetches the rule's config, checks applicability, and applies
// the rule. Rule-internal failures and panics become failing verdicts so
// sibling evaluations are preserved.
func (e *Evaluator) evaluateRule(ctx context.Context, r rule.Rule, rec types.Record) (verdict types.Verdict, skip bool, err error) {
	defer func() {
		if panicked := recover(); panicked != nil {
			verdict = e.failureVerdict(rec, r, fmt.Sprintf("rule panicked: %v", panicked))
			skip, err = false, nil
		}
	}()

	cfg, cfgErr := e.store.RuleConfig(ctx, r.Name())
	if cfgErr != nil {
		if errors.IsTransient(cfgErr) {
			return types.Verdict{}, true, cfgErr
		}
		// Broken or missing configuration fails this rule only
		return e.failureVerdict(rec, r, cfgErr.Error()), false, nil
	}

	if !rule.Applicable(cfg, rec) {
		return types.Verdict{}, true, nil
	}

	verdict, applyErr := r.Apply(rec, cfg)
	if applyErr != nil {
		return e.failureVerdict(rec, r, applyErr.Error()), false, nil
	}
	return verdict, false, nil
}

// failureVerdict captures a rule-internal failure as a failing verdict
func (e *Evaluator) failureVerdict(rec types.Record, r rule.Rule, message string) types.Verdict {
	if e.ruleFailures != nil {
		e.ruleFailures.Inc()
	}
	return rule.NewVerdict(rec, r.Name(), false, message)
}
