package aggregate

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/rulestream/config"
	"github.com/c360/rulestream/errors"
	"github.com/c360/rulestream/natsclient"
	"github.com/c360/rulestream/types"
)

// Consumer feeds verdict batches and completion notices into the aggregator
type Consumer struct {
	client     *natsclient.Client
	aggregator *Aggregator
	logger     *slog.Logger

	verdictCtx  jetstream.ConsumeContext
	completeCtx jetstream.ConsumeContext
}

// NewConsumer creates a Consumer feeding the given aggregator
func NewConsumer(client *natsclient.Client, aggregator *Aggregator) *Consumer {
	return &Consumer{
		client:     client,
		aggregator: aggregator,
		logger:     slog.Default().With("component", "result-aggregator"),
	}
}

// Start subscribes to verdict batches and message completions
func (c *Consumer) Start(ctx context.Context) error {
	verdictConsumer, err := c.client.EnsureConsumer(ctx, config.StreamName, jetstream.ConsumerConfig{
		Durable:       config.ConsumerAggregator,
		FilterSubject: config.SubjectVerdictBatch,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return errors.Wrap(err, "Consumer", "Start", "ensure verdict consumer")
	}

	completeConsumer, err := c.client.EnsureConsumer(ctx, config.StreamName, jetstream.ConsumerConfig{
		Durable:       config.ConsumerAggregator + "-finalize",
		FilterSubject: config.SubjectMessageComplete,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return errors.Wrap(err, "Consumer", "Start", "ensure completion consumer")
	}

	verdictCtx, err := verdictConsumer.Consume(func(msg jetstream.Msg) {
		var verdicts []types.Verdict
		if err := json.Unmarshal(msg.Data(), &verdicts); err != nil {
			c.logger.Error("Dropping malformed verdict batch", "error", err)
			msg.Ack()
			return
		}
		c.aggregator.AddVerdicts(verdicts)
		msg.Ack()
	})
	if err != nil {
		return errors.Wrap(err, "Consumer", "Start", "start verdict consuming")
	}
	c.verdictCtx = verdictCtx

	completeCtx, err := completeConsumer.Consume(func(msg jetstream.Msg) {
		messageID := strings.TrimSpace(string(msg.Data()))
		if messageID == "" {
			c.logger.Error("Dropping empty completion notice")
			msg.Ack()
			return
		}
		// FinalizeMessage logs its own failures; the notice is spent either way
		_ = c.aggregator.FinalizeMessage(messageID)
		msg.Ack()
	})
	if err != nil {
		verdictCtx.Stop()
		c.verdictCtx = nil
		return errors.Wrap(err, "Consumer", "Start", "start completion consuming")
	}
	c.completeCtx = completeCtx

	c.logger.Info("Aggregating verdicts",
		"verdict_subject", config.SubjectVerdictBatch,
		"complete_subject", config.SubjectMessageComplete)
	return nil
}

// Stop stops both consumers
func (c *Consumer) Stop(_ time.Duration) error {
	if c.verdictCtx != nil {
		c.verdictCtx.Stop()
		c.verdictCtx = nil
	}
	if c.completeCtx != nil {
		c.completeCtx.Stop()
		c.completeCtx = nil
	}
	return nil
}
