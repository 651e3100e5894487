package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/rulestream/config"
	"github.com/c360/rulestream/errors"
	"github.com/c360/rulestream/natsclient"
	"github.com/c360/rulestream/types"
)

// Consumer feeds "record ready" messages into the evaluator. Messages are
// acked whether evaluation succeeds or the record is dropped after retries;
// an abandoned record is a logged gap, not a redelivery loop.
type Consumer struct {
	client    *natsclient.Client
	evaluator *Evaluator
	logger    *slog.Logger

	// runCtx outlives the Start call: evaluation runs until Stop, not
	// until the caller's setup deadline
	runCtx    context.Context
	cancelRun context.CancelFunc

	consumeCtx jetstream.ConsumeContext
}

// NewConsumer creates a Consumer feeding the given evaluator
func NewConsumer(client *natsclient.Client, evaluator *Evaluator) *Consumer {
	runCtx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		client:    client,
		evaluator: evaluator,
		logger:    slog.Default().With("component", "rule-engine"),
		runCtx:    runCtx,
		cancelRun: cancel,
	}
}

// Start subscribes to the record-ready channel. The ctx bounds subscription
// setup only.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.client.EnsureConsumer(ctx, config.StreamName, jetstream.ConsumerConfig{
		Durable:       config.ConsumerEngine,
		FilterSubject: config.SubjectRecordReady,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       2 * time.Minute,
	})
	if err != nil {
		return errors.Wrap(err, "Consumer", "Start", "ensure consumer")
	}

	consumeCtx, err := consumer.Consume(c.handleRecord)
	if err != nil {
		return errors.Wrap(err, "Consumer", "Start", "start consuming")
	}

	c.consumeCtx = consumeCtx
	c.logger.Info("Evaluating records", "subject", config.SubjectRecordReady)
	return nil
}

func (c *Consumer) handleRecord(msg jetstream.Msg) {
	var rec types.Record
	if err := json.Unmarshal(msg.Data(), &rec); err != nil {
		c.logger.Error("Dropping malformed record", "error", err)
		msg.Ack()
		return
	}

	// ProcessRecord logs abandonment itself
	_ = c.evaluator.ProcessRecord(c.runCtx, rec)
	msg.Ack()
}

// Stop stops consuming records
func (c *Consumer) Stop(_ time.Duration) error {
	if c.consumeCtx != nil {
		c.consumeCtx.Stop()
		c.consumeCtx = nil
	}
	c.cancelRun()
	return nil
}
