package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/rulestream/config"
	"github.com/c360/rulestream/errors"
	"github.com/c360/rulestream/natsclient"
	"github.com/c360/rulestream/pkg/retry"
	"github.com/c360/rulestream/types"
)

// CompletionPublisher publishes batch-completion signals to the stream
type CompletionPublisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// Listener consumes "source ready" notifications and hands each descriptor
// to the coordinator. Descriptors are acked on receipt: an abandoned batch
// is not resumed, so redelivering the notification would not help.
type Listener struct {
	client      *natsclient.Client
	publisher   CompletionPublisher
	coordinator *Coordinator
	logger      *slog.Logger

	// runCtx outlives the Start call: batch processing runs until Stop,
	// not until the caller's setup deadline
	runCtx    context.Context
	cancelRun context.CancelFunc
	inFlight  sync.WaitGroup

	consumeCtx jetstream.ConsumeContext
}

// ListenerOption configures optional Listener behavior
type ListenerOption func(*Listener)

// WithCompletionPublisher overrides the stream publisher used for
// batch-completion signals
func WithCompletionPublisher(p CompletionPublisher) ListenerOption {
	return func(l *Listener) { l.publisher = p }
}

// NewListener creates a Listener feeding the given coordinator
func NewListener(client *natsclient.Client, coordinator *Coordinator, opts ...ListenerOption) *Listener {
	runCtx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		client:      client,
		publisher:   client,
		coordinator: coordinator,
		logger:      slog.Default().With("component", "ingest-listener"),
		runCtx:      runCtx,
		cancelRun:   cancel,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start subscribes to the source-ready channel. The ctx bounds subscription
// setup only.
func (l *Listener) Start(ctx context.Context) error {
	consumer, err := l.client.EnsureConsumer(ctx, config.StreamName, jetstream.ConsumerConfig{
		Durable:       "ingest-coordinator",
		FilterSubject: config.SubjectSourceReady,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return errors.Wrap(err, "Listener", "Start", "ensure consumer")
	}

	consumeCtx, err := consumer.Consume(l.handleNotification)
	if err != nil {
		return errors.Wrap(err, "Listener", "Start", "start consuming")
	}

	l.consumeCtx = consumeCtx
	l.logger.Info("Listening for source notifications", "subject", config.SubjectSourceReady)
	return nil
}

func (l *Listener) handleNotification(msg jetstream.Msg) {
	var desc types.SourceDescriptor
	if err := json.Unmarshal(msg.Data(), &desc); err != nil {
		l.logger.Error("Dropping malformed source descriptor", "error", err)
		msg.Ack()
		return
	}
	if desc.MessageID == "" {
		desc.MessageID = uuid.NewString()
	}
	msg.Ack()

	l.inFlight.Add(1)
	go func() {
		defer l.inFlight.Done()
		// ProcessSource logs abandonment itself. An abandoned batch does
		// not complete, so its session never finalizes.
		if err := l.coordinator.ProcessSource(l.runCtx, desc); err != nil {
			return
		}
		l.publishCompletion(l.runCtx, desc.MessageID)
	}()
}

// publishCompletion signals that every record of the message has been
// forwarded, so the aggregator can finalize the message's session
func (l *Listener) publishCompletion(ctx context.Context, messageID string) {
	err := retry.Do(ctx, retry.Fixed(), func() error {
		return l.publisher.PublishToStream(ctx, config.SubjectMessageComplete, []byte(messageID))
	})
	if err != nil {
		l.logger.Error("Completion publish abandoned", "message_id", messageID, "error", err)
		return
	}
	l.logger.Info("Source batch complete", "message_id", messageID)
}

// Stop stops consuming notifications and waits for in-flight batches up to
// the timeout
func (l *Listener) Stop(timeout time.Duration) error {
	if l.consumeCtx != nil {
		l.consumeCtx.Stop()
		l.consumeCtx = nil
	}

	done := make(chan struct{})
	go func() {
		l.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		l.logger.Warn("In-flight batches did not finish before shutdown")
	}

	l.cancelRun()
	return nil
}
