package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/rulestream/config"
	"github.com/c360/rulestream/errors"
	"github.com/c360/rulestream/natsclient"
	"github.com/c360/rulestream/types"
)

// JetStreamSource drains the publisher's durable consumer with non-blocking
// fetches. Messages stay unacked until the cycle checkpoints them.
type JetStreamSource struct {
	client     *natsclient.Client
	fetchBatch int
	consumer   jetstream.Consumer
	logger     *slog.Logger
}

// NewJetStreamSource creates a JetStreamSource fetching up to fetchBatch
// messages per fetch
func NewJetStreamSource(client *natsclient.Client, fetchBatch int) *JetStreamSource {
	if fetchBatch <= 0 {
		fetchBatch = 256
	}
	return &JetStreamSource{
		client:     client,
		fetchBatch: fetchBatch,
		logger:     slog.Default().With("component", "result-publisher"),
	}
}

// Start ensures the durable consumer exists
func (s *JetStreamSource) Start(ctx context.Context) error {
	consumer, err := s.client.EnsureConsumer(ctx, config.StreamName, jetstream.ConsumerConfig{
		Durable:       config.ConsumerPublisher,
		FilterSubject: config.SubjectVerdictBatch,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return errors.Wrap(err, "JetStreamSource", "Start", "ensure consumer")
	}
	s.consumer = consumer
	return nil
}

// Drain fetches until the consumer reports no pending messages. Malformed
// batches are acked and dropped so they cannot wedge the cycle.
func (s *JetStreamSource) Drain(ctx context.Context) ([]PendingBatch, error) {
	if s.consumer == nil {
		return nil, errors.WrapFatal(errors.ErrNotStarted, "JetStreamSource", "Drain", "check consumer")
	}

	var pending []PendingBatch
	for {
		fetched, err := s.consumer.FetchNoWait(s.fetchBatch)
		if err != nil {
			return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrPollFailed, err),
				"JetStreamSource", "Drain", "fetch pending batches")
		}

		count := 0
		for msg := range fetched.Messages() {
			count++
			var verdicts []types.Verdict
			if err := json.Unmarshal(msg.Data(), &verdicts); err != nil {
				s.logger.Error("Dropping malformed verdict batch", "error", err)
				msg.Ack()
				continue
			}
			pending = append(pending, PendingBatch{Verdicts: verdicts, Ack: msg.Ack})
		}
		if err := fetched.Error(); err != nil {
			return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrPollFailed, err),
				"JetStreamSource", "Drain", "read fetched batch")
		}
		if count == 0 {
			return pending, nil
		}
	}
}

// ObjectStoreUploader stages batch files in a JetStream object store bucket
type ObjectStoreUploader struct {
	store jetstream.ObjectStore
}

// NewObjectStoreUploader creates an ObjectStoreUploader over the bucket
func NewObjectStoreUploader(store jetstream.ObjectStore) *ObjectStoreUploader {
	return &ObjectStoreUploader{store: store}
}

// Upload stores the file's contents under key
func (u *ObjectStoreUploader) Upload(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return errors.Wrap(err, "ObjectStoreUploader", "Upload", fmt.Sprintf("open %s", filePath))
	}
	defer file.Close()

	_, err = u.store.Put(ctx, jetstream.ObjectMeta{Name: key}, file)
	if err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrUploadFailed, err),
			"ObjectStoreUploader", "Upload", fmt.Sprintf("put object %s", key))
	}
	return nil
}
