package engine

import (
	"context"
	"encoding/json"

	"github.com/c360/rulestream/config"
	"github.com/c360/rulestream/errors"
	"github.com/c360/rulestream/natsclient"
	"github.com/c360/rulestream/types"
)

// NATSBatchPublisher publishes per-record verdict batches to the stream
type NATSBatchPublisher struct {
	client *natsclient.Client
}

// NewNATSBatchPublisher creates a NATSBatchPublisher
func NewNATSBatchPublisher(client *natsclient.Client) *NATSBatchPublisher {
	return &NATSBatchPublisher{client: client}
}

// PublishVerdicts publishes one record's verdicts as a single message
func (p *NATSBatchPublisher) PublishVerdicts(ctx context.Context, verdicts []types.Verdict) error {
	data, err := json.Marshal(verdicts)
	if err != nil {
		return errors.WrapInvalid(err, "NATSBatchPublisher", "PublishVerdicts", "marshal batch")
	}
	return p.client.PublishToStream(ctx, config.SubjectVerdictBatch, data)
}
