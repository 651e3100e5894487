package ingest

import (
	"context"
	"encoding/json"

	"github.com/c360/rulestream/config"
	"github.com/c360/rulestream/errors"
	"github.com/c360/rulestream/natsclient"
	"github.com/c360/rulestream/types"
)

// NATSRecordPublisher publishes records to the record-ready subject
type NATSRecordPublisher struct {
	client *natsclient.Client
}

// NewNATSRecordPublisher creates a NATSRecordPublisher
func NewNATSRecordPublisher(client *natsclient.Client) *NATSRecordPublisher {
	return &NATSRecordPublisher{client: client}
}

// PublishRecord publishes one record for evaluation
func (p *NATSRecordPublisher) PublishRecord(ctx context.Context, rec types.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.WrapInvalid(err, "NATSRecordPublisher", "PublishRecord", "marshal record")
	}
	return p.client.PublishToStream(ctx, config.SubjectRecordReady, data)
}
