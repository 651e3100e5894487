// Package rulestream implements an event-driven pipeline that evaluates
// configurable business rules against bulk product records and delivers the
// verdicts to an analytical warehouse.
//
// # Architecture
//
// The pipeline has four stages connected through NATS JetStream subjects:
//
//	source table -> ingest -> rules.record.ready -> engine -> rules.verdict.batch
//	                                                   |
//	                              aggregate (per-message CSV export)
//	                              publish   (interval warehouse load)
//
// The ingest stage pages a relational source table and fans records out to a
// bounded worker pool. The engine evaluates the client's enabled, applicable
// rules against each record in parallel and emits one verdict batch per
// record. The aggregator groups verdicts per message and writes a CSV export
// when the message completes. The publisher drains pending verdict batches on
// a fixed interval, stages a CSV file in the object store, merges it into the
// warehouse, and only then acknowledges consumption.
//
// Delivery is at-least-once end to end; the warehouse merge is keyed by
// (report date, rpc, rule name) so redelivery is idempotent.
//
// Rule configuration lives in a JetStream KeyValue bucket and is re-read on
// every evaluation, so configuration changes take effect without restarts.
package rulestream
