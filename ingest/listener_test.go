package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rulestream/config"
	"github.com/c360/rulestream/types"
)

// fakeMsg satisfies jetstream.Msg for the methods the handler touches
type fakeMsg struct {
	jetstream.Msg
	data  []byte
	acked int32
}

func (m *fakeMsg) Data() []byte { return m.data }
func (m *fakeMsg) Ack() error   { atomic.AddInt32(&m.acked, 1); return nil }

// fakeCompletionPublisher records completion signals and ctx liveness
type fakeCompletionPublisher struct {
	mu       sync.Mutex
	subjects []string
	ids      []string
	ctxErrs  []error
}

func (p *fakeCompletionPublisher) PublishToStream(ctx context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.ids = append(p.ids, string(data))
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	return nil
}

func descriptorMsg(t *testing.T, desc types.SourceDescriptor) *fakeMsg {
	t.Helper()
	data, err := json.Marshal(desc)
	require.NoError(t, err)
	return &fakeMsg{data: data}
}

func TestListener_ForwardsBatchAndSignalsCompletion(t *testing.T) {
	src := &fakeSource{rows: 50, failFirst: -1}
	pub := &capturingPublisher{}
	coord := newTestCoordinator(src, pub, 20)
	require.NoError(t, coord.Start(context.Background()))
	defer coord.Stop(time.Second)

	completions := &fakeCompletionPublisher{}
	listener := NewListener(nil, coord, WithCompletionPublisher(completions))

	msg := descriptorMsg(t, types.SourceDescriptor{MessageID: "m7", TableName: "orders", ExpectedRecordCount: 50})
	listener.handleNotification(msg)
	require.NoError(t, listener.Stop(5*time.Second))

	assert.Equal(t, int32(1), atomic.LoadInt32(&msg.acked))
	assert.Len(t, pub.records, 50)
	require.Len(t, completions.ids, 1)
	assert.Equal(t, "m7", completions.ids[0])
	assert.Equal(t, config.SubjectMessageComplete, completions.subjects[0])
	// Completion is published on the listener's own context, live long
	// after any startup deadline
	assert.NoError(t, completions.ctxErrs[0])
}

func TestListener_StopWaitsForInFlightBatch(t *testing.T) {
	// Dispatch is still running when Stop is called: the completion signal
	// must go out before Stop returns
	src := &fakeSource{rows: 100, failFirst: -1}
	pub := &slowPublisher{delay: 2 * time.Millisecond}
	coord := newTestCoordinator(src, pub, 25)
	require.NoError(t, coord.Start(context.Background()))
	defer coord.Stop(time.Second)

	completions := &fakeCompletionPublisher{}
	listener := NewListener(nil, coord, WithCompletionPublisher(completions))

	listener.handleNotification(descriptorMsg(t, types.SourceDescriptor{MessageID: "m8", TableName: "orders"}))
	require.NoError(t, listener.Stop(10*time.Second))

	assert.Equal(t, int64(100), atomic.LoadInt64(&pub.published))
	require.Len(t, completions.ids, 1)
	assert.Equal(t, "m8", completions.ids[0])
}

func TestListener_StampsMissingMessageID(t *testing.T) {
	src := &fakeSource{rows: 1, failFirst: -1}
	pub := &capturingPublisher{}
	coord := newTestCoordinator(src, pub, 10)
	require.NoError(t, coord.Start(context.Background()))
	defer coord.Stop(time.Second)

	completions := &fakeCompletionPublisher{}
	listener := NewListener(nil, coord, WithCompletionPublisher(completions))

	listener.handleNotification(descriptorMsg(t, types.SourceDescriptor{TableName: "orders"}))
	require.NoError(t, listener.Stop(5*time.Second))

	require.Len(t, completions.ids, 1)
	_, err := uuid.Parse(completions.ids[0])
	assert.NoError(t, err)
}

func TestListener_AbandonedBatchPublishesNoCompletion(t *testing.T) {
	// Every fetch attempt fails, so the batch is abandoned and must not
	// be reported complete
	src := &fakeSource{rows: 10, failFirst: 1000}
	pub := &capturingPublisher{}
	coord := newTestCoordinator(src, pub, 10)
	require.NoError(t, coord.Start(context.Background()))
	defer coord.Stop(time.Second)

	completions := &fakeCompletionPublisher{}
	listener := NewListener(nil, coord, WithCompletionPublisher(completions))

	listener.handleNotification(descriptorMsg(t, types.SourceDescriptor{MessageID: "m9", TableName: "orders"}))
	require.NoError(t, listener.Stop(5*time.Second))

	assert.Empty(t, completions.ids)
	assert.Empty(t, pub.records)
}

func TestListener_MalformedDescriptorAcked(t *testing.T) {
	coord := newTestCoordinator(&fakeSource{failFirst: -1}, &capturingPublisher{}, 10)
	listener := NewListener(nil, coord, WithCompletionPublisher(&fakeCompletionPublisher{}))

	msg := &fakeMsg{data: []byte("{not json")}
	listener.handleNotification(msg)

	assert.Equal(t, int32(1), atomic.LoadInt32(&msg.acked))
}
