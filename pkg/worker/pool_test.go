package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rulestream/metric"
)

func TestPool_ProcessesAllWork(t *testing.T) {
	var processed int64
	pool := NewPool(4, 16, func(_ context.Context, _ int) error {
		atomic.AddInt64(&processed, 1)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))

	for i := 0; i < 10; i++ {
		require.NoError(t, pool.SubmitWait(ctx, i))
	}
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, int64(10), atomic.LoadInt64(&processed))

	stats := pool.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Processed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	pool := NewPool(1, 1, func(_ context.Context, _ int) error { return nil })

	assert.ErrorIs(t, pool.Submit(1), ErrPoolNotStarted)
	assert.ErrorIs(t, pool.SubmitWait(context.Background(), 1), ErrPoolNotStarted)
}

func TestPool_SubmitQueueFull(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ int) error {
		<-release
		return nil
	})

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))

	// First item occupies the worker, second fills the queue
	require.NoError(t, pool.Submit(1))
	var queued bool
	for i := 0; i < 50; i++ {
		if err := pool.Submit(2); err == nil {
			queued = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, queued)

	err := pool.Submit(3)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.GreaterOrEqual(t, pool.Stats().Dropped, int64(1))

	close(release)
	require.NoError(t, pool.Stop(time.Second))
}

func TestPool_SubmitWaitBlocksUntilSlotFrees(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ int) error {
		<-release
		return nil
	})

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))

	require.NoError(t, pool.Submit(1))
	// Saturate the queue
	for pool.Submit(2) != nil {
		time.Sleep(time.Millisecond)
	}

	var wg sync.WaitGroup
	var submitErr error
	submitted := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		submitErr = pool.SubmitWait(ctx, 3)
		close(submitted)
	}()

	// The blocking submit must not complete while the pool is saturated
	select {
	case <-submitted:
		t.Fatal("SubmitWait returned while queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	wg.Wait()
	assert.NoError(t, submitErr)

	require.NoError(t, pool.Stop(time.Second))
}

func TestPool_SubmitWaitContextCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	pool := NewPool(1, 1, func(_ context.Context, _ int) error {
		<-release
		return nil
	})

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(1))
	for pool.Submit(2) != nil {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.SubmitWait(ctx, 3)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_FailedWorkCounted(t *testing.T) {
	pool := NewPool(2, 4, func(_ context.Context, n int) error {
		if n%2 == 0 {
			return errors.New("even numbers fail")
		}
		return nil
	})

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	for i := 0; i < 6; i++ {
		require.NoError(t, pool.SubmitWait(ctx, i))
	}
	require.NoError(t, pool.Stop(time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(6), stats.Processed)
	assert.Equal(t, int64(3), stats.Failed)
}

func TestPool_DoubleStartAndStop(t *testing.T) {
	pool := NewPool(1, 1, func(_ context.Context, _ int) error { return nil })

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	assert.ErrorIs(t, pool.Start(ctx), ErrPoolAlreadyStarted)

	require.NoError(t, pool.Stop(time.Second))
	assert.NoError(t, pool.Stop(time.Second)) // idempotent
}

func TestPool_MetricsRegistered(t *testing.T) {
	registry := metric.NewRegistry()
	pool := NewPool(1, 2, func(_ context.Context, _ int) error { return nil },
		WithMetricsRegistry[int](registry, "ingest_pages"))

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	require.NoError(t, pool.SubmitWait(ctx, 1))
	require.NoError(t, pool.Stop(time.Second))

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	assert.True(t, names["ingest_pages_submitted_total"])
	assert.True(t, names["ingest_pages_processed_total"])
}

func TestPool_SubmitWaitReleasedByStop(t *testing.T) {
	block := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ int) error {
		<-block
		return nil
	})

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))

	// One item occupies the worker, one fills the queue
	require.NoError(t, pool.SubmitWait(ctx, 0))
	require.NoError(t, pool.SubmitWait(ctx, 1))

	submitErr := make(chan error, 1)
	go func() {
		submitErr <- pool.SubmitWait(ctx, 2)
	}()

	// Let the submitter block on the full queue, then stop the pool while
	// the worker is still busy so no slot frees up
	time.Sleep(20 * time.Millisecond)
	stopErr := make(chan error, 1)
	go func() {
		stopErr <- pool.Stop(time.Second)
	}()

	select {
	case err := <-submitErr:
		assert.ErrorIs(t, err, ErrPoolStopped)
	case <-time.After(time.Second):
		t.Fatal("SubmitWait still blocked after Stop")
	}

	close(block)
	require.NoError(t, <-stopErr)
}
