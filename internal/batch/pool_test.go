package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taskmcp/tasksvr/internal/correlation"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := NewPool(PoolConfig{CoreWorkers: 2, MaxWorkers: 2, QueueSize: 4})
	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			defer wg.Done()
			ran.Add(1)
		}))
	}
	wg.Wait()
	require.NoError(t, p.Shutdown(context.Background()))
	require.Equal(t, int32(8), ran.Load())
}

func TestPoolCarriesCorrelationID(t *testing.T) {
	p := NewPool(PoolConfig{CoreWorkers: 1, MaxWorkers: 1, QueueSize: 1})
	defer p.Shutdown(context.Background())

	ctx, id := correlation.Ensure(context.Background())
	got := make(chan string, 1)
	require.NoError(t, p.Submit(ctx, func(workerCtx context.Context) {
		got <- correlation.FromContext(workerCtx)
	}))
	select {
	case v := <-got:
		require.Equal(t, id, v)
	case <-time.After(5 * time.Second):
		t.Fatal("task never ran")
	}
}

func TestPoolRejectsWhenSaturated(t *testing.T) {
	p := NewPool(PoolConfig{CoreWorkers: 1, MaxWorkers: 1, QueueSize: 1})
	started := make(chan struct{})
	release := make(chan struct{})
	blocker := func(context.Context) {
		close(started)
		<-release
	}

	require.NoError(t, p.Submit(context.Background(), blocker))
	<-started // worker is now busy

	require.NoError(t, p.Submit(context.Background(), func(context.Context) {})) // fills the queue
	err := p.Submit(context.Background(), func(context.Context) {})
	require.ErrorIs(t, err, ErrQueueFull)

	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPoolSurgeWorkerAbsorbsOverflow(t *testing.T) {
	p := NewPool(PoolConfig{CoreWorkers: 1, MaxWorkers: 2, QueueSize: 1})
	started := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	require.NoError(t, p.Submit(context.Background(), func(context.Context) {})) // queue now full

	// Queue is full but a surge slot is free, so this runs instead of failing.
	surged := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) { close(surged) }))
	select {
	case <-surged:
	case <-time.After(5 * time.Second):
		t.Fatal("surge worker never ran the overflow task")
	}

	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPoolShutdownDrainsQueue(t *testing.T) {
	p := NewPool(PoolConfig{CoreWorkers: 1, MaxWorkers: 1, QueueSize: 8})
	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			time.Sleep(5 * time.Millisecond)
			ran.Add(1)
		}))
	}
	require.NoError(t, p.Shutdown(context.Background()))
	require.Equal(t, int32(5), ran.Load(), "queued tasks finish before shutdown returns")

	require.ErrorIs(t, p.Submit(context.Background(), func(context.Context) {}), ErrPoolClosed)
	require.NoError(t, p.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestPoolShutdownDeadlineCancelsWorkers(t *testing.T) {
	p := NewPool(PoolConfig{CoreWorkers: 1, MaxWorkers: 1, QueueSize: 1})
	cancelled := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, p.Shutdown(ctx))
	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("worker context was never cancelled")
	}
}

func TestPoolSurvivesPanickingTask(t *testing.T) {
	p := NewPool(PoolConfig{CoreWorkers: 1, MaxWorkers: 1, QueueSize: 2})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) { panic("boom") }))

	ran := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) { close(ran) }))
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("worker died with the panicking task")
	}
	require.NoError(t, p.Shutdown(context.Background()))
}
