package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool_RunsJobs(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	p := NewPool(3, 10, PolicyReject, logger)
	p.Start(context.Background())

	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			count.Add(1)
			wg.Done()
		}))
	}
	wg.Wait()
	require.NoError(t, p.Close())

	assert.Equal(t, int32(10), count.Load())
}

func TestPool_RejectWhenFull(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	p := NewPool(1, 1, PolicyReject, logger)
	p.Start(context.Background())
	defer p.Close()

	gate := make(chan struct{})
	running := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		close(running)
		<-gate
	}))
	<-running

	require.NoError(t, p.Submit(context.Background(), func(context.Context) {}))
	assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) {}), ErrQueueFull)

	close(gate)
}

func TestPool_BlockWaitsForContext(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	p := NewPool(1, 1, PolicyBlock, logger)
	p.Start(context.Background())
	defer p.Close()

	gate := make(chan struct{})
	running := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		close(running)
		<-gate
	}))
	<-running
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Submit(ctx, func(context.Context) {}), context.DeadlineExceeded)

	close(gate)
}

func TestPool_SubmitAfterClose(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	p := NewPool(1, 1, PolicyReject, logger)
	p.Start(context.Background())
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) {}), ErrClosed)
}

func TestPool_PanicKeepsWorkerAlive(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	p := NewPool(1, 4, PolicyReject, logger)
	p.Start(context.Background())
	defer p.Close()

	require.NoError(t, p.Submit(context.Background(), func(context.Context) { panic("boom") }))
	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyReject, p)

	p, err = ParsePolicy("block")
	require.NoError(t, err)
	assert.Equal(t, PolicyBlock, p)

	_, err = ParsePolicy("drop")
	assert.Error(t, err)
}
