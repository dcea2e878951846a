package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGovernor(t *testing.T, baseConcurrency int) *Governor {
	g := NewGovernor(GovernorConfig{
		BaseConcurrency: baseConcurrency,
		Mode:            ModeBalanced,
		MaxQueueSize:    10,
	})
	t.Cleanup(g.Close)
	return g
}

func TestGovernor_SubmitRunsTask(t *testing.T) {
	g := newTestGovernor(t, 2)

	var ran int32
	err := g.Submit(context.Background(), DecompressionTask{
		Priority: PriorityNormal,
		Fn: func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestGovernor_SubmitPropagatesTaskError(t *testing.T) {
	g := newTestGovernor(t, 2)

	boom := errors.New("decompress failed")
	var attempts int32
	err := g.Submit(context.Background(), DecompressionTask{
		Fn: func(ctx context.Context) error {
			atomic.AddInt32(&attempts, 1)
			return boom
		},
	})
	assert.ErrorIs(t, err, boom)
	// Initial attempt plus maxRetriesPerTask retries.
	assert.Equal(t, int32(1+maxRetriesPerTask), atomic.LoadInt32(&attempts))
}

func TestGovernor_RetriesThenSucceeds(t *testing.T) {
	g := newTestGovernor(t, 2)

	var attempts int32
	err := g.Submit(context.Background(), DecompressionTask{
		Fn: func(ctx context.Context) error {
			n := atomic.AddInt32(&attempts, 1)
			if n < 2 {
				return errors.New("transient")
			}
			return nil
		},
	})
	assert.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestGovernor_QueueFullRejectsSubmit(t *testing.T) {
	g := NewGovernor(GovernorConfig{
		BaseConcurrency: 1,
		Mode:            ModeConservative,
		MaxQueueSize:    1,
	})
	t.Cleanup(g.Close)

	block := make(chan struct{})
	// Occupy the single worker slot so the next two submissions compete for
	// the one queue slot.
	go g.Submit(context.Background(), DecompressionTask{
		Fn: func(ctx context.Context) error {
			<-block
			return nil
		},
	})
	time.Sleep(20 * time.Millisecond)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- g.Submit(context.Background(), DecompressionTask{
				Fn: func(ctx context.Context) error { return nil },
			})
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(block)

	var sawQueueFull bool
	for i := 0; i < 2; i++ {
		if err := <-results; errors.Is(err, ErrQueueFull) {
			sawQueueFull = true
		}
	}
	assert.True(t, sawQueueFull, "one submission should have been rejected once the queue filled")
}

func TestGovernor_QueueDepthAndConcurrency(t *testing.T) {
	g := newTestGovernor(t, 3)
	assert.GreaterOrEqual(t, g.Concurrency(), 1)
	assert.Equal(t, 0, g.QueueDepth())
}

func TestGovernor_SubmitRespectsContextCancellation(t *testing.T) {
	g := NewGovernor(GovernorConfig{
		BaseConcurrency: 1,
		Mode:            ModeConservative,
		MaxQueueSize:    1,
	})
	t.Cleanup(g.Close)

	block := make(chan struct{})
	defer close(block)
	go g.Submit(context.Background(), DecompressionTask{
		Fn: func(ctx context.Context) error {
			<-block
			return nil
		},
	})
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := g.Submit(ctx, DecompressionTask{
		Fn: func(ctx context.Context) error { return nil },
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
