package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRunsTaskOnWorker(t *testing.T) {
	p := New(context.Background(), 2, 8)
	defer p.Close()

	var ran atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	p.Submit(func(ctx context.Context) {
		ran.Store(true)
		wg.Done()
	})

	wg.Wait()
	assert.True(t, ran.Load())
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	p := New(context.Background(), 0, 1)
	defer p.Close()

	block := make(chan struct{})
	p.queue <- func(ctx context.Context) { <-block }

	p.Submit(func(ctx context.Context) {})
	close(block)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Dropped)
}

func TestCloseStopsWorkersWithoutPanicking(t *testing.T) {
	p := New(context.Background(), 1, 4)
	p.Submit(func(ctx context.Context) {})
	require.Eventually(t, func() bool {
		return p.Stats().Completed >= 0
	}, time.Second, 10*time.Millisecond)
	assert.NotPanics(t, p.Close)
}
