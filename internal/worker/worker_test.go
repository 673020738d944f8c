package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkerPool(t *testing.T) {
	pool := NewPool(4)
	assert.Equal(t, 4, pool.NumWorkers())

	// Zero should default to CPU count
	assert.Equal(t, runtime.NumCPU(), NewPool(0).NumWorkers())

	// Negative should default to CPU count
	assert.Equal(t, runtime.NumCPU(), NewPool(-5).NumWorkers())
}

func TestWorkerPoolStartStop(t *testing.T) {
	pool := NewPool(2)
	ctx := context.Background()

	pool.Start(ctx)
	// Double start should be no-op
	pool.Start(ctx)

	pool.Stop()
	// Double stop should be no-op
	pool.Stop()
}

func TestWorkerPoolSubmitBeforeStart(t *testing.T) {
	pool := NewPool(1)
	assert.False(t, pool.Submit(func() {}))
}

func TestWorkerPoolSubmit(t *testing.T) {
	pool := NewPool(2)
	pool.Start(context.Background())
	defer pool.Stop()

	var counter atomic.Int32
	for range 10 {
		require.True(t, pool.Submit(func() {
			counter.Add(1)
		}))
	}

	require.Eventually(t, func() bool {
		return counter.Load() == 10 && pool.Pending() == 0
	}, time.Second, time.Millisecond)

	assert.Equal(t, uint64(10), pool.Completed())
}

func TestWorkerPoolPending(t *testing.T) {
	pool := NewPool(1)
	pool.Start(context.Background())
	defer pool.Stop()

	blocker := make(chan struct{})
	require.True(t, pool.Submit(func() { <-blocker }))
	require.True(t, pool.Submit(func() {}))

	assert.Equal(t, int64(2), pool.Pending())

	close(blocker)
	require.Eventually(t, func() bool { return pool.Pending() == 0 }, time.Second, time.Millisecond)
}

func TestWorkerPoolSubmitAfterStop(t *testing.T) {
	pool := NewPool(2)
	pool.Start(context.Background())
	pool.Stop()

	assert.False(t, pool.Submit(func() {}))
}

func TestWorkerPoolStopDropsQueued(t *testing.T) {
	pool := NewPool(1)
	pool.Start(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	require.True(t, pool.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	var ran atomic.Int32
	for range 5 {
		require.True(t, pool.Submit(func() { ran.Add(1) }))
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	pool.Stop()

	assert.Equal(t, int64(0), pool.Pending())
	assert.LessOrEqual(t, ran.Load(), int32(5))
}

func TestWorkerPoolContextCancel(t *testing.T) {
	pool := NewPool(2)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	cancel()

	assert.False(t, pool.Submit(func() {}))

	pool.Stop()
}

func TestWorkerPoolConcurrentSubmit(t *testing.T) {
	pool := NewPool(4)
	pool.Start(context.Background())
	defer pool.Stop()

	var counter atomic.Int32
	const numGoroutines = 10
	const tasksPerGoroutine = 100

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range tasksPerGoroutine {
				pool.Submit(func() {
					counter.Add(1)
				})
			}
		}()
	}
	wg.Wait()

	expected := int32(numGoroutines * tasksPerGoroutine)
	require.Eventually(t, func() bool { return counter.Load() == expected }, 2*time.Second, time.Millisecond)
}
