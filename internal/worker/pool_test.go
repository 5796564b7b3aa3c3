package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPoolRunsEveryFiring(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	firings := make(chan string)

	var mu sync.Mutex
	seen := map[string]int{}

	StartPool(ctx, &wg, 3, firings, func(_ context.Context, id string) {
		mu.Lock()
		seen[id]++
		mu.Unlock()
	}, zaptest.NewLogger(t))

	for _, id := range []string{"a", "b", "c", "d"} {
		firings <- id
	}
	close(firings)
	wg.Wait()

	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1, "d": 1}, seen)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	firings := make(chan string)

	var running, peak atomic.Int32
	release := make(chan struct{})

	StartPool(ctx, &wg, 2, firings, func(context.Context, string) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
	}, zaptest.NewLogger(t))

	go func() {
		for _, id := range []string{"a", "b", "c", "d"} {
			firings <- id
		}
		close(firings)
	}()

	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(2), peak.Load())
}

func TestPoolStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	StartPool(ctx, &wg, 4, make(chan string), func(context.Context, string) {}, zaptest.NewLogger(t))

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not stop after cancel")
	}
}
