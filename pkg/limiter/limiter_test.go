package limiter_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/WelcomerTeam/Sandwich-Transport/pkg/limiter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOMutexServesInOrder(t *testing.T) {
	t.Parallel()

	var mutex limiter.FIFOMutex

	require.NoError(t, mutex.Lock(context.Background()))

	var (
		orderMu sync.Mutex
		order   []int
		wg      sync.WaitGroup
	)

	for i := 0; i < 5; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			assert.NoError(t, mutex.Lock(context.Background()))

			orderMu.Lock()
			order = append(order, i)
			orderMu.Unlock()

			mutex.Unlock()
		}(i)

		// Wait for the goroutine to be queued before starting the next.
		require.Eventually(t, func() bool { return mutex.Waiting() == i+1 }, time.Second, time.Millisecond)
	}

	mutex.Unlock()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestFIFOMutexCancelledWaiterIsRemoved(t *testing.T) {
	t.Parallel()

	var mutex limiter.FIFOMutex

	require.NoError(t, mutex.Lock(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)

	go func() {
		errCh <- mutex.Lock(ctx)
	}()

	require.Eventually(t, func() bool { return mutex.Waiting() == 1 }, time.Second, time.Millisecond)

	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, 0, mutex.Waiting())

	mutex.Unlock()

	// The mutex must be free again.
	require.NoError(t, mutex.Lock(context.Background()))
	mutex.Unlock()
}

func TestDurationLimiterBlocksUntilWindowResets(t *testing.T) {
	t.Parallel()

	durationLimiter := limiter.NewDurationLimiter("test", 2, 100*time.Millisecond)

	start := time.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, durationLimiter.Wait(context.Background()))
	}

	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, "test", durationLimiter.Name())
}

func TestDurationLimiterHonoursContext(t *testing.T) {
	t.Parallel()

	durationLimiter := limiter.NewDurationLimiter("test", 1, time.Hour)

	require.NoError(t, durationLimiter.Wait(context.Background()))
	assert.Equal(t, int32(0), durationLimiter.Available())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, durationLimiter.Wait(ctx), context.DeadlineExceeded)

	durationLimiter.Reset()
	assert.Equal(t, int32(1), durationLimiter.Available())
}

func TestDurationLimiterWindowRolls(t *testing.T) {
	t.Parallel()

	durationLimiter := limiter.NewDurationLimiter("test", 2, 100*time.Millisecond)

	start := time.Now()

	require.NoError(t, durationLimiter.Wait(context.Background()))
	time.Sleep(80 * time.Millisecond)
	require.NoError(t, durationLimiter.Wait(context.Background()))

	// The first slot frees at 100ms and the second at 180ms, so two more
	// calls never fit into the first 100ms after a window boundary.
	require.NoError(t, durationLimiter.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 95*time.Millisecond)

	require.NoError(t, durationLimiter.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 175*time.Millisecond)
	assert.Equal(t, int32(0), durationLimiter.Available())
}
