package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/WelcomerTeam/Sandwich-Transport/discord"
	"github.com/WelcomerTeam/Sandwich-Transport/sandwichjson"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestLocalIdentifyGateSpacing(t *testing.T) {
	t.Parallel()

	gate := NewLocalIdentifyGate(1, 100*time.Millisecond)
	ctx := context.Background()

	start := time.Now()

	for shardID := int32(0); shardID < 3; shardID++ {
		require.NoError(t, gate.Acquire(ctx, shardID))
	}

	assert.GreaterOrEqual(t, time.Since(start), 190*time.Millisecond, "one identify per window")
	assert.Equal(t, int32(-1), gate.Remaining())
}

func TestLocalIdentifyGateMaxConcurrency(t *testing.T) {
	t.Parallel()

	gate := NewLocalIdentifyGate(1, time.Hour)
	gate.SetSessionStartLimit(discord.SessionStartLimit{MaxConcurrency: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Shards 0 and 1 land in different buckets.
	require.NoError(t, gate.Acquire(ctx, 0))
	require.NoError(t, gate.Acquire(ctx, 1))

	// Shard 2 shares a bucket with shard 0.
	assert.Error(t, gate.Acquire(ctx, 2))
}

func TestLocalIdentifyGateDailyBudget(t *testing.T) {
	t.Parallel()

	gate := NewLocalIdentifyGate(16, time.Millisecond)
	gate.SetSessionStartLimit(discord.SessionStartLimit{
		Total:          1000,
		Remaining:      1,
		ResetAfter:     time.Hour.Milliseconds(),
		MaxConcurrency: 16,
	})

	require.NoError(t, gate.Acquire(context.Background(), 0))
	assert.Equal(t, int32(0), gate.Remaining())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, gate.Acquire(ctx, 1), context.DeadlineExceeded, "waits for the daily reset")
}

func TestLocalIdentifyGateRefundsCancelledStart(t *testing.T) {
	t.Parallel()

	gate := NewLocalIdentifyGate(1, time.Hour)
	gate.SetSessionStartLimit(discord.SessionStartLimit{
		Total:          1000,
		Remaining:      5,
		ResetAfter:     time.Hour.Milliseconds(),
		MaxConcurrency: 1,
	})

	require.NoError(t, gate.Acquire(context.Background(), 0))
	assert.Equal(t, int32(4), gate.Remaining())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// The bucket is still held by shard 0, so this start is never used.
	assert.ErrorIs(t, gate.Acquire(ctx, 1), context.DeadlineExceeded)
	assert.Equal(t, int32(4), gate.Remaining())
}

func TestLocalIdentifyGateCancel(t *testing.T) {
	t.Parallel()

	gate := NewLocalIdentifyGate(1, time.Hour)

	require.NoError(t, gate.Acquire(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)

	go func() { errCh <- gate.Acquire(ctx, 1) }()

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(testTimeout):
		t.Fatal("acquire ignored cancellation")
	}
}

func TestURLIdentifyGate(t *testing.T) {
	t.Parallel()

	type captured struct {
		path    string
		header  string
		payload identifyPayload
	}

	calls := atomic.NewInt32(0)
	requests := make(chan captured, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Inc() == 1 {
			w.Header().Set("X-Retry-After-Ms", "20")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		got := captured{path: r.URL.Path, header: r.Header.Get("Authorization")}
		_ = sandwichjson.UnmarshalReader(r.Body, &got.payload)
		requests <- got

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	gate := NewURLIdentifyGate(server.URL+"/identify/{shard_id}/{shard_count}/{max_concurrency}", "token", map[string]string{"Authorization": "secret"}, 4)
	gate.SetSessionStartLimit(discord.SessionStartLimit{MaxConcurrency: 2})

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	start := time.Now()

	require.NoError(t, gate.Acquire(ctx, 3))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	got := <-requests

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "/identify/3/4/2", got.path)
	assert.Equal(t, "secret", got.header)
	assert.Equal(t, int32(3), got.payload.ShardID)
	assert.Equal(t, int32(4), got.payload.ShardCount)
	assert.Equal(t, tokenHash("token"), got.payload.TokenHash)
}

func TestURLIdentifyGateCancel(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Retry-After-Ms", "60000")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	gate := NewURLIdentifyGate(server.URL, "token", nil, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, gate.Acquire(ctx, 0), context.DeadlineExceeded)
}

func TestRedisIdentifyGate(t *testing.T) {
	address := os.Getenv("SANDWICH_TEST_REDIS_ADDRESS")
	if address == "" {
		t.Skip("SANDWICH_TEST_REDIS_ADDRESS is not set")
	}

	client := redis.NewClient(&redis.Options{Addr: address})
	defer client.Close()

	token := "identify-test-" + time.Now().Format(time.RFC3339Nano)

	first := NewRedisIdentifyGate(client, token, 1, 200*time.Millisecond)
	second := NewRedisIdentifyGate(client, token, 1, 200*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	start := time.Now()

	require.NoError(t, first.Acquire(ctx, 0))
	require.NoError(t, second.Acquire(ctx, 1))

	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond, "processes share the bucket")
}
