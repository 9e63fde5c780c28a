package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/WelcomerTeam/Sandwich-Transport/discord"
	"github.com/WelcomerTeam/Sandwich-Transport/pkg/limiter"
	"github.com/WelcomerTeam/Sandwich-Transport/pkg/syncmap"
	"github.com/go-redis/redis/v8"
)

const redisIdentifyPoll = 50 * time.Millisecond

// RedisIdentifyGate shares identify buckets between processes. A bucket is
// held by setting its key for the length of the window, so any process
// running shards for the same token observes the same quota.
type RedisIdentifyGate struct {
	client redis.UniversalClient
	prefix string

	// Waiters of this process queue locally before competing for the key.
	queues syncmap.Map[string, *limiter.FIFOMutex]

	mu             sync.Mutex
	maxConcurrency int32
	window         time.Duration
}

func NewRedisIdentifyGate(client redis.UniversalClient, token string, maxConcurrency int32, window time.Duration) *RedisIdentifyGate {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	if window <= 0 {
		window = IdentifyRateLimit
	}

	return &RedisIdentifyGate{
		client:         client,
		prefix:         "sandwich:identify:" + tokenHash(token),
		maxConcurrency: maxConcurrency,
		window:         window,
	}
}

func (g *RedisIdentifyGate) SetSessionStartLimit(limit discord.SessionStartLimit) {
	if limit.MaxConcurrency <= 0 {
		return
	}

	g.mu.Lock()
	g.maxConcurrency = limit.MaxConcurrency
	g.mu.Unlock()
}

func (g *RedisIdentifyGate) Acquire(ctx context.Context, shardID int32) error {
	g.mu.Lock()
	key := g.prefix + ":" + strconv.Itoa(int(shardID%g.maxConcurrency))
	window := g.window
	g.mu.Unlock()

	queue, _ := g.queues.LoadOrStore(key, &limiter.FIFOMutex{})

	if err := queue.Lock(ctx); err != nil {
		return err
	}
	defer queue.Unlock()

	for {
		acquired, err := g.client.SetNX(ctx, key, shardID, window).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire identify bucket: %w", err)
		}

		if acquired {
			return nil
		}

		wait, err := g.client.PTTL(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to check identify bucket: %w", err)
		}

		if wait <= 0 {
			wait = redisIdentifyPoll
		}

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		case <-timer.C:
		}
	}
}
