package rest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/WelcomerTeam/Sandwich-Transport/pkg/limiter"
	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"
)

// Discord allows 50 requests a second across every route.
const DefaultGlobalRate = 50

// GlobalGate is consulted by every executor before each send. Block pauses
// all executors until the given time after the global limit was hit.
type GlobalGate interface {
	Wait(ctx context.Context) error
	Block(ctx context.Context, until time.Time) error
}

// LocalGlobalGate is a GlobalGate for a single process. Waiters are served in
// order.
type LocalGlobalGate struct {
	queue   limiter.FIFOMutex
	limiter *rate.Limiter

	mu           sync.Mutex
	blockedUntil time.Time
}

// NewLocalGlobalGate creates a gate admitting requestsPerSecond requests a
// second. Zero or less disables the ceiling and only 429 pauses apply.
func NewLocalGlobalGate(requestsPerSecond int) *LocalGlobalGate {
	gate := &LocalGlobalGate{}

	if requestsPerSecond > 0 {
		gate.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}

	return gate
}

func (g *LocalGlobalGate) Wait(ctx context.Context) error {
	if err := g.queue.Lock(ctx); err != nil {
		return err
	}
	defer g.queue.Unlock()

	for {
		if wait := g.blockedFor(time.Now()); wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return err
			}

			continue
		}

		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		if g.blockedFor(time.Now()) <= 0 {
			return nil
		}
	}
}

func (g *LocalGlobalGate) Block(_ context.Context, until time.Time) error {
	g.pause(until)

	return nil
}

// pause extends the current global pause to until.
func (g *LocalGlobalGate) pause(until time.Time) {
	g.mu.Lock()
	if until.After(g.blockedUntil) {
		g.blockedUntil = until
	}
	g.mu.Unlock()
}

// BlockedUntil returns when the current global pause ends.
func (g *LocalGlobalGate) BlockedUntil() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.blockedUntil
}

func (g *LocalGlobalGate) blockedFor(now time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.blockedUntil.Sub(now)
}

// RedisGlobalGate shares global pauses between processes using a key that
// lives for the length of the pause. The requests per second ceiling is
// enforced per process.
type RedisGlobalGate struct {
	client redis.UniversalClient
	local  *LocalGlobalGate
	key    string
}

func NewRedisGlobalGate(client redis.UniversalClient, key string, requestsPerSecond int) *RedisGlobalGate {
	if key == "" {
		key = "sandwich:ratelimit:global"
	}

	return &RedisGlobalGate{
		client: client,
		local:  NewLocalGlobalGate(requestsPerSecond),
		key:    key,
	}
}

func (g *RedisGlobalGate) Wait(ctx context.Context) error {
	if err := g.local.Wait(ctx); err != nil {
		return err
	}

	for {
		wait, err := g.client.PTTL(ctx, g.key).Result()
		if err != nil {
			return fmt.Errorf("failed to check global rate limit: %w", err)
		}

		if wait <= 0 {
			return nil
		}

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Block pauses this process at once and publishes the pause to every other
// process. The local pause holds even when redis is unreachable.
func (g *RedisGlobalGate) Block(ctx context.Context, until time.Time) error {
	g.local.pause(until)

	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}

	current, err := g.client.PTTL(ctx, g.key).Result()
	if err == nil && current >= ttl {
		return nil
	}

	if err := g.client.Set(ctx, g.key, until.UnixMilli(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to set global rate limit: %w", err)
	}

	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
