package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/WelcomerTeam/Sandwich-Transport/discord"
	"github.com/WelcomerTeam/Sandwich-Transport/pkg/bucketstore"
	"github.com/WelcomerTeam/Sandwich-Transport/pkg/limiter"
)

var (
	StandardIdentifyLimit = 5 * time.Second
	IdentifyRateLimit     = StandardIdentifyLimit + (time.Millisecond * 500)
)

// IdentifyGate hands out identify slots. Acquire blocks until shardID may
// send IDENTIFY. RESUME never goes through the gate.
type IdentifyGate interface {
	Acquire(ctx context.Context, shardID int32) error
}

// SessionStartLimiter is implemented by gates that can be seeded with the
// limits returned from /gateway/bot.
type SessionStartLimiter interface {
	SetSessionStartLimit(limit discord.SessionStartLimit)
}

// LocalIdentifyGate limits identifies within this process. Shards share the
// bucket shard_id % max_concurrency, each admitting one identify per window,
// and all shards share the daily session start budget.
type LocalIdentifyGate struct {
	buckets *bucketstore.BucketStore
	daily   limiter.FIFOMutex

	mu             sync.Mutex
	maxConcurrency int32
	window         time.Duration
	total          int32
	remaining      int32
	resetAt        time.Time
}

func NewLocalIdentifyGate(maxConcurrency int32, window time.Duration) *LocalIdentifyGate {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	if window <= 0 {
		window = IdentifyRateLimit
	}

	return &LocalIdentifyGate{
		buckets:        bucketstore.NewBucketStore(),
		maxConcurrency: maxConcurrency,
		window:         window,
	}
}

// SetSessionStartLimit seeds max concurrency and the daily budget.
func (g *LocalIdentifyGate) SetSessionStartLimit(limit discord.SessionStartLimit) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if limit.MaxConcurrency > 0 {
		g.maxConcurrency = limit.MaxConcurrency
	}

	g.total = limit.Total
	g.remaining = limit.Remaining
	g.resetAt = time.Now().Add(limit.ResetDuration())
}

func (g *LocalIdentifyGate) Acquire(ctx context.Context, shardID int32) error {
	dailyReset, err := g.takeDaily(ctx)
	if err != nil {
		return err
	}

	g.mu.Lock()
	bucket := fmt.Sprintf("identify:%d", shardID%g.maxConcurrency)
	window := g.window
	g.mu.Unlock()

	if err := g.buckets.CreateWaitForBucket(ctx, bucket, 1, window); err != nil {
		g.refundDaily(dailyReset)

		return fmt.Errorf("failed to wait for bucket: %w", err)
	}

	return nil
}

// takeDaily consumes one session start, waiting for the budget to reset
// when it is exhausted. Waiters are served in order. It returns the reset
// time of the budget the start was taken from, zero when unbounded.
func (g *LocalIdentifyGate) takeDaily(ctx context.Context) (time.Time, error) {
	if err := g.daily.Lock(ctx); err != nil {
		return time.Time{}, err
	}
	defer g.daily.Unlock()

	for {
		g.mu.Lock()

		if g.total <= 0 {
			g.mu.Unlock()

			return time.Time{}, nil
		}

		now := time.Now()

		if !now.Before(g.resetAt) {
			g.remaining = g.total
			g.resetAt = now.Add(24 * time.Hour)
		}

		if g.remaining > 0 {
			g.remaining--
			resetAt := g.resetAt
			g.mu.Unlock()

			return resetAt, nil
		}

		wait := g.resetAt.Sub(now)
		g.mu.Unlock()

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()

			return time.Time{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// refundDaily returns a session start that was never used. Starts taken
// from a budget that has since reset are not refunded.
func (g *LocalIdentifyGate) refundDaily(resetAt time.Time) {
	if resetAt.IsZero() {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.total > 0 && g.resetAt.Equal(resetAt) && g.remaining < g.total {
		g.remaining++
	}
}

// Remaining returns the daily session starts left, or -1 when unbounded.
func (g *LocalIdentifyGate) Remaining() int32 {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.total <= 0 {
		return -1
	}

	return g.remaining
}

func tokenHash(token string) string {
	method := sha256.New()
	method.Write([]byte(token))

	return hex.EncodeToString(method.Sum(nil))
}
