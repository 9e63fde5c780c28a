package rest

import (
	"sync"
	"time"
)

// RateLimitBucket is the rate limit state of one route key as last reported
// by the server. Until the first response it is undiscovered and requests
// run one at a time without waiting.
type RateLimitBucket struct {
	mu sync.Mutex

	key        RouteKey
	hash       string
	limit      int
	remaining  int
	resetAt    time.Time
	globalHit  bool
	discovered bool
}

// BucketState is a snapshot of a bucket for diagnostics.
type BucketState struct {
	ResetAt     time.Time `json:"reset_at"`
	Key         RouteKey  `json:"key"`
	Hash        string    `json:"hash,omitempty"`
	Limit       int       `json:"limit"`
	Remaining   int       `json:"remaining"`
	Queued      int       `json:"queued"`
	Discovered  bool      `json:"discovered"`
	IsGlobalHit bool      `json:"is_global_hit"`
	InFlight    bool      `json:"in_flight"`
}

func newRateLimitBucket(key RouteKey) *RateLimitBucket {
	return &RateLimitBucket{key: key}
}

// delay returns how long the next request must wait. A window that has
// passed is refilled.
func (b *RateLimitBucket) delay(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.discovered || b.remaining > 0 {
		return 0
	}

	if now.Before(b.resetAt) {
		return b.resetAt.Sub(now)
	}

	b.remaining = max(b.limit, 1)
	b.globalHit = false

	return 0
}

// take accounts for a request about to be sent.
func (b *RateLimitBucket) take() {
	b.mu.Lock()
	if b.discovered && b.remaining > 0 {
		b.remaining--
	}
	b.mu.Unlock()
}

// update applies the headers of a response.
func (b *RateLimitBucket) update(headers RateLimitHeaders, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.globalHit = false

	if headers.Bucket != "" {
		b.hash = headers.Bucket
	}

	if !headers.HasRemaining {
		return
	}

	b.discovered = true
	b.limit = headers.Limit
	b.remaining = headers.Remaining

	if resetAt := headers.ResetAt(now); !resetAt.IsZero() {
		b.resetAt = resetAt
	}
}

// pause blocks the bucket until the given time after a 429.
func (b *RateLimitBucket) pause(until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.discovered = true
	b.remaining = 0

	if until.After(b.resetAt) {
		b.resetAt = until
	}
}

// markGlobalHit records that the last response of this bucket hit the
// global limit.
func (b *RateLimitBucket) markGlobalHit() {
	b.mu.Lock()
	b.globalHit = true
	b.mu.Unlock()
}

func (b *RateLimitBucket) state() BucketState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BucketState{
		Key:         b.key,
		Hash:        b.hash,
		Limit:       b.limit,
		Remaining:   b.remaining,
		ResetAt:     b.resetAt,
		Discovered:  b.discovered,
		IsGlobalHit: b.globalHit,
	}
}
