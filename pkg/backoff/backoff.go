package backoff

import (
	"math/rand/v2"
	"sync"
	"time"
)

const (
	DefaultBase = time.Second
	DefaultCap  = 60 * time.Second

	// Connections that stay up for longer than this reset the attempt counter.
	DefaultStabilityWindow = 60 * time.Second

	// Shifting past this would overflow a time.Duration for any sane base.
	maxShift = 32
)

// Policy computes retry delays. A delay for attempt n is a random value in
// [base, min(cap, base*2^n)]. Policy is safe for concurrent use, although
// each shard and each REST request normally owns its own.
type Policy struct {
	mu sync.Mutex

	base    time.Duration
	maximum time.Duration

	attempt int

	// Random returns a value in [0, 1). Replaced in tests.
	Random func() float64
}

// NewPolicy creates a new backoff policy. Non-positive values fall back to
// DefaultBase and DefaultCap.
func NewPolicy(base, maximum time.Duration) *Policy {
	if base <= 0 {
		base = DefaultBase
	}

	if maximum <= 0 {
		maximum = DefaultCap
	}

	if maximum < base {
		maximum = base
	}

	return &Policy{
		base:    base,
		maximum: maximum,
		Random:  rand.Float64,
	}
}

// Ceiling returns the upper bound of the delay for a given attempt.
func (p *Policy) Ceiling(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	if attempt > maxShift {
		attempt = maxShift
	}

	delay := p.base << uint(attempt)
	if delay <= 0 || delay > p.maximum {
		delay = p.maximum
	}

	return delay
}

// Delay returns the jittered delay for a given attempt without advancing the policy.
func (p *Policy) Delay(attempt int) time.Duration {
	ceiling := p.Ceiling(attempt)

	spread := ceiling - p.base
	if spread <= 0 {
		return p.base
	}

	return p.base + time.Duration(p.Random()*float64(spread+1))
}

// Next returns the delay for the current attempt and advances the counter.
func (p *Policy) Next() time.Duration {
	p.mu.Lock()
	attempt := p.attempt
	p.attempt++
	p.mu.Unlock()

	return p.Delay(attempt)
}

// Attempt returns how many delays have been handed out since the last reset.
func (p *Policy) Attempt() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.attempt
}

// Reset sets the attempt counter back to zero.
func (p *Policy) Reset() {
	p.mu.Lock()
	p.attempt = 0
	p.mu.Unlock()
}
