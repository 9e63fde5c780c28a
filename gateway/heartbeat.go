package gateway

import (
	"context"
	"sync"
	"time"
)

// Heartbeater drives the heartbeat of one connection. The first beat fires
// after interval*jitter, then every interval until stopped or beat returns
// false.
type Heartbeater struct {
	beat func(ctx context.Context) bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHeartbeater(beat func(ctx context.Context) bool) *Heartbeater {
	return &Heartbeater{beat: beat}
}

// Start stops any running heartbeat and starts a new one. jitter must be in
// [0, 1).
func (h *Heartbeater) Start(ctx context.Context, interval time.Duration, jitter float64) {
	h.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	h.mu.Lock()
	h.cancel = cancel
	h.done = done
	h.mu.Unlock()

	go h.run(ctx, done, interval, time.Duration(float64(interval)*jitter))
}

// Stop cancels the heartbeat and waits for its goroutine to exit. It must not
// be called from beat.
func (h *Heartbeater) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

// Running reports whether a heartbeat goroutine is active.
func (h *Heartbeater) Running() bool {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()

	if done == nil {
		return false
	}

	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (h *Heartbeater) run(ctx context.Context, done chan struct{}, interval, first time.Duration) {
	defer close(done)

	timer := time.NewTimer(first)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if !h.beat(ctx) {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !h.beat(ctx) {
				return
			}
		}
	}
}
