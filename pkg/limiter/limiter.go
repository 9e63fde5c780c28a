package limiter

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// FIFOMutex is a mutual exclusion lock that hands ownership to waiters in
// the order they called Lock. Unlike sync.Mutex it can be abandoned through
// a context, which removes the waiter without disturbing the others.
type FIFOMutex struct {
	mu      sync.Mutex
	locked  bool
	waiters list.List
}

// Lock waits until the mutex is owned by the caller or ctx is done.
func (m *FIFOMutex) Lock(ctx context.Context) error {
	m.mu.Lock()

	if !m.locked && m.waiters.Len() == 0 {
		m.locked = true
		m.mu.Unlock()

		return nil
	}

	ready := make(chan struct{})
	element := m.waiters.PushBack(ready)

	m.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		m.mu.Lock()

		select {
		case <-ready:
			// Ownership was handed over while we were giving up, pass it on.
			m.mu.Unlock()
			m.Unlock()
		default:
			m.waiters.Remove(element)
			m.mu.Unlock()
		}

		return ctx.Err()
	}
}

// Unlock releases the mutex, handing it directly to the oldest waiter.
func (m *FIFOMutex) Unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if front := m.waiters.Front(); front != nil {
		m.waiters.Remove(front)
		close(front.Value.(chan struct{}))

		return
	}

	m.locked = false
}

// Waiting returns how many callers are queued behind the current owner.
func (m *FIFOMutex) Waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.waiters.Len()
}

// DurationLimiter allows an operation to run only limit times within any
// rolling window of duration. Waiters are served in FIFO order.
type DurationLimiter struct {
	name string

	queue FIFOMutex

	mu       sync.Mutex
	limit    int32
	duration time.Duration
	// Times of the slots taken within the last duration, oldest first.
	taken []time.Time
}

// NewDurationLimiter creates a DurationLimiter. This is useful for allowing
// a specific operation to run only X amount of times in a duration of Y.
func NewDurationLimiter(name string, limit int32, duration time.Duration) *DurationLimiter {
	return &DurationLimiter{
		name:     name,
		limit:    limit,
		duration: duration,
		taken:    make([]time.Time, 0, max(limit, 0)),
	}
}

// Name returns the name the limiter was created with.
func (l *DurationLimiter) Name() string {
	return l.name
}

// Wait waits until there is an available slot in the limiter.
func (l *DurationLimiter) Wait(ctx context.Context) error {
	if err := l.queue.Lock(ctx); err != nil {
		return err
	}
	defer l.queue.Unlock()

	for {
		wait := l.take(time.Now())
		if wait <= 0 {
			return nil
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

// take consumes a slot, or returns how long until the oldest slot leaves
// the window.
func (l *DurationLimiter) take(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.expire(now)

	if int32(len(l.taken)) >= l.limit {
		if len(l.taken) == 0 {
			return l.duration
		}

		return l.taken[0].Add(l.duration).Sub(now)
	}

	l.taken = append(l.taken, now)

	return 0
}

// expire drops slots taken more than duration before now.
func (l *DurationLimiter) expire(now time.Time) {
	cutoff := now.Add(-l.duration)

	n := 0
	for n < len(l.taken) && !l.taken[n].After(cutoff) {
		n++
	}

	if n > 0 {
		l.taken = append(l.taken[:0], l.taken[n:]...)
	}
}

// Available returns the slots left in the current window.
func (l *DurationLimiter) Available() int32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.expire(time.Now())

	return max(l.limit-int32(len(l.taken)), 0)
}

// Reset forgets every slot taken.
func (l *DurationLimiter) Reset() {
	l.mu.Lock()
	l.taken = l.taken[:0]
	l.mu.Unlock()
}
