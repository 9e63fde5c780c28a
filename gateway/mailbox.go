package gateway

import (
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

// mailbox runs callbacks for one shard in the order they were posted on its
// own goroutine, so a slow consumer never blocks the shard's read loop.
type mailbox struct {
	logger zerolog.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool

	signal chan struct{}
	done   chan struct{}
}

func newMailbox(logger zerolog.Logger) *mailbox {
	mb := &mailbox{
		logger: logger,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	go mb.run()

	return mb
}

func (mb *mailbox) post(f func()) {
	mb.mu.Lock()

	if mb.closed {
		mb.mu.Unlock()

		return
	}

	mb.queue = append(mb.queue, f)
	mb.mu.Unlock()

	select {
	case mb.signal <- struct{}{}:
	default:
	}
}

// close stops accepting callbacks and waits for the queued ones to run.
func (mb *mailbox) close() {
	mb.mu.Lock()
	mb.closed = true
	mb.mu.Unlock()

	select {
	case mb.signal <- struct{}{}:
	default:
	}

	<-mb.done
}

func (mb *mailbox) run() {
	defer close(mb.done)

	for {
		mb.mu.Lock()
		queue := mb.queue
		mb.queue = nil
		closed := mb.closed
		mb.mu.Unlock()

		for _, f := range queue {
			mb.call(f)
		}

		if len(queue) > 0 {
			continue
		}

		if closed {
			return
		}

		<-mb.signal
	}
}

func (mb *mailbox) call(f func()) {
	defer func() {
		if r := recover(); r != nil {
			mb.logger.Error().
				Interface("recovered", r).
				Str("stack", string(debug.Stack())).
				Msg("Recovered panic in shard callback")
		}
	}()

	f()
}
