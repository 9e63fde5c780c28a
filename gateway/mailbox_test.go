package gateway

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestMailboxOrder(t *testing.T) {
	t.Parallel()

	mb := newMailbox(zerolog.Nop())

	var (
		mu  sync.Mutex
		got []int
	)

	for i := 0; i < 100; i++ {
		mb.post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}

	mb.close()

	want := make([]int, 100)
	for i := range want {
		want[i] = i
	}

	assert.Equal(t, want, got, "callbacks run in order and close drains the queue")

	mb.post(func() { t.Error("posted after close") })
}

func TestMailboxRecoversPanics(t *testing.T) {
	t.Parallel()

	mb := newMailbox(zerolog.Nop())
	defer mb.close()

	done := make(chan struct{})

	mb.post(func() { panic("handler failed") })
	mb.post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("mailbox stopped after a panic")
	}
}

func TestMailboxDoesNotBlockPoster(t *testing.T) {
	t.Parallel()

	mb := newMailbox(zerolog.Nop())

	release := make(chan struct{})
	mb.post(func() { <-release })

	posted := make(chan struct{})

	go func() {
		for i := 0; i < 1000; i++ {
			mb.post(func() {})
		}

		close(posted)
	}()

	select {
	case <-posted:
	case <-time.After(testTimeout):
		t.Fatal("post blocked on a slow callback")
	}

	close(release)
	mb.close()
}
