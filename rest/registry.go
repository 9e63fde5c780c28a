package rest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/WelcomerTeam/Sandwich-Transport/pkg/backoff"
	"github.com/WelcomerTeam/Sandwich-Transport/pkg/syncmap"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxRetries        = 3
	DefaultRequestTimeout    = 30 * time.Second
	DefaultBucketIdleTimeout = 10 * time.Minute
)

// Config configures a Registry.
type Config struct {
	Transport Transport
	Global    GlobalGate

	RetryBase         time.Duration
	RetryCap          time.Duration
	RequestTimeout    time.Duration
	BucketIdleTimeout time.Duration

	// MaxRetries bounds retries of network errors and 5xx responses. Zero
	// uses DefaultMaxRetries and a negative value disables retrying.
	MaxRetries int
}

// Registry routes requests to the executor of their route key, creating
// executors and their buckets on first use.
type Registry struct {
	Logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	transport Transport
	global    GlobalGate

	executors syncmap.Map[RouteKey, *BucketExecutor]

	lifecycleMu sync.RWMutex
	closed      bool

	wg          sync.WaitGroup
	janitorDone chan struct{}

	retryBase      time.Duration
	retryCap       time.Duration
	requestTimeout time.Duration
	idleTimeout    time.Duration
	maxRetries     int
}

func NewRegistry(logger zerolog.Logger, config Config) *Registry {
	if config.Global == nil {
		config.Global = NewLocalGlobalGate(DefaultGlobalRate)
	}

	switch {
	case config.MaxRetries == 0:
		config.MaxRetries = DefaultMaxRetries
	case config.MaxRetries < 0:
		config.MaxRetries = 0
	}

	if config.RetryBase <= 0 {
		config.RetryBase = backoff.DefaultBase
	}

	if config.RetryCap <= 0 {
		config.RetryCap = 30 * time.Second
	}

	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Registry{
		Logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
		transport:      config.Transport,
		global:         config.Global,
		retryBase:      config.RetryBase,
		retryCap:       config.RetryCap,
		requestTimeout: config.RequestTimeout,
		idleTimeout:    config.BucketIdleTimeout,
		maxRetries:     config.MaxRetries,
	}

	if r.idleTimeout > 0 {
		r.janitorDone = make(chan struct{})

		go r.janitor()
	}

	return r
}

// Submit queues a request on the executor of its route key and returns its
// completion handle. Cancelling ctx removes the request from the queue, or
// discards its result if it was already sent.
func (r *Registry) Submit(ctx context.Context, request *Request) *Future {
	future := newFuture(request)

	if request.ID == uuid.Nil {
		request.ID = uuid.New()
	}

	if _, err := request.Path(); err != nil {
		future.resolve(nil, err)

		return future
	}

	if err := ctx.Err(); err != nil {
		future.resolve(nil, cancelled(err))

		return future
	}

	r.lifecycleMu.RLock()
	defer r.lifecycleMu.RUnlock()

	if r.closed {
		future.resolve(nil, ErrShutdown)

		return future
	}

	qr := &queuedRequest{
		ctx:     ctx,
		request: request,
		future:  future,
	}

	key := request.RouteKey()

	for {
		executor, ok := r.executors.Load(key)
		if !ok {
			executor, _ = r.executors.LoadOrStore(key, newBucketExecutor(r, key))
		}

		if executor.enqueue(qr) {
			return future
		}

		// Evicted between the lookup and the enqueue.
		r.executors.CompareAndDelete(key, executor)
	}
}

// Do submits a request, waits for it and decodes the response into out.
func (r *Registry) Do(ctx context.Context, request *Request, out any) (*Response, error) {
	response, err := r.Submit(ctx, request).Wait(ctx)
	if err != nil {
		return response, err
	}

	if out != nil && len(response.Body) > 0 {
		if err := response.Decode(out); err != nil {
			return response, fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return response, nil
}

// PeekBucketState returns the state of a route key's bucket.
func (r *Registry) PeekBucketState(key RouteKey) (BucketState, bool) {
	executor, ok := r.executors.Load(key)
	if !ok {
		return BucketState{}, false
	}

	return executor.state(), true
}

// Buckets returns the state of every known bucket ordered by route key.
func (r *Registry) Buckets() []BucketState {
	states := make([]BucketState, 0, r.executors.Count())

	r.executors.Range(func(_ RouteKey, executor *BucketExecutor) bool {
		states = append(states, executor.state())

		return true
	})

	sort.Slice(states, func(i, j int) bool {
		return states[i].Key.String() < states[j].Key.String()
	})

	return states
}

// Close fails every queued request with ErrShutdown and waits for the
// executors to stop.
func (r *Registry) Close() {
	r.lifecycleMu.Lock()

	if r.closed {
		r.lifecycleMu.Unlock()

		return
	}

	r.closed = true
	r.lifecycleMu.Unlock()

	r.cancel()

	for _, executor := range r.executors.Values() {
		executor.close()
	}

	r.wg.Wait()

	if r.janitorDone != nil {
		<-r.janitorDone
	}

	r.Logger.Debug().Msg("Registry closed")
}

func (r *Registry) sendContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.ctx, r.requestTimeout)
}

// janitor evicts executors that have been idle for the idle timeout. They are
// recreated from scratch on the next request.
func (r *Registry) janitor() {
	defer close(r.janitorDone)

	interval := r.idleTimeout / 2
	if interval < time.Second {
		interval = r.idleTimeout
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case now := <-ticker.C:
			r.evictIdle(now)
		}
	}
}

func (r *Registry) evictIdle(now time.Time) int {
	evicted := 0

	r.executors.Range(func(key RouteKey, executor *BucketExecutor) bool {
		if executor.evictIfIdle(now, r.idleTimeout) && r.executors.CompareAndDelete(key, executor) {
			evicted++
		}

		return true
	})

	if evicted > 0 {
		r.Logger.Debug().Int("evicted", evicted).Msg("Evicted idle buckets")
	}

	return evicted
}
