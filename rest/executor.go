package rest

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/WelcomerTeam/Sandwich-Transport/discord"
	"github.com/WelcomerTeam/Sandwich-Transport/internal/analytics"
	"github.com/WelcomerTeam/Sandwich-Transport/pkg/backoff"
	"github.com/WelcomerTeam/Sandwich-Transport/sandwichjson"
	"github.com/rs/zerolog"
)

type queuedRequest struct {
	ctx     context.Context
	request *Request
	future  *Future

	// element is set while the request sits in the queue. Guarded by the
	// executor's mutex.
	element *list.Element
	stop    func() bool

	backoff   *backoff.Policy
	rateLimit *RateLimitedError
	attempts  int
}

func (qr *queuedRequest) cancelError() error {
	if qr.rateLimit != nil {
		err := *qr.rateLimit
		err.Err = qr.ctx.Err()

		return &err
	}

	return cancelled(qr.ctx.Err())
}

// BucketExecutor runs the requests of one route key strictly one at a time
// in submission order. Its goroutine is started when a request is queued and
// exits once the queue is empty.
type BucketExecutor struct {
	registry *Registry
	bucket   *RateLimitBucket
	logger   zerolog.Logger

	mu         sync.Mutex
	queue      list.List
	lastActive time.Time
	running    bool
	inFlight   bool
	closed     bool
	evicted    bool

	wake chan struct{}
}

func newBucketExecutor(registry *Registry, key RouteKey) *BucketExecutor {
	return &BucketExecutor{
		registry:   registry,
		bucket:     newRateLimitBucket(key),
		logger:     registry.Logger.With().Str("route", key.String()).Logger(),
		lastActive: time.Now(),
		wake:       make(chan struct{}, 1),
	}
}

// enqueue adds a request to the back of the queue. It returns false if the
// executor was evicted and must not be used.
func (e *BucketExecutor) enqueue(qr *queuedRequest) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.evicted {
		return false
	}

	if e.closed {
		qr.future.resolve(nil, ErrShutdown)

		return true
	}

	qr.element = e.queue.PushBack(qr)
	qr.stop = context.AfterFunc(qr.ctx, func() { e.cancel(qr) })

	analytics.AddQueuedRequests(e.bucket.key.Route, 1)

	if !e.running {
		e.running = true
		e.registry.wg.Add(1)

		go e.drain()
	}

	return true
}

// cancel removes a queued request. Requests already sent are left to finish
// and have their result discarded.
func (e *BucketExecutor) cancel(qr *queuedRequest) {
	e.mu.Lock()

	if qr.element == nil {
		e.mu.Unlock()

		return
	}

	e.queue.Remove(qr.element)
	qr.element = nil
	err := qr.cancelError()

	e.mu.Unlock()

	analytics.AddQueuedRequests(e.bucket.key.Route, -1)
	e.signal()

	qr.future.resolve(nil, err)
}

func (e *BucketExecutor) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *BucketExecutor) drain() {
	defer e.registry.wg.Done()

	for {
		qr := e.head()
		if qr == nil {
			return
		}

		if !e.waitBucket(qr) {
			continue
		}

		if err := e.registry.global.Wait(e.registry.ctx); err != nil {
			if e.registry.ctx.Err() != nil {
				continue
			}

			e.logger.Warn().Err(err).Msg("Failed to wait for global rate limit")
		}

		if !e.begin(qr) {
			continue
		}

		e.execute(qr)
	}
}

// head returns the request at the front of the queue, or nil once there is
// nothing left to do.
func (e *BucketExecutor) head() *queuedRequest {
	e.mu.Lock()
	defer e.mu.Unlock()

	front := e.queue.Front()

	if front == nil || e.closed || e.registry.ctx.Err() != nil {
		e.running = false
		e.lastActive = time.Now()

		return nil
	}

	return front.Value.(*queuedRequest)
}

// waitBucket waits for the bucket to allow a request. It returns false if
// qr stopped being the head of the queue or the registry closed.
func (e *BucketExecutor) waitBucket(qr *queuedRequest) bool {
	for {
		delay := e.bucket.delay(time.Now())
		if delay <= 0 {
			return true
		}

		e.logger.Debug().Dur("wait", delay).Msg("Waiting for bucket to reset")
		analytics.ObserveBucketWait(e.bucket.key.Route, delay)

		timer := time.NewTimer(delay)

		select {
		case <-e.registry.ctx.Done():
			timer.Stop()

			return false
		case <-e.wake:
			timer.Stop()

			if !e.isHead(qr) {
				return false
			}
		case <-timer.C:
		}
	}
}

func (e *BucketExecutor) isHead(qr *queuedRequest) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	front := e.queue.Front()

	return front != nil && front.Value == qr
}

// begin takes qr off the queue if it is still the head.
func (e *BucketExecutor) begin(qr *queuedRequest) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	front := e.queue.Front()
	if e.closed || front == nil || front.Value != qr {
		return false
	}

	e.queue.Remove(front)
	qr.element = nil
	e.inFlight = true

	analytics.AddQueuedRequests(e.bucket.key.Route, -1)

	return true
}

func (e *BucketExecutor) execute(qr *queuedRequest) {
	e.bucket.take()

	// The send is bound to the registry rather than the caller so a
	// cancelled request still completes and keeps the bucket accurate.
	sendCtx, cancel := e.registry.sendContext()
	response, err := e.registry.transport.Do(sendCtx, qr.request)
	cancel()

	now := time.Now()

	if err != nil {
		switch {
		case e.registry.ctx.Err() != nil:
			e.complete(qr, nil, ErrShutdown)
		case errors.Is(err, ErrMissingParameter), errors.Is(err, ErrInvalidRoute):
			e.complete(qr, nil, err)
		default:
			e.retry(qr, nil, err)
		}

		return
	}

	analytics.RecordRequest(qr.request.Method, e.bucket.key.Route, response.StatusCode)

	headers := ParseRateLimitHeaders(response.Header)
	e.bucket.update(headers, now)

	switch {
	case response.StatusCode == http.StatusTooManyRequests:
		e.rateLimited(qr, headers, response, now)
	case response.StatusCode >= http.StatusInternalServerError:
		e.retry(qr, response, newHTTPError(response))
	case response.StatusCode >= http.StatusBadRequest:
		e.complete(qr, response, newHTTPError(response))
	default:
		e.complete(qr, response, nil)
	}
}

func (e *BucketExecutor) rateLimited(qr *queuedRequest, headers RateLimitHeaders, response *Response, now time.Time) {
	retryAfter, global := parseTooManyRequests(headers, response.Body)
	until := now.Add(retryAfter)

	if global {
		analytics.RecordRateLimitHit(ScopeGlobal)
		e.bucket.markGlobalHit()

		if err := e.registry.global.Block(e.registry.ctx, until); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to block global rate limit")
		}
	} else {
		scope := headers.Scope
		if scope == "" {
			scope = ScopeUser
		}

		analytics.RecordRateLimitHit(scope)
		e.bucket.pause(until)
	}

	e.logger.Warn().
		Str("bucket", headers.Bucket).
		Bool("global", global).
		Dur("retryAfter", retryAfter).
		Msg("Hit rate limit")

	e.requeue(qr, &RateLimitedError{Bucket: headers.Bucket, RetryAfter: retryAfter, Global: global})
}

// retry re-queues a request that failed transiently after its backoff.
func (e *BucketExecutor) retry(qr *queuedRequest, response *Response, err error) {
	if qr.attempts >= e.registry.maxRetries {
		e.complete(qr, response, fmt.Errorf("%w: %w", ErrRetriesExhausted, err))

		return
	}

	qr.attempts++

	if qr.backoff == nil {
		qr.backoff = backoff.NewPolicy(e.registry.retryBase, e.registry.retryCap)
	}

	delay := qr.backoff.Next()

	e.logger.Warn().Err(err).Int("attempt", qr.attempts).Dur("retry", delay).Msg("Request failed, retrying")

	if qr.ctx.Err() != nil {
		e.complete(qr, nil, qr.cancelError())

		return
	}

	if sleepErr := sleep(e.registry.ctx, delay); sleepErr != nil {
		e.complete(qr, nil, ErrShutdown)

		return
	}

	e.requeue(qr, nil)
}

// requeue puts an in flight request back at the head of the queue.
func (e *BucketExecutor) requeue(qr *queuedRequest, rateLimit *RateLimitedError) {
	e.mu.Lock()

	e.inFlight = false

	if e.closed {
		e.mu.Unlock()
		qr.stop()
		qr.future.resolve(nil, ErrShutdown)

		return
	}

	if qr.ctx.Err() != nil {
		qr.rateLimit = rateLimit
		err := qr.cancelError()

		e.mu.Unlock()
		qr.stop()
		qr.future.resolve(nil, err)

		return
	}

	qr.rateLimit = rateLimit
	qr.element = e.queue.PushFront(qr)

	e.mu.Unlock()

	analytics.AddQueuedRequests(e.bucket.key.Route, 1)
}

func (e *BucketExecutor) complete(qr *queuedRequest, response *Response, err error) {
	e.mu.Lock()
	e.inFlight = false
	e.lastActive = time.Now()
	e.mu.Unlock()

	qr.stop()

	if qr.ctx.Err() != nil && !errors.Is(err, ErrShutdown) {
		response, err = nil, qr.cancelError()
	}

	qr.future.resolve(response, err)
}

// close fails every queued request with ErrShutdown.
func (e *BucketExecutor) close() {
	e.mu.Lock()

	e.closed = true

	pending := make([]*queuedRequest, 0, e.queue.Len())

	for element := e.queue.Front(); element != nil; element = element.Next() {
		qr := element.Value.(*queuedRequest)
		qr.element = nil
		pending = append(pending, qr)
	}

	e.queue.Init()

	e.mu.Unlock()

	analytics.AddQueuedRequests(e.bucket.key.Route, -float64(len(pending)))
	e.signal()

	for _, qr := range pending {
		qr.stop()
		qr.future.resolve(nil, ErrShutdown)
	}
}

// evictIfIdle marks the executor evicted when it has had nothing to do for
// timeout.
func (e *BucketExecutor) evictIfIdle(now time.Time, timeout time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running || e.inFlight || e.queue.Len() > 0 || now.Sub(e.lastActive) < timeout {
		return false
	}

	e.evicted = true

	return true
}

func (e *BucketExecutor) state() BucketState {
	state := e.bucket.state()

	e.mu.Lock()
	state.Queued = e.queue.Len()
	state.InFlight = e.inFlight
	e.mu.Unlock()

	return state
}

func newHTTPError(response *Response) *HTTPError {
	httpError := &HTTPError{
		StatusCode: response.StatusCode,
		Body:       response.Body,
	}

	var message discord.ErrorMessage

	if len(response.Body) > 0 && sandwichjson.Unmarshal(response.Body, &message) == nil {
		httpError.Message = message.Message
		httpError.Code = message.Code
	}

	return httpError
}
