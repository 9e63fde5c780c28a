package rest

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRateLimitHeaders(t *testing.T) {
	t.Parallel()

	header := http.Header{}
	header.Set(HeaderBucket, "abcd1234")
	header.Set(HeaderLimit, "5")
	header.Set(HeaderRemaining, "4")
	header.Set(HeaderReset, "1470173023.123")
	header.Set(HeaderResetAfter, "1.5")
	header.Set(HeaderScope, ScopeShared)

	headers := ParseRateLimitHeaders(header)

	assert.Equal(t, "abcd1234", headers.Bucket)
	assert.Equal(t, 5, headers.Limit)
	assert.Equal(t, 4, headers.Remaining)
	assert.True(t, headers.HasRemaining)
	assert.Equal(t, 1500*time.Millisecond, headers.ResetAfter)
	assert.Equal(t, int64(1470173023), headers.Reset.Unix())
	assert.Equal(t, ScopeShared, headers.Scope)
	assert.False(t, headers.Global)

	now := time.Now()
	assert.Equal(t, now.Add(1500*time.Millisecond), headers.ResetAt(now))
}

func TestParseRateLimitHeadersMissing(t *testing.T) {
	t.Parallel()

	headers := ParseRateLimitHeaders(http.Header{})

	assert.False(t, headers.HasRemaining)
	assert.True(t, headers.ResetAt(time.Now()).IsZero())
}

func TestParseRateLimitHeadersGlobal(t *testing.T) {
	t.Parallel()

	header := http.Header{}
	header.Set(HeaderGlobal, "true")
	header.Set(HeaderRetryAfter, "2")

	headers := ParseRateLimitHeaders(header)

	assert.True(t, headers.Global)
	assert.Equal(t, 2*time.Second, headers.RetryAfter)

	header = http.Header{}
	header.Set(HeaderScope, ScopeGlobal)

	assert.True(t, ParseRateLimitHeaders(header).Global)
}

func TestParseTooManyRequests(t *testing.T) {
	t.Parallel()

	retryAfter, global := parseTooManyRequests(RateLimitHeaders{RetryAfter: time.Second}, []byte(`{"message":"You are being rate limited.","retry_after":0.25,"global":true}`))
	assert.Equal(t, 250*time.Millisecond, retryAfter)
	assert.True(t, global)

	retryAfter, global = parseTooManyRequests(RateLimitHeaders{ResetAfter: 3 * time.Second}, nil)
	assert.Equal(t, 3*time.Second, retryAfter)
	assert.False(t, global)

	retryAfter, _ = parseTooManyRequests(RateLimitHeaders{}, []byte("not json"))
	assert.Equal(t, time.Second, retryAfter)
}

func TestRateLimitBucket(t *testing.T) {
	t.Parallel()

	bucket := newRateLimitBucket(RouteKey{Route: "/test"})
	now := time.Now()

	assert.Zero(t, bucket.delay(now), "undiscovered buckets never wait")

	bucket.take()
	bucket.update(RateLimitHeaders{Bucket: "hash", Limit: 1, Remaining: 0, HasRemaining: true, ResetAfter: time.Second}, now)

	state := bucket.state()
	assert.True(t, state.Discovered)
	assert.Equal(t, "hash", state.Hash)
	assert.Equal(t, 1, state.Limit)
	assert.Equal(t, 0, state.Remaining)

	assert.Equal(t, time.Second, bucket.delay(now))
	assert.Equal(t, 400*time.Millisecond, bucket.delay(now.Add(600*time.Millisecond)))

	assert.Zero(t, bucket.delay(now.Add(time.Second)))
	assert.Equal(t, 1, bucket.state().Remaining, "window refilled after reset")

	bucket.pause(now.Add(5 * time.Second))
	assert.Equal(t, 4*time.Second, bucket.delay(now.Add(time.Second)))

	bucket.markGlobalHit()
	assert.True(t, bucket.state().IsGlobalHit)
}
