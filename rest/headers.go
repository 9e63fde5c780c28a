package rest

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/WelcomerTeam/Sandwich-Transport/discord"
	"github.com/WelcomerTeam/Sandwich-Transport/sandwichjson"
)

const (
	HeaderBucket     = "X-RateLimit-Bucket"
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderResetAfter = "X-RateLimit-Reset-After"
	HeaderGlobal     = "X-RateLimit-Global"
	HeaderScope      = "X-RateLimit-Scope"
	HeaderRetryAfter = "Retry-After"
)

// Scopes reported in X-RateLimit-Scope.
const (
	ScopeUser   = "user"
	ScopeGlobal = "global"
	ScopeShared = "shared"
)

// RateLimitHeaders are the rate limit fields of a response.
type RateLimitHeaders struct {
	Reset        time.Time
	Bucket       string
	Scope        string
	ResetAfter   time.Duration
	RetryAfter   time.Duration
	Limit        int
	Remaining    int
	HasRemaining bool
	Global       bool
}

// ParseRateLimitHeaders reads the rate limit headers of a response.
func ParseRateLimitHeaders(header http.Header) RateLimitHeaders {
	headers := RateLimitHeaders{
		Bucket: header.Get(HeaderBucket),
		Scope:  header.Get(HeaderScope),
	}

	if limit, err := strconv.Atoi(header.Get(HeaderLimit)); err == nil {
		headers.Limit = limit
	}

	if remaining, err := strconv.Atoi(header.Get(HeaderRemaining)); err == nil {
		headers.Remaining = max(remaining, 0)
		headers.HasRemaining = true
	}

	if reset, ok := parseSeconds(header.Get(HeaderReset)); ok {
		sec, frac := math.Modf(reset)
		headers.Reset = time.Unix(int64(sec), int64(frac*float64(time.Second)))
	}

	if resetAfter, ok := parseSeconds(header.Get(HeaderResetAfter)); ok {
		headers.ResetAfter = secondsToDuration(resetAfter)
	}

	if retryAfter, ok := parseSeconds(header.Get(HeaderRetryAfter)); ok {
		headers.RetryAfter = secondsToDuration(retryAfter)
	}

	headers.Global = strings.EqualFold(header.Get(HeaderGlobal), "true") || headers.Scope == ScopeGlobal

	return headers
}

// ResetAt returns when the bucket resets. Reset-After is preferred as it does
// not depend on the local clock agreeing with the server's.
func (h RateLimitHeaders) ResetAt(now time.Time) time.Time {
	if h.ResetAfter > 0 {
		return now.Add(h.ResetAfter)
	}

	return h.Reset
}

// parseTooManyRequests merges the body of a 429 with its headers and returns
// how long to wait and whether the global limit was hit.
func parseTooManyRequests(headers RateLimitHeaders, body []byte) (time.Duration, bool) {
	retryAfter := headers.RetryAfter
	global := headers.Global

	var tooManyRequests discord.TooManyRequests

	if len(body) > 0 && sandwichjson.Unmarshal(body, &tooManyRequests) == nil {
		if tooManyRequests.RetryAfter > 0 {
			retryAfter = secondsToDuration(tooManyRequests.RetryAfter)
		}

		global = global || tooManyRequests.Global
	}

	if retryAfter <= 0 {
		retryAfter = headers.ResetAfter
	}

	if retryAfter <= 0 {
		retryAfter = time.Second
	}

	return retryAfter, global
}

func parseSeconds(value string) (float64, bool) {
	if value == "" {
		return 0, false
	}

	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || seconds < 0 {
		return 0, false
	}

	return seconds, true
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
