package rest

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrShutdown         = errors.New("rest registry is shut down")
	ErrRequestCancelled = errors.New("request cancelled")
	ErrMissingParameter = errors.New("missing route parameter")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrInvalidRoute     = errors.New("route must start with a slash")
)

// HTTPError is returned with non 2xx responses.
type HTTPError struct {
	Message    string
	Body       []byte
	StatusCode int
	Code       int32
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("discord returned %d: %s (%d)", e.StatusCode, e.Message, e.Code)
	}

	return fmt.Sprintf("discord returned %d", e.StatusCode)
}

// RateLimitedError is returned when a request was cancelled while it waited
// out a 429.
type RateLimitedError struct {
	Err        error
	Bucket     string
	RetryAfter time.Duration
	Global     bool
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("cancelled while rate limited for %s (global: %t): %v", e.RetryAfter, e.Global, e.Err)
}

func (e *RateLimitedError) Unwrap() []error {
	return []error{ErrRequestCancelled, e.Err}
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrRequestCancelled, err)
}
