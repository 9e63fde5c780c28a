package discord

import "time"

// http.go contains the structures of HTTP responses the transport consumes.

// GatewayBotResponse represents the response from /gateway/bot.
type GatewayBotResponse struct {
	URL               string            `json:"url"`
	Shards            int32             `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// SessionStartLimit describes the identify quota for the current token.
type SessionStartLimit struct {
	Total          int32 `json:"total"`
	Remaining      int32 `json:"remaining"`
	ResetAfter     int64 `json:"reset_after"`
	MaxConcurrency int32 `json:"max_concurrency"`
}

// ResetDuration returns how long until the daily identify budget resets.
func (l SessionStartLimit) ResetDuration() time.Duration {
	return time.Duration(l.ResetAfter) * time.Millisecond
}

// TooManyRequests is the body of a 429 response.
type TooManyRequests struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
	Code       int32   `json:"code,omitempty"`
}

// ErrorMessage is the body of a non 2xx API response.
type ErrorMessage struct {
	Message string `json:"message"`
	Code    int32  `json:"code"`
}
