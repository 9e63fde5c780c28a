package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/WelcomerTeam/Sandwich-Transport/discord"
	"github.com/WelcomerTeam/Sandwich-Transport/sandwichjson"
	"go.uber.org/atomic"
)

// URLIdentifyGate asks an external service for permission to identify.
// The URL may contain the formatting tags {shard_id}, {shard_count},
// {token}, {token_hash} and {max_concurrency}; the same values are posted
// as JSON.
//
// A 200 or 204 response grants the identify. Any other response is retried
// after the X-Retry-After-Ms header, or 5 seconds when it is absent.
type URLIdentifyGate struct {
	Client  *http.Client
	Headers map[string]string

	url   string
	token string

	shardCount     *atomic.Int32
	maxConcurrency *atomic.Int32
}

func NewURLIdentifyGate(identifyURL, token string, headers map[string]string, shardCount int32) *URLIdentifyGate {
	return &URLIdentifyGate{
		Client:         http.DefaultClient,
		Headers:        headers,
		url:            identifyURL,
		token:          token,
		shardCount:     atomic.NewInt32(shardCount),
		maxConcurrency: atomic.NewInt32(1),
	}
}

func (g *URLIdentifyGate) SetSessionStartLimit(limit discord.SessionStartLimit) {
	if limit.MaxConcurrency > 0 {
		g.maxConcurrency.Store(limit.MaxConcurrency)
	}
}

// SetShardCount updates the shard count sent with each request.
func (g *URLIdentifyGate) SetShardCount(shardCount int32) {
	g.shardCount.Store(shardCount)
}

type identifyPayload struct {
	Token          string `json:"token"`
	TokenHash      string `json:"token_hash"`
	ShardID        int32  `json:"shard_id"`
	ShardCount     int32  `json:"shard_count"`
	MaxConcurrency int32  `json:"max_concurrency"`
}

func (g *URLIdentifyGate) Acquire(ctx context.Context, shardID int32) error {
	payload := identifyPayload{
		ShardID:        shardID,
		ShardCount:     g.shardCount.Load(),
		MaxConcurrency: g.maxConcurrency.Load(),
		Token:          g.token,
		TokenHash:      tokenHash(g.token),
	}

	identifyURL := strings.NewReplacer(
		"{shard_id}", strconv.Itoa(int(payload.ShardID)),
		"{shard_count}", strconv.Itoa(int(payload.ShardCount)),
		"{token}", payload.Token,
		"{token_hash}", payload.TokenHash,
		"{max_concurrency}", strconv.Itoa(int(payload.MaxConcurrency)),
	).Replace(g.url)

	if _, err := url.Parse(identifyURL); err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}

	body, err := sandwichjson.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal identify payload: %w", err)
	}

	for {
		retryAfter, err := g.attempt(ctx, identifyURL, body)
		if err != nil {
			return err
		}

		if retryAfter == 0 {
			return nil
		}

		timer := time.NewTimer(retryAfter)

		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		case <-timer.C:
		}
	}
}

// attempt returns zero once the identify is granted, otherwise how long to
// wait before asking again.
func (g *URLIdentifyGate) attempt(ctx context.Context, identifyURL string, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, identifyURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create identify request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range g.Headers {
		req.Header.Set(key, value)
	}

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		return StandardIdentifyLimit, nil
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		return 0, nil
	}

	if retryAfterMs, _ := strconv.Atoi(resp.Header.Get("X-Retry-After-Ms")); retryAfterMs > 0 {
		return time.Duration(retryAfterMs) * time.Millisecond, nil
	}

	return StandardIdentifyLimit, nil
}
