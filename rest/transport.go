package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL    = "https://discord.com/api"
	DefaultAPIVersion = 10
	DefaultUserAgent  = "DiscordBot (https://github.com/WelcomerTeam/Sandwich-Transport, 1.0.0)"
)

// Transport sends a single request without any rate limit handling.
type Transport interface {
	Do(ctx context.Context, request *Request) (*Response, error)
}

// HTTPTransport sends requests to the discord API.
type HTTPTransport struct {
	Client *http.Client

	BaseURL   string
	Token     string
	UserAgent string

	APIVersion int
}

func NewHTTPTransport(token string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		Client:     &http.Client{Timeout: timeout},
		BaseURL:    DefaultBaseURL,
		Token:      token,
		UserAgent:  DefaultUserAgent,
		APIVersion: DefaultAPIVersion,
	}
}

func (t *HTTPTransport) Do(ctx context.Context, request *Request) (*Response, error) {
	path, err := request.Path()
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimSuffix(t.BaseURL, "/")
	if t.APIVersion > 0 {
		endpoint += "/v" + strconv.Itoa(t.APIVersion)
	}

	endpoint += path

	if len(request.Query) > 0 {
		endpoint += "?" + request.Query.Encode()
	}

	var body io.Reader
	if len(request.Body) > 0 {
		body = bytes.NewReader(request.Body)
	}

	method := request.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, values := range request.Headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	if req.Header.Get("User-Agent") == "" && t.UserAgent != "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}

	if req.Header.Get("Authorization") == "" && t.Token != "" {
		req.Header.Set("Authorization", "Bot "+t.Token)
	}

	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       data,
	}, nil
}
