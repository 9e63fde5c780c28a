package rest

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/WelcomerTeam/Sandwich-Transport/sandwichjson"
	"github.com/google/uuid"
)

// Route parameters that partition a route into independent buckets.
var MajorParameters = []string{"channel.id", "guild.id", "webhook.id", "webhook.token", "interaction.token"}

// Request is a single REST call. Route is a template such as
// "/channels/{channel.id}/messages" and Params fills its placeholders.
type Request struct {
	Params  map[string]string
	Query   url.Values
	Headers http.Header

	Method string
	Route  string

	Body []byte

	ID uuid.UUID
}

// RouteKey identifies the bucket a request is scheduled on: the route
// template and the values of its major parameters.
type RouteKey struct {
	Route string `json:"route"`
	Major string `json:"major,omitempty"`
}

func (k RouteKey) String() string {
	if k.Major == "" {
		return k.Route
	}

	return k.Route + ":" + k.Major
}

// RouteKey returns the key of the bucket this request belongs to.
func (r *Request) RouteKey() RouteKey {
	var major []string

	for _, name := range MajorParameters {
		if strings.Contains(r.Route, "{"+name+"}") {
			major = append(major, r.Params[name])
		}
	}

	return RouteKey{Route: r.Route, Major: strings.Join(major, ":")}
}

// Path renders the route with its parameters escaped.
func (r *Request) Path() (string, error) {
	if !strings.HasPrefix(r.Route, "/") {
		return "", ErrInvalidRoute
	}

	var builder strings.Builder

	route := r.Route

	for {
		start := strings.IndexByte(route, '{')
		if start < 0 {
			builder.WriteString(route)

			break
		}

		end := strings.IndexByte(route[start:], '}')
		if end < 0 {
			builder.WriteString(route)

			break
		}

		name := route[start+1 : start+end]

		value, ok := r.Params[name]
		if !ok || value == "" {
			return "", &missingParameterError{name: name}
		}

		builder.WriteString(route[:start])
		builder.WriteString(url.PathEscape(value))

		route = route[start+end+1:]
	}

	return builder.String(), nil
}

type missingParameterError struct {
	name string
}

func (e *missingParameterError) Error() string {
	return ErrMissingParameter.Error() + ": " + e.name
}

func (e *missingParameterError) Unwrap() error {
	return ErrMissingParameter
}

// Response is the result of a request.
type Response struct {
	Header     http.Header
	Body       []byte
	StatusCode int
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	return sandwichjson.Unmarshal(r.Body, v)
}

// Future is the completion handle of a submitted request.
type Future struct {
	request *Request
	done    chan struct{}
	once    sync.Once

	response *Response
	err      error
}

func newFuture(request *Request) *Future {
	return &Future{
		request: request,
		done:    make(chan struct{}),
	}
}

// Request returns the request this future resolves.
func (f *Future) Request() *Request {
	return f.request
}

// Done is closed once the request completed.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the request completed or ctx is done. Giving up on Wait
// does not cancel the request, the context passed to Submit does.
func (f *Future) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-f.done:
		return f.response, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome of a completed request. ok is false while it
// is still pending.
func (f *Future) Result() (response *Response, err error, ok bool) {
	select {
	case <-f.done:
		return f.response, f.err, true
	default:
		return nil, nil, false
	}
}

func (f *Future) resolve(response *Response, err error) bool {
	resolved := false

	f.once.Do(func() {
		f.response = response
		f.err = err
		resolved = true

		close(f.done)
	})

	return resolved
}
