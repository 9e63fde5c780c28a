package rest

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRouteKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		request Request
		want    RouteKey
	}{
		{
			name:    "no major parameters",
			request: Request{Route: "/gateway/bot"},
			want:    RouteKey{Route: "/gateway/bot"},
		},
		{
			name: "channel",
			request: Request{
				Route:  "/channels/{channel.id}/messages/{message.id}",
				Params: map[string]string{"channel.id": "1", "message.id": "2"},
			},
			want: RouteKey{Route: "/channels/{channel.id}/messages/{message.id}", Major: "1"},
		},
		{
			name: "webhook id and token",
			request: Request{
				Route:  "/webhooks/{webhook.id}/{webhook.token}",
				Params: map[string]string{"webhook.id": "5", "webhook.token": "abc"},
			},
			want: RouteKey{Route: "/webhooks/{webhook.id}/{webhook.token}", Major: "5:abc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, tt.request.RouteKey())
		})
	}
}

func TestRequestRouteKeyIgnoresMinorParameters(t *testing.T) {
	t.Parallel()

	first := Request{Route: "/channels/{channel.id}/messages/{message.id}", Params: map[string]string{"channel.id": "1", "message.id": "2"}}
	second := Request{Route: "/channels/{channel.id}/messages/{message.id}", Params: map[string]string{"channel.id": "1", "message.id": "3"}}
	other := Request{Route: "/channels/{channel.id}/messages/{message.id}", Params: map[string]string{"channel.id": "9", "message.id": "2"}}

	assert.Equal(t, first.RouteKey(), second.RouteKey())
	assert.NotEqual(t, first.RouteKey(), other.RouteKey())
	assert.Equal(t, "/channels/{channel.id}/messages/{message.id}:1", first.RouteKey().String())
}

func TestRequestPath(t *testing.T) {
	t.Parallel()

	request := Request{
		Route:  "/channels/{channel.id}/messages/{message.id}/reactions/{emoji}/@me",
		Params: map[string]string{"channel.id": "1", "message.id": "2", "emoji": "a b"},
	}

	path, err := request.Path()
	require.NoError(t, err)
	assert.Equal(t, "/channels/1/messages/2/reactions/a%20b/@me", path)
}

func TestRequestPathMissingParameter(t *testing.T) {
	t.Parallel()

	request := Request{Route: "/guilds/{guild.id}/roles"}

	_, err := request.Path()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingParameter)
	assert.Contains(t, err.Error(), "guild.id")

	request = Request{Route: "guilds"}

	_, err = request.Path()
	assert.ErrorIs(t, err, ErrInvalidRoute)
}

func TestFuture(t *testing.T) {
	t.Parallel()

	future := newFuture(&Request{Method: http.MethodGet, Route: "/"})

	_, _, ok := future.Result()
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := future.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	response := &Response{StatusCode: http.StatusOK}

	assert.True(t, future.resolve(response, nil))
	assert.False(t, future.resolve(nil, errors.New("late")))

	got, err, ok := future.Result()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Same(t, response, got)

	<-future.Done()
}
