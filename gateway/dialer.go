package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/WelcomerTeam/czlib"
	"nhooyr.io/websocket"
)

const WebsocketReadLimit = 512 << 20

// Conn is a single gateway websocket connection. Read returns the next frame
// with compression already removed and reports remote closures as a
// *CloseError.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Dialer opens gateway connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials the gateway using nhooyr.io/websocket.
type WebsocketDialer struct {
	HTTPClient *http.Client
	HTTPHeader http.Header
	ReadLimit  int64
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.HTTPHeader,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to websocket: %w", err)
	}

	readLimit := d.ReadLimit
	if readLimit <= 0 {
		readLimit = WebsocketReadLimit
	}

	conn.SetReadLimit(readLimit)

	return &websocketConn{conn: conn}, nil
}

type websocketConn struct {
	conn *websocket.Conn
}

func (c *websocketConn) Read(ctx context.Context) ([]byte, error) {
	messageType, data, err := c.conn.Read(ctx)
	if err != nil {
		var closeError websocket.CloseError

		if errors.As(err, &closeError) {
			return nil, &CloseError{Code: int(closeError.Code), Reason: closeError.Reason}
		}

		return nil, err
	}

	if messageType == websocket.MessageBinary {
		data, err = czlib.Decompress(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress data: %w", err)
		}
	}

	return data, nil
}

func (c *websocketConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *websocketConn) Close(code int, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}
