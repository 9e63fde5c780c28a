package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected             = errors.New("shard has no active connection")
	ErrInvalidHeartbeatInterval = errors.New("hello carried an invalid heartbeat interval")
	ErrExpectedHello            = errors.New("first gateway frame was not hello")
	ErrHelloTimeout             = errors.New("timed out waiting for hello")
	ErrZombied                  = errors.New("heartbeat was not acknowledged")
	ErrReconnectRequested       = errors.New("gateway requested a reconnect")
	ErrSessionInvalidated       = errors.New("gateway invalidated the session")
	ErrInvalidShardCount        = errors.New("shard count must be greater than zero")
	ErrInvalidShardID           = errors.New("shard id is outside of the shard count")
	ErrCoordinatorStarted       = errors.New("coordinator already started")
	ErrNoShards                 = errors.New("no shards to start")
	ErrUnknownCloseAction       = errors.New("unknown close action")
	ErrUnknownShardStatus       = errors.New("unknown shard status")
)

// CloseError is returned by a Conn when the remote end closed the websocket.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("websocket closed with code %d", e.Code)
	}

	return fmt.Sprintf("websocket closed with code %d: %s", e.Code, e.Reason)
}

// FatalError is surfaced when a shard was closed with a code that cannot be
// recovered from by reconnecting.
type FatalError struct {
	Err     error
	ShardID int32
	Code    int
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("shard %d closed with fatal code %d: %v", e.ShardID, e.Code, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
