package gateway

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/WelcomerTeam/Sandwich-Transport/discord"
	"github.com/WelcomerTeam/Sandwich-Transport/sandwichjson"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

const testTimeout = 2 * time.Second

// fakeConn is an in memory gateway connection driven by the test.
type fakeConn struct {
	url string

	incoming chan []byte
	failures chan error
	sent     chan discord.GatewayPayload

	closed    chan struct{}
	closeOnce sync.Once
	code      *atomic.Int32
}

func newFakeConn(url string) *fakeConn {
	return &fakeConn{
		url:      url,
		incoming: make(chan []byte, 16),
		failures: make(chan error, 1),
		sent:     make(chan discord.GatewayPayload, 256),
		closed:   make(chan struct{}),
		code:     atomic.NewInt32(0),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.incoming:
		return data, nil
	case err := <-c.failures:
		return nil, err
	case <-c.closed:
		return nil, &CloseError{Code: int(c.code.Load())}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}

	var payload discord.GatewayPayload

	if err := sandwichjson.Unmarshal(data, &payload); err != nil {
		return err
	}

	c.sent <- payload

	return nil
}

func (c *fakeConn) Close(code int, _ string) error {
	c.closeOnce.Do(func() {
		c.code.Store(int32(code))
		close(c.closed)
	})

	return nil
}

func (c *fakeConn) push(t *testing.T, payload discord.GatewayPayload) {
	t.Helper()

	data, err := sandwichjson.Marshal(payload)
	require.NoError(t, err)

	select {
	case c.incoming <- data:
	case <-time.After(testTimeout):
		t.Fatal("shard is not reading")
	}
}

func (c *fakeConn) send(t *testing.T, op discord.GatewayOp, data any) {
	t.Helper()

	c.push(t, discord.GatewayPayload{Op: op, Data: mustMarshal(t, data)})
}

func (c *fakeConn) hello(t *testing.T, interval time.Duration) {
	t.Helper()

	c.send(t, discord.GatewayOpHello, discord.Hello{HeartbeatInterval: interval.Milliseconds()})
}

func (c *fakeConn) ack(t *testing.T) {
	t.Helper()

	c.send(t, discord.GatewayOpHeartbeatACK, nil)
}

func (c *fakeConn) dispatch(t *testing.T, sequence int64, eventType string, data any) {
	t.Helper()

	c.push(t, discord.GatewayPayload{
		Op:       discord.GatewayOpDispatch,
		Type:     eventType,
		Sequence: sequence,
		Data:     mustMarshal(t, data),
	})
}

func (c *fakeConn) fail(err error) {
	c.failures <- err
}

func (c *fakeConn) next(t *testing.T) discord.GatewayPayload {
	t.Helper()

	select {
	case payload := <-c.sent:
		return payload
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for the shard to send")

		return discord.GatewayPayload{}
	}
}

// expect returns the next payload sent that is not a heartbeat.
func (c *fakeConn) expect(t *testing.T, op discord.GatewayOp) discord.GatewayPayload {
	t.Helper()

	for {
		payload := c.next(t)
		if payload.Op == discord.GatewayOpHeartbeat && op != discord.GatewayOpHeartbeat {
			continue
		}

		require.Equal(t, op, payload.Op)

		return payload
	}
}

func (c *fakeConn) waitClosed(t *testing.T) int {
	t.Helper()

	select {
	case <-c.closed:
		return int(c.code.Load())
	case <-time.After(testTimeout):
		t.Fatal("connection was not closed")

		return 0
	}
}

type fakeDialer struct {
	conns chan *fakeConn
	dials *atomic.Int32
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		conns: make(chan *fakeConn, 16),
		dials: atomic.NewInt32(0),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.dials.Inc()

	conn := newFakeConn(url)

	select {
	case d.conns <- conn:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return conn, nil
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()

	select {
	case conn := <-d.conns:
		return conn
	case <-time.After(testTimeout):
		t.Fatal("shard did not dial")

		return nil
	}
}

func (d *fakeDialer) none(t *testing.T, wait time.Duration) {
	t.Helper()

	select {
	case conn := <-d.conns:
		t.Fatalf("unexpected dial to %s", conn.url)
	case <-time.After(wait):
	}
}

type gateFunc func(ctx context.Context, shardID int32) error

func (f gateFunc) Acquire(ctx context.Context, shardID int32) error {
	return f(ctx, shardID)
}

func instantGate() IdentifyGate {
	return gateFunc(func(context.Context, int32) error { return nil })
}

func mustMarshal(t *testing.T, v any) sandwichjson.RawMessage {
	t.Helper()

	data, err := sandwichjson.Marshal(v)
	require.NoError(t, err)

	return data
}

type observedState struct {
	statuses   []ShardStatus
	connected  []bool
	reconnects []bool
	dispatches []string
	zombies    int
	fatal      *FatalError
}

type recordingObserver struct {
	mu         sync.Mutex
	statuses   []ShardStatus
	connected  []bool
	reconnects []bool
	dispatches []string
	zombies    int
	fatal      *FatalError
}

func (o *recordingObserver) shardStatus(_ *Shard, status ShardStatus) {
	o.mu.Lock()
	o.statuses = append(o.statuses, status)
	o.mu.Unlock()
}

func (o *recordingObserver) shardDispatch(_ *Shard, payload discord.GatewayPayload) {
	o.mu.Lock()
	o.dispatches = append(o.dispatches, payload.Type)
	o.mu.Unlock()
}

func (o *recordingObserver) shardConnected(_ *Shard, resumed bool) {
	o.mu.Lock()
	o.connected = append(o.connected, resumed)
	o.mu.Unlock()
}

func (o *recordingObserver) shardZombied(*Shard) {
	o.mu.Lock()
	o.zombies++
	o.mu.Unlock()
}

func (o *recordingObserver) shardReconnecting(_ *Shard, resumable bool, _ error) {
	o.mu.Lock()
	o.reconnects = append(o.reconnects, resumable)
	o.mu.Unlock()
}

func (o *recordingObserver) shardFatal(_ *Shard, err *FatalError) {
	o.mu.Lock()
	o.fatal = err
	o.mu.Unlock()
}

func (o *recordingObserver) snapshot() observedState {
	o.mu.Lock()
	defer o.mu.Unlock()

	return observedState{
		statuses:   append([]ShardStatus(nil), o.statuses...),
		connected:  append([]bool(nil), o.connected...),
		reconnects: append([]bool(nil), o.reconnects...),
		dispatches: append([]string(nil), o.dispatches...),
		zombies:    o.zombies,
		fatal:      o.fatal,
	}
}
