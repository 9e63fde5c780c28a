package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/WelcomerTeam/Sandwich-Transport/discord"
	"github.com/WelcomerTeam/Sandwich-Transport/sandwichjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type coordinatorHarness struct {
	coordinator *ShardCoordinator
	dialer      *fakeDialer

	mu     sync.Mutex
	events map[int32][]string
	fatal  []*FatalError

	startErr chan error
}

func startCoordinator(t *testing.T, config CoordinatorConfig) *coordinatorHarness {
	t.Helper()

	h := &coordinatorHarness{
		dialer:   newFakeDialer(),
		events:   make(map[int32][]string),
		startErr: make(chan error, 1),
	}

	config.Shard.Token = "token"
	config.Shard.Backoff = BackoffConfig{Base: time.Millisecond, Cap: 5 * time.Millisecond}

	h.coordinator = NewShardCoordinator(zerolog.Nop(), config, h.dialer, instantGate(), Handlers{
		OnEvent: func(shardID int32, eventName string, _ sandwichjson.RawMessage) {
			h.mu.Lock()
			h.events[shardID] = append(h.events[shardID], eventName)
			h.mu.Unlock()
		},
		OnFatalError: func(err *FatalError) {
			h.mu.Lock()
			h.fatal = append(h.fatal, err)
			h.mu.Unlock()
		},
	})

	go func() {
		h.startErr <- h.coordinator.Start(context.Background())
	}()

	t.Cleanup(h.coordinator.Close)

	return h
}

func (h *coordinatorHarness) started(t *testing.T) error {
	t.Helper()

	select {
	case err := <-h.startErr:
		return err
	case <-time.After(testTimeout):
		t.Fatal("coordinator did not start")

		return nil
	}
}

func (h *coordinatorHarness) eventsOf(shardID int32) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.events[shardID]...)
}

func identifyShard(t *testing.T, conn *fakeConn, guilds ...discord.Snowflake) discord.Identify {
	t.Helper()

	conn.hello(t, 10*time.Second)

	identify := decodeData[discord.Identify](t, conn.expect(t, discord.GatewayOpIdentify))

	ready := discord.Ready{SessionID: "session", ResumeGatewayURL: testResumeURL}
	for _, guildID := range guilds {
		ready.Guilds = append(ready.Guilds, discord.UnavailableGuild{ID: guildID, Unavailable: true})
	}

	conn.dispatch(t, 1, discord.EventReady, ready)

	return identify
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestCoordinatorReadiness(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, CoordinatorConfig{ShardCount: 2, ReadyTimeout: 10 * time.Second})

	first := h.dialer.next(t)
	assert.Equal(t, [2]int32{0, 2}, identifyShard(t, first, 1, 2).Shard)

	require.NoError(t, h.started(t))

	second := h.dialer.next(t)
	assert.Equal(t, [2]int32{1, 2}, identifyShard(t, second, 3).Shard)

	first.dispatch(t, 2, discord.EventGuildCreate, discord.GuildCreate{ID: 1})
	first.dispatch(t, 3, discord.EventGuildCreate, discord.GuildCreate{ID: 2})

	require.Eventually(t, func() bool {
		return h.coordinator.IsShardReady(0)
	}, testTimeout, time.Millisecond)

	assert.False(t, h.coordinator.IsShardReady(1))
	assert.Equal(t, 1, h.coordinator.PendingGuilds(1))
	assert.False(t, isClosed(h.coordinator.Ready()), "not ready while a shard waits for guilds")

	second.dispatch(t, 2, discord.EventGuildCreate, discord.GuildCreate{ID: 3})

	select {
	case <-h.coordinator.Ready():
	case <-time.After(testTimeout):
		t.Fatal("coordinator never became ready")
	}

	assert.Equal(t, []int32{0, 1}, h.coordinator.ReadyShards())
	assert.Equal(t, []string{discord.EventReady, discord.EventGuildCreate, discord.EventGuildCreate}, h.eventsOf(0))
	assert.Equal(t, []string{discord.EventReady, discord.EventGuildCreate}, h.eventsOf(1))

	statuses := h.coordinator.Statuses()
	assert.Equal(t, ShardStatusConnected, statuses[0])
	assert.Equal(t, ShardStatusConnected, statuses[1])
}

func TestCoordinatorReadyTimeout(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, CoordinatorConfig{ShardCount: 1, ReadyTimeout: 50 * time.Millisecond})

	identifyShard(t, h.dialer.next(t), 1, 2)
	require.NoError(t, h.started(t))

	select {
	case <-h.coordinator.Ready():
	case <-time.After(testTimeout):
		t.Fatal("readiness did not time out")
	}

	assert.Equal(t, 2, h.coordinator.PendingGuilds(0))
}

func TestCoordinatorReadyWithoutGuilds(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, CoordinatorConfig{ShardCount: 1, ReadyTimeout: 10 * time.Second})

	identifyShard(t, h.dialer.next(t))
	require.NoError(t, h.started(t))

	select {
	case <-h.coordinator.Ready():
	case <-time.After(testTimeout):
		t.Fatal("coordinator never became ready")
	}
}

func TestCoordinatorFirstShardFatal(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, CoordinatorConfig{ShardCount: 4})

	conn := h.dialer.next(t)
	conn.hello(t, 10*time.Second)
	conn.expect(t, discord.GatewayOpIdentify)
	conn.fail(&CloseError{Code: discord.CloseAuthenticationFailed})

	err := h.started(t)

	var fatal *FatalError

	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, discord.CloseAuthenticationFailed, fatal.Code)

	h.dialer.none(t, 50*time.Millisecond)
	assert.EqualValues(t, 1, h.dialer.dials.Load(), "other shards are never started")
}

func TestCoordinatorFatalShardIsolated(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, CoordinatorConfig{ShardCount: 2, ReadyTimeout: 10 * time.Second})

	first := h.dialer.next(t)
	identifyShard(t, first)
	require.NoError(t, h.started(t))

	second := h.dialer.next(t)
	second.hello(t, 10*time.Second)
	second.expect(t, discord.GatewayOpIdentify)
	second.fail(&CloseError{Code: discord.CloseDisallowedIntents})

	select {
	case <-h.coordinator.Ready():
	case <-time.After(testTimeout):
		t.Fatal("failed shards must not hold back readiness")
	}

	require.Eventually(t, func() bool {
		return len(h.coordinator.Errors()) == 1
	}, testTimeout, time.Millisecond)

	h.mu.Lock()
	require.Len(t, h.fatal, 1)
	assert.Equal(t, int32(1), h.fatal[0].ShardID)
	h.mu.Unlock()

	assert.Equal(t, ShardStatusConnected, h.coordinator.Statuses()[0], "siblings keep running")

	select {
	case <-first.closed:
		t.Fatal("sibling connection was closed")
	default:
	}
}

func TestCoordinatorClose(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, CoordinatorConfig{ShardCount: 1})

	conn := h.dialer.next(t)
	identifyShard(t, conn)
	require.NoError(t, h.started(t))

	h.coordinator.Close()

	assert.Equal(t, discord.CloseNormalClosure, conn.waitClosed(t))
	assert.Equal(t, ShardStatusDisconnected, h.coordinator.Statuses()[0])
	assert.Empty(t, h.coordinator.Errors())
}

func TestCoordinatorShardIDs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  CoordinatorConfig
		want    []int32
		wantErr error
	}{
		{name: "all shards", config: CoordinatorConfig{ShardCount: 3}, want: []int32{0, 1, 2}},
		{name: "subset with duplicates", config: CoordinatorConfig{ShardCount: 4, ShardIDs: []int32{3, 1, 3}}, want: []int32{3, 1}},
		{name: "no shard count", config: CoordinatorConfig{}, wantErr: ErrInvalidShardCount},
		{name: "out of range", config: CoordinatorConfig{ShardCount: 2, ShardIDs: []int32{2}}, wantErr: ErrInvalidShardID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewShardCoordinator(zerolog.Nop(), tt.config, newFakeDialer(), instantGate(), Handlers{})

			shardIDs, err := c.shardIDs()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, shardIDs)
		})
	}
}

func TestCoordinatorStartTwice(t *testing.T) {
	t.Parallel()

	h := startCoordinator(t, CoordinatorConfig{ShardCount: 1})

	identifyShard(t, h.dialer.next(t))
	require.NoError(t, h.started(t))

	assert.ErrorIs(t, h.coordinator.Start(context.Background()), ErrCoordinatorStarted)
}
