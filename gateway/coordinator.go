package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/WelcomerTeam/Sandwich-Transport/discord"
	"github.com/WelcomerTeam/Sandwich-Transport/sandwichjson"
	"github.com/rs/zerolog"
)

// Time without a new GUILD_CREATE after which a shard is considered ready
// even though some guilds from READY never arrived.
const ReadyTimeout = 5 * time.Second

// Handlers receive the output of a ShardCoordinator. Callbacks of one shard
// run in the order the shard produced them on a goroutine owned by that
// shard. Callbacks of different shards run concurrently. Nil callbacks are
// skipped.
type Handlers struct {
	OnEvent             func(shardID int32, eventName string, data sandwichjson.RawMessage)
	OnShardStatus       func(shardID int32, status ShardStatus)
	OnShardConnected    func(shardID int32, resumed bool)
	OnShardZombied      func(shardID int32)
	OnShardReconnecting func(shardID int32, resumable bool, err error)
	OnFatalError        func(err *FatalError)
	OnReady             func()
}

// CoordinatorConfig configures a ShardCoordinator. Shard is used as the
// template of every shard, its ShardID and ShardCount are ignored.
type CoordinatorConfig struct {
	Shard ShardConfig

	// Shards to run. Defaults to every shard of ShardCount.
	ShardIDs     []int32
	ShardCount   int32
	ReadyTimeout time.Duration
}

// ShardCoordinator runs a set of shards that share one identify gate and
// reports when all of them have received their initial guilds.
type ShardCoordinator struct {
	Logger zerolog.Logger

	config   CoordinatorConfig
	dialer   Dialer
	identify IdentifyGate
	handlers Handlers

	mu      sync.RWMutex
	shards  map[int32]*managedShard
	order   []int32
	started bool
	cancel  context.CancelFunc

	wg        sync.WaitGroup
	closeOnce sync.Once

	firstShard chan error

	readinessMu sync.Mutex
	readiness   map[int32]*shardReadiness

	ready     chan struct{}
	readyOnce sync.Once
}

type managedShard struct {
	shard   *Shard
	mailbox *mailbox
	done    chan struct{}
	err     error
}

type shardReadiness struct {
	pending    map[discord.Snowflake]struct{}
	timer      *time.Timer
	generation int
	seenReady  bool
	ready      bool
	fatal      bool
}

func NewShardCoordinator(logger zerolog.Logger, config CoordinatorConfig, dialer Dialer, identify IdentifyGate, handlers Handlers) *ShardCoordinator {
	if config.ReadyTimeout <= 0 {
		config.ReadyTimeout = ReadyTimeout
	}

	if dialer == nil {
		dialer = &WebsocketDialer{}
	}

	if identify == nil {
		identify = NewLocalIdentifyGate(1, IdentifyRateLimit)
	}

	return &ShardCoordinator{
		Logger:     logger,
		config:     config,
		dialer:     dialer,
		identify:   identify,
		handlers:   handlers,
		shards:     make(map[int32]*managedShard),
		firstShard: make(chan error, 1),
		readiness:  make(map[int32]*shardReadiness),
		ready:      make(chan struct{}),
	}
}

// Start creates the shards and connects them. The first shard must connect
// before the rest are started so a bad token fails once instead of once per
// shard. Start returns the first shard's fatal error, if any.
func (c *ShardCoordinator) Start(ctx context.Context) error {
	shardIDs, err := c.shardIDs()
	if err != nil {
		return err
	}

	c.mu.Lock()

	if c.started {
		c.mu.Unlock()

		return ErrCoordinatorStarted
	}

	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	for _, shardID := range shardIDs {
		config := c.config.Shard
		config.ShardID = shardID
		config.ShardCount = c.config.ShardCount

		logger := c.Logger.With().Int32("shardId", shardID).Logger()
		mb := newMailbox(logger)

		c.shards[shardID] = &managedShard{
			shard:   newShard(c.Logger, config, c.dialer, c.identify, &shardObserver{coordinator: c, mailbox: mb}),
			mailbox: mb,
			done:    make(chan struct{}),
		}
		c.readiness[shardID] = &shardReadiness{}
		c.order = append(c.order, shardID)
	}

	c.mu.Unlock()

	c.Logger.Info().Int("shards", len(shardIDs)).Int32("shardCount", c.config.ShardCount).Msg("Starting shards")

	c.run(runCtx, shardIDs[0])

	select {
	case err := <-c.firstShard:
		if err != nil {
			c.Close()

			return err
		}
	case <-ctx.Done():
		c.Close()

		return ctx.Err()
	}

	for _, shardID := range shardIDs[1:] {
		c.run(runCtx, shardID)
	}

	return nil
}

func (c *ShardCoordinator) shardIDs() ([]int32, error) {
	if c.config.ShardCount <= 0 {
		return nil, ErrInvalidShardCount
	}

	shardIDs := c.config.ShardIDs

	if len(shardIDs) == 0 {
		shardIDs = make([]int32, c.config.ShardCount)
		for i := range shardIDs {
			shardIDs[i] = int32(i)
		}
	}

	seen := make(map[int32]struct{}, len(shardIDs))
	unique := make([]int32, 0, len(shardIDs))

	for _, shardID := range shardIDs {
		if shardID < 0 || shardID >= c.config.ShardCount {
			return nil, fmt.Errorf("%w: %d of %d", ErrInvalidShardID, shardID, c.config.ShardCount)
		}

		if _, ok := seen[shardID]; ok {
			continue
		}

		seen[shardID] = struct{}{}
		unique = append(unique, shardID)
	}

	if len(unique) == 0 {
		return nil, ErrNoShards
	}

	return unique, nil
}

func (c *ShardCoordinator) run(ctx context.Context, shardID int32) {
	c.mu.RLock()
	ms := c.shards[shardID]
	c.mu.RUnlock()

	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		defer close(ms.done)

		ms.err = ms.shard.Run(ctx)
	}()
}

// Close stops every shard, closing their connections with a normal closure,
// and waits for their pending callbacks to run.
func (c *ShardCoordinator) Close() {
	c.closeOnce.Do(func() {
		c.mu.RLock()
		cancel := c.cancel
		shards := c.managed()
		c.mu.RUnlock()

		if cancel != nil {
			cancel()
		}

		c.wg.Wait()

		for _, ms := range shards {
			ms.mailbox.close()
		}

		c.readinessMu.Lock()
		for _, r := range c.readiness {
			if r.timer != nil {
				r.timer.Stop()
			}
		}
		c.readinessMu.Unlock()

		c.Logger.Info().Msg("Coordinator closed")
	})
}

// Wait blocks until every started shard has stopped.
func (c *ShardCoordinator) Wait() {
	c.wg.Wait()
}

// Ready is closed once every shard that did not fail has received the
// guilds listed in its READY.
func (c *ShardCoordinator) Ready() <-chan struct{} {
	return c.ready
}

// Shard returns a running shard.
func (c *ShardCoordinator) Shard(shardID int32) (*Shard, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ms, ok := c.shards[shardID]
	if !ok {
		return nil, false
	}

	return ms.shard, true
}

// ShardCount returns the total number of shards of the application.
func (c *ShardCoordinator) ShardCount() int32 {
	return c.config.ShardCount
}

// Statuses returns the status of every shard.
func (c *ShardCoordinator) Statuses() map[int32]ShardStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statuses := make(map[int32]ShardStatus, len(c.shards))

	for shardID, ms := range c.shards {
		statuses[shardID] = ms.shard.Status()
	}

	return statuses
}

// Errors returns the fatal errors of shards that have stopped.
func (c *ShardCoordinator) Errors() []error {
	c.mu.RLock()
	shards := c.managed()
	c.mu.RUnlock()

	var errs []error

	for _, ms := range shards {
		select {
		case <-ms.done:
			if ms.err != nil {
				errs = append(errs, ms.err)
			}
		default:
		}
	}

	return errs
}

// managed returns the shards in start order. c.mu must be held.
func (c *ShardCoordinator) managed() []*managedShard {
	shards := make([]*managedShard, 0, len(c.order))

	for _, shardID := range c.order {
		shards = append(shards, c.shards[shardID])
	}

	return shards
}

// IsShardReady reports whether a shard has received its initial guilds.
func (c *ShardCoordinator) IsShardReady(shardID int32) bool {
	c.readinessMu.Lock()
	defer c.readinessMu.Unlock()

	r, ok := c.readiness[shardID]

	return ok && r.ready
}

// PendingGuilds returns how many guilds from READY a shard is waiting for.
func (c *ShardCoordinator) PendingGuilds(shardID int32) int {
	c.readinessMu.Lock()
	defer c.readinessMu.Unlock()

	if r, ok := c.readiness[shardID]; ok {
		return len(r.pending)
	}

	return 0
}

func (c *ShardCoordinator) signalFirst(shardID int32, err error) {
	c.mu.RLock()
	first := len(c.order) > 0 && c.order[0] == shardID
	c.mu.RUnlock()

	if !first {
		return
	}

	select {
	case c.firstShard <- err:
	default:
	}
}

// trackReadiness runs on the shard's mailbox after its OnEvent callback.
func (c *ShardCoordinator) trackReadiness(sh *Shard, mb *mailbox, msg discord.GatewayPayload) {
	switch msg.Type {
	case discord.EventReady:
		var ready discord.Ready

		if err := sandwichjson.Unmarshal(msg.Data, &ready); err != nil {
			sh.Logger.Error().Err(err).Msg("Failed to decode ready")
		}

		c.readinessMu.Lock()

		r := c.readiness[sh.ShardID]
		if r == nil || r.ready {
			c.readinessMu.Unlock()

			return
		}

		r.seenReady = true
		r.pending = make(map[discord.Snowflake]struct{}, len(ready.Guilds))

		for _, guild := range ready.Guilds {
			r.pending[guild.ID] = struct{}{}
		}

		sh.Logger.Debug().Int("guilds", len(r.pending)).Msg("Waiting for guilds from ready")

		if len(r.pending) == 0 {
			c.markShardReady(sh, r)
		} else {
			c.resetReadyTimer(sh, mb, r)
		}

		c.readinessMu.Unlock()
	case discord.EventGuildCreate:
		var guild discord.GuildCreate

		if err := sandwichjson.Unmarshal(msg.Data, &guild); err != nil {
			return
		}

		c.readinessMu.Lock()

		r := c.readiness[sh.ShardID]
		if r == nil || !r.seenReady || r.ready {
			c.readinessMu.Unlock()

			return
		}

		delete(r.pending, guild.ID)

		if len(r.pending) == 0 {
			c.markShardReady(sh, r)
		} else {
			c.resetReadyTimer(sh, mb, r)
		}

		c.readinessMu.Unlock()
	default:
		return
	}

	c.checkReady()
}

// resetReadyTimer restarts the readiness timeout. c.readinessMu must be held.
func (c *ShardCoordinator) resetReadyTimer(sh *Shard, mb *mailbox, r *shardReadiness) {
	if r.timer != nil {
		r.timer.Stop()
	}

	r.generation++
	generation := r.generation

	r.timer = time.AfterFunc(c.config.ReadyTimeout, func() {
		mb.post(func() {
			c.readinessTimeout(sh, generation)
		})
	})
}

func (c *ShardCoordinator) readinessTimeout(sh *Shard, generation int) {
	c.readinessMu.Lock()

	r := c.readiness[sh.ShardID]
	if r == nil || r.ready || r.generation != generation {
		c.readinessMu.Unlock()

		return
	}

	sh.Logger.Warn().Int("unavailable", len(r.pending)).Msg("Timed out waiting for guilds, marking shard as ready")
	c.markShardReady(sh, r)

	c.readinessMu.Unlock()

	c.checkReady()
}

// markShardReady must be called with c.readinessMu held.
func (c *ShardCoordinator) markShardReady(sh *Shard, r *shardReadiness) {
	r.ready = true

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}

	sh.Logger.Info().Msg("Shard is ready")
}

func (c *ShardCoordinator) markFatal(shardID int32) {
	c.readinessMu.Lock()

	if r := c.readiness[shardID]; r != nil {
		r.fatal = true

		if r.timer != nil {
			r.timer.Stop()
		}
	}

	c.readinessMu.Unlock()

	c.checkReady()
}

// checkReady closes Ready once every shard that has not failed is ready.
func (c *ShardCoordinator) checkReady() {
	c.readinessMu.Lock()

	allReady := true
	anyReady := false

	for _, r := range c.readiness {
		if r.fatal {
			continue
		}

		if !r.ready {
			allReady = false

			break
		}

		anyReady = true
	}

	c.readinessMu.Unlock()

	if !allReady || !anyReady {
		return
	}

	c.readyOnce.Do(func() {
		c.Logger.Info().Msg("All shards are ready")
		close(c.ready)

		if c.handlers.OnReady != nil {
			c.handlers.OnReady()
		}
	})
}

// ReadyShards returns the ids of shards that are ready, in ascending order.
func (c *ShardCoordinator) ReadyShards() []int32 {
	c.readinessMu.Lock()
	defer c.readinessMu.Unlock()

	shardIDs := make([]int32, 0, len(c.readiness))

	for shardID, r := range c.readiness {
		if r.ready {
			shardIDs = append(shardIDs, shardID)
		}
	}

	sort.Slice(shardIDs, func(i, j int) bool { return shardIDs[i] < shardIDs[j] })

	return shardIDs
}

// shardObserver forwards the notifications of one shard onto its mailbox.
type shardObserver struct {
	coordinator *ShardCoordinator
	mailbox     *mailbox
}

func (o *shardObserver) shardStatus(sh *Shard, status ShardStatus) {
	handler := o.coordinator.handlers.OnShardStatus
	if handler == nil {
		return
	}

	o.mailbox.post(func() { handler(sh.ShardID, status) })
}

func (o *shardObserver) shardDispatch(sh *Shard, msg discord.GatewayPayload) {
	handler := o.coordinator.handlers.OnEvent

	o.mailbox.post(func() {
		if handler != nil {
			handler(sh.ShardID, msg.Type, msg.Data)
		}

		o.coordinator.trackReadiness(sh, o.mailbox, msg)
	})
}

func (o *shardObserver) shardConnected(sh *Shard, resumed bool) {
	o.coordinator.signalFirst(sh.ShardID, nil)

	if handler := o.coordinator.handlers.OnShardConnected; handler != nil {
		o.mailbox.post(func() { handler(sh.ShardID, resumed) })
	}
}

func (o *shardObserver) shardZombied(sh *Shard) {
	if handler := o.coordinator.handlers.OnShardZombied; handler != nil {
		o.mailbox.post(func() { handler(sh.ShardID) })
	}
}

func (o *shardObserver) shardReconnecting(sh *Shard, resumable bool, err error) {
	if handler := o.coordinator.handlers.OnShardReconnecting; handler != nil {
		o.mailbox.post(func() { handler(sh.ShardID, resumable, err) })
	}
}

func (o *shardObserver) shardFatal(sh *Shard, err *FatalError) {
	o.coordinator.signalFirst(sh.ShardID, err)

	handler := o.coordinator.handlers.OnFatalError

	o.mailbox.post(func() {
		if handler != nil {
			handler(err)
		}

		o.coordinator.markFatal(sh.ShardID)
	})
}
