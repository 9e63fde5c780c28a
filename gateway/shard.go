package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/WelcomerTeam/Sandwich-Transport/discord"
	"github.com/WelcomerTeam/Sandwich-Transport/internal/analytics"
	"github.com/WelcomerTeam/Sandwich-Transport/pkg/backoff"
	"github.com/WelcomerTeam/Sandwich-Transport/pkg/limiter"
	"github.com/WelcomerTeam/Sandwich-Transport/sandwichjson"
	"github.com/rs/zerolog"
	gotils_strconv "github.com/savsgio/gotils/strconv"
	"go.uber.org/atomic"
)

const (
	WebsocketReconnectCloseCode = 4000

	MessageChannelBuffer = 64

	// We use 110 to leave room for heartbeats within discord's limit of 120
	// commands a minute.
	ShardWSRateLimit  = 110
	ShardWSRateWindow = time.Minute

	GatewayLargeThreshold = 250
	GatewayVersion        = 10

	DefaultGatewayURL = "wss://gateway.discord.gg"

	HelloTimeout = 20 * time.Second
)

const VERSION = "1.0.0"

// BackoffConfig configures reconnect delays.
type BackoffConfig struct {
	Base            time.Duration
	Cap             time.Duration
	StabilityWindow time.Duration
}

// ShardConfig configures a single shard.
type ShardConfig struct {
	Presence   *discord.UpdateStatus
	CloseCodes *CloseCodeTable

	Token      string
	GatewayURL string
	Identifier string

	Backoff BackoffConfig

	HelloTimeout      time.Duration
	CommandRateWindow time.Duration

	ShardID           int32
	ShardCount        int32
	Intents           int32
	LargeThreshold    int32
	CommandRateLimit  int32
	HeartbeatAckGrace int32

	Compress bool
}

// observer receives lifecycle notifications of a shard. Calls are made from
// the shard's own goroutines and must not block.
type observer interface {
	shardStatus(sh *Shard, status ShardStatus)
	shardDispatch(sh *Shard, payload discord.GatewayPayload)
	shardConnected(sh *Shard, resumed bool)
	shardZombied(sh *Shard)
	shardReconnecting(sh *Shard, resumable bool, err error)
	shardFatal(sh *Shard, err *FatalError)
}

// Shard is a single gateway connection. It dials, identifies or resumes,
// heartbeats and reconnects until it is stopped or closed with a fatal code.
type Shard struct {
	Logger zerolog.Logger

	ShardID    int32
	ShardCount int32

	config   ShardConfig
	dialer   Dialer
	identify IdentifyGate
	observer observer

	session        *ShardSession
	backoff        *backoff.Policy
	heartbeater    *Heartbeater
	commandLimiter *limiter.DurationLimiter
	jitter         func() float64

	connMu sync.RWMutex
	conn   Conn

	writeMu sync.Mutex

	zombieCh    chan struct{}
	missedAcks  *atomic.Int32
	latency     *atomic.Duration
	connectedAt *atomic.Time
}

type frame struct {
	err     error
	payload discord.GatewayPayload
}

// connResult describes why a connection ended.
type connResult struct {
	err    error
	action CloseAction
	code   int
}

func newShard(logger zerolog.Logger, config ShardConfig, dialer Dialer, identify IdentifyGate, obs observer) *Shard {
	if config.GatewayURL == "" {
		config.GatewayURL = DefaultGatewayURL
	}

	if config.HelloTimeout <= 0 {
		config.HelloTimeout = HelloTimeout
	}

	if config.CommandRateLimit <= 0 {
		config.CommandRateLimit = ShardWSRateLimit
	}

	if config.CommandRateWindow <= 0 {
		config.CommandRateWindow = ShardWSRateWindow
	}

	if config.CloseCodes == nil {
		config.CloseCodes = DefaultCloseCodeTable()
	}

	if config.Backoff.StabilityWindow <= 0 {
		config.Backoff.StabilityWindow = backoff.DefaultStabilityWindow
	}

	if obs == nil {
		obs = noopObserver{}
	}

	sh := &Shard{
		Logger: logger.With().Int32("shardId", config.ShardID).Logger(),

		ShardID:    config.ShardID,
		ShardCount: config.ShardCount,

		config:   config,
		dialer:   dialer,
		identify: identify,
		observer: obs,

		session: NewShardSession(config.ShardID, config.ShardCount),
		backoff: backoff.NewPolicy(config.Backoff.Base, config.Backoff.Cap),
		commandLimiter: limiter.NewDurationLimiter(
			"gateway:"+strconv.Itoa(int(config.ShardID)),
			config.CommandRateLimit,
			config.CommandRateWindow,
		),
		jitter: rand.Float64,

		zombieCh:    make(chan struct{}, 1),
		missedAcks:  atomic.NewInt32(0),
		latency:     atomic.NewDuration(0),
		connectedAt: &atomic.Time{},
	}

	sh.heartbeater = NewHeartbeater(sh.heartbeat)

	return sh
}

// Run connects the shard and keeps it connected until ctx is done or the
// gateway closes it with a fatal code. It returns nil once ctx is done and a
// *FatalError otherwise.
func (sh *Shard) Run(ctx context.Context) error {
	sh.Logger.Debug().Msg("Started listening to shard")

	for {
		result := sh.connect(ctx)

		if ctx.Err() != nil {
			sh.stopped()

			return nil
		}

		switch result.action {
		case CloseActionFatal:
			sh.session.Clear()
			sh.setStatus(ShardStatusDisconnected)

			fatal := &FatalError{ShardID: sh.ShardID, Code: result.code, Err: result.err}

			sh.Logger.Error().Err(result.err).Int("code", result.code).Msg("Shard received fatal closure code")
			sh.observer.shardFatal(sh, fatal)

			return fatal
		case CloseActionReidentify:
			sh.session.Clear()
		case CloseActionResume:
		}

		resumable := sh.session.CanResume()

		sh.setStatus(ShardStatusReconnecting)
		analytics.RecordReconnect(sh.config.Identifier, resumable)
		sh.observer.shardReconnecting(sh, resumable, result.err)

		// Only a connection that stayed up resets the backoff.
		connectedAt := sh.connectedAt.Load()
		sh.connectedAt.Store(time.Time{})

		if !connectedAt.IsZero() && time.Since(connectedAt) >= sh.config.Backoff.StabilityWindow {
			sh.backoff.Reset()
		}

		wait := sh.backoff.Next()

		sh.Logger.Warn().
			Err(result.err).
			Bool("resumable", resumable).
			Dur("retry", wait).
			Msg("Reconnecting to gateway")

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			sh.stopped()

			return nil
		case <-timer.C:
		}
	}
}

func (sh *Shard) stopped() {
	sh.Logger.Info().Msg("Shard stopped")

	sh.session.Clear()
	sh.setStatus(ShardStatusDisconnected)
}

// connect runs a single connection from dialing until it ends.
func (sh *Shard) connect(ctx context.Context) connResult {
	sh.setStatus(ShardStatusConnecting)

	gatewayURL := sh.config.GatewayURL
	if _, _, resumeURL, ok := sh.session.Resume(); ok && resumeURL != "" {
		gatewayURL = resumeURL
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sh.Logger.Debug().Str("url", gatewayURL).Msg("Connecting shard")

	conn, err := sh.dialer.Dial(connCtx, formatGatewayURL(gatewayURL))
	if err != nil {
		sh.Logger.Error().Err(err).Msg("Failed to dial gateway")

		return connResult{action: CloseActionResume, err: err}
	}

	sh.connMu.Lock()
	sh.conn = conn
	sh.connMu.Unlock()

	frames := make(chan frame, MessageChannelBuffer)
	readerDone := make(chan struct{})

	go sh.feed(connCtx, conn, frames, readerDone)

	defer func() {
		sh.heartbeater.Stop()

		code := WebsocketReconnectCloseCode
		if ctx.Err() != nil {
			code = discord.CloseNormalClosure
		}

		sh.closeConn(conn, code)
		cancel()
		<-readerDone
	}()

	sh.setStatus(ShardStatusAwaitingHello)

	helloTimer := time.NewTimer(sh.config.HelloTimeout)
	defer helloTimer.Stop()

	var hello frame

	select {
	case <-ctx.Done():
		return connResult{err: ctx.Err()}
	case <-helloTimer.C:
		return connResult{action: CloseActionResume, err: ErrHelloTimeout}
	case hello = <-frames:
	}

	if hello.err != nil {
		return sh.closeResult(hello.err)
	}

	if hello.payload.Op != discord.GatewayOpHello {
		return connResult{
			action: CloseActionResume,
			err:    fmt.Errorf("%w: received %s", ErrExpectedHello, hello.payload.Op),
		}
	}

	if err := sh.onHello(connCtx, hello.payload); err != nil {
		return connResult{action: CloseActionResume, err: err}
	}

	identifyCh, err := sh.beginSession(connCtx)
	if err != nil {
		return connResult{action: CloseActionResume, err: err}
	}

	for {
		select {
		case <-ctx.Done():
			return connResult{err: ctx.Err()}
		case <-sh.zombieCh:
			sh.setStatus(ShardStatusZombied)
			sh.observer.shardZombied(sh)

			return connResult{action: CloseActionResume, err: ErrZombied}
		case err := <-identifyCh:
			identifyCh = nil

			if err != nil {
				return connResult{action: CloseActionResume, err: fmt.Errorf("failed to wait for identify: %w", err)}
			}

			sh.Logger.Debug().Msg("Wait for identify completed")

			if err := sh.sendIdentify(connCtx); err != nil {
				return connResult{action: CloseActionResume, err: fmt.Errorf("failed to identify: %w", err)}
			}
		case msg := <-frames:
			if msg.err != nil {
				return sh.closeResult(msg.err)
			}

			if result, done := sh.onFrame(connCtx, msg.payload); done {
				return result
			}
		}
	}
}

// beginSession sends RESUME when the session can be resumed. Otherwise the
// session is cleared and the returned channel yields once an identify slot
// was acquired.
func (sh *Shard) beginSession(ctx context.Context) (<-chan error, error) {
	if sessionID, sequence, _, ok := sh.session.Resume(); ok {
		sh.setStatus(ShardStatusResuming)

		if err := sh.sendResume(ctx, sessionID, sequence); err != nil {
			return nil, fmt.Errorf("failed to resume: %w", err)
		}

		return nil, nil
	}

	sh.session.Clear()
	sh.setStatus(ShardStatusIdentifying)

	identifyCh := make(chan error, 1)

	go func() {
		start := time.Now()
		err := sh.identify.Acquire(ctx, sh.ShardID)

		analytics.ObserveIdentifyWait(sh.config.Identifier, time.Since(start))

		identifyCh <- err
	}()

	return identifyCh, nil
}

// feed reads websocket frames and forwards them in order until the
// connection fails or ctx is done.
func (sh *Shard) feed(ctx context.Context, conn Conn, frames chan<- frame, done chan<- struct{}) {
	defer close(done)

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			select {
			case frames <- frame{err: err}:
			case <-ctx.Done():
			}

			return
		}

		sh.Logger.Trace().Msg(">>> " + gotils_strconv.B2S(data))

		var payload discord.GatewayPayload

		if err := sandwichjson.Unmarshal(data, &payload); err != nil {
			sh.Logger.Error().Err(err).Msg("Failed to unmarshal message")

			continue
		}

		select {
		case frames <- frame{payload: payload}:
		case <-ctx.Done():
			return
		}
	}
}

func (sh *Shard) closeResult(err error) connResult {
	var closeError *CloseError

	if errors.As(err, &closeError) {
		action := sh.config.CloseCodes.Classify(closeError.Code)

		sh.Logger.Warn().
			Int("code", closeError.Code).
			Str("reason", closeError.Reason).
			Str("action", action.String()).
			Msg("Websocket was closed")

		return connResult{action: action, code: closeError.Code, err: err}
	}

	if errors.Is(err, context.Canceled) {
		return connResult{action: CloseActionResume, err: err}
	}

	sh.Logger.Error().Err(err).Msg("Error reading from gateway")

	return connResult{action: CloseActionResume, code: discord.CloseAbnormalClosure, err: err}
}

// heartbeat is called by the Heartbeater on every tick.
func (sh *Shard) heartbeat(ctx context.Context) bool {
	if sh.session.HeartbeatUnacked() {
		if missed := sh.missedAcks.Inc(); missed > sh.config.HeartbeatAckGrace {
			sh.Logger.Warn().Int32("missed", missed).Msg("Failed to ack heartbeat, connection is zombied")

			select {
			case sh.zombieCh <- struct{}{}:
			default:
			}

			return false
		}
	}

	if err := sh.sendHeartbeat(ctx, true); err != nil {
		if ctx.Err() != nil {
			return false
		}

		sh.Logger.Warn().Err(err).Msg("Failed to heartbeat")
	}

	return true
}

// sendHeartbeat writes a heartbeat. Only scheduled heartbeats count towards
// zombie detection, replies to a server request do not.
func (sh *Shard) sendHeartbeat(ctx context.Context, scheduled bool) error {
	var seq discord.Heartbeat

	if sequence, ok := sh.session.Sequence(); ok {
		seq = &sequence
	}

	// Marked before writing so a fast ack is never older than the send.
	if scheduled {
		sh.session.MarkHeartbeatSent(time.Now())
	}

	return sh.SendEvent(ctx, discord.GatewayOpHeartbeat, seq)
}

func (sh *Shard) sendIdentify(ctx context.Context) error {
	sh.Logger.Debug().Msg("Sending identify")

	largeThreshold := sh.config.LargeThreshold
	if largeThreshold <= 0 {
		largeThreshold = GatewayLargeThreshold
	}

	return sh.SendEvent(ctx, discord.GatewayOpIdentify, discord.Identify{
		Token: sh.config.Token,
		Properties: &discord.IdentifyProperties{
			OS:      runtime.GOOS,
			Browser: "Sandwich " + VERSION,
			Device:  "Sandwich " + VERSION,
		},
		Compress:       sh.config.Compress,
		LargeThreshold: largeThreshold,
		Shard:          [2]int32{sh.ShardID, sh.ShardCount},
		Presence:       sh.config.Presence,
		Intents:        sh.config.Intents,
	})
}

func (sh *Shard) sendResume(ctx context.Context, sessionID string, sequence int64) error {
	sh.Logger.Debug().Int64("sequence", sequence).Msg("Sending resume")

	return sh.SendEvent(ctx, discord.GatewayOpResume, discord.Resume{
		Token:     sh.config.Token,
		SessionID: sessionID,
		Sequence:  sequence,
	})
}

// UpdatePresence changes the presence of this shard.
func (sh *Shard) UpdatePresence(ctx context.Context, status *discord.UpdateStatus) error {
	return sh.SendEvent(ctx, discord.GatewayOpStatusUpdate, status)
}

// SendEvent sends an event to discord. Everything except heartbeats is
// subject to the per shard command limit.
func (sh *Shard) SendEvent(ctx context.Context, op discord.GatewayOp, data any) error {
	err := sh.writeJSON(ctx, op, discord.SentPayload{Op: op, Data: data})
	if err != nil {
		return fmt.Errorf("sendEvent writeJson: %w", err)
	}

	return nil
}

func (sh *Shard) writeJSON(ctx context.Context, op discord.GatewayOp, i any) error {
	res, err := sandwichjson.Marshal(i)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	if op != discord.GatewayOpHeartbeat {
		if err := sh.commandLimiter.Wait(ctx); err != nil {
			return err
		}
	}

	sh.connMu.RLock()
	conn := sh.conn
	sh.connMu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	if op != discord.GatewayOpIdentify && op != discord.GatewayOpResume {
		sh.Logger.Trace().Msg("<<< " + gotils_strconv.B2S(res))
	}

	sh.writeMu.Lock()
	defer sh.writeMu.Unlock()

	if err := conn.Write(ctx, res); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

func (sh *Shard) closeConn(conn Conn, code int) {
	sh.connMu.Lock()
	if sh.conn == conn {
		sh.conn = nil
	}
	sh.connMu.Unlock()

	sh.Logger.Debug().Int("code", code).Msg("Closing websocket connection")

	if err := conn.Close(code, ""); err != nil && !errors.Is(err, context.Canceled) {
		sh.Logger.Debug().Err(err).Msg("Encountered error closing websocket")
	}
}

func (sh *Shard) markConnected(resumed bool) {
	sh.connectedAt.Store(time.Now())
	sh.setStatus(ShardStatusConnected)

	sh.Logger.Info().Bool("resumed", resumed).Msg("Shard connected")
	sh.observer.shardConnected(sh, resumed)
}

func (sh *Shard) setStatus(status ShardStatus) {
	if previous := sh.session.SetState(status); previous == status {
		return
	}

	sh.Logger.Debug().Str("status", status.String()).Msg("Shard status changed")

	analytics.UpdateShardStatus(sh.config.Identifier, sh.ShardID, int32(status))
	sh.observer.shardStatus(sh, status)
}

// Status returns the current status of the shard.
func (sh *Shard) Status() ShardStatus {
	return sh.session.State()
}

// Session returns a copy of the shard's session.
func (sh *Shard) Session() SessionSnapshot {
	return sh.session.Snapshot()
}

// Latency returns the round trip of the last acknowledged heartbeat.
func (sh *Shard) Latency() time.Duration {
	return sh.latency.Load()
}

// decodeContent converts the stored msg into the passed interface.
func (sh *Shard) decodeContent(msg discord.GatewayPayload, out any) error {
	err := sandwichjson.Unmarshal(msg.Data, out)
	if err != nil {
		sh.Logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to decode event")

		return err
	}

	return nil
}

// formatGatewayURL adds the version and encoding to a gateway URL.
func formatGatewayURL(gatewayURL string) string {
	u, err := url.Parse(gatewayURL)
	if err != nil {
		return gatewayURL
	}

	query := u.Query()

	if query.Get("v") == "" {
		query.Set("v", strconv.Itoa(GatewayVersion))
	}

	if query.Get("encoding") == "" {
		query.Set("encoding", "json")
	}

	u.RawQuery = query.Encode()

	return u.String()
}

type noopObserver struct{}

func (noopObserver) shardStatus(*Shard, ShardStatus)              {}
func (noopObserver) shardDispatch(*Shard, discord.GatewayPayload) {}
func (noopObserver) shardConnected(*Shard, bool)                  {}
func (noopObserver) shardZombied(*Shard)                          {}
func (noopObserver) shardReconnecting(*Shard, bool, error)        {}
func (noopObserver) shardFatal(*Shard, *FatalError)               {}
