package gateway

import (
	"context"
	"time"

	"github.com/WelcomerTeam/Sandwich-Transport/discord"
	"github.com/WelcomerTeam/Sandwich-Transport/internal/analytics"
)

func (sh *Shard) onHello(ctx context.Context, msg discord.GatewayPayload) error {
	var hello discord.Hello

	if err := sh.decodeContent(msg, &hello); err != nil {
		return err
	}

	if hello.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}

	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond

	sh.session.StartHeartbeating(interval)
	sh.missedAcks.Store(0)

	// Drop a zombie signal left over from the previous connection.
	select {
	case <-sh.zombieCh:
	default:
	}

	sh.heartbeater.Start(ctx, interval, sh.jitter())

	sh.Logger.Debug().Dur("interval", interval).Msg("Received HELLO event")

	return nil
}

// onFrame handles a single gateway frame. done is true when the connection
// must be closed.
func (sh *Shard) onFrame(ctx context.Context, msg discord.GatewayPayload) (result connResult, done bool) {
	switch msg.Op {
	case discord.GatewayOpDispatch:
		sh.onDispatch(msg)
	case discord.GatewayOpHeartbeat:
		sh.Logger.Debug().Msg("Received heartbeat request")

		if err := sh.sendHeartbeat(ctx, false); err != nil {
			sh.Logger.Warn().Err(err).Msg("Failed to send requested heartbeat")
		}
	case discord.GatewayOpReconnect:
		sh.Logger.Info().Msg("Reconnecting in response to gateway")

		return connResult{action: CloseActionResume, err: ErrReconnectRequested}, true
	case discord.GatewayOpInvalidSession:
		var resumable bool

		if err := sh.decodeContent(msg, &resumable); err != nil {
			resumable = false
		}

		sh.Logger.Warn().Bool("resumable", resumable).Msg("Received invalid session from gateway")

		if resumable {
			return connResult{action: CloseActionResume, err: ErrSessionInvalidated}, true
		}

		return connResult{action: CloseActionReidentify, err: ErrSessionInvalidated}, true
	case discord.GatewayOpHello:
		sh.Logger.Warn().Msg("Received unexpected hello")
	case discord.GatewayOpHeartbeatACK:
		latency := sh.session.MarkHeartbeatAck(time.Now())

		sh.missedAcks.Store(0)
		sh.latency.Store(latency)

		analytics.UpdateGatewayLatency(sh.config.Identifier, sh.ShardID, latency)

		sh.Logger.Trace().Dur("latency", latency).Msg("Received heartbeat ack")
	default:
		sh.Logger.Warn().Int("op", int(msg.Op)).Str("type", msg.Type).Msg("Gateway sent unknown packet")
	}

	return connResult{}, false
}

func (sh *Shard) onDispatch(msg discord.GatewayPayload) {
	sh.session.SetSequence(msg.Sequence)

	analytics.RecordEvent(sh.config.Identifier, msg.Type)

	switch msg.Type {
	case discord.EventReady:
		var ready discord.Ready

		if err := sh.decodeContent(msg, &ready); err == nil {
			sh.session.SetSession(ready.SessionID, ready.ResumeGatewayURL)
		}

		sh.markConnected(false)
	case discord.EventResumed:
		sh.markConnected(true)
	}

	sh.observer.shardDispatch(sh, msg)
}
