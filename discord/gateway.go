package discord

import (
	"github.com/WelcomerTeam/Sandwich-Transport/sandwichjson"
)

// gateway.go contains the structures exchanged with discord's gateway.

// GatewayOp represents the operation codes of a gateway message.
type GatewayOp uint8

const (
	GatewayOpDispatch GatewayOp = iota
	GatewayOpHeartbeat
	GatewayOpIdentify
	GatewayOpStatusUpdate
	GatewayOpVoiceStateUpdate
	_
	GatewayOpResume
	GatewayOpReconnect
	GatewayOpRequestGuildMembers
	GatewayOpInvalidSession
	GatewayOpHello
	GatewayOpHeartbeatACK
)

func (op GatewayOp) String() string {
	switch op {
	case GatewayOpDispatch:
		return "DISPATCH"
	case GatewayOpHeartbeat:
		return "HEARTBEAT"
	case GatewayOpIdentify:
		return "IDENTIFY"
	case GatewayOpStatusUpdate:
		return "STATUS_UPDATE"
	case GatewayOpVoiceStateUpdate:
		return "VOICE_STATE_UPDATE"
	case GatewayOpResume:
		return "RESUME"
	case GatewayOpReconnect:
		return "RECONNECT"
	case GatewayOpRequestGuildMembers:
		return "REQUEST_GUILD_MEMBERS"
	case GatewayOpInvalidSession:
		return "INVALID_SESSION"
	case GatewayOpHello:
		return "HELLO"
	case GatewayOpHeartbeatACK:
		return "HEARTBEAT_ACK"
	default:
		return "UNKNOWN"
	}
}

// GatewayIntent represents a bitflag for intents.
type GatewayIntent uint32

const (
	IntentGuilds GatewayIntent = 1 << iota
	IntentGuildMembers
	IntentGuildBans
	IntentGuildEmojis
	IntentGuildIntegrations
	IntentGuildWebhooks
	IntentGuildInvites
	IntentGuildVoiceStates
	IntentGuildPresences
	IntentGuildMessages
	IntentGuildMessageReactions
	IntentGuildMessageTyping
	IntentDirectMessages
	IntentDirectMessageReactions
	IntentDirectMessageTyping
	IntentMessageContent
)

// Gateway close codes.
const (
	CloseUnknownError = 4000 + iota
	CloseUnknownOpCode
	CloseDecodeError
	CloseNotAuthenticated
	CloseAuthenticationFailed
	CloseAlreadyAuthenticated
	_
	CloseInvalidSeq
	CloseRateLimited
	CloseSessionTimeout
	CloseInvalidShard
	CloseShardingRequired
	CloseInvalidAPIVersion
	CloseInvalidIntents
	CloseDisallowedIntents
)

// Websocket close codes used outside of the 4000 range.
const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseAbnormalClosure = 1006
)

// GatewayPayload represents the base payload received from discord gateway.
// Sequence is only set on dispatches.
type GatewayPayload struct {
	Type     string                  `json:"t,omitempty"`
	Data     sandwichjson.RawMessage `json:"d"`
	Sequence int64                   `json:"s,omitempty"`
	Op       GatewayOp               `json:"op"`
}

// SentPayload represents the base payload we send to discords gateway.
type SentPayload struct {
	Data any       `json:"d"`
	Op   GatewayOp `json:"op"`
}

// Gateway Commands

// Identify represents the initial handshake with the gateway.
type Identify struct {
	Properties     *IdentifyProperties `json:"properties"`
	Presence       *UpdateStatus       `json:"presence,omitempty"`
	Token          string              `json:"token"`
	Shard          [2]int32            `json:"shard"`
	LargeThreshold int32               `json:"large_threshold,omitempty"`
	Intents        int32               `json:"intents"`
	Compress       bool                `json:"compress"`
}

// IdentifyProperties are the extra properties sent in the identify packet.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Resume resumes a dropped gateway connection.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

// Heartbeat represents the heartbeat packet. A nil value is sent as null
// before the first dispatch.
type Heartbeat *int64

// UpdateStatus updates a client's presence.
type UpdateStatus struct {
	Status     string      `json:"status"`
	Activities []*Activity `json:"activities"`
	Since      int64       `json:"since,omitempty"`
	AFK        bool        `json:"afk"`
}

// Activity represents an activity shown in a presence.
type Activity struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Type int32  `json:"type"`
}
