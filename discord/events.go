package discord

// events.go contains the structures of the received events the transport
// itself needs to inspect. Every other dispatch is forwarded untouched.

// Dispatch event names the transport reacts to.
const (
	EventReady       = "READY"
	EventResumed     = "RESUMED"
	EventGuildCreate = "GUILD_CREATE"
)

// Hello represents a hello event when connecting.
type Hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// Ready represents when the client has completed the initial handshake.
type Ready struct {
	SessionID        string             `json:"session_id"`
	ResumeGatewayURL string             `json:"resume_gateway_url"`
	Guilds           []UnavailableGuild `json:"guilds"`
	Shard            []int32            `json:"shard,omitempty"`
	Version          int32              `json:"v"`
}

// UnavailableGuild represents a guild listed in READY that has not been
// streamed yet.
type UnavailableGuild struct {
	ID          Snowflake `json:"id"`
	Unavailable bool      `json:"unavailable"`
}

// GuildCreate is the part of a GUILD_CREATE dispatch used for readiness
// bookkeeping.
type GuildCreate struct {
	ID          Snowflake `json:"id"`
	Unavailable bool      `json:"unavailable"`
}

// InvalidSession represents the invalid session event.
type InvalidSession struct {
	Resumable bool
}
