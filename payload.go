package sandwich

import (
	"github.com/WelcomerTeam/Sandwich-Transport/discord"
	"github.com/WelcomerTeam/Sandwich-Transport/gateway"
	"github.com/WelcomerTeam/Sandwich-Transport/sandwichjson"
)

// Events produced by sandwich itself rather than discord.
const (
	SandwichEventShardStatusUpdate = "SANDWICH_SHARD_STATUS_UPDATE"
	SandwichEventShardFatal        = "SANDWICH_SHARD_FATAL"
	SandwichEventReady             = "SANDWICH_READY"
)

type SandwichMetadata struct {
	Version    string `json:"v"`
	Identifier string `json:"i"`
	// Node ID, Shard ID, Shard Count
	Shard [3]int32 `json:"s"`
}

// SandwichPayload represents the data that is sent to consumers.
type SandwichPayload struct {
	Metadata SandwichMetadata        `json:"__sandwich"`
	Type     string                  `json:"t"`
	Data     sandwichjson.RawMessage `json:"d"`
	Op       discord.GatewayOp       `json:"op"`
}

type ShardStatusUpdate struct {
	Identifier string              `json:"identifier"`
	Error      string              `json:"error,omitempty"`
	Shard      int32               `json:"shard_id"`
	Status     gateway.ShardStatus `json:"status"`
	Resumable  bool                `json:"resumable,omitempty"`
}
