package gateway

import "fmt"

// ShardStatus is the connection state of a single shard.
type ShardStatus int32

const (
	ShardStatusDisconnected ShardStatus = iota
	ShardStatusConnecting
	ShardStatusAwaitingHello
	ShardStatusIdentifying
	ShardStatusResuming
	ShardStatusConnected
	ShardStatusZombied
	ShardStatusReconnecting
)

func (status ShardStatus) String() string {
	if status < 0 || int(status) >= len(shardStatusNames) {
		return "Unknown"
	}

	return shardStatusNames[status]
}

func (status ShardStatus) MarshalText() ([]byte, error) {
	return []byte(status.String()), nil
}

func (status *ShardStatus) UnmarshalText(text []byte) error {
	for i, name := range shardStatusNames {
		if name == string(text) {
			*status = ShardStatus(i)

			return nil
		}
	}

	return fmt.Errorf("%w: %q", ErrUnknownShardStatus, text)
}

var shardStatusNames = []string{
	"Disconnected",
	"Connecting",
	"AwaitingHello",
	"Identifying",
	"Resuming",
	"Connected",
	"Zombied",
	"Reconnecting",
}
