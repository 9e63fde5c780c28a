package gateway

import (
	"fmt"
	"strings"

	"github.com/WelcomerTeam/Sandwich-Transport/discord"
)

// CloseAction is what a shard does after the gateway closed it.
type CloseAction int

const (
	// CloseActionResume keeps the session and attempts to resume.
	CloseActionResume CloseAction = iota
	// CloseActionReidentify clears the session and identifies again.
	CloseActionReidentify
	// CloseActionFatal stops the shard and surfaces the error.
	CloseActionFatal
)

func (a CloseAction) String() string {
	switch a {
	case CloseActionResume:
		return "resume"
	case CloseActionReidentify:
		return "reidentify"
	case CloseActionFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ParseCloseAction parses the configuration name of an action.
func ParseCloseAction(value string) (CloseAction, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "resume":
		return CloseActionResume, nil
	case "reidentify", "identify":
		return CloseActionReidentify, nil
	case "fatal":
		return CloseActionFatal, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCloseAction, value)
	}
}

// CloseCodeTable classifies websocket close codes. Codes not present use the
// fallback action.
type CloseCodeTable struct {
	actions  map[int]CloseAction
	fallback CloseAction
}

// DefaultCloseCodeTable returns the classification of discord's documented
// close codes.
func DefaultCloseCodeTable() *CloseCodeTable {
	return &CloseCodeTable{
		actions: map[int]CloseAction{
			discord.CloseUnknownError:         CloseActionResume,
			discord.CloseUnknownOpCode:        CloseActionResume,
			discord.CloseDecodeError:          CloseActionResume,
			discord.CloseNotAuthenticated:     CloseActionResume,
			discord.CloseAlreadyAuthenticated: CloseActionResume,
			discord.CloseRateLimited:          CloseActionResume,
			discord.CloseAbnormalClosure:      CloseActionResume,

			discord.CloseInvalidSeq:     CloseActionReidentify,
			discord.CloseSessionTimeout: CloseActionReidentify,

			discord.CloseAuthenticationFailed: CloseActionFatal,
			discord.CloseInvalidShard:         CloseActionFatal,
			discord.CloseShardingRequired:     CloseActionFatal,
			discord.CloseInvalidAPIVersion:    CloseActionFatal,
			discord.CloseInvalidIntents:       CloseActionFatal,
			discord.CloseDisallowedIntents:    CloseActionFatal,
		},
		fallback: CloseActionResume,
	}
}

// NewCloseCodeTable returns the default table with overrides applied.
func NewCloseCodeTable(overrides map[int]CloseAction) *CloseCodeTable {
	table := DefaultCloseCodeTable()

	for code, action := range overrides {
		table.actions[code] = action
	}

	return table
}

// Classify returns the action for a close code.
func (t *CloseCodeTable) Classify(code int) CloseAction {
	if t == nil {
		return DefaultCloseCodeTable().Classify(code)
	}

	if action, ok := t.actions[code]; ok {
		return action
	}

	return t.fallback
}
