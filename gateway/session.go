package gateway

import (
	"sync"
	"time"
)

// ShardSession holds the resumable state of one shard: the session id and
// sequence needed for RESUME, the heartbeat bookkeeping and the current
// status. It is owned by a single Shard and every access goes through its
// mutex, so the read loop and the heartbeat callback cannot interleave
// partial updates.
type ShardSession struct {
	mu sync.RWMutex

	shardID    int32
	shardCount int32

	sessionID   string
	sequence    int64
	hasSequence bool
	resumeURL   string

	heartbeatInterval time.Duration
	lastHeartbeatSent time.Time
	lastAckReceived   time.Time

	state ShardStatus
}

// SessionSnapshot is a point in time copy of a ShardSession.
type SessionSnapshot struct {
	LastHeartbeatSent time.Time     `json:"last_heartbeat_sent"`
	LastAckReceived   time.Time     `json:"last_heartbeat_ack"`
	SessionID         string        `json:"session_id,omitempty"`
	ResumeURL         string        `json:"resume_gateway_url,omitempty"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	Sequence          int64         `json:"sequence"`
	ShardID           int32         `json:"shard_id"`
	ShardCount        int32         `json:"shard_count"`
	State             ShardStatus   `json:"status"`
	HasSequence       bool          `json:"has_sequence"`
}

func NewShardSession(shardID, shardCount int32) *ShardSession {
	return &ShardSession{
		shardID:    shardID,
		shardCount: shardCount,
		state:      ShardStatusDisconnected,
	}
}

// Snapshot returns a copy of the session.
func (s *ShardSession) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SessionSnapshot{
		ShardID:           s.shardID,
		ShardCount:        s.shardCount,
		SessionID:         s.sessionID,
		Sequence:          s.sequence,
		HasSequence:       s.hasSequence,
		ResumeURL:         s.resumeURL,
		HeartbeatInterval: s.heartbeatInterval,
		LastHeartbeatSent: s.lastHeartbeatSent,
		LastAckReceived:   s.lastAckReceived,
		State:             s.state,
	}
}

// SetSequence records the sequence of the latest dispatch.
func (s *ShardSession) SetSequence(sequence int64) {
	s.mu.Lock()
	s.sequence = sequence
	s.hasSequence = true
	s.mu.Unlock()
}

// Sequence returns the last sequence and whether one was seen.
func (s *ShardSession) Sequence() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sequence, s.hasSequence
}

// SetSession stores the identifiers handed out in READY.
func (s *ShardSession) SetSession(sessionID, resumeURL string) {
	s.mu.Lock()
	s.sessionID = sessionID
	s.resumeURL = resumeURL
	s.mu.Unlock()
}

// Resume returns the values needed to send RESUME. ok is false unless both
// the session id and a sequence are present.
func (s *ShardSession) Resume() (sessionID string, sequence int64, resumeURL string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.sessionID == "" || !s.hasSequence {
		return "", 0, "", false
	}

	return s.sessionID, s.sequence, s.resumeURL, true
}

// CanResume reports whether a RESUME can be attempted.
func (s *ShardSession) CanResume() bool {
	_, _, _, ok := s.Resume()

	return ok
}

// Clear forgets the session so the next connection identifies.
func (s *ShardSession) Clear() {
	s.mu.Lock()
	s.sessionID = ""
	s.sequence = 0
	s.hasSequence = false
	s.resumeURL = ""
	s.mu.Unlock()
}

// StartHeartbeating records the interval from HELLO and resets the
// heartbeat timestamps of the previous connection.
func (s *ShardSession) StartHeartbeating(interval time.Duration) {
	s.mu.Lock()
	s.heartbeatInterval = interval
	s.lastHeartbeatSent = time.Time{}
	s.lastAckReceived = time.Time{}
	s.mu.Unlock()
}

func (s *ShardSession) MarkHeartbeatSent(now time.Time) {
	s.mu.Lock()
	s.lastHeartbeatSent = now
	s.mu.Unlock()
}

// MarkHeartbeatAck records an ack and returns the round trip of the
// heartbeat it acknowledges.
func (s *ShardSession) MarkHeartbeatAck(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastAckReceived = now

	if s.lastHeartbeatSent.IsZero() {
		return 0
	}

	return now.Sub(s.lastHeartbeatSent)
}

// HeartbeatUnacked reports whether the last heartbeat sent has not been
// acknowledged yet.
func (s *ShardSession) HeartbeatUnacked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return !s.lastHeartbeatSent.IsZero() && s.lastAckReceived.Before(s.lastHeartbeatSent)
}

// SetState changes the status and returns the previous one.
func (s *ShardSession) SetState(state ShardStatus) ShardStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.state
	s.state = state

	return previous
}

func (s *ShardSession) State() ShardStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}
