// Package conversation holds the tutor's ordered turn log and the latency
// statistics that are reset with it.
package conversation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role tags the author of a Turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole maps a wire role name to a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleSystem, RoleUser, RoleAssistant:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Turn is one role-tagged message. It is a value type; copies never alias.
type Turn struct {
	Role    Role
	Content string
}

// ErrSystemTurn is returned when a system turn is appended after the directive.
var ErrSystemTurn = errors.New("conversation: only the first turn may be a system turn")

// Snapshot is an immutable copy of a conversation at a point in time.
type Snapshot struct {
	turns []Turn
	epoch uint64
}

// NewSnapshot builds a snapshot from turns. If the first turn is not a system
// turn, one carrying directive is prepended.
func NewSnapshot(directive string, turns []Turn) (Snapshot, error) {
	out := make([]Turn, 0, len(turns)+1)
	if len(turns) == 0 || turns[0].Role != RoleSystem {
		out = append(out, Turn{Role: RoleSystem, Content: directive})
	}
	for i, t := range turns {
		if t.Role == RoleSystem && i > 0 {
			return Snapshot{}, ErrSystemTurn
		}
		out = append(out, t)
	}
	return Snapshot{turns: out}, nil
}

// Turns returns a copy of the turns in order.
func (s Snapshot) Turns() []Turn {
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len is the number of turns.
func (s Snapshot) Len() int { return len(s.turns) }

// Epoch identifies the conversation generation the snapshot was taken from.
func (s Snapshot) Epoch() uint64 { return s.epoch }

// Last returns the final turn, if any.
func (s Snapshot) Last() (Turn, bool) {
	if len(s.turns) == 0 {
		return Turn{}, false
	}
	return s.turns[len(s.turns)-1], true
}

// With returns a new snapshot with t appended. s is left untouched.
func (s Snapshot) With(t Turn) Snapshot {
	out := make([]Turn, len(s.turns), len(s.turns)+1)
	copy(out, s.turns)
	return Snapshot{turns: append(out, t), epoch: s.epoch}
}

// State is the live conversation plus its statistics. It is owned by a single
// goroutine (the UI loop) and does no locking.
type State struct {
	directive string
	turns     []Turn
	stats     Stats
	epoch     uint64
}

// New creates a conversation holding only the system directive.
func New(directive string) *State {
	s := &State{directive: directive}
	s.turns = []Turn{{Role: RoleSystem, Content: directive}}
	return s
}

// Append adds a user or assistant turn.
func (s *State) Append(t Turn) error {
	switch t.Role {
	case RoleUser, RoleAssistant:
	case RoleSystem:
		return ErrSystemTurn
	default:
		return fmt.Errorf("unknown role %q", t.Role)
	}
	s.turns = append(s.turns, t)
	return nil
}

// Reset restores the directive-only conversation, zeroes the statistics and
// starts a new epoch.
func (s *State) Reset() {
	s.turns = []Turn{{Role: RoleSystem, Content: s.directive}}
	s.stats = Stats{}
	s.epoch++
}

// Snapshot returns an immutable copy of the current conversation.
func (s *State) Snapshot() Snapshot {
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return Snapshot{turns: out, epoch: s.epoch}
}

// Len is the number of turns, including the directive.
func (s *State) Len() int { return len(s.turns) }

// Epoch increases on every Reset.
func (s *State) Epoch() uint64 { return s.epoch }

// Directive is the configured system turn content.
func (s *State) Directive() string { return s.directive }

// Stats returns the current statistics.
func (s *State) Stats() Stats { return s.stats }

// RecordLatency counts one completed response.
func (s *State) RecordLatency(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.stats.MessageCount++
	s.stats.TotalLatency += d
	s.stats.LastLatency = d
}

// Stats accumulates response latencies since the last reset.
type Stats struct {
	MessageCount int
	TotalLatency time.Duration
	LastLatency  time.Duration
}

// Average is TotalLatency / MessageCount, or 0 when nothing was recorded.
func (s Stats) Average() time.Duration {
	if s.MessageCount == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.MessageCount)
}

// String renders the stats line shown under the chat.
func (s Stats) String() string {
	if s.MessageCount == 0 {
		return "Messages: 0"
	}
	return fmt.Sprintf("Messages: %d | Last: %.2fs | Avg: %.2fs",
		s.MessageCount, s.LastLatency.Seconds(), s.Average().Seconds())
}
