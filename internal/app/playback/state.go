// Package playback provides the playback queue and the state types shared by sessions.
package playback

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ConnectionState represents the voice connection state of a session.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota // No voice connection
	StateConnecting                          // Connection attempt in flight
	StateConnected                           // Connected to a voice channel
)

// String returns the string representation of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Mode decides how a new request interacts with the queue.
type Mode int

const (
	ModeLinear Mode = iota // Append to the queue
	ModeSingle             // Replace the queue and skip the current song
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeLinear:
		return "linear"
	case ModeSingle:
		return "single"
	default:
		return "unknown"
	}
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear":
		return ModeLinear, nil
	case "single":
		return ModeSingle, nil
	default:
		return ModeLinear, errors.Newf("unknown play mode: %q", s)
	}
}
