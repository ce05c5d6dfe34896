package playback

import "github.com/CarlosFdez/SpueBox/internal/domain/song"

// EventType represents a session event type.
type EventType int

const (
	EventSongStarted    EventType = iota // A request began playing
	EventSongFinished                    // A request finished (naturally or skipped)
	EventSongFailed                      // A request failed to play
	EventQueueExhausted                  // The playback loop ran out of work
	EventConnected                       // Connected or moved to a channel
	EventDisconnected                    // Voice connection closed
	EventIdleTimeout                     // Idle timer fired
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventSongStarted:
		return "song_started"
	case EventSongFinished:
		return "song_finished"
	case EventSongFailed:
		return "song_failed"
	case EventQueueExhausted:
		return "queue_exhausted"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventIdleTimeout:
		return "idle_timeout"
	default:
		return "unknown"
	}
}

// Event represents a session event.
type Event struct {
	Type    EventType
	GuildID string
	Channel string        // Voice channel, empty when disconnected
	Request *song.Request // Request involved (nil for connection events)
	Err     error         // Set for EventSongFailed
}
