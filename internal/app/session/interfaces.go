package session

import (
	"context"

	"github.com/CarlosFdez/SpueBox/internal/app/playback"
	"github.com/CarlosFdez/SpueBox/internal/domain/song"
)

// Transport opens voice connections.
type Transport interface {
	// Connect joins channelID and returns the live connection.
	Connect(ctx context.Context, channelID string) (Connection, error)
}

// Connection is a live voice connection.
type Connection interface {
	// Move switches the connection to another channel of the same guild.
	Move(ctx context.Context, channelID string) error

	// Disconnect leaves the voice channel. The connection is unusable afterwards.
	Disconnect(ctx context.Context) error

	// Play streams s at volume and blocks until it finishes, fails, or ctx
	// is cancelled. Cancellation is not an error.
	Play(ctx context.Context, s song.Song, volume int) error

	// RequestStop asks the current Play to return early. Must not block.
	RequestStop()

	// SetVolume changes the volume of the song being played.
	SetVolume(volume int)
}

// Notifier delivers announcements to a request's reply channel. Calls must
// not block; delivery failures are the notifier's own concern.
type Notifier interface {
	AnnounceNowPlaying(np playback.NowPlaying)
	AnnounceFailure(req song.Request, err error)
}

// QueueEntry is one line of a queue listing.
type QueueEntry struct {
	Title     string
	Requester string
}

// Status is a snapshot of a session.
type Status struct {
	GuildID string
	State   playback.ConnectionState
	Channel string
	Playing bool
	Mode    playback.Mode
	Volume  int
	Loop    bool
	Shuffle bool
	Queued  int
	Pending int
	Current *song.Request
}
