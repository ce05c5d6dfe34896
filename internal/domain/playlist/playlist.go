// Package playlist provides the Playlist entity.
package playlist

import (
	"time"

	"github.com/samber/lo"

	"github.com/CarlosFdez/SpueBox/internal/domain/track"
)

// Playlist represents a Spotify playlist.
type Playlist struct {
	ID     string        // Spotify Playlist ID
	Name   string        // Playlist name
	Owner  string        // Display name of the owner
	URL    string        // Spotify URL
	Tracks []track.Track // Tracks in playlist order
}

// Playable returns the tracks available in market, in playlist order.
// An empty market keeps every track.
func (p *Playlist) Playable(market string) []track.Track {
	if market == "" {
		return p.Tracks
	}
	return lo.Filter(p.Tracks, func(t track.Track, _ int) bool {
		return t.IsAvailableInMarket(market)
	})
}

// Head returns at most n tracks from the start of the playlist.
func (p *Playlist) Head(n int) []track.Track {
	if n <= 0 || n >= len(p.Tracks) {
		return p.Tracks
	}
	return p.Tracks[:n]
}

// TotalDuration returns the total duration of all tracks.
func (p *Playlist) TotalDuration() time.Duration {
	return lo.SumBy(p.Tracks, func(t track.Track) time.Duration {
		return t.Duration
	})
}
