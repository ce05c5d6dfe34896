// Package track provides the Track entity: catalogue metadata for a song
// that still has to be matched to a playable source.
package track

import (
	"strings"
	"time"
)

// Track represents a Spotify track.
type Track struct {
	ID         string        // Spotify Track ID
	Name       string        // Track name
	Artists    []string      // Artist names
	Album      string        // Album name
	Duration   time.Duration // Track duration
	URL        string        // Spotify URL
	Explicit   bool          // Explicit content flag
	Markets    []string      // Available markets
	IsPlayable *bool         // Playable in the requested market (nil if market not specified)
}

// ArtistNames joins the artist names with commas.
func (t *Track) ArtistNames() string {
	return strings.Join(t.Artists, ", ")
}

// DisplayName returns "Artist - Name", or just the name when there are no artists.
func (t *Track) DisplayName() string {
	if len(t.Artists) == 0 {
		return t.Name
	}
	return t.ArtistNames() + " - " + t.Name
}

// SearchQuery returns the text used to find the track on a video site.
func (t *Track) SearchQuery() string {
	parts := make([]string, 0, 2)
	if len(t.Artists) > 0 {
		parts = append(parts, t.Artists[0])
	}
	if t.Name != "" {
		parts = append(parts, t.Name)
	}
	return strings.Join(parts, " ")
}

// IsAvailableInMarket checks if the track is available in the specified market.
func (t *Track) IsAvailableInMarket(market string) bool {
	// IsPlayable takes precedence (Track Relinking)
	if t.IsPlayable != nil {
		return *t.IsPlayable
	}

	for _, m := range t.Markets {
		if m == market {
			return true
		}
	}
	return false
}
