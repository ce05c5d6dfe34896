// Package resolver turns user lookups (URLs or search text) into playable
// songs through an ordered chain of providers.
package resolver

import (
	"context"
	"net/url"
	"strings"

	"github.com/CarlosFdez/SpueBox/internal/domain/song"
)

// Resolver produces playable songs from a lookup. Errors are marked with
// playback.ErrResolution.
type Resolver interface {
	// ResolveOne returns a single song. Playlist URLs yield their first entry.
	ResolveOne(ctx context.Context, lookup string) (song.Song, error)
	// ResolveMany returns every song of a playlist, or a single song for
	// anything else.
	ResolveMany(ctx context.Context, lookup string) ([]song.Song, error)
}

// Provider is one lookup strategy in a Chain.
type Provider interface {
	Resolver

	// Supports reports whether the provider can handle lookup at all.
	Supports(lookup string) bool

	// Name returns the provider type (used in config and metrics).
	Name() string
}

// isURL reports whether lookup is an absolute http(s) URL.
func isURL(lookup string) bool {
	u, err := url.Parse(strings.TrimSpace(lookup))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
