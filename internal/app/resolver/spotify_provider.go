package resolver

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/CarlosFdez/SpueBox/internal/domain/playlist"
	"github.com/CarlosFdez/SpueBox/internal/domain/song"
	"github.com/CarlosFdez/SpueBox/internal/domain/track"
	spotifyclient "github.com/CarlosFdez/SpueBox/internal/infra/spotify"
)

// SpotifyClient defines the Spotify operations needed by the provider.
type SpotifyClient interface {
	GetTrack(ctx context.Context, trackID string) (*track.Track, error)
	GetPlaylist(ctx context.Context, playlistURL string, limit int) (*playlist.Playlist, error)
	Market() string
}

type SpotifyProviderConfig struct {
	PlaylistLimit int `mapstructure:"playlist_limit" default:"100" validate:"gte=1,lte=1000"`
	Concurrency   int `mapstructure:"concurrency" default:"4" validate:"gte=1,lte=32"`
}

// SpotifyProvider resolves Spotify track and playlist links. Spotify does
// not serve audio, so each track is searched for by artist and title and
// resolved by the backend.
type SpotifyProvider struct {
	spotify SpotifyClient
	backend Provider
	config  *SpotifyProviderConfig
}

// NewSpotifyProvider creates a new SpotifyProvider.
func NewSpotifyProvider(spotify SpotifyClient, backend Provider, settings map[string]any) (*SpotifyProvider, error) {
	if spotify == nil {
		return nil, errors.New("spotify provider needs a spotify client")
	}
	if backend == nil {
		return nil, errors.New("spotify provider needs a backend")
	}
	var config SpotifyProviderConfig
	if err := decodeSettings("spotify", settings, &config); err != nil {
		return nil, err
	}
	return &SpotifyProvider{spotify: spotify, backend: backend, config: &config}, nil
}

// Name returns the provider name.
func (p *SpotifyProvider) Name() string {
	return "spotify"
}

// Supports accepts Spotify track and playlist links.
func (p *SpotifyProvider) Supports(lookup string) bool {
	return spotifyclient.Classify(lookup) != spotifyclient.LinkNone
}

// ResolveOne resolves a track link, or the first playable track of a playlist.
func (p *SpotifyProvider) ResolveOne(ctx context.Context, lookup string) (song.Song, error) {
	switch spotifyclient.Classify(lookup) {
	case spotifyclient.LinkTrack:
		t, err := p.spotify.GetTrack(ctx, lookup)
		if err != nil {
			return song.Song{}, err
		}
		if !t.IsAvailableInMarket(p.spotify.Market()) {
			return song.Song{}, errors.Newf("%s is not available in %s", t.DisplayName(), p.spotify.Market())
		}
		return p.match(ctx, *t)

	case spotifyclient.LinkPlaylist:
		tracks, err := p.playlistTracks(ctx, lookup)
		if err != nil {
			return song.Song{}, err
		}
		for _, t := range tracks {
			s, err := p.match(ctx, t)
			if err == nil {
				return s, nil
			}
			if ctx.Err() != nil {
				return song.Song{}, ctx.Err()
			}
		}
		return song.Song{}, errors.New("no track of the playlist could be matched")
	}
	return song.Song{}, errors.Newf("not a spotify link: %s", lookup)
}

// ResolveMany resolves every playable track of a playlist concurrently,
// keeping playlist order. Tracks that cannot be matched are skipped.
func (p *SpotifyProvider) ResolveMany(ctx context.Context, lookup string) ([]song.Song, error) {
	if spotifyclient.Classify(lookup) != spotifyclient.LinkPlaylist {
		s, err := p.ResolveOne(ctx, lookup)
		if err != nil {
			return nil, err
		}
		return []song.Song{s}, nil
	}

	tracks, err := p.playlistTracks(ctx, lookup)
	if err != nil {
		return nil, err
	}

	results := make([]*song.Song, len(tracks))
	var (
		mu     sync.Mutex
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)
	for i, t := range tracks {
		g.Go(func() error {
			s, err := p.match(gctx, t)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				zlog.Debug().Msgf("skipping unmatched spotify track: track=%q error=%v", t.DisplayName(), err)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			results[i] = &s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	songs := lo.FilterMap(results, func(s *song.Song, _ int) (song.Song, bool) {
		if s == nil {
			return song.Song{}, false
		}
		return *s, true
	})
	if failed > 0 {
		zlog.Warn().Msgf("some spotify tracks could not be matched: lookup=%s matched=%d failed=%d", lookup, len(songs), failed)
	}
	if len(songs) == 0 {
		return nil, errors.New("no track of the playlist could be matched")
	}
	return songs, nil
}

func (p *SpotifyProvider) playlistTracks(ctx context.Context, lookup string) ([]track.Track, error) {
	pl, err := p.spotify.GetPlaylist(ctx, lookup, p.config.PlaylistLimit)
	if err != nil {
		return nil, err
	}
	tracks := pl.Playable(p.spotify.Market())
	if len(tracks) == 0 {
		return nil, errors.Newf("playlist %q has no playable tracks", pl.Name)
	}
	zlog.Info().Msgf("resolving spotify playlist: name=%q tracks=%d playable=%d", pl.Name, len(pl.Tracks), len(tracks))
	return tracks, nil
}

// match finds a playable source for t and keeps Spotify's naming.
func (p *SpotifyProvider) match(ctx context.Context, t track.Track) (song.Song, error) {
	s, err := p.backend.ResolveOne(ctx, t.SearchQuery())
	if err != nil {
		return song.Song{}, errors.Wrapf(err, "failed to match %s", t.DisplayName())
	}
	s.Title = t.DisplayName()
	s.Uploader = t.ArtistNames()
	s.URL = t.URL
	if t.Duration > 0 {
		s.Duration = t.Duration
	}
	return s, nil
}
