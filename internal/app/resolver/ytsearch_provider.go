package resolver

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/ppalone/ytsearch"
	zlog "github.com/rs/zerolog/log"

	"github.com/CarlosFdez/SpueBox/internal/domain/song"
)

const watchURL = "https://www.youtube.com/watch?v="

type YtsearchProviderConfig struct {
	MaxResults int `mapstructure:"max_results" default:"5" validate:"gte=1,lte=20"`
}

// searchFunc returns YouTube video IDs for a query, best match first.
type searchFunc func(ctx context.Context, query string) ([]string, error)

// YtsearchProvider answers plain-text lookups by scraping YouTube search
// results, then resolves the chosen video with yt-dlp.
type YtsearchProvider struct {
	config  *YtsearchProviderConfig
	search  searchFunc
	backend Provider
}

// NewYtsearchProvider creates a new YtsearchProvider. backend resolves the
// watch URLs that the search finds.
func NewYtsearchProvider(backend Provider, settings map[string]any) (*YtsearchProvider, error) {
	if backend == nil {
		return nil, errors.New("ytsearch provider needs a backend")
	}
	var config YtsearchProviderConfig
	if err := decodeSettings("ytsearch", settings, &config); err != nil {
		return nil, err
	}
	return &YtsearchProvider{
		config:  &config,
		search:  searchYouTube,
		backend: backend,
	}, nil
}

// Name returns the provider name.
func (p *YtsearchProvider) Name() string {
	return "ytsearch"
}

// Supports accepts search text only.
func (p *YtsearchProvider) Supports(lookup string) bool {
	return lookup != "" && !isURL(lookup)
}

// ResolveOne resolves the best result that the backend can play.
func (p *YtsearchProvider) ResolveOne(ctx context.Context, lookup string) (song.Song, error) {
	ids, err := p.candidates(ctx, lookup)
	if err != nil {
		return song.Song{}, err
	}

	var errs error
	for _, id := range ids {
		s, err := p.backend.ResolveOne(ctx, watchURL+id)
		if err == nil {
			return s, nil
		}
		if ctx.Err() != nil {
			return song.Song{}, ctx.Err()
		}
		zlog.Debug().Msgf("search result not playable: video=%s error=%v", id, err)
		errs = errors.CombineErrors(errs, err)
	}
	return song.Song{}, errors.Wrapf(errs, "no playable result for %q", lookup)
}

// ResolveMany treats a search as a one-song playlist.
func (p *YtsearchProvider) ResolveMany(ctx context.Context, lookup string) ([]song.Song, error) {
	s, err := p.ResolveOne(ctx, lookup)
	if err != nil {
		return nil, err
	}
	return []song.Song{s}, nil
}

func (p *YtsearchProvider) candidates(ctx context.Context, query string) ([]string, error) {
	ids, err := p.search(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "youtube search failed")
	}
	if len(ids) == 0 {
		return nil, errors.Newf("no search results for %q", query)
	}
	if len(ids) > p.config.MaxResults {
		ids = ids[:p.config.MaxResults]
	}
	return ids, nil
}

func searchYouTube(ctx context.Context, query string) ([]string, error) {
	r, err := ytsearch.NewClient(nil).Search(ctx, query)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(r.Results))
	for _, v := range r.Results {
		if v.VideoID != "" {
			ids = append(ids, v.VideoID)
		}
	}
	return ids, nil
}
