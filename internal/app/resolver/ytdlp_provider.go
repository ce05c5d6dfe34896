package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lrstanley/go-ytdlp"
	zlog "github.com/rs/zerolog/log"

	"github.com/CarlosFdez/SpueBox/internal/domain/song"
)

// printTemplate makes yt-dlp emit one tab-separated line per entry:
// stream URL, title, uploader, duration in seconds, page URL.
const printTemplate = "%(url)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(webpage_url)s"

type YtdlpProviderConfig struct {
	Format        string `mapstructure:"format" default:"bestaudio/best" validate:"required"`
	PlaylistLimit int    `mapstructure:"playlist_limit" default:"100" validate:"gte=1,lte=1000"`
	SearchPrefix  string `mapstructure:"search_prefix" default:"ytsearch1:" validate:"required"`
	Proxy         string `mapstructure:"proxy"`
}

// runFunc executes yt-dlp for one target and returns its stdout.
type runFunc func(ctx context.Context, target string, playlist bool) (string, error)

// YtdlpProvider resolves URLs with yt-dlp. Plain text is searched with
// SearchPrefix so it can serve as the last resort of a chain.
type YtdlpProvider struct {
	config *YtdlpProviderConfig
	run    runFunc
}

// NewYtdlpProvider creates a new YtdlpProvider.
func NewYtdlpProvider(settings map[string]any) (*YtdlpProvider, error) {
	var config YtdlpProviderConfig
	if err := decodeSettings("ytdlp", settings, &config); err != nil {
		return nil, err
	}
	p := &YtdlpProvider{config: &config}
	p.run = p.exec
	return p, nil
}

// Name returns the provider name.
func (p *YtdlpProvider) Name() string {
	return "ytdlp"
}

// Supports accepts anything: URLs directly, text through search.
func (p *YtdlpProvider) Supports(lookup string) bool {
	return strings.TrimSpace(lookup) != ""
}

// ResolveOne resolves a single video.
func (p *YtdlpProvider) ResolveOne(ctx context.Context, lookup string) (song.Song, error) {
	out, err := p.run(ctx, p.target(lookup), false)
	if err != nil {
		return song.Song{}, err
	}
	songs := parseSongs(out, lookup)
	if len(songs) == 0 {
		return song.Song{}, errors.New("yt-dlp returned no playable entries")
	}
	return songs[0], nil
}

// ResolveMany resolves every entry of a playlist, up to PlaylistLimit.
func (p *YtdlpProvider) ResolveMany(ctx context.Context, lookup string) ([]song.Song, error) {
	out, err := p.run(ctx, p.target(lookup), true)
	if err != nil {
		return nil, err
	}
	songs := parseSongs(out, lookup)
	if len(songs) == 0 {
		return nil, errors.New("yt-dlp returned no playable entries")
	}
	return songs, nil
}

func (p *YtdlpProvider) target(lookup string) string {
	lookup = strings.TrimSpace(lookup)
	if isURL(lookup) {
		return lookup
	}
	return p.config.SearchPrefix + lookup
}

func (p *YtdlpProvider) exec(ctx context.Context, target string, playlist bool) (string, error) {
	cmd := ytdlp.New().
		Print(printTemplate).
		Format(p.config.Format).
		NoWarnings().
		IgnoreConfig()
	if p.config.Proxy != "" {
		cmd.Proxy(p.config.Proxy)
	}

	args := []string{"--skip-download"}
	if playlist {
		cmd.PlaylistItems(fmt.Sprintf("1-%d", p.config.PlaylistLimit))
		args = append(args, "--yes-playlist", "--ignore-errors")
	} else {
		cmd.NoPlaylist()
	}

	res, err := cmd.Run(ctx, append(args, target)...)
	if err != nil {
		// With --ignore-errors a partly unavailable playlist still exits non-zero
		if playlist && res != nil && strings.TrimSpace(res.Stdout) != "" {
			zlog.Warn().Msgf("yt-dlp skipped playlist entries: target=%s error=%v", target, err)
			return res.Stdout, nil
		}
		if res != nil && res.Stderr != "" {
			return "", errors.Wrapf(err, "yt-dlp failed: %s", strings.TrimSpace(res.Stderr))
		}
		return "", errors.Wrap(err, "yt-dlp failed")
	}
	return res.Stdout, nil
}

// parseSongs turns printTemplate lines into songs. Lines without a stream
// URL are skipped. fallbackURL is used when yt-dlp reports no page URL.
func parseSongs(out, fallbackURL string) []song.Song {
	var songs []song.Song
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		ps := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(ps) < 2 || !present(ps[0]) {
			continue
		}

		s := song.Song{
			Source: ps[0],
			Title:  ps[1],
			URL:    fallbackURL,
		}
		if len(ps) > 2 && present(ps[2]) {
			s.Uploader = ps[2]
		}
		if len(ps) > 3 && present(ps[3]) {
			if d, err := time.ParseDuration(ps[3] + "s"); err == nil {
				s.Duration = d
			}
		}
		if len(ps) > 4 && present(ps[4]) {
			s.URL = ps[4]
		}
		if !present(s.Title) {
			s.Title = s.URL
		}
		songs = append(songs, s)
	}
	return songs
}

// present reports whether a printed field has a value; yt-dlp prints NA
// for missing fields.
func present(field string) bool {
	return field != "" && field != "NA"
}
