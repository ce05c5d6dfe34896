// Package spotify provides a client for the Spotify Web API.
package spotify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/CarlosFdez/SpueBox/internal/domain/playlist"
	"github.com/CarlosFdez/SpueBox/internal/domain/track"
)

// pageSize is the Spotify API maximum for playlist item pages.
const pageSize = 100

// LinkKind classifies a Spotify link.
type LinkKind int

const (
	LinkNone LinkKind = iota
	LinkTrack
	LinkPlaylist
)

// Client is a Spotify API client.
type Client struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	Market       string
}

// New creates a new Spotify client using the client credentials flow.
// Only public catalogue data is reachable, which is all lookups need.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify credentials are required")
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	if _, err := creds.Token(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to obtain spotify token")
	}

	market := cfg.Market
	if market == "" {
		market = "US"
	}

	return &Client{
		client:     spotify.New(creds.Client(ctx)),
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// Market returns the market used for availability checks.
func (c *Client) Market() string {
	return c.market
}

// GetTrack retrieves track information by ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, trackID string) (*track.Track, error) {
	id := extractTrackID(trackID)
	if id == "" {
		return nil, errors.New("invalid track URL")
	}

	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get track")
	}

	return c.convertTrack(result), nil
}

// GetPlaylist retrieves a playlist and up to limit of its tracks.
// A non-positive limit fetches every track. Episodes are skipped.
func (c *Client) GetPlaylist(ctx context.Context, playlistURL string, limit int) (*playlist.Playlist, error) {
	playlistID := extractPlaylistID(playlistURL)
	if playlistID == "" {
		return nil, errors.New("invalid playlist URL")
	}

	var info *spotify.FullPlaylist
	err := c.retry(ctx, func() error {
		p, err := c.client.GetPlaylist(ctx, spotify.ID(playlistID), spotify.Market(c.market))
		if err != nil {
			return err
		}
		info = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get playlist")
	}

	result := &playlist.Playlist{
		ID:    playlistID,
		Name:  info.Name,
		Owner: info.Owner.DisplayName,
		URL:   c.GetPlaylistURL(playlistID),
	}

	offset := 0
	for limit <= 0 || len(result.Tracks) < limit {
		var page *spotify.PlaylistItemPage
		err := c.retry(ctx, func() error {
			p, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
				spotify.Limit(pageSize),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to get playlist items")
		}

		for _, item := range page.Items {
			if item.Track.Track != nil && item.Track.Track.ID != "" {
				result.Tracks = append(result.Tracks, *c.convertTrack(item.Track.Track))
			}
		}

		if len(page.Items) < pageSize {
			break
		}
		offset += pageSize
	}

	zlog.Debug().Msgf("fetched spotify playlist: id=%s name=%q tracks=%d", playlistID, result.Name, len(result.Tracks))
	return result, nil
}

// GetPlaylistURL returns the Spotify URL for a playlist.
func (c *Client) GetPlaylistURL(playlistID string) string {
	return fmt.Sprintf("https://open.spotify.com/playlist/%s", playlistID)
}

// GetTrackURL returns the Spotify URL for a track.
func (c *Client) GetTrackURL(trackID string) string {
	return fmt.Sprintf("https://open.spotify.com/track/%s", trackID)
}

// convertTrack converts a Spotify FullTrack to domain Track.
func (c *Client) convertTrack(t *spotify.FullTrack) *track.Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	markets := make([]string, len(t.AvailableMarkets))
	for i, m := range t.AvailableMarkets {
		markets[i] = string(m)
	}

	// Responses requested with a market usually omit the market list
	if len(markets) == 0 && c.market != "" {
		markets = append(markets, c.market)
	}

	return &track.Track{
		ID:         string(t.ID),
		Name:       t.Name,
		Artists:    artists,
		Album:      t.Album.Name,
		Duration:   time.Duration(t.Duration) * time.Millisecond,
		URL:        c.GetTrackURL(string(t.ID)),
		Explicit:   t.Explicit,
		Markets:    markets,
		IsPlayable: t.IsPlayable,
	}
}

// retry retries an operation with linear backoff.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "retry aborted")
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// Classify reports whether input is a Spotify track or playlist link.
// Bare IDs are not recognised.
func Classify(input string) LinkKind {
	input = strings.TrimSpace(input)
	switch {
	case strings.HasPrefix(input, "spotify:track:"):
		return LinkTrack
	case strings.HasPrefix(input, "spotify:playlist:"):
		return LinkPlaylist
	case !strings.Contains(input, "open.spotify.com"):
		return LinkNone
	case strings.Contains(input, "/track/"):
		return LinkTrack
	case strings.Contains(input, "/playlist/"):
		return LinkPlaylist
	}
	return LinkNone
}

// extractPlaylistID extracts the playlist ID from a Spotify playlist URL or URI.
func extractPlaylistID(input string) string {
	return extractID(input, "playlist")
}

// extractTrackID extracts the track ID from a Spotify track URL or URI.
func extractTrackID(input string) string {
	return extractID(input, "track")
}

// extractID handles spotify:<kind>:ID, https://open.spotify.com/<kind>/ID and
// https://open.spotify.com/intl-XX/<kind>/ID. Anything else is assumed to be
// an ID already.
func extractID(input, kind string) string {
	input = strings.TrimSpace(input)
	if prefix := "spotify:" + kind + ":"; strings.HasPrefix(input, prefix) {
		return strings.TrimPrefix(input, prefix)
	}

	sep := "/" + kind + "/"
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, sep) {
		parts := strings.Split(input, sep)
		// Remove query parameters and trailing slashes
		id := strings.Split(parts[len(parts)-1], "?")[0]
		return strings.TrimRight(id, "/")
	}

	return input
}
