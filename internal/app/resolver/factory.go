package resolver

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/CarlosFdez/SpueBox/internal/infra/config"
	"github.com/CarlosFdez/SpueBox/internal/observe"
)

// NewChainFromConfig creates a provider chain from configuration.
//
// ytsearch and spotify providers hand their matches to a yt-dlp backend: the
// first configured ytdlp provider, or one with default settings. spotify may
// be nil when no spotify provider is configured.
func NewChainFromConfig(cfg *config.Config, spotify SpotifyClient, metrics *observe.Metrics) (*Chain, error) {
	rc := cfg.Resolver
	if len(rc.Providers) == 0 {
		return nil, errors.New("no resolver providers configured")
	}

	backend, err := backendFromConfig(rc.Providers)
	if err != nil {
		return nil, err
	}

	var providers []ProviderWithMetadata

	for i, pcfg := range rc.Providers {
		var provider Provider
		var err error
		zlog.Debug().Msgf("creating resolver provider: index=%d type=%s settings=%+v", i+1, pcfg.Type, pcfg.Settings)
		switch pcfg.Type {
		case "ytdlp":
			provider, err = NewYtdlpProvider(pcfg.Settings)

		case "ytsearch":
			provider, err = NewYtsearchProvider(backend, pcfg.Settings)

		case "spotify":
			if spotify == nil {
				err = errors.New("spotify client is not configured")
				break
			}
			provider, err = NewSpotifyProvider(spotify, backend, withDefault(pcfg.Settings, "concurrency", rc.Concurrency))

		default:
			return nil, errors.Newf("unsupported provider type: %s (provider index %d)", pcfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create provider (index %d, type %s)", i, pcfg.Type)
		}

		providers = append(providers, ProviderWithMetadata{
			Provider:    provider,
			DisplayName: pcfg.DisplayName,
		})

		zlog.Info().Msgf("registered resolver provider: index=%d type=%s display_name=%s", i+1, pcfg.Type, pcfg.DisplayName)
	}

	return NewChain(providers,
		WithLimiter(rate.NewLimiter(rate.Limit(rc.Rate), rc.Burst)),
		WithTimeout(rc.Timeout),
		WithMetrics(metrics),
	), nil
}

func backendFromConfig(providers []config.ProviderConfig) (*YtdlpProvider, error) {
	for _, pcfg := range providers {
		if pcfg.Type == "ytdlp" {
			p, err := NewYtdlpProvider(pcfg.Settings)
			return p, errors.Wrap(err, "failed to create yt-dlp backend")
		}
	}
	p, err := NewYtdlpProvider(nil)
	return p, errors.Wrap(err, "failed to create yt-dlp backend")
}

// withDefault returns settings with key set to value unless already present.
func withDefault(settings map[string]any, key string, value any) map[string]any {
	if _, ok := settings[key]; ok {
		return settings
	}
	out := make(map[string]any, len(settings)+1)
	for k, v := range settings {
		out[k] = v
	}
	out[key] = value
	return out
}
