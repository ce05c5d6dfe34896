package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/CarlosFdez/SpueBox/internal/app/playback"
	"github.com/CarlosFdez/SpueBox/internal/domain/song"
	"github.com/CarlosFdez/SpueBox/internal/observe"
)

// ProviderWithMetadata wraps a provider with its metadata.
type ProviderWithMetadata struct {
	Provider    Provider
	DisplayName string
}

// Chain tries providers in order until one resolves the lookup.
type Chain struct {
	providers []ProviderWithMetadata
	limiter   *rate.Limiter
	timeout   time.Duration
	metrics   *observe.Metrics
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithLimiter bounds how often lookups are started.
func WithLimiter(l *rate.Limiter) ChainOption {
	return func(c *Chain) { c.limiter = l }
}

// WithTimeout bounds each provider attempt.
func WithTimeout(d time.Duration) ChainOption {
	return func(c *Chain) { c.timeout = d }
}

// WithMetrics sets the metric instruments. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) ChainOption {
	return func(c *Chain) { c.metrics = m }
}

// NewChain creates a new provider chain.
func NewChain(providers []ProviderWithMetadata, opts ...ChainOption) *Chain {
	c := &Chain{
		providers: providers,
		limiter:   rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// ResolveOne resolves lookup with the first provider that succeeds.
func (c *Chain) ResolveOne(ctx context.Context, lookup string) (song.Song, error) {
	var result song.Song
	err := c.run(ctx, lookup, func(ctx context.Context, p Provider) error {
		s, err := p.ResolveOne(ctx, lookup)
		if err != nil {
			return err
		}
		result = s
		return nil
	})
	return result, err
}

// ResolveMany resolves lookup with the first provider that returns songs.
func (c *Chain) ResolveMany(ctx context.Context, lookup string) ([]song.Song, error) {
	var result []song.Song
	err := c.run(ctx, lookup, func(ctx context.Context, p Provider) error {
		songs, err := p.ResolveMany(ctx, lookup)
		if err != nil {
			return err
		}
		if len(songs) == 0 {
			return errors.New("no songs found")
		}
		result = songs
		return nil
	})
	return result, err
}

func (c *Chain) run(ctx context.Context, lookup string, attempt func(context.Context, Provider) error) error {
	lookup = strings.TrimSpace(lookup)
	if lookup == "" {
		return playback.ResolutionError(errors.New("empty lookup"), lookup)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return playback.ResolutionError(errors.Wrap(err, "rate limited"), lookup)
	}

	var errs error
	tried := 0
	for i, pm := range c.providers {
		if !pm.Provider.Supports(lookup) {
			continue
		}
		tried++
		zlog.Debug().Msgf("trying provider: index=%d total=%d name=%s provider_type=%s lookup=%q",
			i+1, len(c.providers), pm.DisplayName, pm.Provider.Name(), lookup)

		err := c.attempt(ctx, pm, attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return playback.ResolutionError(ctx.Err(), lookup)
		}
		zlog.Warn().Msgf("provider failed, trying next: provider=%s error=%v", pm.DisplayName, err)
		errs = errors.CombineErrors(errs, errors.Wrapf(err, "%s", pm.DisplayName))
	}

	if tried == 0 {
		errs = errors.New("no provider supports this lookup")
	}
	return playback.ResolutionError(errs, lookup)
}

func (c *Chain) attempt(ctx context.Context, pm ProviderWithMetadata, fn func(context.Context, Provider) error) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx, pm.Provider)
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordResolution(ctx, pm.Provider.Name(), status, time.Since(start).Seconds())
	return err
}

// Providers returns the configured providers in order.
func (c *Chain) Providers() []ProviderWithMetadata {
	return c.providers
}
