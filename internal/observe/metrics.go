// Package observe provides the OpenTelemetry metric instruments recorded by
// sessions and resolvers.
//
// A Prometheus exporter bridge is installed by [InitProvider] so metrics can
// be scraped from /metrics. Tests should use [NewMetrics] with their own
// [metric.MeterProvider] instead of [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/CarlosFdez/SpueBox"

// Metrics holds all metric instruments for the application.
type Metrics struct {
	// SongsStarted counts requests handed to a transport, by guild.
	SongsStarted metric.Int64Counter

	// PlaybackFailures counts requests that failed while streaming, by guild.
	PlaybackFailures metric.Int64Counter

	// IdleDisconnects counts sessions torn down by the idle timer.
	IdleDisconnects metric.Int64Counter

	// Resolutions counts resolver lookups by provider and status.
	Resolutions metric.Int64Counter

	// ResolveDuration tracks resolver latency by provider.
	ResolveDuration metric.Float64Histogram

	// ActiveSessions is the number of sessions connected to a voice channel.
	ActiveSessions metric.Int64UpDownCounter
}

var resolveBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates all instruments from the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SongsStarted, err = m.Int64Counter("spuebox.songs.started",
		metric.WithDescription("Songs handed to a voice transport."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFailures, err = m.Int64Counter("spuebox.playback.failures",
		metric.WithDescription("Songs that failed while streaming."),
	); err != nil {
		return nil, err
	}
	if met.IdleDisconnects, err = m.Int64Counter("spuebox.idle.disconnects",
		metric.WithDescription("Voice connections closed by the inactivity timer."),
	); err != nil {
		return nil, err
	}
	if met.Resolutions, err = m.Int64Counter("spuebox.resolver.lookups",
		metric.WithDescription("Resolver lookups by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ResolveDuration, err = m.Float64Histogram("spuebox.resolver.duration",
		metric.WithDescription("Latency of resolver lookups."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(resolveBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("spuebox.sessions.active",
		metric.WithDescription("Sessions connected to a voice channel."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built from the global
// meter provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordSongStarted increments the started counter for a guild.
func (m *Metrics) RecordSongStarted(ctx context.Context, guildID string) {
	m.SongsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("guild", guildID)))
}

// RecordPlaybackFailure increments the failure counter for a guild.
func (m *Metrics) RecordPlaybackFailure(ctx context.Context, guildID string) {
	m.PlaybackFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("guild", guildID)))
}

// RecordIdleDisconnect increments the idle disconnect counter for a guild.
func (m *Metrics) RecordIdleDisconnect(ctx context.Context, guildID string) {
	m.IdleDisconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("guild", guildID)))
}

// RecordResolution records one resolver lookup and its latency in seconds.
func (m *Metrics) RecordResolution(ctx context.Context, provider, status string, seconds float64) {
	m.Resolutions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
	m.ResolveDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}
