package resolver

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/CarlosFdez/SpueBox/internal/domain/song"
	"github.com/CarlosFdez/SpueBox/internal/observe"
)

// fakeProvider resolves lookups from a fixed table.
type fakeProvider struct {
	name     string
	supports func(string) bool
	songs    map[string][]song.Song
	err      error

	mu    sync.Mutex
	calls []string
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Supports(lookup string) bool {
	if p.supports == nil {
		return true
	}
	return p.supports(lookup)
}

func (p *fakeProvider) ResolveOne(ctx context.Context, lookup string) (song.Song, error) {
	songs, err := p.ResolveMany(ctx, lookup)
	if err != nil {
		return song.Song{}, err
	}
	return songs[0], nil
}

func (p *fakeProvider) ResolveMany(ctx context.Context, lookup string) ([]song.Song, error) {
	p.mu.Lock()
	p.calls = append(p.calls, lookup)
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.err != nil {
		return nil, p.err
	}
	songs, ok := p.songs[lookup]
	if !ok {
		return nil, errors.Newf("%s: unknown lookup %q", p.name, lookup)
	}
	return songs, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func songFor(title string) song.Song {
	return song.Song{Title: title, URL: "https://example.com/" + title, Source: "https://cdn.example.com/" + title}
}

func textOnly(lookup string) bool {
	return !strings.HasPrefix(lookup, "http")
}
