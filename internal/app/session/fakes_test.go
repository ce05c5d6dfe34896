package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/CarlosFdez/SpueBox/internal/app/playback"
	"github.com/CarlosFdez/SpueBox/internal/domain/song"
	"github.com/CarlosFdez/SpueBox/internal/observe"
)

const waitTimeout = 2 * time.Second

// fakeTransport records every call and lets tests decide when a song ends.
type fakeTransport struct {
	mu         sync.Mutex
	connectErr error
	moveErr    error
	failures   map[string]error
	blocking   bool
	connects   []string
	conns      []*fakeConn
	ops        []string

	started chan string
	finish  chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeTransport(blocking bool) *fakeTransport {
	return &fakeTransport{
		blocking: blocking,
		failures: make(map[string]error),
		started:  make(chan string, 256),
		finish:   make(chan struct{}),
	}
}

func (t *fakeTransport) Connect(_ context.Context, channelID string) (Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connects = append(t.connects, channelID)
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	c := &fakeConn{t: t, channel: channelID}
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) fail(title string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[title] = err
}

func (t *fakeTransport) record(op string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops = append(t.ops, op)
}

func (t *fakeTransport) opsSnapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.ops...)
}

func (t *fakeTransport) lastConn() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

func (t *fakeTransport) connectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.connects)
}

type fakeConn struct {
	t *fakeTransport

	mu           sync.Mutex
	channel      string
	moves        []string
	volumes      []int
	disconnected bool
	stopRequests int
}

func (c *fakeConn) Move(_ context.Context, channelID string) error {
	if c.t.moveErr != nil {
		return c.t.moveErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moves = append(c.moves, channelID)
	c.channel = channelID
	c.t.record("move:" + channelID)
	return nil
}

func (c *fakeConn) Disconnect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	c.t.record("disconnect")
	return nil
}

func (c *fakeConn) Play(ctx context.Context, s song.Song, volume int) error {
	n := c.t.active.Add(1)
	defer c.t.active.Add(-1)
	for {
		m := c.t.maxActive.Load()
		if n <= m || c.t.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	c.mu.Lock()
	c.volumes = append(c.volumes, volume)
	c.mu.Unlock()

	c.t.record("play:" + s.Title)
	defer c.t.record("end:" + s.Title)
	c.t.started <- s.Title

	c.t.mu.Lock()
	err := c.t.failures[s.Title]
	c.t.mu.Unlock()
	if err != nil {
		return err
	}
	if !c.t.blocking {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.t.finish:
		return nil
	}
}

func (c *fakeConn) RequestStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopRequests++
}

func (c *fakeConn) SetVolume(volume int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volumes = append(c.volumes, volume)
}

func (c *fakeConn) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

func (c *fakeConn) stopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopRequests
}

func (c *fakeConn) moved() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.moves...)
}

func (c *fakeConn) lastVolume() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.volumes) == 0 {
		return -1
	}
	return c.volumes[len(c.volumes)-1]
}

// fakeNotifier records announcements.
type fakeNotifier struct {
	mu         sync.Mutex
	nowPlaying []playback.NowPlaying
	failures   []string
	errs       []error
}

func (n *fakeNotifier) AnnounceNowPlaying(np playback.NowPlaying) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nowPlaying = append(n.nowPlaying, np)
}

func (n *fakeNotifier) AnnounceFailure(req song.Request, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, req.Song.Title)
	n.errs = append(n.errs, err)
}

func (n *fakeNotifier) failed() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.failures...)
}

func (n *fakeNotifier) announced() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.nowPlaying))
	for i, np := range n.nowPlaying {
		out[i] = np.Request.Song.Title
	}
	return out
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	require.NoError(t, err)
	return m
}

func newTestSession(t *testing.T, tr *fakeTransport, n *fakeNotifier, idle time.Duration) *Session {
	t.Helper()
	s := New(Config{
		GuildID:     "guild-1",
		Volume:      DefaultVolume,
		Mode:        playback.ModeLinear,
		IdleTimeout: idle,
		Transport:   tr,
		Notifier:    n,
		Metrics:     testMetrics(t),
	})
	t.Cleanup(func() {
		_ = s.Disconnect(context.Background())
		s.Close()
	})
	return s
}

func songNamed(title string) song.Song {
	return song.Song{Title: title, URL: "https://example.com/" + title, Source: "src:" + title}
}

var tester = song.Requester{ID: "u1", Name: "tester"}

func waitStarted(t *testing.T, tr *fakeTransport, title string) {
	t.Helper()
	select {
	case got := <-tr.started:
		require.Equal(t, title, got, "unexpected song started")
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s to start", title)
	}
}

func finishCurrent(t *testing.T, tr *fakeTransport) {
	t.Helper()
	select {
	case tr.finish <- struct{}{}:
	case <-time.After(waitTimeout):
		t.Fatal("timed out finishing current song")
	}
}

func assertNothingStarts(t *testing.T, tr *fakeTransport, d time.Duration) {
	t.Helper()
	select {
	case got := <-tr.started:
		t.Fatalf("unexpected song started: %s", got)
	case <-time.After(d):
	}
}

func waitIdle(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool { return !s.IsPlaying() }, waitTimeout, 5*time.Millisecond)
}

var errStream = errors.New("stream broke")
