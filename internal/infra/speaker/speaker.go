//go:build (linux && cgo) || windows || darwin

package speaker

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
	zlog "github.com/rs/zerolog/log"

	"github.com/CarlosFdez/SpueBox/internal/app/session"
	"github.com/CarlosFdez/SpueBox/internal/domain/song"
	"github.com/CarlosFdez/SpueBox/internal/infra/pcm"
)

// Available reports whether local playback is supported by this build.
const Available = true

var initOnce struct {
	sync.Once
	err error
}

// Transport plays every session on the default output device. Channel IDs
// are only recorded.
type Transport struct {
	decoder *pcm.Decoder
}

// NewTransport returns a local transport decoding with decoder.
func NewTransport(decoder *pcm.Decoder) *Transport {
	return &Transport{decoder: decoder}
}

// Connect initialises the output device on first use.
func (t *Transport) Connect(_ context.Context, channelID string) (session.Connection, error) {
	initOnce.Do(func() {
		rate := beep.SampleRate(pcm.SampleRate)
		initOnce.err = speaker.Init(rate, rate.N(time.Second/10))
	})
	if initOnce.err != nil {
		return nil, errors.Wrap(initOnce.err, "failed to open audio device")
	}
	zlog.Info().Msgf("local output connected: channel=%s", channelID)
	return &Connection{decoder: t.decoder}, nil
}

// Connection is a local output.
type Connection struct {
	decoder *pcm.Decoder

	mu     sync.Mutex
	volume *effects.Volume
	stop   context.CancelFunc
}

func (c *Connection) Move(_ context.Context, channelID string) error {
	zlog.Info().Msgf("local output moved: channel=%s", channelID)
	return nil
}

func (c *Connection) Disconnect(_ context.Context) error {
	c.RequestStop()
	return nil
}

func (c *Connection) RequestStop() {
	c.mu.Lock()
	stop := c.stop
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (c *Connection) SetVolume(volume int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.volume == nil {
		return
	}
	speaker.Lock()
	c.volume.Volume, c.volume.Silent = gain(volume)
	speaker.Unlock()
}

// Play blocks until s has been played or playback is stopped.
func (c *Connection) Play(ctx context.Context, s song.Song, volume int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	source := s.Source
	if source == "" {
		source = s.URL
	}
	stream, err := c.decoder.Open(ctx, source)
	if err != nil {
		return err
	}
	defer stream.Close()

	src := newPCMStreamer(stream)
	vol := &effects.Volume{Streamer: src, Base: 2}
	vol.Volume, vol.Silent = gain(volume)
	ctrl := &beep.Ctrl{Streamer: vol}
	done := make(chan struct{})

	c.mu.Lock()
	c.volume = vol
	c.stop = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.volume = nil
		c.stop = nil
		c.mu.Unlock()
	}()

	speaker.Play(beep.Seq(ctrl, beep.Callback(func() { close(done) })))

	select {
	case <-done:
	case <-ctx.Done():
		speaker.Lock()
		ctrl.Streamer = nil
		speaker.Unlock()
		return nil
	}

	if err := src.Err(); err != nil {
		return err
	}
	return stream.Wait()
}
