package discord

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"layeh.com/gopus"

	"github.com/CarlosFdez/SpueBox/internal/app/session"
	"github.com/CarlosFdez/SpueBox/internal/domain/song"
	"github.com/CarlosFdez/SpueBox/internal/infra/pcm"
)

// maxOpusBytes bounds one encoded 20ms packet.
const maxOpusBytes = pcm.FrameBytes

var _ session.Transport = (*Transport)(nil)

// frameStream is a running decode.
type frameStream interface {
	ReadFrame(frame []int16) error
	Wait() error
	Close() error
}

type openFunc func(ctx context.Context, source string) (frameStream, error)

// voiceLink is the part of a discordgo voice connection a Connection uses.
type voiceLink struct {
	opus       chan<- []byte
	speaking   func(bool) error
	disconnect func() error
}

type joinFunc func(channelID string) (*voiceLink, error)

// opusEncoder is implemented by *gopus.Encoder.
type opusEncoder interface {
	Encode(pcm []int16, frameSize, maxDataBytes int) ([]byte, error)
}

func newGopusEncoder() (opusEncoder, error) {
	return gopus.NewEncoder(pcm.SampleRate, pcm.Channels, gopus.Audio)
}

// Transport joins voice channels of one guild.
type Transport struct {
	guildID string
	join    joinFunc
	open    openFunc
	encoder func() (opusEncoder, error)
}

// NewTransport returns a transport for guildID that decodes with decoder.
func NewTransport(s *discordgo.Session, guildID string, decoder *pcm.Decoder) *Transport {
	return &Transport{
		guildID: guildID,
		join: func(channelID string) (*voiceLink, error) {
			// Not muted, deafened: incoming audio is never read
			vc, err := s.ChannelVoiceJoin(guildID, channelID, false, true)
			if err != nil {
				return nil, err
			}
			return &voiceLink{opus: vc.OpusSend, speaking: vc.Speaking, disconnect: vc.Disconnect}, nil
		},
		open: func(ctx context.Context, source string) (frameStream, error) {
			return decoder.Open(ctx, source)
		},
		encoder: newGopusEncoder,
	}
}

// Connect joins channelID.
func (t *Transport) Connect(ctx context.Context, channelID string) (session.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	link, err := t.join(channelID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to join voice channel %s", channelID)
	}
	zlog.Info().Msgf("voice connected: guild=%s channel=%s", t.guildID, channelID)
	return &Connection{
		guildID: t.guildID,
		channel: channelID,
		link:    link,
		join:    t.join,
		open:    t.open,
		encoder: t.encoder,
	}, nil
}

// Connection streams songs to one voice channel. Only one Play runs at a
// time; the session serialises calls.
type Connection struct {
	guildID string
	join    joinFunc
	open    openFunc
	encoder func() (opusEncoder, error)
	volume  atomic.Int32

	mu      sync.Mutex
	channel string
	link    *voiceLink
	stop    context.CancelFunc
}

// Move rejoins the guild's voice connection on another channel.
func (c *Connection) Move(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	link, err := c.join(channelID)
	if err != nil {
		return errors.Wrapf(err, "failed to move to voice channel %s", channelID)
	}

	c.mu.Lock()
	c.channel = channelID
	c.link = link
	c.mu.Unlock()
	zlog.Info().Msgf("voice moved: guild=%s channel=%s", c.guildID, channelID)
	return nil
}

// Disconnect leaves the voice channel.
func (c *Connection) Disconnect(_ context.Context) error {
	c.RequestStop()

	c.mu.Lock()
	link := c.link
	c.link = nil
	c.mu.Unlock()

	if link == nil {
		return nil
	}
	if err := link.disconnect(); err != nil {
		return errors.Wrap(err, "failed to leave voice channel")
	}
	zlog.Info().Msgf("voice disconnected: guild=%s", c.guildID)
	return nil
}

// RequestStop ends the current Play, if any.
func (c *Connection) RequestStop() {
	c.mu.Lock()
	stop := c.stop
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// SetVolume changes the volume of the song being played.
func (c *Connection) SetVolume(volume int) {
	c.volume.Store(int32(volume))
}

// Play decodes s and sends it as Opus until the song ends, ctx is
// cancelled, or RequestStop is called.
func (c *Connection) Play(ctx context.Context, s song.Song, volume int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	link := c.link
	c.stop = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.stop = nil
		c.mu.Unlock()
	}()

	if link == nil {
		return errors.New("voice connection closed")
	}
	c.volume.Store(int32(volume))

	source := s.Source
	if source == "" {
		source = s.URL
	}
	stream, err := c.open(ctx, source)
	if err != nil {
		return err
	}
	defer stream.Close()

	enc, err := c.encoder()
	if err != nil {
		return errors.Wrap(err, "failed to create opus encoder")
	}

	if err := link.speaking(true); err != nil {
		zlog.Warn().Msgf("speaking notification failed: guild=%s error=%v", c.guildID, err)
	}
	defer func() {
		if err := link.speaking(false); err != nil {
			zlog.Debug().Msgf("speaking notification failed: guild=%s error=%v", c.guildID, err)
		}
	}()

	frame := make([]int16, pcm.FrameSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := stream.ReadFrame(frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return stream.Wait()
			}
			return err
		}

		pcm.ApplyVolume(frame, int(c.volume.Load()))
		packet, err := enc.Encode(frame, pcm.FrameSamples, maxOpusBytes)
		if err != nil {
			return errors.Wrap(err, "failed to encode opus")
		}

		select {
		case link.opus <- packet:
		case <-ctx.Done():
			return nil
		}
	}
}
