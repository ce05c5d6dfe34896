// Package session provides the per-guild playback session.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/CarlosFdez/SpueBox/internal/app/playback"
	"github.com/CarlosFdez/SpueBox/internal/domain/song"
	"github.com/CarlosFdez/SpueBox/internal/observe"
)

const (
	MinVolume     = 0
	MaxVolume     = 150
	DefaultVolume = 100

	disconnectTimeout = 10 * time.Second
)

// Config holds session configuration.
type Config struct {
	GuildID      string
	Volume       int           // Initial volume, clamped to [MinVolume, MaxVolume]
	Mode         playback.Mode // Initial play mode
	IdleTimeout  time.Duration // Disconnect after this long without playback; 0 disables
	Transport    Transport
	Notifier     Notifier
	Metrics      *observe.Metrics       // Defaults to observe.DefaultMetrics()
	QueueOptions []playback.QueueOption // Passed to playback.NewQueue
}

// Session drives playback for one guild.
//
// mu guards every field below it. connMu is the connection lock: it is held
// while a song is handed to the transport and while the session connects,
// moves or disconnects, so teardown never interleaves with a play.
type Session struct {
	connMu sync.Mutex
	mu     sync.Mutex

	guildID   string
	transport Transport
	notifier  Notifier
	metrics   *observe.Metrics

	queue   *playback.Queue
	state   playback.ConnectionState
	channel string
	conn    Connection
	mode    playback.Mode
	volume  int

	playing    bool
	restart    bool               // a start was requested while the loop was unwinding from a stop
	cancelItem context.CancelFunc // cancels the request being played

	stopSignal latch
	skipSignal latch
	idle       *idleTimer

	eventCh chan playback.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a disconnected session.
func New(cfg Config) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	s := &Session{
		guildID:   cfg.GuildID,
		transport: cfg.Transport,
		notifier:  cfg.Notifier,
		metrics:   metrics,
		queue:     playback.NewQueue(cfg.QueueOptions...),
		state:     playback.StateDisconnected,
		mode:      cfg.Mode,
		volume:    clampVolume(cfg.Volume),
		eventCh:   make(chan playback.Event, 32),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.idle = newIdleTimer(cfg.IdleTimeout, s.onIdle)
	return s
}

// GuildID returns the guild this session belongs to.
func (s *Session) GuildID() string {
	return s.guildID
}

// Events returns the event channel.
func (s *Session) Events() <-chan playback.Event {
	return s.eventCh
}

// Connect joins channelID.
//
// Connecting to the channel the session is already in does nothing. Any other
// target stops playback first; when already connected elsewhere the
// connection is moved and playback is not resumed. A fresh connection starts
// playing whatever is queued.
func (s *Session) Connect(ctx context.Context, channelID string) error {
	s.mu.Lock()
	if s.state == playback.StateConnected && s.channel == channelID {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.Stop()

	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	if s.state == playback.StateConnected && s.channel == channelID {
		// Another caller connected here while we waited for the lock.
		s.mu.Unlock()
		return nil
	}
	if s.state == playback.StateConnected && s.conn != nil {
		conn := s.conn
		from := s.channel
		s.mu.Unlock()

		if err := conn.Move(ctx, channelID); err != nil {
			zlog.Warn().Msgf("failed to move voice connection: guild=%s from=%s to=%s error=%v", s.guildID, from, channelID, err)
			return playback.ConnectionError(err, channelID)
		}

		s.mu.Lock()
		s.channel = channelID
		s.sendEventLocked(playback.Event{Type: playback.EventConnected})
		s.mu.Unlock()
		zlog.Info().Msgf("moved voice connection: guild=%s from=%s to=%s", s.guildID, from, channelID)
		return nil
	}
	s.state = playback.StateConnecting
	s.mu.Unlock()

	conn, err := s.transport.Connect(ctx, channelID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = playback.StateDisconnected
		zlog.Warn().Msgf("failed to connect: guild=%s channel=%s error=%v", s.guildID, channelID, err)
		return playback.ConnectionError(err, channelID)
	}

	s.conn = conn
	s.channel = channelID
	s.state = playback.StateConnected
	s.metrics.ActiveSessions.Add(s.ctx, 1)
	s.sendEventLocked(playback.Event{Type: playback.EventConnected})
	zlog.Info().Msgf("connected: guild=%s channel=%s queued=%d", s.guildID, channelID, s.queue.PendingLen())

	if s.hasWorkLocked() {
		s.startPlayingLocked()
	}
	return nil
}

// Disconnect stops playback and leaves the voice channel. The queue is kept.
func (s *Session) Disconnect(ctx context.Context) error {
	s.Stop()

	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Disconnect(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle.Cancel()
	if s.state == playback.StateConnected {
		s.metrics.ActiveSessions.Add(s.ctx, -1)
	}
	s.conn = nil
	s.channel = ""
	s.state = playback.StateDisconnected
	s.sendEventLocked(playback.Event{Type: playback.EventDisconnected})

	if err != nil {
		zlog.Warn().Msgf("voice disconnect reported an error: guild=%s error=%v", s.guildID, err)
		return errors.Wrap(err, "failed to disconnect")
	}
	zlog.Info().Msgf("disconnected: guild=%s", s.guildID)
	return nil
}

// RequestSong queues a song and makes sure the playback loop is running.
//
// In single mode the queue is replaced by the new request and the current
// song is skipped. In linear mode the request is appended. Requests made while
// disconnected are played once the session connects.
func (s *Session) RequestSong(sg song.Song, requester song.Requester, replyTo string, loop bool) song.Request {
	req := song.NewRequest(sg, requester, replyTo, loop)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == playback.ModeSingle {
		s.queue.Clear()
		s.queue.Add(req)
		s.skipLocked()
	} else {
		s.queue.Add(req)
	}
	zlog.Debug().Msgf("song requested: guild=%s title=%q requester=%s mode=%s loop=%t",
		s.guildID, sg.DisplayTitle(), requester.Name, s.mode, loop)

	if s.state == playback.StateConnected {
		s.startPlayingLocked()
	}
	return req
}

// RequestPlaylist queues several songs at once. In single mode they replace
// the queue; in linear mode they are appended. loop enables looping over the
// whole queue and shuffle randomizes the order of what is pending.
func (s *Session) RequestPlaylist(songs []song.Song, requester song.Requester, replyTo string, loop, shuffle bool) []song.Request {
	reqs := song.NewRequests(songs, requester, replyTo, false)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == playback.ModeSingle {
		s.queue.Reset(reqs, loop, shuffle)
		s.skipLocked()
	} else {
		s.queue.Extend(reqs)
		if loop {
			s.queue.SetLoop(true)
		}
		if shuffle {
			s.queue.Shuffle()
		}
	}
	zlog.Debug().Msgf("playlist requested: guild=%s count=%d requester=%s mode=%s", s.guildID, len(reqs), requester.Name, s.mode)

	if s.state == playback.StateConnected && len(reqs) > 0 {
		s.startPlayingLocked()
	}
	return reqs
}

// Resume starts the playback loop if there is queued work. Used after a
// move or stop, which never resume on their own.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != playback.StateConnected {
		return playback.ErrNotConnected
	}
	if s.hasWorkLocked() {
		s.startPlayingLocked()
	}
	return nil
}

// Skip abandons the current song. The rest of the queue is kept. Does
// nothing when no song is playing.
func (s *Session) Skip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipLocked()
}

func (s *Session) skipLocked() {
	if !s.playing {
		return
	}
	s.skipSignal.Set()
	s.abortItemLocked()
}

// Stop ends the playback loop after aborting the current song. The queue is
// kept.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.restart = false
	s.stopSignal.Set()
	s.abortItemLocked()
}

func (s *Session) abortItemLocked() {
	if s.cancelItem != nil {
		s.cancelItem()
	}
	if s.conn != nil {
		s.conn.RequestStop()
	}
}

// SetVolume sets the playback volume, clamped to [MinVolume, MaxVolume], and
// applies it to the song being played. Returns the value actually set.
func (s *Session) SetVolume(volume int) int {
	clamped := clampVolume(volume)
	if clamped != volume {
		zlog.Debug().Msgf("%v: guild=%s clamped=%d", playback.InvalidArgument("volume %d outside [%d,%d]", volume, MinVolume, MaxVolume), s.guildID, clamped)
	}

	s.mu.Lock()
	s.volume = clamped
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.SetVolume(clamped)
	}
	return clamped
}

// Volume returns the current volume.
func (s *Session) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// SetMode sets the play mode for subsequent requests.
func (s *Session) SetMode(mode playback.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// Mode returns the play mode.
func (s *Session) Mode() playback.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Shuffle enables shuffling and reorders what is still pending.
func (s *Session) Shuffle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.Shuffle()
}

// SetLoop toggles looping over the whole queue.
func (s *Session) SetLoop(loop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.SetLoop(loop)
}

// ListQueue returns the queued requests in the order they were added.
func (s *Session) ListQueue() []QueueEntry {
	s.mu.Lock()
	all := s.queue.All()
	s.mu.Unlock()

	return lo.Map(all, func(r song.Request, _ int) QueueEntry {
		return QueueEntry{Title: r.Song.DisplayTitle(), Requester: r.Requester.Name}
	})
}

// Count returns the number of queued requests.
func (s *Session) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// State returns the connection state.
func (s *Session) State() playback.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Channel returns the voice channel, or "" when disconnected.
func (s *Session) Channel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// IsPlaying reports whether the playback loop is running.
func (s *Session) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		GuildID: s.guildID,
		State:   s.state,
		Channel: s.channel,
		Playing: s.playing,
		Mode:    s.mode,
		Volume:  s.volume,
		Loop:    s.queue.Loop(),
		Shuffle: s.queue.ShuffleEnabled(),
		Queued:  s.queue.Len(),
		Pending: s.queue.PendingLen(),
	}
	if s.playing {
		if cur, ok := s.queue.Current(); ok {
			st.Current = &cur
		}
	}
	return st
}

// Close releases the session without touching the voice connection. Call
// Disconnect first to leave the channel.
func (s *Session) Close() {
	s.mu.Lock()
	s.stopSignal.Set()
	s.restart = false
	s.mu.Unlock()

	s.cancel()
	s.idle.Cancel()
	s.wg.Wait()
}

// hasWorkLocked reports whether Next would return a request.
func (s *Session) hasWorkLocked() bool {
	return s.queue.PendingLen() > 0 || (s.queue.Loop() && s.queue.Len() > 0)
}

// startPlayingLocked starts the playback loop unless it is already running.
// A loop that is unwinding from a stop is told to go around again instead.
func (s *Session) startPlayingLocked() {
	if s.playing {
		if s.stopSignal.IsSet() {
			s.restart = true
		}
		return
	}
	s.playing = true
	s.restart = false
	s.stopSignal.Clear()
	s.skipSignal.Clear()

	s.wg.Add(1)
	go s.playbackLoop()
}

func (s *Session) playbackLoop() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if s.state != playback.StateConnected || s.stopSignal.IsSet() {
			if s.restart && s.state == playback.StateConnected && s.ctx.Err() == nil {
				s.restart = false
				s.stopSignal.Clear()
				s.skipSignal.Clear()
				s.mu.Unlock()
				continue
			}
			s.finishLocked()
			s.mu.Unlock()
			return
		}

		req, ok := s.queue.Next()
		if !ok {
			s.finishLocked()
			s.mu.Unlock()
			return
		}

		s.idle.Cancel()
		s.skipSignal.Clear()
		itemCtx, cancel := context.WithCancel(s.ctx)
		s.cancelItem = cancel
		np := playback.NowPlaying{
			GuildID:   s.guildID,
			Request:   req,
			Mode:      s.mode,
			Volume:    s.volume,
			QueueLoop: s.queue.Loop(),
		}
		s.sendEventLocked(playback.Event{Type: playback.EventSongStarted, Request: &req})
		s.mu.Unlock()

		zlog.Info().Msgf("now playing: guild=%s title=%q requester=%s", s.guildID, req.Song.DisplayTitle(), req.Requester.Name)
		s.metrics.RecordSongStarted(s.ctx, s.guildID)
		if s.notifier != nil {
			s.notifier.AnnounceNowPlaying(np)
		}

		s.playRequest(itemCtx, req)

		s.mu.Lock()
		s.cancelItem = nil
		s.sendEventLocked(playback.Event{Type: playback.EventSongFinished, Request: &req})
		s.mu.Unlock()
		cancel()
	}
}

// playRequest plays req once, or repeatedly until skipped or stopped when it
// is a looping request. Failures are reported and never abort the loop.
func (s *Session) playRequest(ctx context.Context, req song.Request) {
	if !req.Loop {
		if err := s.playSong(ctx, req); err != nil {
			s.reportFailure(req, err)
		}
		return
	}

	for !s.stopSignal.IsSet() && !s.skipSignal.IsSet() && ctx.Err() == nil {
		if err := s.playSong(ctx, req); err != nil {
			s.reportFailure(req, err)
			break
		}
	}
	s.skipSignal.Clear()
}

// playSong hands one song to the transport under the connection lock and
// waits for it to finish.
func (s *Session) playSong(ctx context.Context, req song.Request) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if ctx.Err() != nil {
		return nil
	}

	s.mu.Lock()
	conn := s.conn
	volume := s.volume
	s.mu.Unlock()

	title := req.Song.DisplayTitle()
	if conn == nil {
		return playback.PlaybackError(playback.ErrNotConnected, title)
	}

	if err := conn.Play(ctx, req.Song, volume); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return playback.PlaybackError(err, title)
	}
	return nil
}

func (s *Session) reportFailure(req song.Request, err error) {
	zlog.Error().Msgf("playback failed: guild=%s title=%q error=%v", s.guildID, req.Song.DisplayTitle(), err)
	s.metrics.RecordPlaybackFailure(s.ctx, s.guildID)

	s.mu.Lock()
	s.sendEventLocked(playback.Event{Type: playback.EventSongFailed, Request: &req, Err: err})
	s.mu.Unlock()

	if s.notifier != nil {
		s.notifier.AnnounceFailure(req, err)
	}
}

// finishLocked marks the loop as stopped and arms the idle timer.
func (s *Session) finishLocked() {
	s.playing = false
	s.restart = false
	s.cancelItem = nil
	s.sendEventLocked(playback.Event{Type: playback.EventQueueExhausted})
	if s.state == playback.StateConnected && s.ctx.Err() == nil {
		s.idle.Arm()
	}
}

// onIdle runs when the idle timer fires.
func (s *Session) onIdle() {
	s.mu.Lock()
	if s.playing || s.state != playback.StateConnected {
		s.mu.Unlock()
		return
	}
	s.sendEventLocked(playback.Event{Type: playback.EventIdleTimeout})
	s.mu.Unlock()

	zlog.Info().Msgf("idle timeout reached, disconnecting: guild=%s", s.guildID)
	s.metrics.RecordIdleDisconnect(s.ctx, s.guildID)

	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := s.Disconnect(ctx); err != nil {
		zlog.Warn().Msgf("idle disconnect failed: guild=%s error=%v", s.guildID, err)
	}
}

// sendEventLocked sends an event without blocking.
// Must be called with lock held.
func (s *Session) sendEventLocked(e playback.Event) {
	e.GuildID = s.guildID
	e.Channel = s.channel
	select {
	case s.eventCh <- e:
	case <-s.ctx.Done():
	default:
		// Channel full, drop event
	}
}

func clampVolume(v int) int {
	return min(max(v, MinVolume), MaxVolume)
}
