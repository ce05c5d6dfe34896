package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CarlosFdez/SpueBox/internal/app/playback"
	"github.com/CarlosFdez/SpueBox/internal/domain/song"
)

func TestSession_LinearPlaysInOrder(t *testing.T) {
	tr := newFakeTransport(false)
	n := &fakeNotifier{}
	s := newTestSession(t, tr, n, 0)
	ctx := context.Background()

	s.RequestSong(songNamed("A"), tester, "reply", false)
	s.RequestSong(songNamed("B"), tester, "reply", false)
	assertNothingStarts(t, tr, 20*time.Millisecond)

	require.NoError(t, s.Connect(ctx, "voice-1"))

	waitStarted(t, tr, "A")
	waitStarted(t, tr, "B")
	waitIdle(t, s)

	assert.Equal(t, []string{"A", "B"}, n.announced())
	assert.Empty(t, n.failed())
	assert.Equal(t, 2, s.Count(), "history is kept after playing")
	assert.Equal(t, playback.StateConnected, s.State())
}

func TestSession_FailureDoesNotHaltQueue(t *testing.T) {
	tr := newFakeTransport(false)
	tr.fail("B", errStream)
	n := &fakeNotifier{}
	s := newTestSession(t, tr, n, 0)

	for _, title := range []string{"A", "B", "C"} {
		s.RequestSong(songNamed(title), tester, "reply", false)
	}
	require.NoError(t, s.Connect(context.Background(), "voice-1"))

	waitStarted(t, tr, "A")
	waitStarted(t, tr, "B")
	waitStarted(t, tr, "C")
	waitIdle(t, s)

	assert.Equal(t, []string{"B"}, n.failed())
	n.mu.Lock()
	require.Len(t, n.errs, 1)
	assert.True(t, errors.Is(n.errs[0], playback.ErrPlayback))
	assert.True(t, errors.Is(n.errs[0], errStream))
	n.mu.Unlock()
}

func TestSession_SingleModeReplacesCurrent(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeNotifier{}, 0)
	s.SetMode(playback.ModeSingle)
	require.NoError(t, s.Connect(context.Background(), "voice-1"))

	s.RequestSong(songNamed("A"), tester, "reply", false)
	waitStarted(t, tr, "A")

	s.RequestSong(songNamed("B"), tester, "reply", false)
	assert.Equal(t, 1, s.Count())
	assert.Equal(t, []QueueEntry{{Title: "B", Requester: "tester"}}, s.ListQueue())

	waitStarted(t, tr, "B")
	assert.Contains(t, tr.opsSnapshot(), "end:A", "A is abandoned")

	finishCurrent(t, tr)
	waitIdle(t, s)
}

func TestSession_SingleModeAlwaysLeavesOneItem(t *testing.T) {
	tests := []struct {
		name  string
		prior int
	}{
		{"empty queue", 0},
		{"one item", 1},
		{"many items", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t, newFakeTransport(false), &fakeNotifier{}, 0)
			for i := 0; i < tt.prior; i++ {
				s.RequestSong(songNamed("old"), tester, "reply", false)
			}

			s.SetMode(playback.ModeSingle)
			s.RequestSong(songNamed("new"), tester, "reply", false)

			assert.Equal(t, 1, s.Count())
		})
	}
}

func TestSession_SkipWhileIdle(t *testing.T) {
	s := newTestSession(t, newFakeTransport(false), &fakeNotifier{}, 0)
	require.NoError(t, s.Connect(context.Background(), "voice-1"))

	assert.NotPanics(t, s.Skip)
	assert.False(t, s.IsPlaying())
	assert.False(t, s.skipSignal.IsSet())
	assert.Equal(t, playback.StateConnected, s.State())

	disconnected := newTestSession(t, newFakeTransport(false), &fakeNotifier{}, 0)
	assert.NotPanics(t, disconnected.Skip)
	assert.Equal(t, playback.StateDisconnected, disconnected.State())
}

func TestSession_SkipAdvancesQueue(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeNotifier{}, 0)
	require.NoError(t, s.Connect(context.Background(), "voice-1"))

	s.RequestSong(songNamed("A"), tester, "reply", false)
	s.RequestSong(songNamed("B"), tester, "reply", false)
	waitStarted(t, tr, "A")

	s.Skip()
	waitStarted(t, tr, "B")
	assert.Equal(t, 2, s.Count(), "skip does not clear the queue")
	assert.Positive(t, tr.lastConn().stopCount())

	finishCurrent(t, tr)
	waitIdle(t, s)
}

func TestSession_StopKeepsQueueAndResume(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeNotifier{}, 0)
	require.NoError(t, s.Connect(context.Background(), "voice-1"))

	for _, title := range []string{"A", "B", "C"} {
		s.RequestSong(songNamed(title), tester, "reply", false)
	}
	waitStarted(t, tr, "A")

	s.Stop()
	waitIdle(t, s)
	assertNothingStarts(t, tr, 50*time.Millisecond)
	assert.Equal(t, 3, s.Count())
	assert.Equal(t, 2, s.Status().Pending)

	require.NoError(t, s.Resume())
	waitStarted(t, tr, "B")
	finishCurrent(t, tr)
	waitStarted(t, tr, "C")
	finishCurrent(t, tr)
	waitIdle(t, s)
}

func TestSession_RequestAfterStopPlays(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeNotifier{}, 0)
	require.NoError(t, s.Connect(context.Background(), "voice-1"))

	s.RequestSong(songNamed("A"), tester, "reply", false)
	waitStarted(t, tr, "A")

	s.Stop()
	s.RequestSong(songNamed("B"), tester, "reply", false)

	waitStarted(t, tr, "B")
	finishCurrent(t, tr)
	waitIdle(t, s)
}

func TestSession_ResumeRequiresConnection(t *testing.T) {
	s := newTestSession(t, newFakeTransport(false), &fakeNotifier{}, 0)
	err := s.Resume()
	assert.True(t, errors.Is(err, playback.ErrNotConnected))
}

func TestSession_ConnectSameChannelIsNoop(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeNotifier{}, 0)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "voice-1"))

	s.RequestSong(songNamed("A"), tester, "reply", false)
	waitStarted(t, tr, "A")

	require.NoError(t, s.Connect(ctx, "voice-1"))

	assert.True(t, s.IsPlaying())
	assert.Equal(t, 1, tr.connectCount())
	assert.Zero(t, tr.lastConn().stopCount())
	assert.NotContains(t, tr.opsSnapshot(), "end:A")

	finishCurrent(t, tr)
	waitIdle(t, s)
}

func TestSession_ConnectOtherChannelMovesAndStops(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeNotifier{}, 0)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "voice-1"))

	s.RequestSong(songNamed("A"), tester, "reply", false)
	s.RequestSong(songNamed("B"), tester, "reply", false)
	waitStarted(t, tr, "A")

	require.NoError(t, s.Connect(ctx, "voice-2"))

	assert.Equal(t, "voice-2", s.Channel())
	assert.Equal(t, playback.StateConnected, s.State())
	assert.Equal(t, []string{"voice-2"}, tr.lastConn().moved())
	assert.Equal(t, 1, tr.connectCount(), "a move reuses the connection")
	waitIdle(t, s)
	assertNothingStarts(t, tr, 50*time.Millisecond)
	assert.Equal(t, 2, s.Count(), "queue contents unchanged")

	ops := tr.opsSnapshot()
	assert.Less(t, indexOf(ops, "end:A"), indexOf(ops, "move:voice-2"), "play finished before the move")
}

func TestSession_MoveFailureKeepsConnection(t *testing.T) {
	tr := newFakeTransport(false)
	s := newTestSession(t, tr, &fakeNotifier{}, 0)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "voice-1"))

	tr.moveErr = errors.New("forbidden")
	err := s.Connect(ctx, "voice-2")

	assert.True(t, errors.Is(err, playback.ErrConnection))
	assert.Equal(t, "voice-1", s.Channel())
	assert.Equal(t, playback.StateConnected, s.State())
}

func TestSession_ConnectFailure(t *testing.T) {
	tr := newFakeTransport(false)
	tr.connectErr = errors.New("no permission")
	s := newTestSession(t, tr, &fakeNotifier{}, 0)

	s.RequestSong(songNamed("A"), tester, "reply", false)
	err := s.Connect(context.Background(), "voice-1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, playback.ErrConnection))
	assert.Equal(t, playback.StateDisconnected, s.State())
	assert.Empty(t, s.Channel())
	assert.False(t, s.IsPlaying())
	assert.Equal(t, 1, s.Count(), "queue survives a failed connect")
}

func TestSession_DisconnectWaitsForPlay(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeNotifier{}, 0)
	require.NoError(t, s.Connect(context.Background(), "voice-1"))

	s.RequestSong(songNamed("A"), tester, "reply", false)
	waitStarted(t, tr, "A")

	require.NoError(t, s.Disconnect(context.Background()))

	assert.Equal(t, playback.StateDisconnected, s.State())
	assert.True(t, tr.lastConn().isDisconnected())
	ops := tr.opsSnapshot()
	assert.Less(t, indexOf(ops, "end:A"), indexOf(ops, "disconnect"))
	waitIdle(t, s)
	assert.Equal(t, 1, s.Count())
}

func TestSession_IdleTimeoutDisconnects(t *testing.T) {
	tr := newFakeTransport(false)
	s := newTestSession(t, tr, &fakeNotifier{}, 50*time.Millisecond)

	s.RequestSong(songNamed("A"), tester, "reply", false)
	require.NoError(t, s.Connect(context.Background(), "voice-1"))
	waitStarted(t, tr, "A")

	require.Eventually(t, func() bool {
		return s.State() == playback.StateDisconnected
	}, waitTimeout, 5*time.Millisecond)
	assert.True(t, tr.lastConn().isDisconnected())
	assert.True(t, hasEvent(s, playback.EventIdleTimeout))
}

func TestSession_StaleIdleTimerNeverDisconnects(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeNotifier{}, 150*time.Millisecond)
	require.NoError(t, s.Connect(context.Background(), "voice-1"))

	s.RequestSong(songNamed("A"), tester, "reply", false)
	waitStarted(t, tr, "A")
	finishCurrent(t, tr)
	waitIdle(t, s)
	require.True(t, s.idle.Armed(), "timer armed when the loop exits")

	time.Sleep(50 * time.Millisecond)
	s.RequestSong(songNamed("B"), tester, "reply", false)
	waitStarted(t, tr, "B")
	assert.False(t, s.idle.Armed(), "a new song cancels the timer")

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, playback.StateConnected, s.State())
	assert.False(t, tr.lastConn().isDisconnected())

	finishCurrent(t, tr)
	waitIdle(t, s)
}

func TestSession_LoopingRequestRepeatsUntilSkipped(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeNotifier{}, 0)
	require.NoError(t, s.Connect(context.Background(), "voice-1"))

	s.RequestSong(songNamed("A"), tester, "reply", true)
	s.RequestSong(songNamed("B"), tester, "reply", false)

	waitStarted(t, tr, "A")
	finishCurrent(t, tr)
	waitStarted(t, tr, "A")
	finishCurrent(t, tr)
	waitStarted(t, tr, "A")

	s.Skip()
	waitStarted(t, tr, "B")
	assert.False(t, s.skipSignal.IsSet())
	finishCurrent(t, tr)
	waitIdle(t, s)
}

func TestSession_LoopingRequestStopsOnFailure(t *testing.T) {
	tr := newFakeTransport(false)
	tr.fail("A", errStream)
	n := &fakeNotifier{}
	s := newTestSession(t, tr, n, 0)
	require.NoError(t, s.Connect(context.Background(), "voice-1"))

	s.RequestSong(songNamed("A"), tester, "reply", true)
	s.RequestSong(songNamed("B"), tester, "reply", false)

	waitStarted(t, tr, "A")
	waitStarted(t, tr, "B")
	waitIdle(t, s)
	assert.Equal(t, []string{"A"}, n.failed())
}

func TestSession_SetVolume(t *testing.T) {
	tests := []struct {
		name     string
		input    int
		expected int
	}{
		{"in range", 75, 75},
		{"lower bound", 0, 0},
		{"upper bound", 150, 150},
		{"below range", -10, 0},
		{"above range", 400, 150},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport(false)
			s := newTestSession(t, tr, &fakeNotifier{}, 0)
			require.NoError(t, s.Connect(context.Background(), "voice-1"))

			got := s.SetVolume(tt.input)

			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.expected, s.Volume())
			assert.Equal(t, tt.expected, tr.lastConn().lastVolume(), "propagated to the live connection")
		})
	}
}

func TestSession_SetVolumeWhileDisconnected(t *testing.T) {
	tr := newFakeTransport(false)
	s := newTestSession(t, tr, &fakeNotifier{}, 0)

	assert.Equal(t, 40, s.SetVolume(40))

	s.RequestSong(songNamed("A"), tester, "reply", false)
	require.NoError(t, s.Connect(context.Background(), "voice-1"))
	waitStarted(t, tr, "A")
	waitIdle(t, s)
	assert.Equal(t, 40, tr.lastConn().lastVolume(), "songs play at the session volume")
}

func TestSession_OnlyOnePlayAtATime(t *testing.T) {
	tr := newFakeTransport(false)
	s := newTestSession(t, tr, &fakeNotifier{}, 0)
	require.NoError(t, s.Connect(context.Background(), "voice-1"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RequestSong(songNamed("X"), tester, "reply", false)
		}()
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		waitStarted(t, tr, "X")
	}
	waitIdle(t, s)
	assert.Equal(t, int32(1), tr.maxActive.Load())
}

func TestSession_RequestPlaylist(t *testing.T) {
	songs := []song.Song{songNamed("A"), songNamed("B"), songNamed("C")}

	t.Run("linear appends", func(t *testing.T) {
		s := newTestSession(t, newFakeTransport(false), &fakeNotifier{}, 0)
		s.RequestSong(songNamed("first"), tester, "reply", false)

		reqs := s.RequestPlaylist(songs, tester, "reply", true, false)

		assert.Len(t, reqs, 3)
		assert.Equal(t, 4, s.Count())
		st := s.Status()
		assert.True(t, st.Loop)
		assert.False(t, st.Shuffle)
		assert.Equal(t, "first", s.ListQueue()[0].Title)
	})

	t.Run("single replaces", func(t *testing.T) {
		s := newTestSession(t, newFakeTransport(false), &fakeNotifier{}, 0)
		s.RequestSong(songNamed("first"), tester, "reply", false)
		s.SetMode(playback.ModeSingle)

		s.RequestPlaylist(songs, tester, "reply", false, true)

		assert.Equal(t, 3, s.Count())
		assert.True(t, s.Status().Shuffle)
		assert.ElementsMatch(t, []string{"A", "B", "C"}, titles(s.ListQueue()))
	})
}

func TestSession_Status(t *testing.T) {
	tr := newFakeTransport(true)
	s := newTestSession(t, tr, &fakeNotifier{}, 0)
	require.NoError(t, s.Connect(context.Background(), "voice-1"))
	s.SetLoop(true)
	s.RequestSong(songNamed("A"), tester, "reply", false)
	waitStarted(t, tr, "A")

	st := s.Status()
	assert.Equal(t, "guild-1", st.GuildID)
	assert.Equal(t, playback.StateConnected, st.State)
	assert.Equal(t, "voice-1", st.Channel)
	assert.True(t, st.Playing)
	assert.True(t, st.Loop)
	assert.Equal(t, DefaultVolume, st.Volume)
	require.NotNil(t, st.Current)
	assert.Equal(t, "A", st.Current.Song.Title)

	s.Stop()
	waitIdle(t, s)
}

func TestSession_NowPlayingAnnouncement(t *testing.T) {
	tr := newFakeTransport(false)
	n := &fakeNotifier{}
	s := newTestSession(t, tr, n, 0)
	s.SetVolume(80)
	s.RequestSong(songNamed("A"), tester, "reply-chan", false)
	require.NoError(t, s.Connect(context.Background(), "voice-1"))
	waitStarted(t, tr, "A")
	waitIdle(t, s)

	n.mu.Lock()
	defer n.mu.Unlock()
	require.Len(t, n.nowPlaying, 1)
	np := n.nowPlaying[0]
	assert.Equal(t, "guild-1", np.GuildID)
	assert.Equal(t, "reply-chan", np.Request.ReplyTo)
	assert.Equal(t, 80, np.Volume)
	assert.Equal(t, playback.ModeLinear, np.Mode)
}

func indexOf(items []string, target string) int {
	for i, item := range items {
		if item == target {
			return i
		}
	}
	return -1
}

func titles(entries []QueueEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Title
	}
	return out
}

func hasEvent(s *Session, typ playback.EventType) bool {
	for {
		select {
		case e := <-s.Events():
			if e.Type == typ {
				return true
			}
		default:
			return false
		}
	}
}
