// Package notification fans session announcements out to chat sinks.
package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/CarlosFdez/SpueBox/internal/app/playback"
	"github.com/CarlosFdez/SpueBox/internal/domain/song"
)

const defaultSendTimeout = 10 * time.Second

// Kind identifies the type of a notification.
type Kind int

const (
	KindNowPlaying Kind = iota
	KindFailure
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindNowPlaying:
		return "now_playing"
	case KindFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Notification is one announcement for a text channel.
type Notification struct {
	SequenceNo uint64
	Kind       Kind
	ChannelID  string // Text channel of the request
	Request    song.Request
	NowPlaying *playback.NowPlaying // Set for KindNowPlaying
	Err        error                // Set for KindFailure
}

// Message returns the plain-text form of the notification.
func (n *Notification) Message() string {
	switch n.Kind {
	case KindNowPlaying:
		s := n.Request.Song
		msg := fmt.Sprintf("Now playing: %s", s.DisplayTitle())
		if n.Request.Requester.Name != "" {
			msg += fmt.Sprintf(" (requested by %s)", n.Request.Requester.Name)
		}
		if n.NowPlaying != nil {
			msg += " [" + n.NowPlaying.Footer() + "]"
		}
		return msg
	case KindFailure:
		return fmt.Sprintf("I couldn't play %s", n.Request.Song.DisplayTitle())
	}
	return ""
}

// Sink delivers notifications somewhere users can see them.
type Sink interface {
	Send(ctx context.Context, n *Notification) error
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id   string
	sink Sink
}

// Manager implements session.Notifier. Announcements are delivered to every
// subscribed sink in the background, each bounded by a timeout, so a slow
// chat API never stalls playback.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNoMu  sync.Mutex
	sequenceNo    uint64
	timeout       time.Duration
	wg            sync.WaitGroup
}

// NewManager creates a new notification manager. A non-positive timeout
// uses the default of 10s.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Manager{
		subscriptions: make(map[string]*subscription),
		timeout:       timeout,
	}
}

// Subscribe adds a sink and returns the subscription ID.
func (m *Manager) Subscribe(sink Sink) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:   id,
		sink: sink,
	}
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// AnnounceNowPlaying announces the song that just started.
func (m *Manager) AnnounceNowPlaying(np playback.NowPlaying) {
	m.dispatch(&Notification{
		Kind:       KindNowPlaying,
		ChannelID:  np.Request.ReplyTo,
		Request:    np.Request,
		NowPlaying: &np,
	})
}

// AnnounceFailure announces that a song could not be played.
func (m *Manager) AnnounceFailure(req song.Request, err error) {
	m.dispatch(&Notification{
		Kind:      KindFailure,
		ChannelID: req.ReplyTo,
		Request:   req,
		Err:       err,
	})
}

// dispatch broadcasts in the background and returns immediately.
func (m *Manager) dispatch(n *Notification) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Broadcast(n)
	}()
}

// Broadcast sends a notification to all subscribers and waits until each
// has finished or timed out.
func (m *Manager) Broadcast(n *Notification) {
	m.sequenceNoMu.Lock()
	m.sequenceNo++
	n.SequenceNo = m.sequenceNo
	m.sequenceNoMu.Unlock()

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.sink.Send(ctx, n)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Warn().Msgf("notification failed: subscription=%s kind=%s channel=%s error=%v", s.id, n.Kind, n.ChannelID, err)
				}
			case <-ctx.Done():
				zlog.Warn().Msgf("notification timed out: subscription=%s kind=%s channel=%s", s.id, n.Kind, n.ChannelID)
			}
		}(sub)
	}
	wg.Wait()
}

// Close waits for in-flight announcements and removes all subscriptions.
func (m *Manager) Close() {
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}

// LogSink writes notifications to the application log.
type LogSink struct{}

// Send logs the notification.
func (LogSink) Send(_ context.Context, n *Notification) error {
	switch n.Kind {
	case KindFailure:
		zlog.Warn().Msgf("%s: channel=%s error=%v", n.Message(), n.ChannelID, n.Err)
	default:
		zlog.Info().Msgf("%s: channel=%s", n.Message(), n.ChannelID)
	}
	return nil
}
