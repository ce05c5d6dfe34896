// Package registry keeps one playback session per guild.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/CarlosFdez/SpueBox/internal/app/session"
)

var ErrSessionNotFound = errors.New("session not found")

// Factory builds a new session for a guild.
type Factory func(guildID string) *session.Session

// Registry maps guild IDs to sessions with thread-safe access.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	factory  Factory
}

// New creates an empty registry.
func New(factory Factory) *Registry {
	return &Registry{
		sessions: make(map[string]*session.Session),
		factory:  factory,
	}
}

// GetOrCreate returns the session for guildID, creating it if absent.
// Concurrent callers for the same guild always get the same session.
func (r *Registry) GetOrCreate(guildID string) (*session.Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[guildID]
	r.mu.RUnlock()
	if ok {
		return s, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Check again, another caller may have created it meanwhile
	if s, ok := r.sessions[guildID]; ok {
		return s, false
	}
	s = r.factory(guildID)
	r.sessions[guildID] = s
	zlog.Debug().Msgf("session created: guild=%s", guildID)
	return s, true
}

// Get retrieves the session for guildID.
func (r *Registry) Get(guildID string) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[guildID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// FindByChannel returns the session currently connected to channelID.
func (r *Registry) FindByChannel(channelID string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		if channelID != "" && s.Channel() == channelID {
			return s, true
		}
	}
	return nil, false
}

// Remove disconnects and closes the session for guildID and forgets it.
func (r *Registry) Remove(ctx context.Context, guildID string) error {
	r.mu.Lock()
	s, ok := r.sessions[guildID]
	delete(r.sessions, guildID)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	return closeSession(ctx, s)
}

// All returns all sessions ordered by guild ID.
func (r *Registry) All() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].GuildID() < result[j].GuildID()
	})
	return result
}

// Count returns the number of sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown disconnects and closes every session concurrently.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*session.Session)
	r.mu.Unlock()

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			return closeSession(ctx, s)
		})
	}
	return g.Wait()
}

func closeSession(ctx context.Context, s *session.Session) error {
	err := s.Disconnect(ctx)
	s.Close()
	if err != nil {
		return errors.Wrapf(err, "failed to close session for guild %s", s.GuildID())
	}
	return nil
}
