// Package song provides the Song and Request domain entities.
package song

import (
	"time"

	"github.com/google/uuid"
)

// Song is a resolved, playable audio descriptor. It is never mutated after
// the resolver produces it.
type Song struct {
	Title    string        // Display title
	URL      string        // Lookup URL the song was resolved from
	Source   string        // Playable source handed to the transport (media URL or file path)
	Uploader string        // Uploader or artist, may be empty
	Duration time.Duration // Zero when unknown (live streams)
}

// DisplayTitle returns the title, falling back to the lookup URL.
func (s Song) DisplayTitle() string {
	if s.Title != "" {
		return s.Title
	}
	return s.URL
}

// Requester identifies the user who asked for a song.
type Requester struct {
	ID   string // Platform user ID
	Name string // Display name
}

// Request is a song waiting in (or replayed from) a playback queue.
type Request struct {
	ID        string    // Unique per request; two requests for the same song differ
	Song      Song      // Resolved song
	Requester Requester // Who asked for it
	ReplyTo   string    // Channel that receives announcements for this request
	Loop      bool      // Repeat this request until skipped or stopped
	AddedAt   time.Time // Time when the request was created
}

// NewRequest creates a request with a fresh identity.
func NewRequest(s Song, requester Requester, replyTo string, loop bool) Request {
	return Request{
		ID:        uuid.New().String(),
		Song:      s,
		Requester: requester,
		ReplyTo:   replyTo,
		Loop:      loop,
		AddedAt:   time.Now(),
	}
}

// NewRequests wraps several songs for the same requester.
func NewRequests(songs []Song, requester Requester, replyTo string, loop bool) []Request {
	reqs := make([]Request, len(songs))
	for i, s := range songs {
		reqs[i] = NewRequest(s, requester, replyTo, loop)
	}
	return reqs
}

// SameAs reports whether two values are the same request (not merely the same song).
func (r Request) SameAs(other Request) bool {
	return r.ID != "" && r.ID == other.ID
}
