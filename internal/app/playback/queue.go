package playback

import (
	"math/rand/v2"
	"slices"

	"github.com/CarlosFdez/SpueBox/internal/domain/song"
)

// Queue is the ordered collection of song requests owned by one session.
//
// history keeps every request added since the last Reset/Clear and is the
// source used to rebuild pending when looping. pending is what remains to be
// played in the current pass. Queue is not safe for concurrent use; the
// owning session serializes access.
type Queue struct {
	history []song.Request
	pending []song.Request
	current *song.Request

	loop    bool
	shuffle bool

	rng *rand.Rand
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithRand sets the random source used for shuffling.
func WithRand(r *rand.Rand) QueueOption {
	return func(q *Queue) {
		q.rng = r
	}
}

// NewQueue creates an empty queue with loop and shuffle disabled.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		history: make([]song.Request, 0),
		pending: make([]song.Request, 0),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.rng == nil {
		q.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return q
}

// Add appends a request to the history and to the pending queue.
func (q *Queue) Add(r song.Request) {
	q.history = append(q.history, r)
	q.pending = append(q.pending, r)
}

// Extend appends several requests in order.
func (q *Queue) Extend(rs []song.Request) {
	q.history = append(q.history, rs...)
	q.pending = append(q.pending, rs...)
}

// Reset replaces the queue contents and flags. When shuffle is set the new
// pending order is randomized once up front.
func (q *Queue) Reset(rs []song.Request, loop, shuffle bool) {
	q.history = slices.Clone(rs)
	q.pending = slices.Clone(rs)
	q.loop = loop
	q.shuffle = shuffle
	if shuffle {
		q.shufflePending()
	}
}

// Clear empties history and pending. Loop and shuffle flags are kept.
func (q *Queue) Clear() {
	q.history = make([]song.Request, 0)
	q.pending = make([]song.Request, 0)
}

// Next pops the head of the pending queue and makes it current.
//
// When pending is empty and looping is enabled, pending is rebuilt from
// history first. With shuffle on, the rebuilt order never starts with the
// request that was just dispatched. Returns false when the queue is exhausted.
func (q *Queue) Next() (song.Request, bool) {
	if len(q.pending) == 0 {
		if !q.loop || len(q.history) == 0 {
			q.current = nil
			return song.Request{}, false
		}
		q.refill()
	}

	r := q.pending[0]
	q.pending = q.pending[1:]
	q.current = &r
	return r, true
}

// refill rebuilds pending from history for the next loop pass.
func (q *Queue) refill() {
	order := slices.Clone(q.history)
	if q.shuffle && len(order) > 1 {
		q.rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
		if q.current != nil && order[0].SameAs(*q.current) {
			j := 1 + q.rng.IntN(len(order)-1)
			order[0], order[j] = order[j], order[0]
		}
	}
	q.pending = order
}

// Shuffle enables shuffling and randomly reorders what is still pending.
func (q *Queue) Shuffle() {
	q.shuffle = true
	q.shufflePending()
}

func (q *Queue) shufflePending() {
	q.rng.Shuffle(len(q.pending), func(i, j int) {
		q.pending[i], q.pending[j] = q.pending[j], q.pending[i]
	})
}

// SetLoop toggles looping over the history once pending runs out.
func (q *Queue) SetLoop(loop bool) {
	q.loop = loop
}

// Loop reports whether looping is enabled.
func (q *Queue) Loop() bool {
	return q.loop
}

// SetShuffle toggles shuffling. The change only applies the next time an
// ordering is built; the current pending order is left as is.
func (q *Queue) SetShuffle(shuffle bool) {
	q.shuffle = shuffle
}

// ShuffleEnabled reports whether shuffling is enabled.
func (q *Queue) ShuffleEnabled() bool {
	return q.shuffle
}

// Current returns the most recently dispatched request.
func (q *Queue) Current() (song.Request, bool) {
	if q.current == nil {
		return song.Request{}, false
	}
	return *q.current, true
}

// Len returns the number of requests in the history.
func (q *Queue) Len() int {
	return len(q.history)
}

// PendingLen returns the number of requests left in the current pass.
func (q *Queue) PendingLen() int {
	return len(q.pending)
}

// All returns the history in insertion order.
func (q *Queue) All() []song.Request {
	return slices.Clone(q.history)
}

// Pending returns a snapshot of the requests left in the current pass.
func (q *Queue) Pending() []song.Request {
	return slices.Clone(q.pending)
}
