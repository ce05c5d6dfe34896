package session

import (
	"sync"
	"time"
)

// idleTimer is a cancellable deferred call. Arming supersedes any previously
// armed timer, and a timer that was superseded or cancelled never runs its
// callback, even if it already expired.
type idleTimer struct {
	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	duration time.Duration
	fire     func()
}

func newIdleTimer(d time.Duration, fire func()) *idleTimer {
	return &idleTimer{duration: d, fire: fire}
}

// Arm (re)starts the timer. A non-positive duration disables it.
func (t *idleTimer) Arm() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	if t.duration <= 0 {
		return
	}
	gen := t.gen
	t.timer = time.AfterFunc(t.duration, func() {
		t.mu.Lock()
		if gen != t.gen {
			t.mu.Unlock()
			return
		}
		t.timer = nil
		t.gen++
		t.mu.Unlock()

		t.fire()
	})
}

// Cancel stops the timer. Safe to call when nothing is armed.
func (t *idleTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// Armed reports whether a timer is pending.
func (t *idleTimer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

func (t *idleTimer) stopLocked() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
