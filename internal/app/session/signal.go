package session

import "sync/atomic"

// latch is a boolean signal that stays raised until explicitly cleared.
type latch struct {
	v atomic.Bool
}

func (l *latch) Set()        { l.v.Store(true) }
func (l *latch) Clear()      { l.v.Store(false) }
func (l *latch) IsSet() bool { return l.v.Load() }
