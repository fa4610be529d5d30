package player

import (
	"sync"
	"time"
)

// idleDeadline is a mutable timeout holder plus a single-waiter notification.
// The registry's eviction watcher waits on it in a loop: every Set wakes the
// watcher, which re-reads the deadline and waits again. A nil deadline means
// wait indefinitely; a zero deadline expires immediately.
type idleDeadline struct {
	mu sync.Mutex
	d  *time.Duration
	ch chan struct{}
}

func newIdleDeadline() *idleDeadline {
	return &idleDeadline{ch: make(chan struct{}, 1)}
}

func (i *idleDeadline) set(d *time.Duration) {
	i.mu.Lock()
	i.d = d
	i.mu.Unlock()
	select {
	case i.ch <- struct{}{}:
	default:
	}
}

// Arm sets a finite deadline.
func (i *idleDeadline) Arm(d time.Duration) { i.set(&d) }

// Disarm makes the watcher wait forever.
func (i *idleDeadline) Disarm() { i.set(nil) }

// Expire makes the next wait expire immediately.
func (i *idleDeadline) Expire() { zero := time.Duration(0); i.set(&zero) }

// Wait clears any pending notification, reads the armed deadline, and blocks
// until either a new Set arrives (returns false) or the deadline passes
// (returns true).
func (i *idleDeadline) Wait() (expired bool) {
	select {
	case <-i.ch:
	default:
	}

	i.mu.Lock()
	d := i.d
	i.mu.Unlock()

	if d == nil {
		<-i.ch
		return false
	}
	if *d <= 0 {
		return true
	}
	timer := time.NewTimer(*d)
	defer timer.Stop()
	select {
	case <-i.ch:
		return false
	case <-timer.C:
		return true
	}
}
