package syncx

import "time"

// Mutex is a channel-backed lock whose acquisition is bounded by a timeout.
// A caller that cannot take the lock within the bound fails the operation
// instead of blocking forever; a lock held past its bound indicates a stuck
// component and is surfaced by the caller.
type Mutex struct {
	ch chan struct{}
}

// NewMutex returns an unlocked Mutex.
func NewMutex() *Mutex {
	m := &Mutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

// Lock acquires the mutex, waiting at most timeout. It reports whether the
// lock was taken.
func (m *Mutex) Lock(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-m.ch:
		return true
	case <-timer.C:
		return false
	}
}

// Unlock releases the mutex. Unlocking a mutex that is not held panics, as
// with sync.Mutex.
func (m *Mutex) Unlock() {
	select {
	case m.ch <- struct{}{}:
	default:
		panic("syncx: unlock of unlocked mutex")
	}
}
