// Package exitsignal provides a one-shot broadcast flag used to cancel I/O
// copy goroutines and anything else waiting on "this process has exited."
package exitsignal

import "sync"

// Signal is a closed-channel-backed broadcast flag. The zero value is
// ready to use. Signal is safe to wait on from any number of goroutines and
// to fire from any single goroutine (Fire is itself safe to call more than
// once or concurrently; only the first call has effect).
type Signal struct {
	once sync.Once
	ch   chan struct{}
	init sync.Once
}

func (s *Signal) lazyInit() {
	s.init.Do(func() {
		s.ch = make(chan struct{})
	})
}

// Fire closes the underlying channel, waking every current and future
// waiter. Idempotent.
func (s *Signal) Fire() {
	s.lazyInit()
	s.once.Do(func() {
		close(s.ch)
	})
}

// Done returns a channel that is closed once Fire has been called.
func (s *Signal) Done() <-chan struct{} {
	s.lazyInit()
	return s.ch
}

// Fired reports whether Fire has already been called.
func (s *Signal) Fired() bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}
