package reactor

import (
	"sync"
	"sync/atomic"
)

// StopSource is the shared stop primitive for cooperating tasks. Requesting
// stop is monotonic: once set it is never cleared.
type StopSource struct {
	requested atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// NewStopSource creates an unset stop source.
func NewStopSource() *StopSource {
	return &StopSource{done: make(chan struct{})}
}

// RequestStop sets the stop flag. Idempotent and safe from any thread.
func (s *StopSource) RequestStop() {
	s.once.Do(func() {
		s.requested.Store(true)
		close(s.done)
	})
}

// Requested reports whether stop has been requested. Lock-free.
func (s *StopSource) Requested() bool {
	return s.requested.Load()
}

// Token returns a read-only view of the source. Tokens are cheap to copy.
func (s *StopSource) Token() StopToken {
	return StopToken{src: s}
}

// StopToken is a shared, copyable view of a StopSource. The zero token never
// reports stop.
type StopToken struct {
	src *StopSource
}

// Requested reports whether stop has been requested. Lock-free.
func (t StopToken) Requested() bool {
	return t.src != nil && t.src.Requested()
}

// Done returns a channel closed when stop is requested. For the zero token it
// returns nil, which blocks forever in a select.
func (t StopToken) Done() <-chan struct{} {
	if t.src == nil {
		return nil
	}
	return t.src.done
}
