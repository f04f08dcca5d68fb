package memory

import (
	"sync"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"
)

// LocalStream is a synthetic capture source for tests and headless agents.
type LocalStream struct {
	id   string
	kind domain.StreamKind

	mu      sync.Mutex
	onEnded func()
	stopped bool
}

var _ ports.LocalStream = (*LocalStream)(nil)

func NewLocalStream(id string, kind domain.StreamKind) *LocalStream {
	return &LocalStream{id: id, kind: kind}
}

func (s *LocalStream) ID() string              { return s.id }
func (s *LocalStream) Kind() domain.StreamKind { return s.kind }

func (s *LocalStream) OnEnded(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = fn
}

func (s *LocalStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
}

// End simulates the capture ending outside the application's control, e.g.
// the user hitting the browser's "stop sharing" bar.
func (s *LocalStream) End() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	fn := s.onEnded
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *LocalStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
