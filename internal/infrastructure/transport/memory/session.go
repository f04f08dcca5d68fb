package memory

import (
	"sync"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"
)

const sessionBuffer = 256

// session is one half of an in-process channel pair. Delivery is FIFO per
// half: messages queue until a handler is registered, then drain in send
// order, preserving the only ordering guarantee the core depends on.
type session struct {
	peer domain.PeerID

	mu        sync.Mutex
	other     *session
	inbox     chan domain.Envelope
	onMessage func(domain.Envelope)
	onClose   func(error)
	pumping   bool
	closed    bool
	done      chan struct{}
}

var _ ports.DataSession = (*session)(nil)

func newSessionPair(a, b domain.PeerID) (*session, *session) {
	sa := &session{peer: b, inbox: make(chan domain.Envelope, sessionBuffer), done: make(chan struct{})}
	sb := &session{peer: a, inbox: make(chan domain.Envelope, sessionBuffer), done: make(chan struct{})}
	sa.other = sb
	sb.other = sa
	return sa, sb
}

func (s *session) Peer() domain.PeerID { return s.peer }

func (s *session) Send(env domain.Envelope) error {
	s.mu.Lock()
	other := s.other
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return domain.ErrSessionNotOpen
	}
	return other.enqueue(env)
}

func (s *session) enqueue(env domain.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionNotOpen
	}
	select {
	case s.inbox <- env:
		return nil
	default:
		return domain.ErrSessionNotOpen
	}
}

func (s *session) OnMessage(fn func(domain.Envelope)) {
	s.mu.Lock()
	s.onMessage = fn
	start := !s.pumping && fn != nil
	if start {
		s.pumping = true
	}
	s.mu.Unlock()

	if start {
		go s.pump()
	}
}

func (s *session) pump() {
	for {
		select {
		case env := <-s.inbox:
			s.mu.Lock()
			fn := s.onMessage
			s.mu.Unlock()
			if fn != nil {
				fn(env)
			}
		case <-s.done:
			// Drain what was already queued before the close.
			for {
				select {
				case env := <-s.inbox:
					s.mu.Lock()
					fn := s.onMessage
					s.mu.Unlock()
					if fn != nil {
						fn(env)
					}
				default:
					return
				}
			}
		}
	}
}

func (s *session) OnClose(fn func(error)) {
	s.mu.Lock()
	closed := s.closed
	s.onClose = fn
	s.mu.Unlock()
	// A handler registered after the close still observes it.
	if closed && fn != nil {
		fn(nil)
	}
}

func (s *session) Close() error {
	s.closeLocal(nil)
	s.other.closeLocal(nil)
	return nil
}

func (s *session) closeLocal(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	fn := s.onClose
	close(s.done)
	s.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}
