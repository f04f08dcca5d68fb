package pion

import (
	"encoding/json"
	"fmt"
	"sync"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

// dataSession wraps one open data channel and its peer connection.
type dataSession struct {
	peer domain.PeerID
	pc   *webrtc.PeerConnection
	dc   *webrtc.DataChannel

	mu      sync.Mutex
	onClose func(error)
	closed  bool
}

var _ ports.DataSession = (*dataSession)(nil)

func newDataSession(peer domain.PeerID, pc *webrtc.PeerConnection, dc *webrtc.DataChannel) *dataSession {
	s := &dataSession{peer: peer, pc: pc, dc: dc}

	dc.OnClose(func() {
		s.closeLocal(nil)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed:
			s.closeLocal(fmt.Errorf("peer connection failed"))
		case webrtc.PeerConnectionStateClosed:
			s.closeLocal(nil)
		}
	})
	return s
}

func (s *dataSession) Peer() domain.PeerID { return s.peer }

func (s *dataSession) Send(env domain.Envelope) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return domain.ErrSessionNotOpen
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := s.dc.Send(data); err != nil {
		return fmt.Errorf("send on data channel: %w", err)
	}
	return nil
}

func (s *dataSession) OnMessage(fn func(domain.Envelope)) {
	s.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		var env domain.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			// Malformed frames are dropped, not fatal.
			return
		}
		if fn != nil {
			fn(env)
		}
	})
}

func (s *dataSession) OnClose(fn func(error)) {
	s.mu.Lock()
	closed := s.closed
	s.onClose = fn
	s.mu.Unlock()
	if closed && fn != nil {
		fn(nil)
	}
}

func (s *dataSession) Close() error {
	s.closeLocal(nil)
	s.dc.Close()
	return s.pc.Close()
}

func (s *dataSession) closeLocal(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	fn := s.onClose
	s.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}
