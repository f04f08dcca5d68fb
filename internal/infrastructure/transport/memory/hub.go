// Package memory provides an in-process transport: endpoints registered on a
// shared hub reach each other without any network. Used by tests and by
// single-process deployments; it honors the same contracts as the WebRTC
// adapter, including replace-on-reconnect per identity and ordered delivery
// per channel.
package memory

import (
	"context"
	"sync"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"
)

type Hub struct {
	mu        sync.Mutex
	endpoints map[domain.PeerID]*Endpoint
}

func NewHub() *Hub {
	return &Hub{endpoints: make(map[domain.PeerID]*Endpoint)}
}

// Endpoint registers a transport endpoint for id. A second registration for
// the same id replaces the first: the old endpoint is closed, never left to
// coexist.
func (h *Hub) Endpoint(id domain.PeerID) *Endpoint {
	ep := &Endpoint{hub: h, self: id}

	h.mu.Lock()
	old := h.endpoints[id]
	h.endpoints[id] = ep
	h.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return ep
}

func (h *Hub) lookup(id domain.PeerID) *Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.endpoints[id]
}

func (h *Hub) drop(id domain.PeerID, ep *Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.endpoints[id] == ep {
		delete(h.endpoints, id)
	}
}

// Endpoint implements ports.Transport over the hub.
type Endpoint struct {
	hub  *Hub
	self domain.PeerID

	mu        sync.Mutex
	onSession func(ports.DataSession)
	onCall    func(ports.IncomingCall)
	closed    bool
}

var _ ports.Transport = (*Endpoint)(nil)

func (e *Endpoint) Self() domain.PeerID { return e.self }

func (e *Endpoint) HandleSession(fn func(ports.DataSession)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSession = fn
}

func (e *Endpoint) HandleCall(fn func(ports.IncomingCall)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCall = fn
}

// Connect builds a session pair and hands one half to each side's session
// handler, exactly as an out-of-process transport would after its handshake.
func (e *Endpoint) Connect(ctx context.Context, peer domain.PeerID) error {
	if e.isClosed() {
		return domain.ErrEndpointReleased
	}
	remote := e.hub.lookup(peer)
	if remote == nil || remote.isClosed() {
		return domain.ErrPeerNotFound
	}

	local, far := newSessionPair(e.self, peer)
	e.deliverSession(local)
	remote.deliverSession(far)
	return nil
}

// Call builds a call pair and offers the far half to the remote endpoint.
func (e *Endpoint) Call(ctx context.Context, peer domain.PeerID, kind domain.StreamKind, stream ports.LocalStream) (ports.MediaCall, error) {
	if e.isClosed() {
		return nil, domain.ErrEndpointReleased
	}
	remote := e.hub.lookup(peer)
	if remote == nil || remote.isClosed() {
		return nil, domain.ErrPeerNotFound
	}

	caller, offer := newCallPair(e.self, peer, kind, stream)
	remote.deliverCall(offer)
	return caller, nil
}

func (e *Endpoint) deliverSession(s *session) {
	e.mu.Lock()
	fn := e.onSession
	closed := e.closed
	e.mu.Unlock()

	if closed || fn == nil {
		s.Close()
		return
	}
	go fn(s)
}

func (e *Endpoint) deliverCall(ic *incomingCall) {
	e.mu.Lock()
	fn := e.onCall
	closed := e.closed
	e.mu.Unlock()

	if closed || fn == nil {
		ic.reject()
		return
	}
	go fn(ic)
}

func (e *Endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Close releases the endpoint. Handlers are cleared first so nothing fires
// against stale state afterwards.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.onSession = nil
	e.onCall = nil
	e.mu.Unlock()

	e.hub.drop(e.self, e)
	return nil
}
