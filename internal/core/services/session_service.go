package services

import (
	"sync"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"

	"go.uber.org/zap"
)

// SessionManager owns the data-session table: at most one open session per
// peer id. A new session for an id with an existing open session replaces it
// (last open wins); the replaced channel is closed, not left to coexist.
type SessionManager struct {
	self    domain.PeerID
	logger  *zap.SugaredLogger
	metrics ports.MeshMetrics

	mu       sync.RWMutex
	sessions map[domain.PeerID]ports.DataSession
	handlers map[domain.MessageType]func(peer domain.PeerID, env domain.Envelope)
	onOpen   []func(ports.DataSession)
	onClose  []func(peer domain.PeerID)
}

func NewSessionManager(self domain.PeerID, metrics ports.MeshMetrics, logger *zap.SugaredLogger) *SessionManager {
	return &SessionManager{
		self:     self,
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[domain.PeerID]ports.DataSession),
		handlers: make(map[domain.MessageType]func(domain.PeerID, domain.Envelope)),
	}
}

// Handle registers the handler for one message type. Registration happens
// once at engine wiring time, before any session exists.
func (m *SessionManager) Handle(t domain.MessageType, fn func(peer domain.PeerID, env domain.Envelope)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[t] = fn
}

// OnSessionOpen registers a callback fired after a session is installed in
// the table. Callbacks run in registration order, so "sync before events"
// holds as long as the presence sync callback is registered first.
func (m *SessionManager) OnSessionOpen(fn func(ports.DataSession)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOpen = append(m.onOpen, fn)
}

func (m *SessionManager) OnSessionClose(fn func(peer domain.PeerID)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = append(m.onClose, fn)
}

// Add installs an open session, replacing any existing one for the same id.
func (m *SessionManager) Add(sess ports.DataSession) {
	peer := sess.Peer()
	if peer == m.self {
		sess.Close()
		return
	}

	m.mu.Lock()
	old, replaced := m.sessions[peer]
	m.sessions[peer] = sess
	openFns := append([]func(ports.DataSession){}, m.onOpen...)
	m.mu.Unlock()

	// Close the superseded channel outside the lock: its close handler calls
	// back into remove, which takes the lock again. The replacement already
	// owns the slot, so remove sees a foreign session and leaves it alone.
	if replaced && old != sess {
		m.logger.Infow("replacing open session", "peer", peer)
		old.Close()
	}

	m.metrics.SessionOpened()

	sess.OnMessage(func(env domain.Envelope) {
		m.dispatch(peer, env)
	})
	sess.OnClose(func(err error) {
		m.remove(peer, sess, err)
	})

	for _, fn := range openFns {
		fn(sess)
	}
}

func (m *SessionManager) dispatch(peer domain.PeerID, env domain.Envelope) {
	m.mu.RLock()
	fn, ok := m.handlers[env.Type]
	m.mu.RUnlock()
	if !ok {
		m.logger.Debugw("unhandled message type", "peer", peer, "type", env.Type)
		return
	}
	fn(peer, env)
}

func (m *SessionManager) remove(peer domain.PeerID, sess ports.DataSession, err error) {
	m.mu.Lock()
	current, ok := m.sessions[peer]
	if !ok || current != sess {
		// A replacement session already took the slot; the close belongs
		// to the superseded channel and must not tear down the new one.
		m.mu.Unlock()
		return
	}
	delete(m.sessions, peer)
	closeFns := append([]func(domain.PeerID){}, m.onClose...)
	m.mu.Unlock()

	if err != nil {
		m.logger.Infow("session closed with error", "peer", peer, "error", err)
	}
	m.metrics.SessionClosed()

	for _, fn := range closeFns {
		fn(peer)
	}
}

// Send delivers one typed message to a single peer.
func (m *SessionManager) Send(peer domain.PeerID, t domain.MessageType, payload interface{}) error {
	m.mu.RLock()
	sess, ok := m.sessions[peer]
	m.mu.RUnlock()
	if !ok {
		return domain.ErrSessionNotOpen
	}
	env, err := domain.NewEnvelope(t, m.self, payload)
	if err != nil {
		return err
	}
	return sess.Send(env)
}

// Broadcast sends one typed message to every open session except the ids in
// skip. Per-peer send failures are logged and do not stop the fan-out.
func (m *SessionManager) Broadcast(t domain.MessageType, payload interface{}, skip ...domain.PeerID) {
	env, err := domain.NewEnvelope(t, m.self, payload)
	if err != nil {
		m.logger.Warnw("broadcast encode failed", "type", t, "error", err)
		return
	}

	skipSet := make(map[domain.PeerID]bool, len(skip))
	for _, id := range skip {
		skipSet[id] = true
	}

	for _, sess := range m.snapshot() {
		if skipSet[sess.Peer()] {
			continue
		}
		if err := sess.Send(env); err != nil {
			m.logger.Warnw("broadcast send failed", "peer", sess.Peer(), "type", t, "error", err)
		}
	}
}

// SendOn writes a typed message to one concrete session handle. Used by the
// on-open sync path, which must target the session that just opened rather
// than whatever the table holds.
func (m *SessionManager) SendOn(sess ports.DataSession, t domain.MessageType, payload interface{}) error {
	env, err := domain.NewEnvelope(t, m.self, payload)
	if err != nil {
		return err
	}
	return sess.Send(env)
}

func (m *SessionManager) Open(peer domain.PeerID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[peer]
	return ok
}

// Peers returns the ids with an open session, a read-only snapshot taken at
// call time.
func (m *SessionManager) Peers() []domain.PeerID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]domain.PeerID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (m *SessionManager) snapshot() []ports.DataSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ports.DataSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// CloseAll closes every open session. Part of the single teardown path.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[domain.PeerID]ports.DataSession)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
