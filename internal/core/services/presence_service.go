package services

import (
	"sync"
	"time"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"

	"go.uber.org/zap"
)

// speakingThreshold is the average inbound audio energy above which a peer
// is rendered as speaking. Best-effort visual signal only.
const speakingThreshold = 0.12

// Presence tracks hand-raise, mute, speaking and reactions. Local state is
// the source of truth for the local participant; remote state is
// last-event-wins, which is sound because these are idempotent booleans.
type Presence struct {
	self        domain.PeerID
	sessions    *SessionManager
	reactionTTL time.Duration
	logger      *zap.SugaredLogger
	now         func() time.Time

	mu        sync.Mutex
	local     domain.PresenceState
	peers     map[domain.PeerID]*domain.PresenceState
	reactions []domain.Reaction
}

func NewPresence(self domain.PeerID, sessions *SessionManager, reactionTTL time.Duration, logger *zap.SugaredLogger) *Presence {
	return &Presence{
		self:        self,
		sessions:    sessions,
		reactionTTL: reactionTTL,
		logger:      logger,
		now:         time.Now,
		peers:       make(map[domain.PeerID]*domain.PresenceState),
	}
}

// SetHandRaised toggles the local hand and broadcasts the one-shot event to
// every open session. Late joiners get the state from SyncTo instead.
func (p *Presence) SetHandRaised(raised bool) {
	p.mu.Lock()
	p.local.HandRaised = raised
	p.mu.Unlock()
	p.sessions.Broadcast(domain.MsgHand, domain.FlagPayload{Value: raised})
}

// SetMuted toggles the local mute and broadcasts the event.
func (p *Presence) SetMuted(muted bool) {
	p.mu.Lock()
	p.local.Muted = muted
	p.mu.Unlock()
	p.sessions.Broadcast(domain.MsgMute, domain.FlagPayload{Value: muted})
}

// React broadcasts a fire-and-forget reaction symbol.
func (p *Presence) React(symbol string) {
	p.sessions.Broadcast(domain.MsgReaction, domain.ReactionPayload{Symbol: symbol})
}

// SyncTo pushes the current hand and mute state onto a freshly opened
// session, before any future event can reach that peer. Solves the
// cold-start problem for participants joining after a toggle happened.
func (p *Presence) SyncTo(sess ports.DataSession) {
	p.mu.Lock()
	state := p.local
	p.mu.Unlock()

	if err := p.sessions.SendOn(sess, domain.MsgHandSync, domain.FlagPayload{Value: state.HandRaised}); err != nil {
		p.logger.Warnw("hand-sync send failed", "peer", sess.Peer(), "error", err)
	}
	if err := p.sessions.SendOn(sess, domain.MsgMuteSync, domain.FlagPayload{Value: state.Muted}); err != nil {
		p.logger.Warnw("mute-sync send failed", "peer", sess.Peer(), "error", err)
	}
}

// HandleHand processes a hand event or hand-sync from a peer.
func (p *Presence) HandleHand(peer domain.PeerID, env domain.Envelope) {
	var flag domain.FlagPayload
	if err := env.Decode(&flag); err != nil {
		p.logger.Warnw("bad hand payload", "peer", peer, "error", err)
		return
	}
	p.mu.Lock()
	p.stateLocked(peer).HandRaised = flag.Value
	p.mu.Unlock()
}

// HandleMute processes a mute event or mute-sync from a peer. Muting forces
// not-speaking without waiting for the level meter.
func (p *Presence) HandleMute(peer domain.PeerID, env domain.Envelope) {
	var flag domain.FlagPayload
	if err := env.Decode(&flag); err != nil {
		p.logger.Warnw("bad mute payload", "peer", peer, "error", err)
		return
	}
	p.mu.Lock()
	st := p.stateLocked(peer)
	st.Muted = flag.Value
	if flag.Value {
		st.Speaking = false
	}
	p.mu.Unlock()
}

// HandleReaction records an inbound reaction with a local expiry.
func (p *Presence) HandleReaction(peer domain.PeerID, env domain.Envelope) {
	var r domain.ReactionPayload
	if err := env.Decode(&r); err != nil {
		p.logger.Warnw("bad reaction payload", "peer", peer, "error", err)
		return
	}
	p.mu.Lock()
	p.reactions = append(p.reactions, domain.Reaction{
		From:      peer,
		Symbol:    r.Symbol,
		ExpiresAt: p.now().Add(p.reactionTTL),
	})
	p.mu.Unlock()
}

// ReportAudioLevel feeds one inbound audio energy sample for a peer. Muted
// peers stay not-speaking regardless of measured energy.
func (p *Presence) ReportAudioLevel(peer domain.PeerID, level float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.stateLocked(peer)
	if st.Muted {
		st.Speaking = false
		return
	}
	st.Speaking = level > speakingThreshold
}

// PeerState returns the last-known presence of a peer.
func (p *Presence) PeerState(peer domain.PeerID) domain.PresenceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.peers[peer]; ok {
		return *st
	}
	return domain.PresenceState{}
}

func (p *Presence) LocalState() domain.PresenceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

// ActiveReactions prunes expired entries and returns the live ones.
func (p *Presence) ActiveReactions() []domain.Reaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	live := p.reactions[:0]
	for _, r := range p.reactions {
		if r.ExpiresAt.After(now) {
			live = append(live, r)
		}
	}
	p.reactions = live
	out := make([]domain.Reaction, len(live))
	copy(out, live)
	return out
}

// PeerLeft drops a departed peer's presence.
func (p *Presence) PeerLeft(peer domain.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.peers, peer)
}

// Clear resets all remote state at teardown.
func (p *Presence) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peers = make(map[domain.PeerID]*domain.PresenceState)
	p.reactions = nil
}

func (p *Presence) stateLocked(peer domain.PeerID) *domain.PresenceState {
	st, ok := p.peers[peer]
	if !ok {
		st = &domain.PresenceState{}
		p.peers[peer] = st
	}
	return st
}
