package services

import (
	"context"
	"sync"
	"time"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"

	"go.uber.org/zap"
)

// RoomConfig carries the three timer cadences of the core plus the reaction
// display TTL.
type RoomConfig struct {
	PollInterval  time.Duration // membership/participant poll
	SweepInterval time.Duration // mesh reconciliation sweep
	ReactionTTL   time.Duration
}

func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		PollInterval:  3 * time.Second,
		SweepInterval: 5 * time.Second,
		ReactionTTL:   3 * time.Second,
	}
}

// Room composes the mesh core for one local participant: admission gate,
// gossip directory, mesh connector, data sessions, media orchestration and
// presence. All cross-component reads are snapshots; staleness delays
// convergence by at most one interval, never corrupts state.
type Room struct {
	cfg     RoomConfig
	self    domain.Participant
	logger  *zap.SugaredLogger
	metrics ports.MeshMetrics

	transport ports.Transport
	client    ports.MembershipClient

	Directory *Directory
	Sessions  *SessionManager
	Connector *Connector
	Media     *MediaOrchestrator
	Presence  *Presence
	Admission *Admission

	mu      sync.Mutex
	chat    []domain.ChatMessage
	onChat  func(domain.ChatMessage)
	present map[domain.PeerID]bool
	polled  bool
	active  bool
	cancel  context.CancelFunc

	leaveOnce sync.Once
}

func NewRoom(self domain.Participant, transport ports.Transport, client ports.MembershipClient, cfg RoomConfig, metrics ports.MeshMetrics, logger *zap.SugaredLogger) *Room {
	r := &Room{
		cfg:       cfg,
		self:      self,
		logger:    logger,
		metrics:   metrics,
		transport: transport,
		client:    client,
		present:   make(map[domain.PeerID]bool),
	}

	r.Directory = NewDirectory(self, client, metrics, logger)
	r.Sessions = NewSessionManager(self.ID, metrics, logger)
	r.Connector = NewConnector(transport, r.Directory, r.Sessions, cfg.SweepInterval, logger)
	r.Media = NewMediaOrchestrator(transport, r.Sessions, metrics, logger)
	r.Presence = NewPresence(self.ID, r.Sessions, cfg.ReactionTTL, logger)
	r.Admission = NewAdmission(self.ID, client, metrics, logger)

	r.wire()
	return r
}

func (r *Room) wire() {
	// Sync state travels before any future event on a fresh channel, so
	// registration order matters: presence sync first, gossip second.
	r.Sessions.OnSessionOpen(func(sess ports.DataSession) {
		r.Presence.SyncTo(sess)
		if err := r.Sessions.SendOn(sess, domain.MsgGossip, r.Directory.Snapshot()); err != nil {
			r.logger.Warnw("gossip snapshot send failed", "peer", sess.Peer(), "error", err)
		}

		// Announce the new peer to everyone already connected. Closes the
		// sub-one-hop discovery gap for the 3-party case without waiting
		// for a poll interval.
		peer := sess.Peer()
		r.Directory.Merge(context.Background(), peer, domain.GossipPayload{Self: domain.ParticipantInfo{ID: peer}})
		r.Sessions.Broadcast(domain.MsgGossip, r.Directory.PlaceholderFor(peer), peer)

		r.Media.Reconcile(context.Background())
	})

	r.Sessions.OnSessionClose(func(peer domain.PeerID) {
		// Orphaned calls to that peer are cleared here; the reconciliation
		// sweep is the only reconnect mechanism.
		r.Media.PeerLeft(peer)
		r.mu.Lock()
		gone := r.polled && !r.present[peer]
		r.mu.Unlock()
		if gone {
			r.Directory.Remove(peer)
			r.Presence.PeerLeft(peer)
		}
	})

	r.Sessions.Handle(domain.MsgGossip, func(peer domain.PeerID, env domain.Envelope) {
		var g domain.GossipPayload
		if err := env.Decode(&g); err != nil {
			r.logger.Warnw("bad gossip payload", "peer", peer, "error", err)
			return
		}
		r.Directory.Merge(context.Background(), peer, g)
	})
	r.Sessions.Handle(domain.MsgHand, r.Presence.HandleHand)
	r.Sessions.Handle(domain.MsgHandSync, r.Presence.HandleHand)
	r.Sessions.Handle(domain.MsgMute, r.Presence.HandleMute)
	r.Sessions.Handle(domain.MsgMuteSync, r.Presence.HandleMute)
	r.Sessions.Handle(domain.MsgReaction, r.Presence.HandleReaction)
	r.Sessions.Handle(domain.MsgScreenEnded, func(peer domain.PeerID, _ domain.Envelope) {
		r.Media.RemoteScreenEnded(peer)
	})
	r.Sessions.Handle(domain.MsgChat, func(peer domain.PeerID, env domain.Envelope) {
		var c domain.ChatPayload
		if err := env.Decode(&c); err != nil {
			r.logger.Warnw("bad chat payload", "peer", peer, "error", err)
			return
		}
		r.recordChat(domain.ChatMessage{From: peer, Kind: c.Kind, Body: c.Body, SentAt: time.Now()})
	})

	r.Media.OnAudioLevel(r.Presence.ReportAudioLevel)

	r.transport.HandleSession(r.Sessions.Add)
	r.transport.HandleCall(r.Media.HandleIncoming)
}

// Join resolves admission for the meeting (synthesizing an id when empty)
// and, once accepted, enters the active mesh. While knocking it keeps
// polling in the background until the host answers or ctx ends. Safe to
// re-invoke: an accepted room does not re-knock or re-activate.
func (r *Room) Join(ctx context.Context, id domain.MeetingID) (domain.AdmissionPhase, error) {
	phase, err := r.Admission.Join(ctx, id)
	if err != nil {
		return phase, err
	}
	switch phase {
	case domain.PhaseAccepted:
		r.enterActive(ctx)
	case domain.PhaseKnocking:
		go r.awaitAdmission(ctx)
	}
	return phase, nil
}

// awaitAdmission re-runs the join step on the poll cadence until the store
// answers. Idempotent by construction, so overlapping invocations are safe.
func (r *Room) awaitAdmission(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		phase, err := r.Admission.Join(ctx, r.Admission.Meeting())
		if err != nil {
			r.logger.Infow("admission ended", "phase", phase, "error", err)
			return
		}
		if phase == domain.PhaseAccepted {
			r.enterActive(ctx)
			return
		}
	}
}

func (r *Room) enterActive(ctx context.Context) {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return
	}
	r.active = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.mu.Unlock()

	r.logger.Infow("entering room", "meeting", r.Admission.Meeting())

	if err := r.client.JoinMeeting(runCtx, r.Admission.Meeting(), r.self); err != nil {
		r.logger.Warnw("participant registration failed", "error", err)
	}

	r.pollParticipants(runCtx)
	go r.Connector.Run(runCtx)
	go r.pollLoop(runCtx)
	r.Connector.Kick()
}

func (r *Room) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollParticipants(ctx)
		}
	}
}

// pollParticipants refreshes the directory from the authoritative membership
// list and prunes participants that both left the mesh and vanished from the
// store.
func (r *Room) pollParticipants(ctx context.Context) {
	list, err := r.client.Participants(ctx, r.Admission.Meeting())
	if err != nil {
		// Transient; swallowed and retried next cycle.
		r.metrics.PollFailed()
		r.logger.Warnw("participant poll failed", "error", err)
		return
	}

	r.Directory.UpsertAuthoritative(list)

	present := make(map[domain.PeerID]bool, len(list))
	for _, p := range list {
		present[p.ID] = true
	}
	r.mu.Lock()
	r.present = present
	r.polled = true
	r.mu.Unlock()

	for _, id := range r.Directory.Known() {
		if !present[id] && !r.Sessions.Open(id) {
			r.Directory.Remove(id)
			r.Presence.PeerLeft(id)
			r.Media.PeerLeft(id)
		}
	}
}

// SendChat broadcasts a chat message and records it locally.
func (r *Room) SendChat(kind domain.ChatKind, body string) {
	r.Sessions.Broadcast(domain.MsgChat, domain.ChatPayload{Kind: kind, Body: body})
	r.recordChat(domain.ChatMessage{From: r.self.ID, Kind: kind, Body: body, SentAt: time.Now()})
}

func (r *Room) recordChat(msg domain.ChatMessage) {
	r.mu.Lock()
	r.chat = append(r.chat, msg)
	fn := r.onChat
	r.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (r *Room) OnChat(fn func(domain.ChatMessage)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChat = fn
}

func (r *Room) ChatHistory() []domain.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ChatMessage, len(r.chat))
	copy(out, r.chat)
	return out
}

func (r *Room) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Leave is the single cancellation point: stop local media, close every
// call handle, close every session, release the endpoint, in that order,
// exactly once. No callback fires against stale state afterwards.
func (r *Room) Leave(ctx context.Context) {
	r.leaveOnce.Do(func() {
		r.mu.Lock()
		cancel := r.cancel
		r.active = false
		r.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		r.Media.Shutdown()
		r.Sessions.CloseAll()
		if err := r.transport.Close(); err != nil {
			r.logger.Warnw("transport close failed", "error", err)
		}
		r.Directory.Clear()
		r.Presence.Clear()

		if err := r.client.LeaveMeeting(ctx, r.Admission.Meeting(), r.self.ID); err != nil {
			r.logger.Warnw("membership leave failed", "error", err)
		}
		r.logger.Infow("left room", "meeting", r.Admission.Meeting())
	})
}
