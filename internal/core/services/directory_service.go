package services

import (
	"context"
	"sync"
	"time"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"

	"go.uber.org/zap"
)

// Directory is the gossip directory: the local participant's knowledge of
// who else is in the session. Entries are created by membership polling
// (authoritative) or by gossip (speculative, possibly placeholder), enriched
// in place, and removed only by explicit departure detection. A gossip
// message can never delete a record.
type Directory struct {
	self    domain.Participant
	client  ports.MembershipClient
	logger  *zap.SugaredLogger
	metrics ports.MeshMetrics

	mu        sync.RWMutex
	peers     map[domain.PeerID]*domain.Participant
	resolving map[domain.PeerID]bool
	onChange  func()
}

func NewDirectory(self domain.Participant, client ports.MembershipClient, metrics ports.MeshMetrics, logger *zap.SugaredLogger) *Directory {
	return &Directory{
		self:      self,
		client:    client,
		logger:    logger,
		metrics:   metrics,
		peers:     make(map[domain.PeerID]*domain.Participant),
		resolving: make(map[domain.PeerID]bool),
	}
}

// OnChange registers the callback fired whenever the known-participants set
// gains a member. The mesh connector uses it to sweep immediately instead of
// waiting out its interval.
func (d *Directory) OnChange(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = fn
}

func (d *Directory) Self() domain.Participant {
	return d.self
}

// Snapshot builds the gossip payload sent on session open: own descriptor
// plus the full known-peer map.
func (d *Directory) Snapshot() domain.GossipPayload {
	d.mu.RLock()
	defer d.mu.RUnlock()

	peers := make(map[domain.PeerID]domain.ParticipantInfo, len(d.peers))
	for id, p := range d.peers {
		peers[id] = domain.InfoOf(*p)
	}
	return domain.GossipPayload{Self: domain.InfoOf(d.self), Peers: peers}
}

// PlaceholderFor builds the minimal gossip announcing a single peer's
// existence, rebroadcast to already-open sessions when a new session opens.
func (d *Directory) PlaceholderFor(peer domain.PeerID) domain.GossipPayload {
	return domain.GossipPayload{
		Self:  domain.InfoOf(d.self),
		Peers: map[domain.PeerID]domain.ParticipantInfo{peer: {ID: peer}},
	}
}

// Merge applies a received gossip payload: the sender's self-descriptor is
// recorded unconditionally under the sender's id, and every map entry merges
// additively into the local table. Returns the ids that were previously
// unknown.
func (d *Directory) Merge(ctx context.Context, from domain.PeerID, g domain.GossipPayload) []domain.PeerID {
	if g.Self.ID == "" {
		g.Self.ID = from
	}

	var added []domain.PeerID
	var toResolve []domain.PeerID

	d.mu.Lock()
	merged := 0
	apply := func(info domain.ParticipantInfo) {
		id := info.ID
		if id == "" || id == d.self.ID {
			return
		}
		rec, known := d.peers[id]
		if !known {
			p := info.Participant()
			p.DiscoveredAt = time.Now()
			d.peers[id] = &p
			added = append(added, id)
			rec = &p
		} else {
			rec.MergeFrom(info.Participant())
		}
		merged++
		if rec.Placeholder() && !d.resolving[id] {
			d.resolving[id] = true
			toResolve = append(toResolve, id)
		}
	}

	apply(g.Self)
	for id, info := range g.Peers {
		if info.ID == "" {
			info.ID = id
		}
		apply(info)
	}
	changed := d.onChange
	d.mu.Unlock()

	d.metrics.GossipMerged(merged)

	// Placeholder entries carry only an id; fetch the profile out of band.
	for _, id := range toResolve {
		go d.resolve(ctx, id)
	}

	if len(added) > 0 && changed != nil {
		changed()
	}
	return added
}

func (d *Directory) resolve(ctx context.Context, id domain.PeerID) {
	defer func() {
		d.mu.Lock()
		delete(d.resolving, id)
		d.mu.Unlock()
	}()

	p, err := d.client.Profile(ctx, id)
	if err != nil {
		// Transient; the next authoritative poll or gossip round fills it in.
		d.logger.Warnw("profile fetch failed", "peer", id, "error", err)
		return
	}

	d.mu.Lock()
	if rec, ok := d.peers[id]; ok {
		rec.MergeFrom(*p)
	}
	d.mu.Unlock()
}

// UpsertAuthoritative merges a membership-poll participant list. Poll data
// wins over gossip placeholders but still merges additively.
func (d *Directory) UpsertAuthoritative(list []domain.Participant) {
	var added []domain.PeerID

	d.mu.Lock()
	for _, p := range list {
		if p.ID == "" || p.ID == d.self.ID {
			continue
		}
		if rec, ok := d.peers[p.ID]; ok {
			rec.MergeFrom(p)
			continue
		}
		cp := p
		cp.DiscoveredAt = time.Now()
		d.peers[p.ID] = &cp
		added = append(added, p.ID)
	}
	changed := d.onChange
	d.mu.Unlock()

	if len(added) > 0 && changed != nil {
		changed()
	}
}

// Remove drops a departed participant. Only departure detection calls this;
// gossip never does.
func (d *Directory) Remove(id domain.PeerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, id)
}

func (d *Directory) Get(id domain.PeerID) (domain.Participant, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[id]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

// Known returns the known remote participant ids.
func (d *Directory) Known() []domain.PeerID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]domain.PeerID, 0, len(d.peers))
	for id := range d.peers {
		ids = append(ids, id)
	}
	return ids
}

// Participants returns a copy of every known record.
func (d *Directory) Participants() []domain.Participant {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.Participant, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, *p)
	}
	return out
}

// Clear empties the table as part of teardown.
func (d *Directory) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers = make(map[domain.PeerID]*domain.Participant)
}
