package services

import (
	"context"
	"sync"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"

	"go.uber.org/zap"
)

// MediaOrchestrator attaches local capture streams (camera, screen) to every
// open data session as separate media calls, one handle per (peer, kind).
// Calls are bound to the stream object they were created with: re-acquiring
// a stream closes the old handles and lets the next reconciliation pass
// establish fresh ones.
type MediaOrchestrator struct {
	transport ports.Transport
	sessions  *SessionManager
	logger    *zap.SugaredLogger
	metrics   ports.MeshMetrics

	mu       sync.Mutex
	local    map[domain.StreamKind]ports.LocalStream
	outgoing map[domain.CallKey]ports.MediaCall
	answered map[domain.CallKey]ports.MediaCall
	remote   map[domain.CallKey]ports.RemoteStream
	pending  map[domain.CallKey]bool

	onAudioLevel  func(peer domain.PeerID, level float64)
	onRemoteMedia func(stream ports.RemoteStream)
}

func NewMediaOrchestrator(transport ports.Transport, sessions *SessionManager, metrics ports.MeshMetrics, logger *zap.SugaredLogger) *MediaOrchestrator {
	return &MediaOrchestrator{
		transport: transport,
		sessions:  sessions,
		logger:    logger,
		metrics:   metrics,
		local:     make(map[domain.StreamKind]ports.LocalStream),
		outgoing:  make(map[domain.CallKey]ports.MediaCall),
		answered:  make(map[domain.CallKey]ports.MediaCall),
		remote:    make(map[domain.CallKey]ports.RemoteStream),
		pending:   make(map[domain.CallKey]bool),
	}
}

// OnAudioLevel registers the sink for inbound audio energy samples, fed to
// the speaking detector.
func (o *MediaOrchestrator) OnAudioLevel(fn func(peer domain.PeerID, level float64)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onAudioLevel = fn
}

// OnRemoteMedia registers the sink notified when a remote stream slot fills.
func (o *MediaOrchestrator) OnRemoteMedia(fn func(stream ports.RemoteStream)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onRemoteMedia = fn
}

// SetLocal installs a (re)acquired local stream. All prior outgoing handles
// of that kind are closed first, since they carry the stale stream, and the
// reconcile pass then re-establishes calls bound to the new one.
func (o *MediaOrchestrator) SetLocal(ctx context.Context, stream ports.LocalStream) {
	kind := stream.Kind()

	o.mu.Lock()
	prev := o.local[kind]
	o.local[kind] = stream
	stale := o.takeOutgoingLocked(kind)
	o.mu.Unlock()

	if prev != nil && prev != stream {
		prev.Stop()
	}
	for _, call := range stale {
		call.Close()
	}

	stream.OnEnded(func() {
		o.StopLocal(kind)
	})

	o.Reconcile(ctx)
}

// StopLocal stops the local stream of the given kind and closes all outgoing
// calls carrying it. Screen stop additionally broadcasts screen-ended: once
// the call is closed an ended capture produces no other observable signal
// for the remote side. Camera stop does not, since its call close is itself
// observable.
func (o *MediaOrchestrator) StopLocal(kind domain.StreamKind) {
	o.mu.Lock()
	stream, ok := o.local[kind]
	delete(o.local, kind)
	stale := o.takeOutgoingLocked(kind)
	o.mu.Unlock()

	if !ok {
		return
	}

	if kind == domain.StreamScreen {
		o.sessions.Broadcast(domain.MsgScreenEnded, nil)
	}
	stream.Stop()
	for _, call := range stale {
		call.Close()
	}
}

func (o *MediaOrchestrator) takeOutgoingLocked(kind domain.StreamKind) []ports.MediaCall {
	var out []ports.MediaCall
	for key, call := range o.outgoing {
		if key.Kind == kind {
			out = append(out, call)
			delete(o.outgoing, key)
		}
	}
	return out
}

// Reconcile establishes a missing outgoing call for every (open session,
// active local stream kind) pair. Idempotent; safe to re-enter while a
// previous call is still negotiating thanks to the pending reservation.
func (o *MediaOrchestrator) Reconcile(ctx context.Context) {
	peers := o.sessions.Peers()

	for _, peer := range peers {
		for _, kind := range []domain.StreamKind{domain.StreamCamera, domain.StreamScreen} {
			key := domain.CallKey{Peer: peer, Kind: kind}

			o.mu.Lock()
			stream, active := o.local[kind]
			_, exists := o.outgoing[key]
			if !active || exists || o.pending[key] {
				o.mu.Unlock()
				continue
			}
			o.pending[key] = true
			o.mu.Unlock()

			call, err := o.transport.Call(ctx, peer, kind, stream)

			o.mu.Lock()
			delete(o.pending, key)
			if err != nil {
				o.mu.Unlock()
				// Peer unavailable is expected churn; retry happens on the
				// next reconciliation once a fresh session exists.
				o.logger.Debugw("call failed", "peer", peer, "kind", kind, "error", err)
				continue
			}
			o.outgoing[key] = call
			o.mu.Unlock()

			o.metrics.CallStarted(kind)
			o.track(key, call, true)
		}
	}
}

// HandleIncoming answers an inbound call unconditionally, attaching the
// matching local stream or nothing. Answering with no stream preserves the
// ability to receive.
func (o *MediaOrchestrator) HandleIncoming(ic ports.IncomingCall) {
	key := domain.CallKey{Peer: ic.Peer(), Kind: ic.Kind()}

	o.mu.Lock()
	stream := o.local[key.Kind]
	o.mu.Unlock()

	call, err := ic.Answer(stream)
	if err != nil {
		o.logger.Warnw("answer failed", "peer", key.Peer, "kind", key.Kind, "error", err)
		return
	}

	o.mu.Lock()
	old, replaced := o.answered[key]
	o.answered[key] = call
	o.mu.Unlock()

	// Close outside the lock: the stale handle's close callback re-enters
	// clear, which sees the replacement in the slot and leaves it in place.
	if replaced && old != call {
		old.Close()
	}

	o.metrics.CallStarted(key.Kind)
	o.track(key, call, false)
}

func (o *MediaOrchestrator) track(key domain.CallKey, call ports.MediaCall, outgoing bool) {
	call.OnRemoteStream(func(stream ports.RemoteStream) {
		o.mu.Lock()
		o.remote[key] = stream
		fn := o.onRemoteMedia
		o.mu.Unlock()
		if fn != nil {
			fn(stream)
		}
	})
	call.OnAudioLevel(func(level float64) {
		o.mu.Lock()
		fn := o.onAudioLevel
		o.mu.Unlock()
		if fn != nil {
			fn(key.Peer, level)
		}
	})
	call.OnClose(func() {
		o.clear(key, call, outgoing)
	})
}

// clear removes a finished call and its remote-stream slot. A close is never
// an error demanding retry; the next reconciliation re-establishes if both a
// local stream and a session still exist.
func (o *MediaOrchestrator) clear(key domain.CallKey, call ports.MediaCall, outgoing bool) {
	o.mu.Lock()
	table := o.answered
	if outgoing {
		table = o.outgoing
	}
	if current, ok := table[key]; ok && current == call {
		delete(table, key)
		delete(o.remote, key)
		o.mu.Unlock()
		o.metrics.CallEnded(key.Kind)
		return
	}
	o.mu.Unlock()
}

// RemoteScreenEnded clears the remote screen slot on an explicit
// screen-ended notification.
func (o *MediaOrchestrator) RemoteScreenEnded(peer domain.PeerID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.remote, domain.CallKey{Peer: peer, Kind: domain.StreamScreen})
}

// PeerLeft tears down every call and slot belonging to a departed peer.
func (o *MediaOrchestrator) PeerLeft(peer domain.PeerID) {
	o.mu.Lock()
	var closing []ports.MediaCall
	for key, call := range o.outgoing {
		if key.Peer == peer {
			closing = append(closing, call)
			delete(o.outgoing, key)
			delete(o.remote, key)
		}
	}
	for key, call := range o.answered {
		if key.Peer == peer {
			closing = append(closing, call)
			delete(o.answered, key)
			delete(o.remote, key)
		}
	}
	o.mu.Unlock()

	for _, call := range closing {
		call.Close()
	}
}

// RemoteStream returns the current inbound stream for a (peer, kind) slot.
func (o *MediaOrchestrator) RemoteStream(peer domain.PeerID, kind domain.StreamKind) (ports.RemoteStream, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.remote[domain.CallKey{Peer: peer, Kind: kind}]
	return s, ok
}

// OutgoingCalls returns the number of live outgoing handles for a kind.
func (o *MediaOrchestrator) OutgoingCalls(kind domain.StreamKind) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for key := range o.outgoing {
		if key.Kind == kind {
			n++
		}
	}
	return n
}

// OpenHandles returns the total number of live call handles.
func (o *MediaOrchestrator) OpenHandles() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.outgoing) + len(o.answered)
}

// Shutdown stops every local stream and closes every call handle. Runs
// before sessions close in the single teardown sequence.
func (o *MediaOrchestrator) Shutdown() {
	o.mu.Lock()
	locals := o.local
	o.local = make(map[domain.StreamKind]ports.LocalStream)
	var closing []ports.MediaCall
	for _, c := range o.outgoing {
		closing = append(closing, c)
	}
	for _, c := range o.answered {
		closing = append(closing, c)
	}
	o.outgoing = make(map[domain.CallKey]ports.MediaCall)
	o.answered = make(map[domain.CallKey]ports.MediaCall)
	o.remote = make(map[domain.CallKey]ports.RemoteStream)
	o.mu.Unlock()

	for _, s := range locals {
		s.Stop()
	}
	for _, c := range closing {
		c.Close()
	}
}
