package pion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"
	"roomnet/internal/infrastructure/signal"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const dataChannelLabel = "room"

// Config holds WebRTC transport configuration
type Config struct {
	RelayURL   string
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// Endpoint is the WebRTC implementation of the mesh transport. Every data
// session and every media call is its own peer connection, negotiated over
// the signaling relay and identified by a negotiation id so trickled ICE
// candidates find their connection.
type Endpoint struct {
	self   domain.PeerID
	api    *webrtc.API
	cfg    webrtc.Configuration
	sig    *signalClient
	logger *zap.SugaredLogger

	mu             sync.Mutex
	negotiations   map[string]*negotiation
	sessionHandler func(ports.DataSession)
	callHandler    func(ports.IncomingCall)
	closed         bool
}

// negotiation tracks one in-flight peer connection and the ICE candidates
// that arrived before its remote description was set.
type negotiation struct {
	pc        *webrtc.PeerConnection
	pending   []webrtc.ICECandidateInit
	remoteSet bool
}

var _ ports.Transport = (*Endpoint)(nil)

func NewEndpoint(ctx context.Context, self domain.PeerID, cfg Config, logger *zap.SugaredLogger) (*Endpoint, error) {
	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("set port range: %w", err)
		}
	}

	sig, err := dialSignal(ctx, cfg.RelayURL, self, logger)
	if err != nil {
		return nil, err
	}

	e := &Endpoint{
		self: self,
		api:  webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		cfg: webrtc.Configuration{
			ICEServers:   cfg.ICEServers,
			SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
		},
		sig:          sig,
		logger:       logger,
		negotiations: make(map[string]*negotiation),
	}
	sig.run(e.handleSignal)
	return e, nil
}

func (e *Endpoint) Self() domain.PeerID { return e.self }

func (e *Endpoint) HandleSession(fn func(ports.DataSession)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionHandler = fn
}

func (e *Endpoint) HandleCall(fn func(ports.IncomingCall)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callHandler = fn
}

// Connect dials peer for a data session. The opened session is delivered
// through the session handler once the channel reaches the open state.
func (e *Endpoint) Connect(ctx context.Context, peer domain.PeerID) error {
	negID := uuid.NewString()

	pc, err := e.newPeerConnection(peer, negID)
	if err != nil {
		return err
	}

	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create data channel: %w", err)
	}
	e.wireDataChannel(peer, pc, dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return fmt.Errorf("set local description: %w", err)
	}

	return e.sig.send(signal.RelayMessage{
		Type:    "offer",
		To:      peer,
		Intent:  "session",
		CallID:  negID,
		Payload: marshalSDP(offer),
	})
}

// Call dials peer for a media call carrying stream. The returned handle is
// live immediately; negotiation failures surface as a close.
func (e *Endpoint) Call(ctx context.Context, peer domain.PeerID, kind domain.StreamKind, stream ports.LocalStream) (ports.MediaCall, error) {
	negID := uuid.NewString()

	pc, err := e.newPeerConnection(peer, negID)
	if err != nil {
		return nil, err
	}

	call := newMediaCall(peer, kind, pc, e.logger)
	if err := e.attachLocal(pc, stream); err != nil {
		pc.Close()
		return nil, err
	}
	pc.OnTrack(call.handleTrack)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	if err := e.sig.send(signal.RelayMessage{
		Type:    "offer",
		To:      peer,
		Intent:  "call",
		Kind:    string(kind),
		CallID:  negID,
		Payload: marshalSDP(offer),
	}); err != nil {
		pc.Close()
		return nil, err
	}
	return call, nil
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	// Clear handlers first so nothing fires during teardown.
	e.sessionHandler = nil
	e.callHandler = nil
	negs := e.negotiations
	e.negotiations = make(map[string]*negotiation)
	e.mu.Unlock()

	for _, n := range negs {
		n.pc.Close()
	}
	return e.sig.close()
}

func (e *Endpoint) handleSignal(msg signal.RelayMessage) {
	switch msg.Type {
	case "offer":
		e.handleOffer(msg)
	case "answer":
		e.handleAnswer(msg)
	case "ice_candidate":
		e.handleCandidate(msg)
	default:
		e.logger.Debugw("ignoring signal", "type", msg.Type, "from_peer", msg.From)
	}
}

func (e *Endpoint) handleOffer(msg signal.RelayMessage) {
	switch msg.Intent {
	case "session":
		if err := e.answerSession(msg); err != nil {
			e.logger.Warnw("failed to answer session offer", "from_peer", msg.From, "error", err)
		}
	case "call":
		kind := domain.StreamKind(msg.Kind)
		if !kind.Valid() {
			e.logger.Warnw("call offer with unknown stream kind", "from_peer", msg.From, "kind", msg.Kind)
			return
		}
		e.mu.Lock()
		handler := e.callHandler
		e.mu.Unlock()
		if handler == nil {
			e.logger.Warnw("no call handler registered, dropping offer", "from_peer", msg.From)
			return
		}
		handler(&incomingCall{
			endpoint: e,
			peer:     msg.From,
			kind:     kind,
			negID:    msg.CallID,
			offer:    msg.Payload,
		})
	default:
		e.logger.Warnw("offer with unknown intent", "from_peer", msg.From, "intent", msg.Intent)
	}
}

func (e *Endpoint) answerSession(msg signal.RelayMessage) error {
	pc, err := e.newPeerConnection(msg.From, msg.CallID)
	if err != nil {
		return err
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != dataChannelLabel {
			return
		}
		e.wireDataChannel(msg.From, pc, dc)
	})

	return e.accept(pc, msg, "session", "")
}

// accept applies a remote offer to pc and returns the local answer over the
// relay, reusing the offer's negotiation id.
func (e *Endpoint) accept(pc *webrtc.PeerConnection, msg signal.RelayMessage, intent, kind string) error {
	offer, err := unmarshalSDP(msg.Payload)
	if err != nil {
		pc.Close()
		return err
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return fmt.Errorf("set remote description: %w", err)
	}
	e.markRemoteSet(msg.From, msg.CallID)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return fmt.Errorf("set local description: %w", err)
	}

	return e.sig.send(signal.RelayMessage{
		Type:    "answer",
		To:      msg.From,
		Intent:  intent,
		Kind:    kind,
		CallID:  msg.CallID,
		Payload: marshalSDP(answer),
	})
}

// answerCall completes an inbound call. A nil stream answers receive-only.
func (e *Endpoint) answerCall(ic *incomingCall, stream ports.LocalStream) (*mediaCall, error) {
	pc, err := e.newPeerConnection(ic.peer, ic.negID)
	if err != nil {
		return nil, err
	}

	call := newMediaCall(ic.peer, ic.kind, pc, e.logger)
	if stream != nil {
		if err := e.attachLocal(pc, stream); err != nil {
			pc.Close()
			return nil, err
		}
	}
	pc.OnTrack(call.handleTrack)

	if err := e.accept(pc, signal.RelayMessage{
		From:    ic.peer,
		CallID:  ic.negID,
		Payload: ic.offer,
	}, "call", string(ic.kind)); err != nil {
		return nil, err
	}
	return call, nil
}

func (e *Endpoint) handleAnswer(msg signal.RelayMessage) {
	n := e.lookup(msg.From, msg.CallID)
	if n == nil {
		e.logger.Debugw("answer for unknown negotiation", "from_peer", msg.From, "call_id", msg.CallID)
		return
	}
	answer, err := unmarshalSDP(msg.Payload)
	if err != nil {
		e.logger.Warnw("bad answer payload", "from_peer", msg.From, "error", err)
		return
	}
	if err := n.pc.SetRemoteDescription(answer); err != nil {
		e.logger.Warnw("failed to apply answer", "from_peer", msg.From, "error", err)
		return
	}
	e.markRemoteSet(msg.From, msg.CallID)
}

func (e *Endpoint) handleCandidate(msg signal.RelayMessage) {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(msg.Payload, &candidate); err != nil {
		e.logger.Warnw("bad ICE candidate payload", "from_peer", msg.From, "error", err)
		return
	}

	e.mu.Lock()
	n, ok := e.negotiations[negKey(msg.From, msg.CallID)]
	if ok && !n.remoteSet {
		// Hold candidates that outran the SDP exchange.
		n.pending = append(n.pending, candidate)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if !ok {
		e.logger.Debugw("candidate for unknown negotiation", "from_peer", msg.From, "call_id", msg.CallID)
		return
	}
	if err := n.pc.AddICECandidate(candidate); err != nil {
		e.logger.Warnw("failed to add ICE candidate", "from_peer", msg.From, "error", err)
	}
}

// markRemoteSet flushes candidates buffered while the remote description was
// still missing.
func (e *Endpoint) markRemoteSet(peer domain.PeerID, negID string) {
	e.mu.Lock()
	n, ok := e.negotiations[negKey(peer, negID)]
	var pending []webrtc.ICECandidateInit
	if ok {
		n.remoteSet = true
		pending = n.pending
		n.pending = nil
	}
	e.mu.Unlock()

	for _, candidate := range pending {
		if err := n.pc.AddICECandidate(candidate); err != nil {
			e.logger.Warnw("failed to add buffered ICE candidate", "peer_id", peer, "error", err)
		}
	}
}

func (e *Endpoint) newPeerConnection(peer domain.PeerID, negID string) (*webrtc.PeerConnection, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, domain.ErrEndpointReleased
	}
	e.mu.Unlock()

	pc, err := e.api.NewPeerConnection(e.cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	key := negKey(peer, negID)
	e.mu.Lock()
	e.negotiations[key] = &negotiation{pc: pc}
	e.mu.Unlock()

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		payload, err := json.Marshal(candidate.ToJSON())
		if err != nil {
			return
		}
		if err := e.sig.send(signal.RelayMessage{
			Type:    "ice_candidate",
			To:      peer,
			CallID:  negID,
			Payload: payload,
		}); err != nil {
			e.logger.Debugw("failed to send ICE candidate", "peer_id", peer, "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.logger.Debugw("peer connection state changed",
			"peer_id", peer,
			"connection_state", state,
		)
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			e.mu.Lock()
			delete(e.negotiations, key)
			e.mu.Unlock()
		}
	})

	return pc, nil
}

func (e *Endpoint) wireDataChannel(peer domain.PeerID, pc *webrtc.PeerConnection, dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		sess := newDataSession(peer, pc, dc)
		e.mu.Lock()
		handler := e.sessionHandler
		e.mu.Unlock()
		if handler == nil {
			e.logger.Warnw("no session handler registered, closing channel", "peer_id", peer)
			sess.Close()
			return
		}
		handler(sess)
	})
}

func (e *Endpoint) attachLocal(pc *webrtc.PeerConnection, stream ports.LocalStream) error {
	if stream == nil {
		// Receive-only: declare recv transceivers so the remote side can
		// still send.
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add recv transceiver: %w", err)
		}
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add recv transceiver: %w", err)
		}
		return nil
	}

	local, ok := stream.(*Stream)
	if !ok {
		return fmt.Errorf("stream %s is not a webrtc stream", stream.ID())
	}
	for _, track := range local.tracks() {
		if _, err := pc.AddTrack(track); err != nil {
			return fmt.Errorf("add track: %w", err)
		}
	}
	return nil
}

func (e *Endpoint) lookup(peer domain.PeerID, negID string) *negotiation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.negotiations[negKey(peer, negID)]
}

func negKey(peer domain.PeerID, negID string) string {
	return string(peer) + "/" + negID
}

func marshalSDP(desc webrtc.SessionDescription) json.RawMessage {
	raw, _ := json.Marshal(desc)
	return raw
}

func unmarshalSDP(raw json.RawMessage) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("decode session description: %w", err)
	}
	return desc, nil
}
