package ports

import (
	"context"

	"roomnet/internal/core/domain"
)

// Transport is the peer-connection primitive the mesh core runs on. An
// implementation registers exactly one endpoint for the local participant id;
// registering the same id again is a reconnect-replace, never a second
// endpoint.
//
// Connect is fire-and-forget: the open session (outbound or inbound) arrives
// through the session handler, so the engine has a single code path for
// session establishment regardless of direction.
type Transport interface {
	Self() domain.PeerID

	// Connect initiates an outbound data session. Idempotent and cheap;
	// duplicate or competing dials are resolved by the caller's
	// replace-on-open policy.
	Connect(ctx context.Context, peer domain.PeerID) error

	// Call initiates a media call carrying stream to peer. The handle is
	// live from creation; negotiation failures surface as a close.
	Call(ctx context.Context, peer domain.PeerID, kind domain.StreamKind, stream LocalStream) (MediaCall, error)

	// HandleSession registers the callback invoked for every data session
	// that reaches the open state.
	HandleSession(fn func(DataSession))

	// HandleCall registers the callback invoked for every inbound media
	// call offer.
	HandleCall(fn func(IncomingCall))

	// Close releases the endpoint. No handler fires after Close returns.
	Close() error
}

// DataSession is one reliable, ordered, bidirectional message channel to a
// single peer. Messages are delivered in send order; that per-channel
// ordering is the only ordering guarantee the core relies on.
type DataSession interface {
	Peer() domain.PeerID
	Send(env domain.Envelope) error
	OnMessage(fn func(domain.Envelope))
	OnClose(fn func(err error))
	Close() error
}

// IncomingCall is an inbound media call offer. Answering is unconditional:
// the local side attaches its matching stream if it has one, or nil to be
// receive-only.
type IncomingCall interface {
	Peer() domain.PeerID
	Kind() domain.StreamKind
	Answer(stream LocalStream) (MediaCall, error)
}

// MediaCall is one negotiated media transmission, scoped to a stream kind.
// A call is bound to the stream object it was created with and cannot be
// re-pointed; rebinding means close and re-establish.
type MediaCall interface {
	Peer() domain.PeerID
	Kind() domain.StreamKind

	// OnRemoteStream fires when the remote side's return stream arrives.
	OnRemoteStream(fn func(RemoteStream))

	// OnAudioLevel reports inbound audio energy samples for the speaking
	// detector. Implementations without audio never call fn.
	OnAudioLevel(fn func(level float64))

	OnClose(fn func())
	Close() error
}

// LocalStream is a local capture source (camera or screen). The core never
// reads media from it; it only attaches it to calls and observes its end.
type LocalStream interface {
	ID() string
	Kind() domain.StreamKind
	OnEnded(fn func())
	Stop()
}

// RemoteStream is an inbound media stream slot value. Opaque to the core;
// rendering layers type-assert to the transport's concrete stream.
type RemoteStream interface {
	Peer() domain.PeerID
	Kind() domain.StreamKind
}
