package domain

// StreamKind distinguishes the two local capture sources a call can carry.
type StreamKind string

const (
	StreamCamera StreamKind = "camera"
	StreamScreen StreamKind = "screen"
)

func (k StreamKind) Valid() bool {
	return k == StreamCamera || k == StreamScreen
}

// CallKey identifies one in-flight or active media call. At most one outgoing
// call exists per key; re-acquiring a local stream of a kind invalidates all
// prior outgoing handles of that kind.
type CallKey struct {
	Peer PeerID
	Kind StreamKind
}
