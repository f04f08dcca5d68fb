package memory

import (
	"sync"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"
)

// call is one half of a media call pair.
type call struct {
	peer domain.PeerID
	kind domain.StreamKind

	mu       sync.Mutex
	other    *call
	onStream func(ports.RemoteStream)
	onLevel  func(float64)
	onClose  func()
	pending  ports.RemoteStream // remote stream that arrived before a handler
	closed   bool
}

var _ ports.MediaCall = (*call)(nil)

func newCallPair(caller, callee domain.PeerID, kind domain.StreamKind, callerStream ports.LocalStream) (*call, *incomingCall) {
	near := &call{peer: callee, kind: kind}
	far := &call{peer: caller, kind: kind}
	near.other = far
	far.other = near

	if callerStream != nil {
		far.receiveStream(remoteStream{peer: caller, kind: kind})
	}
	return near, &incomingCall{call: far}
}

func (c *call) Peer() domain.PeerID     { return c.peer }
func (c *call) Kind() domain.StreamKind { return c.kind }

func (c *call) OnRemoteStream(fn func(ports.RemoteStream)) {
	c.mu.Lock()
	c.onStream = fn
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	if fn != nil && pending != nil {
		fn(pending)
	}
}

func (c *call) OnAudioLevel(fn func(float64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLevel = fn
}

func (c *call) OnClose(fn func()) {
	c.mu.Lock()
	closed := c.closed
	c.onClose = fn
	c.mu.Unlock()
	if closed && fn != nil {
		fn()
	}
}

func (c *call) Close() error {
	c.closeLocal()
	c.other.closeLocal()
	return nil
}

func (c *call) closeLocal() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *call) receiveStream(s ports.RemoteStream) {
	c.mu.Lock()
	fn := c.onStream
	if fn == nil {
		c.pending = s
	}
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// EmitAudioLevel injects an inbound audio energy sample, standing in for
// what the WebRTC adapter derives from RTP. Test hook.
func (c *call) EmitAudioLevel(level float64) {
	c.mu.Lock()
	fn := c.onLevel
	c.mu.Unlock()
	if fn != nil {
		fn(level)
	}
}

type incomingCall struct {
	call *call
	once sync.Once
}

var _ ports.IncomingCall = (*incomingCall)(nil)

func (ic *incomingCall) Peer() domain.PeerID     { return ic.call.peer }
func (ic *incomingCall) Kind() domain.StreamKind { return ic.call.kind }

// Answer completes the pair. A nil stream answers receive-only.
func (ic *incomingCall) Answer(stream ports.LocalStream) (ports.MediaCall, error) {
	var out ports.MediaCall
	ic.once.Do(func() {
		if stream != nil {
			ic.call.other.receiveStream(remoteStream{peer: ic.call.other.peer, kind: ic.call.kind})
		}
		out = ic.call
	})
	if out == nil {
		return ic.call, nil
	}
	return out, nil
}

func (ic *incomingCall) reject() {
	ic.call.Close()
}

type remoteStream struct {
	peer domain.PeerID
	kind domain.StreamKind
}

func (r remoteStream) Peer() domain.PeerID     { return r.peer }
func (r remoteStream) Kind() domain.StreamKind { return r.kind }
