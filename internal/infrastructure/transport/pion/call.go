package pion

import (
	"sync"
	"time"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const pliInterval = 3 * time.Second

// mediaCall wraps one peer connection negotiated for a single stream kind.
type mediaCall struct {
	peer   domain.PeerID
	kind   domain.StreamKind
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	mu        sync.Mutex
	onStream  func(ports.RemoteStream)
	onLevel   func(float64)
	onClose   func()
	pending   ports.RemoteStream
	announced bool
	closed    bool
}

var _ ports.MediaCall = (*mediaCall)(nil)

func newMediaCall(peer domain.PeerID, kind domain.StreamKind, pc *webrtc.PeerConnection, logger *zap.SugaredLogger) *mediaCall {
	c := &mediaCall{peer: peer, kind: kind, pc: pc, logger: logger}
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.closeLocal()
		}
	})
	return c
}

func (c *mediaCall) Peer() domain.PeerID     { return c.peer }
func (c *mediaCall) Kind() domain.StreamKind { return c.kind }

func (c *mediaCall) OnRemoteStream(fn func(ports.RemoteStream)) {
	c.mu.Lock()
	c.onStream = fn
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	if fn != nil && pending != nil {
		fn(pending)
	}
}

func (c *mediaCall) OnAudioLevel(fn func(float64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLevel = fn
}

func (c *mediaCall) OnClose(fn func()) {
	c.mu.Lock()
	closed := c.closed
	c.onClose = fn
	c.mu.Unlock()
	if closed && fn != nil {
		fn()
	}
}

func (c *mediaCall) Close() error {
	c.closeLocal()
	return c.pc.Close()
}

func (c *mediaCall) closeLocal() {
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

// handleTrack is the pc.OnTrack callback: announce the remote stream once,
// then consume RTP for the lifetime of the track.
func (c *mediaCall) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	c.logger.Debugw("remote track started",
		"peer_id", c.peer,
		"kind", c.kind,
		"track_id", track.ID(),
		"codec", track.Codec().MimeType,
	)

	// A camera call carries video plus audio; the remote stream slot is
	// announced once, on whichever track arrives first.
	remote := &RemoteTrack{peer: c.peer, kind: c.kind, track: track}
	c.mu.Lock()
	fn := c.onStream
	announce := !c.announced
	if announce {
		c.announced = true
		if fn == nil {
			c.pending = remote
		}
	}
	c.mu.Unlock()
	if announce && fn != nil {
		fn(remote)
	}

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go c.requestKeyframes(track)
	}
	go c.readTrack(track)
}

// requestKeyframes sends a PLI on an interval so a newly attached viewer
// does not wait out a full keyframe period.
func (c *mediaCall) requestKeyframes(track *webrtc.TrackRemote) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		err := c.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		})
		if err != nil {
			return
		}
	}
}

func (c *mediaCall) readTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500) // MTU size
	pkt := &rtp.Packet{}
	audio := track.Kind() == webrtc.RTPCodecTypeAudio

	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		if !audio {
			continue
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}

		// Opus frames grow with signal energy; payload size is a crude
		// stand-in for level but ranks speakers well enough.
		level := float64(len(pkt.Payload)) / 250.0
		if level > 1.0 {
			level = 1.0
		}

		c.mu.Lock()
		fn := c.onLevel
		c.mu.Unlock()
		if fn != nil {
			fn(level)
		}
	}
}

// incomingCall defers peer connection setup until the local side answers.
type incomingCall struct {
	endpoint *Endpoint
	peer     domain.PeerID
	kind     domain.StreamKind
	negID    string
	offer    []byte
	once     sync.Once
}

var _ ports.IncomingCall = (*incomingCall)(nil)

func (ic *incomingCall) Peer() domain.PeerID     { return ic.peer }
func (ic *incomingCall) Kind() domain.StreamKind { return ic.kind }

func (ic *incomingCall) Answer(stream ports.LocalStream) (ports.MediaCall, error) {
	var (
		call *mediaCall
		err  error
	)
	ic.once.Do(func() {
		call, err = ic.endpoint.answerCall(ic, stream)
	})
	if err != nil {
		return nil, err
	}
	if call == nil {
		return nil, domain.ErrSessionNotOpen
	}
	return call, nil
}

// RemoteTrack is the transport-level remote stream handle. Rendering layers
// type-assert to it to reach the underlying track.
type RemoteTrack struct {
	peer  domain.PeerID
	kind  domain.StreamKind
	track *webrtc.TrackRemote
}

var _ ports.RemoteStream = (*RemoteTrack)(nil)

func (r *RemoteTrack) Peer() domain.PeerID        { return r.peer }
func (r *RemoteTrack) Kind() domain.StreamKind    { return r.kind }
func (r *RemoteTrack) Track() *webrtc.TrackRemote { return r.track }
