package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"
	"roomnet/internal/infrastructure/transport/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// mediaNode is one peer with sessions and media orchestration wired the way
// the room engine wires them.
type mediaNode struct {
	id       domain.PeerID
	endpoint *memory.Endpoint
	sessions *SessionManager
	media    *MediaOrchestrator
	metrics  *countingMetrics
}

func newMediaNode(t *testing.T, hub *memory.Hub, id domain.PeerID) *mediaNode {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	metrics := &countingMetrics{}

	endpoint := hub.Endpoint(id)
	sessions := NewSessionManager(id, metrics, logger)
	media := NewMediaOrchestrator(endpoint, sessions, metrics, logger)

	endpoint.HandleSession(sessions.Add)
	endpoint.HandleCall(media.HandleIncoming)
	sessions.Handle(domain.MsgScreenEnded, func(peer domain.PeerID, _ domain.Envelope) {
		media.RemoteScreenEnded(peer)
	})

	return &mediaNode{id: id, endpoint: endpoint, sessions: sessions, media: media, metrics: metrics}
}

// connectPair opens a data session between two nodes and waits for both
// tables to hold it.
func connectPair(t *testing.T, a, b *mediaNode) {
	t.Helper()
	require.NoError(t, a.endpoint.Connect(context.Background(), b.id))
	require.Eventually(t, func() bool {
		return a.sessions.Open(b.id) && b.sessions.Open(a.id)
	}, time.Second, 5*time.Millisecond)
}

func TestMedia_SetLocalEstablishesCalls(t *testing.T) {
	hub := memory.NewHub()
	a := newMediaNode(t, hub, "a")
	b := newMediaNode(t, hub, "b")
	connectPair(t, a, b)

	cam := memory.NewLocalStream("cam-a", domain.StreamCamera)
	a.media.SetLocal(context.Background(), cam)

	require.Eventually(t, func() bool {
		return a.media.OutgoingCalls(domain.StreamCamera) == 1
	}, time.Second, 5*time.Millisecond)

	// The receiving side answered and sees the inbound stream slot filled.
	require.Eventually(t, func() bool {
		_, ok := b.media.RemoteStream("a", domain.StreamCamera)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestMedia_ReconcileIsIdempotent(t *testing.T) {
	hub := memory.NewHub()
	a := newMediaNode(t, hub, "a")
	b := newMediaNode(t, hub, "b")
	connectPair(t, a, b)

	cam := memory.NewLocalStream("cam-a", domain.StreamCamera)
	a.media.SetLocal(context.Background(), cam)

	require.Eventually(t, func() bool {
		return a.media.OutgoingCalls(domain.StreamCamera) == 1
	}, time.Second, 5*time.Millisecond)

	a.media.Reconcile(context.Background())
	a.media.Reconcile(context.Background())

	assert.Equal(t, 1, a.media.OutgoingCalls(domain.StreamCamera))
}

func TestMedia_RebindReplacesHandles(t *testing.T) {
	hub := memory.NewHub()
	a := newMediaNode(t, hub, "a")
	b := newMediaNode(t, hub, "b")
	connectPair(t, a, b)

	first := memory.NewLocalStream("cam-1", domain.StreamCamera)
	a.media.SetLocal(context.Background(), first)
	require.Eventually(t, func() bool {
		return a.media.OutgoingCalls(domain.StreamCamera) == 1
	}, time.Second, 5*time.Millisecond)

	// Re-acquiring the camera closes handles bound to the old stream and
	// establishes fresh ones bound to the new stream. Never two handles for
	// the same (peer, kind).
	second := memory.NewLocalStream("cam-2", domain.StreamCamera)
	a.media.SetLocal(context.Background(), second)

	assert.True(t, first.Stopped())
	assert.False(t, second.Stopped())
	require.Eventually(t, func() bool {
		return a.media.OutgoingCalls(domain.StreamCamera) == 1
	}, time.Second, 5*time.Millisecond)
}

// fakeMediaCall closes synchronously, firing its close callback on the
// caller's goroutine the way the in-memory transport does.
type fakeMediaCall struct {
	peer domain.PeerID
	kind domain.StreamKind

	mu      sync.Mutex
	onClose func()
	closed  bool
}

func (f *fakeMediaCall) Peer() domain.PeerID                     { return f.peer }
func (f *fakeMediaCall) Kind() domain.StreamKind                 { return f.kind }
func (f *fakeMediaCall) OnRemoteStream(func(ports.RemoteStream)) {}
func (f *fakeMediaCall) OnAudioLevel(func(float64))              {}

func (f *fakeMediaCall) OnClose(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClose = fn
}

func (f *fakeMediaCall) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	fn := f.onClose
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (f *fakeMediaCall) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeIncomingCall struct {
	call *fakeMediaCall
}

func (f *fakeIncomingCall) Peer() domain.PeerID     { return f.call.peer }
func (f *fakeIncomingCall) Kind() domain.StreamKind { return f.call.kind }
func (f *fakeIncomingCall) Answer(ports.LocalStream) (ports.MediaCall, error) {
	return f.call, nil
}

func TestMedia_ReofferReplacesAnsweredCall(t *testing.T) {
	hub := memory.NewHub()
	a := newMediaNode(t, hub, "a")

	first := &fakeMediaCall{peer: "b", kind: domain.StreamCamera}
	second := &fakeMediaCall{peer: "b", kind: domain.StreamCamera}

	// A renegotiated offer for an occupied (peer, kind) slot replaces the
	// answered handle. The superseded call closes synchronously and its close
	// callback must neither evict the replacement nor block the orchestrator.
	a.media.HandleIncoming(&fakeIncomingCall{call: first})
	a.media.HandleIncoming(&fakeIncomingCall{call: second})

	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())
	assert.Equal(t, 1, a.media.OpenHandles())
}

func TestMedia_AnswerAttachesMatchingLocalStream(t *testing.T) {
	hub := memory.NewHub()
	a := newMediaNode(t, hub, "a")
	b := newMediaNode(t, hub, "b")
	connectPair(t, a, b)

	// Both sides hold a camera; b's answer carries its own stream back, so
	// the caller also ends up with an inbound slot.
	bCam := memory.NewLocalStream("cam-b", domain.StreamCamera)
	b.media.SetLocal(context.Background(), bCam)

	aCam := memory.NewLocalStream("cam-a", domain.StreamCamera)
	a.media.SetLocal(context.Background(), aCam)

	require.Eventually(t, func() bool {
		_, aOK := a.media.RemoteStream("b", domain.StreamCamera)
		_, bOK := b.media.RemoteStream("a", domain.StreamCamera)
		return aOK && bOK
	}, time.Second, 5*time.Millisecond)
}

func TestMedia_StopScreenBroadcastsEnded(t *testing.T) {
	hub := memory.NewHub()
	a := newMediaNode(t, hub, "a")
	b := newMediaNode(t, hub, "b")
	connectPair(t, a, b)

	screen := memory.NewLocalStream("screen-a", domain.StreamScreen)
	a.media.SetLocal(context.Background(), screen)

	require.Eventually(t, func() bool {
		_, ok := b.media.RemoteStream("a", domain.StreamScreen)
		return ok
	}, time.Second, 5*time.Millisecond)

	a.media.StopLocal(domain.StreamScreen)

	assert.True(t, screen.Stopped())
	require.Eventually(t, func() bool {
		_, ok := b.media.RemoteStream("a", domain.StreamScreen)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestMedia_SourceEndedStopsShare(t *testing.T) {
	hub := memory.NewHub()
	a := newMediaNode(t, hub, "a")
	b := newMediaNode(t, hub, "b")
	connectPair(t, a, b)

	screen := memory.NewLocalStream("screen-a", domain.StreamScreen)
	a.media.SetLocal(context.Background(), screen)
	require.Eventually(t, func() bool {
		return a.media.OutgoingCalls(domain.StreamScreen) == 1
	}, time.Second, 5*time.Millisecond)

	// The capture dying outside the application (window closed, share bar
	// stop) takes the same path as an explicit stop.
	screen.End()

	require.Eventually(t, func() bool {
		return a.media.OutgoingCalls(domain.StreamScreen) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestMedia_PeerLeftClosesHandles(t *testing.T) {
	hub := memory.NewHub()
	a := newMediaNode(t, hub, "a")
	b := newMediaNode(t, hub, "b")
	connectPair(t, a, b)

	cam := memory.NewLocalStream("cam-a", domain.StreamCamera)
	a.media.SetLocal(context.Background(), cam)
	require.Eventually(t, func() bool {
		return a.media.OutgoingCalls(domain.StreamCamera) == 1
	}, time.Second, 5*time.Millisecond)

	a.media.PeerLeft("b")

	assert.Equal(t, 0, a.media.OutgoingCalls(domain.StreamCamera))
	_, ok := a.media.RemoteStream("b", domain.StreamCamera)
	assert.False(t, ok)
}

func TestMedia_ShutdownClosesEverything(t *testing.T) {
	hub := memory.NewHub()
	a := newMediaNode(t, hub, "a")
	b := newMediaNode(t, hub, "b")
	connectPair(t, a, b)

	cam := memory.NewLocalStream("cam-a", domain.StreamCamera)
	screen := memory.NewLocalStream("screen-a", domain.StreamScreen)
	a.media.SetLocal(context.Background(), cam)
	a.media.SetLocal(context.Background(), screen)

	require.Eventually(t, func() bool {
		return a.media.OpenHandles() == 2
	}, time.Second, 5*time.Millisecond)

	a.media.Shutdown()

	assert.True(t, cam.Stopped())
	assert.True(t, screen.Stopped())
	assert.Equal(t, 0, a.media.OpenHandles())
}
