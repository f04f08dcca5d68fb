package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sessionSink collects the sessions an endpoint's handler receives.
type sessionSink struct {
	mu       sync.Mutex
	sessions []ports.DataSession
}

func (s *sessionSink) accept(sess ports.DataSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
}

func (s *sessionSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *sessionSink) first(t *testing.T) ports.DataSession {
	t.Helper()
	require.Eventually(t, func() bool { return s.count() > 0 }, time.Second, 5*time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[0]
}

func TestHub_ConnectDeliversBothHalves(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint("a")
	b := hub.Endpoint("b")

	var sinkA, sinkB sessionSink
	a.HandleSession(sinkA.accept)
	b.HandleSession(sinkB.accept)

	require.NoError(t, a.Connect(context.Background(), "b"))

	sa := sinkA.first(t)
	sb := sinkB.first(t)
	assert.Equal(t, domain.PeerID("b"), sa.Peer())
	assert.Equal(t, domain.PeerID("a"), sb.Peer())
}

func TestHub_ConnectToUnknownPeer(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint("a")
	err := a.Connect(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrPeerNotFound)
}

func TestHub_ClosedEndpointRefusesConnect(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint("a")
	hub.Endpoint("b")

	require.NoError(t, a.Close())
	err := a.Connect(context.Background(), "b")
	assert.ErrorIs(t, err, domain.ErrEndpointReleased)
}

func TestHub_CloseIsIdempotent(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint("a")
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}

func TestHub_ReregisterReplacesEndpoint(t *testing.T) {
	hub := NewHub()
	first := hub.Endpoint("a")
	second := hub.Endpoint("a")
	b := hub.Endpoint("b")

	// The first registration was closed when the second one arrived.
	assert.ErrorIs(t, first.Connect(context.Background(), "b"), domain.ErrEndpointReleased)

	var sink sessionSink
	second.HandleSession(sink.accept)
	require.NoError(t, b.Connect(context.Background(), "a"))
	sink.first(t)
}

func TestSession_OrderedDelivery(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint("a")
	b := hub.Endpoint("b")

	var sinkA, sinkB sessionSink
	a.HandleSession(sinkA.accept)
	b.HandleSession(sinkB.accept)
	require.NoError(t, a.Connect(context.Background(), "b"))

	sa := sinkA.first(t)
	sb := sinkB.first(t)

	// Queue before any handler exists; the backlog must drain in send order
	// once one is registered.
	const n = 20
	for i := 0; i < n; i++ {
		env, err := domain.NewEnvelope(domain.MsgChat, "a", domain.ChatPayload{Kind: domain.ChatText, Body: fmt.Sprintf("%d", i)})
		require.NoError(t, err)
		require.NoError(t, sa.Send(env))
	}

	var mu sync.Mutex
	var got []string
	sb.OnMessage(func(env domain.Envelope) {
		var p domain.ChatPayload
		if err := env.Decode(&p); err != nil {
			return
		}
		mu.Lock()
		got = append(got, p.Body)
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, body := range got {
		assert.Equal(t, fmt.Sprintf("%d", i), body)
	}
}

func TestSession_CloseNotifiesBothSides(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint("a")
	b := hub.Endpoint("b")

	var sinkA, sinkB sessionSink
	a.HandleSession(sinkA.accept)
	b.HandleSession(sinkB.accept)
	require.NoError(t, a.Connect(context.Background(), "b"))

	sa := sinkA.first(t)
	sb := sinkB.first(t)

	var mu sync.Mutex
	closedA, closedB := false, false
	sa.OnClose(func(error) { mu.Lock(); closedA = true; mu.Unlock() })
	sb.OnClose(func(error) { mu.Lock(); closedB = true; mu.Unlock() })

	require.NoError(t, sa.Close())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return closedA && closedB
	}, time.Second, 5*time.Millisecond)

	env, err := domain.NewEnvelope(domain.MsgHand, "a", domain.FlagPayload{Value: true})
	require.NoError(t, err)
	assert.ErrorIs(t, sa.Send(env), domain.ErrSessionNotOpen)
}

func TestSession_LateCloseHandlerStillFires(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint("a")
	b := hub.Endpoint("b")

	var sinkA, sinkB sessionSink
	a.HandleSession(sinkA.accept)
	b.HandleSession(sinkB.accept)
	require.NoError(t, a.Connect(context.Background(), "b"))

	sa := sinkA.first(t)
	require.NoError(t, sa.Close())

	fired := make(chan struct{})
	sa.OnClose(func(error) { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("close handler registered after close never fired")
	}
}

func TestCall_AnswerExchangesStreams(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint("a")
	b := hub.Endpoint("b")

	answered := make(chan ports.MediaCall, 1)
	b.HandleCall(func(ic ports.IncomingCall) {
		assert.Equal(t, domain.PeerID("a"), ic.Peer())
		assert.Equal(t, domain.StreamCamera, ic.Kind())
		call, err := ic.Answer(NewLocalStream("cam-b", domain.StreamCamera))
		assert.NoError(t, err)
		answered <- call
	})

	outbound, err := a.Call(context.Background(), "b", domain.StreamCamera, NewLocalStream("cam-a", domain.StreamCamera))
	require.NoError(t, err)

	var calleeCall ports.MediaCall
	select {
	case calleeCall = <-answered:
	case <-time.After(time.Second):
		t.Fatal("call never answered")
	}

	// Each side sees the other's stream.
	gotA := make(chan ports.RemoteStream, 1)
	gotB := make(chan ports.RemoteStream, 1)
	outbound.OnRemoteStream(func(s ports.RemoteStream) { gotA <- s })
	calleeCall.OnRemoteStream(func(s ports.RemoteStream) { gotB <- s })

	select {
	case s := <-gotA:
		assert.Equal(t, domain.PeerID("b"), s.Peer())
	case <-time.After(time.Second):
		t.Fatal("caller never received remote stream")
	}
	select {
	case s := <-gotB:
		assert.Equal(t, domain.PeerID("a"), s.Peer())
	case <-time.After(time.Second):
		t.Fatal("callee never received remote stream")
	}
}

func TestCall_ReceiveOnlyAnswer(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint("a")
	b := hub.Endpoint("b")

	b.HandleCall(func(ic ports.IncomingCall) {
		ic.Answer(nil)
	})

	outbound, err := a.Call(context.Background(), "b", domain.StreamScreen, NewLocalStream("screen-a", domain.StreamScreen))
	require.NoError(t, err)

	// A nil answer sends nothing back; the caller's remote slot stays empty.
	got := make(chan ports.RemoteStream, 1)
	outbound.OnRemoteStream(func(s ports.RemoteStream) { got <- s })

	select {
	case <-got:
		t.Fatal("receive-only answer must not produce a remote stream")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCall_RejectedWhenNoHandler(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint("a")
	hub.Endpoint("b")

	outbound, err := a.Call(context.Background(), "b", domain.StreamCamera, NewLocalStream("cam-a", domain.StreamCamera))
	require.NoError(t, err)

	closed := make(chan struct{})
	outbound.OnClose(func() { close(closed) })

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("unanswerable call was not torn down")
	}
}

func TestCall_CloseReachesBothSides(t *testing.T) {
	hub := NewHub()
	a := hub.Endpoint("a")
	b := hub.Endpoint("b")

	answered := make(chan ports.MediaCall, 1)
	b.HandleCall(func(ic ports.IncomingCall) {
		call, _ := ic.Answer(nil)
		answered <- call
	})

	outbound, err := a.Call(context.Background(), "b", domain.StreamCamera, NewLocalStream("cam-a", domain.StreamCamera))
	require.NoError(t, err)
	calleeCall := <-answered

	closed := make(chan struct{})
	calleeCall.OnClose(func() { close(closed) })
	require.NoError(t, outbound.Close())

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("far side never observed the close")
	}
}

func TestLocalStream_EndFiresOnce(t *testing.T) {
	s := NewLocalStream("cam", domain.StreamCamera)

	fired := 0
	s.OnEnded(func() { fired++ })

	s.End()
	s.End()

	assert.Equal(t, 1, fired)
	assert.True(t, s.Stopped())
}

func TestLocalStream_StopIsSilent(t *testing.T) {
	s := NewLocalStream("cam", domain.StreamCamera)

	s.OnEnded(func() { t.Fatal("Stop must not fire the ended callback") })
	s.Stop()
	assert.True(t, s.Stopped())
}
