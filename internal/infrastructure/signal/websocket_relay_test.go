package signal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"roomnet/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRelay(t *testing.T) (*Relay, *httptest.Server) {
	t.Helper()
	relay := NewRelay(zaptest.NewLogger(t).Sugar())
	srv := httptest.NewServer(http.HandlerFunc(relay.HandleWebSocket))
	t.Cleanup(srv.Close)
	return relay, srv
}

func dialPeer(t *testing.T, srv *httptest.Server, peer domain.PeerID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?peer_id=" + string(peer)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) RelayMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg RelayMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestRelay_RoutesOfferToTarget(t *testing.T) {
	relay, srv := newTestRelay(t)

	alice := dialPeer(t, srv, "alice")
	bob := dialPeer(t, srv, "bob")

	require.Eventually(t, func() bool {
		return relay.IsPeerConnected("alice") && relay.IsPeerConnected("bob")
	}, time.Second, 10*time.Millisecond)

	payload := json.RawMessage(`{"sdp":"v=0..."}`)
	require.NoError(t, alice.WriteJSON(RelayMessage{
		Type:    "offer",
		To:      "bob",
		Intent:  "session",
		CallID:  "neg-1",
		Payload: payload,
	}))

	msg := readMessage(t, bob)
	assert.Equal(t, "offer", msg.Type)
	assert.Equal(t, domain.PeerID("alice"), msg.From)
	assert.Equal(t, "session", msg.Intent)
	assert.Equal(t, "neg-1", msg.CallID)
	assert.JSONEq(t, string(payload), string(msg.Payload))
}

func TestRelay_StampsSenderIdentity(t *testing.T) {
	_, srv := newTestRelay(t)

	alice := dialPeer(t, srv, "alice")
	bob := dialPeer(t, srv, "bob")

	// A forged From is rejected; the relay answers the sender with an error
	// frame instead of forwarding.
	require.NoError(t, alice.WriteJSON(RelayMessage{
		Type: "offer",
		From: "mallory",
		To:   "bob",
	}))

	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	var errFrame map[string]interface{}
	require.NoError(t, alice.ReadJSON(&errFrame))
	assert.Equal(t, "error", errFrame["type"])

	bob.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var msg RelayMessage
	assert.Error(t, bob.ReadJSON(&msg))
}

func TestRelay_RejectsUnknownType(t *testing.T) {
	_, srv := newTestRelay(t)
	alice := dialPeer(t, srv, "alice")

	require.NoError(t, alice.WriteJSON(RelayMessage{Type: "gossip", To: "bob"}))

	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	var errFrame map[string]interface{}
	require.NoError(t, alice.ReadJSON(&errFrame))
	assert.Equal(t, "error", errFrame["type"])
}

func TestRelay_RequiresTarget(t *testing.T) {
	_, srv := newTestRelay(t)
	alice := dialPeer(t, srv, "alice")

	require.NoError(t, alice.WriteJSON(RelayMessage{Type: "ice_candidate"}))

	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	var errFrame map[string]interface{}
	require.NoError(t, alice.ReadJSON(&errFrame))
	assert.Equal(t, "error", errFrame["type"])
}

func TestRelay_ErrorsWhenTargetOffline(t *testing.T) {
	_, srv := newTestRelay(t)
	alice := dialPeer(t, srv, "alice")

	require.NoError(t, alice.WriteJSON(RelayMessage{Type: "answer", To: "nobody"}))

	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	var errFrame map[string]interface{}
	require.NoError(t, alice.ReadJSON(&errFrame))
	assert.Equal(t, "error", errFrame["type"])
}

func TestRelay_ReconnectReplacesConnection(t *testing.T) {
	relay, srv := newTestRelay(t)

	first := dialPeer(t, srv, "alice")
	require.Eventually(t, func() bool {
		return relay.IsPeerConnected("alice")
	}, time.Second, 10*time.Millisecond)

	second := dialPeer(t, srv, "alice")
	bob := dialPeer(t, srv, "bob")
	require.Eventually(t, func() bool {
		return relay.IsPeerConnected("bob")
	}, time.Second, 10*time.Millisecond)

	// The replaced connection is closed by the relay.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg RelayMessage
	require.Error(t, first.ReadJSON(&msg))

	// The new connection receives traffic addressed to the peer.
	require.NoError(t, bob.WriteJSON(RelayMessage{Type: "offer", To: "alice"}))
	got := readMessage(t, second)
	assert.Equal(t, domain.PeerID("bob"), got.From)

	// One entry per peer id, whatever the reconnect history.
	assert.ElementsMatch(t, []domain.PeerID{"alice", "bob"}, relay.ConnectedPeers())
}

func TestRelay_ConcurrentSendersToOneTarget(t *testing.T) {
	relay, srv := newTestRelay(t)

	target := dialPeer(t, srv, "target")
	senders := []domain.PeerID{"s1", "s2", "s3"}
	conns := make([]*websocket.Conn, len(senders))
	for i, id := range senders {
		conns[i] = dialPeer(t, srv, id)
	}
	require.Eventually(t, func() bool {
		return len(relay.ConnectedPeers()) == len(senders)+1
	}, time.Second, 10*time.Millisecond)

	// Every sender's handler goroutine writes to the same target connection;
	// all frames must arrive intact.
	const perSender = 10
	for i := range conns {
		go func(conn *websocket.Conn) {
			for n := 0; n < perSender; n++ {
				conn.WriteJSON(RelayMessage{Type: "ice_candidate", To: "target"})
			}
		}(conns[i])
	}

	froms := make(map[domain.PeerID]int)
	target.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < len(senders)*perSender; i++ {
		var msg RelayMessage
		require.NoError(t, target.ReadJSON(&msg))
		require.Equal(t, "ice_candidate", msg.Type)
		froms[msg.From]++
	}
	for _, id := range senders {
		assert.Equal(t, perSender, froms[id])
	}
}

func TestRelay_HealthCheck(t *testing.T) {
	relay, srv := newTestRelay(t)

	dialPeer(t, srv, "alice")
	require.Eventually(t, func() bool {
		return relay.IsPeerConnected("alice")
	}, time.Second, 10*time.Millisecond)

	w := httptest.NewRecorder()
	relay.HealthCheck(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(1), body["connections"])
}
