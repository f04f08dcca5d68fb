package services

import (
	"context"
	"testing"
	"time"

	"roomnet/internal/core/domain"
	"roomnet/internal/infrastructure/transport/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// meshNode bundles one peer's endpoint, directory, session table and
// connector over a shared in-process hub.
type meshNode struct {
	id        domain.PeerID
	endpoint  *memory.Endpoint
	dir       *Directory
	sessions  *SessionManager
	connector *Connector
	metrics   *countingMetrics
}

func newMeshNode(t *testing.T, hub *memory.Hub, id domain.PeerID, sweepInterval time.Duration) *meshNode {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	metrics := &countingMetrics{}
	client := new(MockMembershipClient)

	endpoint := hub.Endpoint(id)
	sessions := NewSessionManager(id, metrics, logger)
	dir := NewDirectory(domain.Participant{ID: id, DisplayName: string(id)}, client, metrics, logger)
	connector := NewConnector(endpoint, dir, sessions, sweepInterval, logger)
	endpoint.HandleSession(sessions.Add)

	return &meshNode{
		id:        id,
		endpoint:  endpoint,
		dir:       dir,
		sessions:  sessions,
		connector: connector,
		metrics:   metrics,
	}
}

func TestConnector_SweepDialsKnownPeers(t *testing.T) {
	hub := memory.NewHub()
	a := newMeshNode(t, hub, "a", time.Hour)
	b := newMeshNode(t, hub, "b", time.Hour)

	a.dir.UpsertAuthoritative([]domain.Participant{{ID: "b", DisplayName: "B"}})
	a.connector.Sweep(context.Background())

	require.Eventually(t, func() bool {
		return a.sessions.Open("b") && b.sessions.Open("a")
	}, time.Second, 5*time.Millisecond)
}

func TestConnector_SweepIsIdempotent(t *testing.T) {
	hub := memory.NewHub()
	a := newMeshNode(t, hub, "a", time.Hour)
	b := newMeshNode(t, hub, "b", time.Hour)

	a.dir.UpsertAuthoritative([]domain.Participant{{ID: "b", DisplayName: "B"}})
	a.connector.Sweep(context.Background())

	require.Eventually(t, func() bool {
		return a.sessions.Open("b") && b.sessions.Open("a")
	}, time.Second, 5*time.Millisecond)
	opened := a.metrics.SessionsOpened()

	// With no state change a second pass opens nothing new.
	a.connector.Sweep(context.Background())
	a.connector.Sweep(context.Background())
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, opened, a.metrics.SessionsOpened())
}

func TestConnector_SweepSkipsUnreachablePeers(t *testing.T) {
	hub := memory.NewHub()
	a := newMeshNode(t, hub, "a", time.Hour)
	a.dir.UpsertAuthoritative([]domain.Participant{{ID: "offline", DisplayName: "Offline"}})

	// Dial failure is expected churn, not an error.
	a.connector.Sweep(context.Background())
	assert.False(t, a.sessions.Open("offline"))
}

func TestConnector_KickTriggersImmediateSweep(t *testing.T) {
	hub := memory.NewHub()
	a := newMeshNode(t, hub, "a", time.Hour)
	b := newMeshNode(t, hub, "b", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.connector.Run(ctx)

	// The directory change kicks the loop; the hour-long ticker never fires
	// within the test, so an open session proves the kick path.
	a.dir.UpsertAuthoritative([]domain.Participant{{ID: "b", DisplayName: "B"}})

	require.Eventually(t, func() bool {
		return a.sessions.Open("b") && b.sessions.Open("a")
	}, time.Second, 5*time.Millisecond)
}

func TestConnector_CompetingDialsConverge(t *testing.T) {
	hub := memory.NewHub()
	a := newMeshNode(t, hub, "a", 20*time.Millisecond)
	b := newMeshNode(t, hub, "b", 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.connector.Run(ctx)
	go b.connector.Run(ctx)

	// Both sides learn of each other at once and dial simultaneously. The
	// duplicate resolves via replace-on-open; the periodic sweep redials if
	// a race closed both halves.
	a.dir.UpsertAuthoritative([]domain.Participant{{ID: "b", DisplayName: "B"}})
	b.dir.UpsertAuthoritative([]domain.Participant{{ID: "a", DisplayName: "A"}})

	require.Eventually(t, func() bool {
		if !a.sessions.Open("b") || !b.sessions.Open("a") {
			return false
		}
		if a.sessions.Send("b", domain.MsgChat, domain.ChatPayload{Kind: domain.ChatText, Body: "ping"}) != nil {
			return false
		}
		return b.sessions.Send("a", domain.MsgChat, domain.ChatPayload{Kind: domain.ChatText, Body: "pong"}) == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.Len(t, a.sessions.Peers(), 1)
	assert.Len(t, b.sessions.Peers(), 1)
}
