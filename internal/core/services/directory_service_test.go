package services

import (
	"context"
	"testing"
	"time"

	"roomnet/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestDirectory(t *testing.T, client *MockMembershipClient) *Directory {
	t.Helper()
	self := domain.Participant{ID: "self", DisplayName: "Self"}
	return NewDirectory(self, client, &countingMetrics{}, zaptest.NewLogger(t).Sugar())
}

func TestDirectory_MergeAddsSenderAndPeers(t *testing.T) {
	client := new(MockMembershipClient)
	d := newTestDirectory(t, client)

	added := d.Merge(context.Background(), "alice", domain.GossipPayload{
		Self: domain.ParticipantInfo{ID: "alice", DisplayName: "Alice"},
		Peers: map[domain.PeerID]domain.ParticipantInfo{
			"bob": {ID: "bob", DisplayName: "Bob"},
		},
	})

	assert.ElementsMatch(t, []domain.PeerID{"alice", "bob"}, added)
	assert.ElementsMatch(t, []domain.PeerID{"alice", "bob"}, d.Known())

	alice, ok := d.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "Alice", alice.DisplayName)
}

func TestDirectory_MergeSelfDescriptorFallsBackToSender(t *testing.T) {
	client := new(MockMembershipClient)
	client.On("Profile", mock.Anything, domain.PeerID("alice")).
		Return(nil, domain.ErrPeerNotFound).Maybe()
	d := newTestDirectory(t, client)

	// An empty self id in the payload is attributed to the transport sender.
	added := d.Merge(context.Background(), "alice", domain.GossipPayload{})
	assert.Equal(t, []domain.PeerID{"alice"}, added)
}

func TestDirectory_MergeIsAdditive(t *testing.T) {
	client := new(MockMembershipClient)
	d := newTestDirectory(t, client)

	d.Merge(context.Background(), "alice", domain.GossipPayload{
		Self: domain.ParticipantInfo{ID: "alice", DisplayName: "Alice"},
		Peers: map[domain.PeerID]domain.ParticipantInfo{
			"bob": {ID: "bob", DisplayName: "Bob"},
		},
	})

	// A later gossip round that no longer mentions bob must not remove him,
	// and empty fields must not blank out what is already known.
	added := d.Merge(context.Background(), "alice", domain.GossipPayload{
		Self: domain.ParticipantInfo{ID: "alice"},
	})
	assert.Empty(t, added)
	assert.ElementsMatch(t, []domain.PeerID{"alice", "bob"}, d.Known())

	alice, _ := d.Get("alice")
	assert.Equal(t, "Alice", alice.DisplayName)
}

func TestDirectory_MergeIgnoresSelf(t *testing.T) {
	client := new(MockMembershipClient)
	d := newTestDirectory(t, client)

	added := d.Merge(context.Background(), "alice", domain.GossipPayload{
		Self: domain.ParticipantInfo{ID: "alice", DisplayName: "Alice"},
		Peers: map[domain.PeerID]domain.ParticipantInfo{
			"self": {ID: "self", DisplayName: "Impostor"},
		},
	})

	assert.Equal(t, []domain.PeerID{"alice"}, added)
	_, ok := d.Get("self")
	assert.False(t, ok)
}

func TestDirectory_PlaceholderResolution(t *testing.T) {
	client := new(MockMembershipClient)
	client.On("Profile", mock.Anything, domain.PeerID("ghost")).
		Return(&domain.Participant{ID: "ghost", DisplayName: "Ghost"}, nil).Once()
	d := newTestDirectory(t, client)

	d.Merge(context.Background(), "alice", domain.GossipPayload{
		Self: domain.ParticipantInfo{ID: "alice", DisplayName: "Alice"},
		Peers: map[domain.PeerID]domain.ParticipantInfo{
			"ghost": {ID: "ghost"},
		},
	})

	require.Eventually(t, func() bool {
		p, ok := d.Get("ghost")
		return ok && p.DisplayName == "Ghost"
	}, time.Second, 5*time.Millisecond)
	client.AssertExpectations(t)
}

func TestDirectory_OnChangeFiresOnlyOnAdditions(t *testing.T) {
	client := new(MockMembershipClient)
	d := newTestDirectory(t, client)

	changes := make(chan struct{}, 8)
	d.OnChange(func() { changes <- struct{}{} })

	payload := domain.GossipPayload{
		Self: domain.ParticipantInfo{ID: "alice", DisplayName: "Alice"},
	}
	d.Merge(context.Background(), "alice", payload)
	assert.Len(t, changes, 1)

	// Re-merging known state is not a change.
	d.Merge(context.Background(), "alice", payload)
	assert.Len(t, changes, 1)
}

func TestDirectory_UpsertAuthoritative(t *testing.T) {
	client := new(MockMembershipClient)
	client.On("Profile", mock.Anything, domain.PeerID("alice")).
		Return(nil, domain.ErrPeerNotFound).Maybe()
	d := newTestDirectory(t, client)

	d.Merge(context.Background(), "alice", domain.GossipPayload{
		Self: domain.ParticipantInfo{ID: "alice"},
	})

	d.UpsertAuthoritative([]domain.Participant{
		{ID: "alice", DisplayName: "Alice"},
		{ID: "bob", DisplayName: "Bob"},
		{ID: "self", DisplayName: "Self"},
	})

	assert.ElementsMatch(t, []domain.PeerID{"alice", "bob"}, d.Known())
	alice, _ := d.Get("alice")
	assert.Equal(t, "Alice", alice.DisplayName)
}

func TestDirectory_RemoveAndClear(t *testing.T) {
	client := new(MockMembershipClient)
	d := newTestDirectory(t, client)

	d.UpsertAuthoritative([]domain.Participant{
		{ID: "alice", DisplayName: "Alice"},
		{ID: "bob", DisplayName: "Bob"},
	})

	d.Remove("alice")
	assert.Equal(t, []domain.PeerID{"bob"}, d.Known())

	d.Clear()
	assert.Empty(t, d.Known())
}

func TestDirectory_SnapshotCarriesSelfAndPeers(t *testing.T) {
	client := new(MockMembershipClient)
	d := newTestDirectory(t, client)
	d.UpsertAuthoritative([]domain.Participant{{ID: "alice", DisplayName: "Alice"}})

	snap := d.Snapshot()
	assert.Equal(t, domain.PeerID("self"), snap.Self.ID)
	require.Contains(t, snap.Peers, domain.PeerID("alice"))
	assert.Equal(t, "Alice", snap.Peers["alice"].DisplayName)
}
