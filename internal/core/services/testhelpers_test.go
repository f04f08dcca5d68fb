package services

import (
	"context"
	"sync"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

// countingMetrics records mesh metric calls for assertions.
type countingMetrics struct {
	mu             sync.Mutex
	sessionsOpened int
	sessionsClosed int
	callsStarted   int
	callsEnded     int
	gossipEntries  int
	knocks         int
	pollFailures   int
}

func (c *countingMetrics) SessionOpened() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionsOpened++
}

func (c *countingMetrics) SessionClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionsClosed++
}

func (c *countingMetrics) CallStarted(domain.StreamKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callsStarted++
}

func (c *countingMetrics) CallEnded(domain.StreamKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callsEnded++
}

func (c *countingMetrics) GossipMerged(entries int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gossipEntries += entries
}

func (c *countingMetrics) KnockSubmitted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.knocks++
}

func (c *countingMetrics) PollFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollFailures++
}

func (c *countingMetrics) SessionsOpened() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionsOpened
}

func (c *countingMetrics) Knocks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.knocks
}

var _ ports.MeshMetrics = (*countingMetrics)(nil)

// MockMembershipClient is a testify mock over the membership store client.
type MockMembershipClient struct {
	mock.Mock
}

var _ ports.MembershipClient = (*MockMembershipClient)(nil)

func (m *MockMembershipClient) GetMeeting(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Meeting), args.Error(1)
}

func (m *MockMembershipClient) Knock(ctx context.Context, id domain.MeetingID, user domain.PeerID) error {
	args := m.Called(ctx, id, user)
	return args.Error(0)
}

func (m *MockMembershipClient) Respond(ctx context.Context, id domain.MeetingID, user domain.PeerID, action domain.RespondAction) error {
	args := m.Called(ctx, id, user, action)
	return args.Error(0)
}

func (m *MockMembershipClient) Participants(ctx context.Context, id domain.MeetingID) ([]domain.Participant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Participant), args.Error(1)
}

func (m *MockMembershipClient) JoinMeeting(ctx context.Context, id domain.MeetingID, p domain.Participant) error {
	args := m.Called(ctx, id, p)
	return args.Error(0)
}

func (m *MockMembershipClient) LeaveMeeting(ctx context.Context, id domain.MeetingID, peer domain.PeerID) error {
	args := m.Called(ctx, id, peer)
	return args.Error(0)
}

func (m *MockMembershipClient) Invite(ctx context.Context, recipient domain.PeerID) (domain.MeetingID, error) {
	args := m.Called(ctx, recipient)
	return args.Get(0).(domain.MeetingID), args.Error(1)
}

func (m *MockMembershipClient) Profile(ctx context.Context, peer domain.PeerID) (*domain.Participant, error) {
	args := m.Called(ctx, peer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Participant), args.Error(1)
}

// fakeSession is a scriptable data session for manager-level tests.
type fakeSession struct {
	peer domain.PeerID

	mu        sync.Mutex
	sent      []domain.Envelope
	onMessage func(domain.Envelope)
	onClose   func(error)
	closed    bool
}

var _ ports.DataSession = (*fakeSession)(nil)

func newFakeSession(peer domain.PeerID) *fakeSession {
	return &fakeSession{peer: peer}
}

func (f *fakeSession) Peer() domain.PeerID { return f.peer }

func (f *fakeSession) Send(env domain.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return domain.ErrSessionNotOpen
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeSession) OnMessage(fn func(domain.Envelope)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage = fn
}

func (f *fakeSession) OnClose(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClose = fn
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	fn := f.onClose
	f.mu.Unlock()
	if fn != nil {
		fn(nil)
	}
	return nil
}

// deliver injects an inbound envelope as if the peer had sent it.
func (f *fakeSession) deliver(env domain.Envelope) {
	f.mu.Lock()
	fn := f.onMessage
	f.mu.Unlock()
	if fn != nil {
		fn(env)
	}
}

// sentOfType returns the envelopes of one type, in send order.
func (f *fakeSession) sentOfType(t domain.MessageType) []domain.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Envelope
	for _, env := range f.sent {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
