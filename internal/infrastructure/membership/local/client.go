package local

import (
	"context"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"

	"github.com/google/uuid"
)

// Client adapts an in-process meeting service to the agent-side membership
// interface. Used when the agent and the meeting logic run in one binary,
// and by integration tests that exercise the full join flow without HTTP.
type Client struct {
	meetings ports.MeetingService
	profiles ports.ProfileRepository
	self     domain.PeerID
}

var _ ports.MembershipClient = (*Client)(nil)

func New(meetings ports.MeetingService, profiles ports.ProfileRepository, self domain.PeerID) *Client {
	return &Client{meetings: meetings, profiles: profiles, self: self}
}

func (c *Client) GetMeeting(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	return c.meetings.Get(ctx, id)
}

func (c *Client) Knock(ctx context.Context, id domain.MeetingID, user domain.PeerID) error {
	_, err := c.meetings.Knock(ctx, id, user)
	return err
}

func (c *Client) Respond(ctx context.Context, id domain.MeetingID, user domain.PeerID, action domain.RespondAction) error {
	_, err := c.meetings.Respond(ctx, id, user, action)
	return err
}

func (c *Client) Participants(ctx context.Context, id domain.MeetingID) ([]domain.Participant, error) {
	return c.meetings.Participants(ctx, id)
}

func (c *Client) JoinMeeting(ctx context.Context, id domain.MeetingID, p domain.Participant) error {
	return c.meetings.Join(ctx, id, p)
}

func (c *Client) LeaveMeeting(ctx context.Context, id domain.MeetingID, peer domain.PeerID) error {
	return c.meetings.Leave(ctx, id, peer)
}

func (c *Client) Invite(ctx context.Context, recipient domain.PeerID) (domain.MeetingID, error) {
	m, err := c.meetings.Create(ctx, c.self, recipient)
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

func (c *Client) Profile(ctx context.Context, peer domain.PeerID) (*domain.Participant, error) {
	return c.profiles.Get(ctx, peer)
}

// NewMeetingID synthesizes a meeting id the same way the meeting service
// does, for callers that want to pre-generate one before joining.
func NewMeetingID() domain.MeetingID {
	return domain.MeetingID(uuid.NewString())
}
