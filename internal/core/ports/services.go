package ports

import (
	"context"

	"roomnet/internal/core/domain"
)

// MembershipClient is the agent-side view of the external membership store.
// All methods are async boundaries; transient failures are logged and
// recovered by the next poll cycle, never surfaced as blocking errors.
type MembershipClient interface {
	// GetMeeting returns domain.ErrMeetingNotFound for unknown ids; callers
	// treat that as StatusNotFound, not as a hard failure.
	GetMeeting(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error)
	Knock(ctx context.Context, id domain.MeetingID, user domain.PeerID) error
	Respond(ctx context.Context, id domain.MeetingID, user domain.PeerID, action domain.RespondAction) error
	Participants(ctx context.Context, id domain.MeetingID) ([]domain.Participant, error)
	JoinMeeting(ctx context.Context, id domain.MeetingID, p domain.Participant) error
	LeaveMeeting(ctx context.Context, id domain.MeetingID, peer domain.PeerID) error
	Invite(ctx context.Context, recipient domain.PeerID) (domain.MeetingID, error)
	Profile(ctx context.Context, peer domain.PeerID) (*domain.Participant, error)
}

// MeetingService is the meetingd-side admission logic over the repository.
type MeetingService interface {
	Create(ctx context.Context, host domain.PeerID, invitee domain.PeerID) (*domain.Meeting, error)
	Get(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error)
	Knock(ctx context.Context, id domain.MeetingID, user domain.PeerID) (*domain.Meeting, error)
	Respond(ctx context.Context, id domain.MeetingID, user domain.PeerID, action domain.RespondAction) (*domain.Meeting, error)
	Join(ctx context.Context, id domain.MeetingID, p domain.Participant) error
	Leave(ctx context.Context, id domain.MeetingID, peer domain.PeerID) error
	Participants(ctx context.Context, id domain.MeetingID) ([]domain.Participant, error)
}

// MeshMetrics receives mesh state changes for export. Implemented by the
// prometheus collector; a no-op implementation keeps tests quiet.
type MeshMetrics interface {
	SessionOpened()
	SessionClosed()
	CallStarted(kind domain.StreamKind)
	CallEnded(kind domain.StreamKind)
	GossipMerged(entries int)
	KnockSubmitted()
	PollFailed()
}
