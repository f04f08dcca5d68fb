package ports

import (
	"context"

	"roomnet/internal/core/domain"
)

// MeetingRepository is the meeting service's store. Implementations: memory,
// Redis.
type MeetingRepository interface {
	Create(ctx context.Context, m *domain.Meeting) error
	Get(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error)
	Update(ctx context.Context, m *domain.Meeting) error
	Delete(ctx context.Context, id domain.MeetingID) error

	AddParticipant(ctx context.Context, id domain.MeetingID, p domain.Participant) error
	RemoveParticipant(ctx context.Context, id domain.MeetingID, peer domain.PeerID) error
	Participants(ctx context.Context, id domain.MeetingID) ([]domain.Participant, error)
}

// ProfileRepository resolves participant profiles for the lazy
// gossip-placeholder lookup endpoint.
type ProfileRepository interface {
	Get(ctx context.Context, id domain.PeerID) (*domain.Participant, error)
	Put(ctx context.Context, p domain.Participant) error
}
