package services

import (
	"context"
	"errors"
	"time"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// meetingService implements the membership-store contract the room agents
// poll against. The store is deliberately coarse: one status per meeting,
// re-derived by every guest on every poll.
type meetingService struct {
	meetings ports.MeetingRepository
	profiles ports.ProfileRepository
	logger   *zap.SugaredLogger
}

func NewMeetingService(meetings ports.MeetingRepository, profiles ports.ProfileRepository, logger *zap.SugaredLogger) ports.MeetingService {
	return &meetingService{meetings: meetings, profiles: profiles, logger: logger}
}

func (s *meetingService) Create(ctx context.Context, host domain.PeerID, invitee domain.PeerID) (*domain.Meeting, error) {
	m := &domain.Meeting{
		ID:        domain.MeetingID(uuid.NewString()),
		HostID:    host,
		InviteeID: invitee,
		Status:    domain.StatusPending,
		CreatedAt: time.Now(),
	}
	if err := s.meetings.Create(ctx, m); err != nil {
		return nil, err
	}
	s.logger.Infow("meeting created", "meeting", m.ID, "host", host, "invitee", invitee)
	return m, nil
}

func (s *meetingService) Get(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	return s.meetings.Get(ctx, id)
}

// Knock enqueues a user for host admission. A knock against an id with no
// record yet creates the record: synthesized meeting ids reach the store
// through whichever side arrives first. Invitees skip the queue.
func (s *meetingService) Knock(ctx context.Context, id domain.MeetingID, user domain.PeerID) (*domain.Meeting, error) {
	m, err := s.meetings.Get(ctx, id)
	if errors.Is(err, domain.ErrMeetingNotFound) {
		m = &domain.Meeting{
			ID:            id,
			Status:        domain.StatusPendingAdmission,
			KnockingUsers: []domain.PeerID{user},
			CreatedAt:     time.Now(),
		}
		if err := s.meetings.Create(ctx, m); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err != nil {
		return nil, err
	}

	if user == m.InviteeID && m.InviteeID != "" {
		m.Status = domain.StatusAccepted
		if err := s.meetings.Update(ctx, m); err != nil {
			return nil, err
		}
		return m, nil
	}

	if !m.Knocking(user) {
		m.KnockingUsers = append(m.KnockingUsers, user)
	}
	if m.Status != domain.StatusAccepted {
		m.Status = domain.StatusPendingAdmission
	}
	if err := s.meetings.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *meetingService) Respond(ctx context.Context, id domain.MeetingID, user domain.PeerID, action domain.RespondAction) (*domain.Meeting, error) {
	m, err := s.meetings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.Knocking(user) {
		return nil, domain.ErrNotKnocking
	}

	kept := m.KnockingUsers[:0]
	for _, u := range m.KnockingUsers {
		if u != user {
			kept = append(kept, u)
		}
	}
	m.KnockingUsers = kept

	switch action {
	case domain.ActionAdmit:
		m.Status = domain.StatusAccepted
	case domain.ActionDeny:
		m.Status = domain.StatusDenied
	}

	if err := s.meetings.Update(ctx, m); err != nil {
		return nil, err
	}
	s.logger.Infow("knock answered", "meeting", id, "user", user, "action", action)
	return m, nil
}

// Join registers an active participant. The first joiner of an unknown
// meeting id becomes its host with immediate acceptance; that is how a
// freshly synthesized id materializes in the store.
func (s *meetingService) Join(ctx context.Context, id domain.MeetingID, p domain.Participant) error {
	m, err := s.meetings.Get(ctx, id)
	if errors.Is(err, domain.ErrMeetingNotFound) {
		m = &domain.Meeting{
			ID:        id,
			HostID:    p.ID,
			Status:    domain.StatusAccepted,
			CreatedAt: time.Now(),
		}
		if err := s.meetings.Create(ctx, m); err != nil {
			return err
		}
	} else if err != nil {
		return err
	} else if m.HostID == "" {
		m.HostID = p.ID
		if err := s.meetings.Update(ctx, m); err != nil {
			return err
		}
	}

	if err := s.profiles.Put(ctx, p); err != nil {
		s.logger.Warnw("profile upsert failed", "peer", p.ID, "error", err)
	}
	return s.meetings.AddParticipant(ctx, id, p)
}

func (s *meetingService) Leave(ctx context.Context, id domain.MeetingID, peer domain.PeerID) error {
	return s.meetings.RemoveParticipant(ctx, id, peer)
}

func (s *meetingService) Participants(ctx context.Context, id domain.MeetingID) ([]domain.Participant, error) {
	return s.meetings.Participants(ctx, id)
}
