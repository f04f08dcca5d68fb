package memory

import (
	"context"
	"fmt"
	"sync"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"
)

type MemoryMeetingRepository struct {
	mu           sync.RWMutex
	meetings     map[domain.MeetingID]*domain.Meeting
	participants map[domain.MeetingID]map[domain.PeerID]domain.Participant
}

func NewMemoryMeetingRepository() ports.MeetingRepository {
	return &MemoryMeetingRepository{
		meetings:     make(map[domain.MeetingID]*domain.Meeting),
		participants: make(map[domain.MeetingID]map[domain.PeerID]domain.Participant),
	}
}

func (r *MemoryMeetingRepository) Create(ctx context.Context, m *domain.Meeting) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.meetings[m.ID]; exists {
		return fmt.Errorf("meeting already exists: %s", m.ID)
	}
	cp := *m
	r.meetings[m.ID] = &cp
	return nil
}

func (r *MemoryMeetingRepository) Get(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.meetings[id]
	if !exists {
		return nil, domain.ErrMeetingNotFound
	}
	cp := *m
	cp.KnockingUsers = append([]domain.PeerID(nil), m.KnockingUsers...)
	return &cp, nil
}

func (r *MemoryMeetingRepository) Update(ctx context.Context, m *domain.Meeting) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.meetings[m.ID]; !exists {
		return domain.ErrMeetingNotFound
	}
	cp := *m
	cp.KnockingUsers = append([]domain.PeerID(nil), m.KnockingUsers...)
	r.meetings[m.ID] = &cp
	return nil
}

func (r *MemoryMeetingRepository) Delete(ctx context.Context, id domain.MeetingID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.meetings[id]; !exists {
		return domain.ErrMeetingNotFound
	}
	delete(r.meetings, id)
	delete(r.participants, id)
	return nil
}

func (r *MemoryMeetingRepository) AddParticipant(ctx context.Context, id domain.MeetingID, p domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.meetings[id]; !exists {
		return domain.ErrMeetingNotFound
	}
	set, ok := r.participants[id]
	if !ok {
		set = make(map[domain.PeerID]domain.Participant)
		r.participants[id] = set
	}
	set[p.ID] = p
	return nil
}

func (r *MemoryMeetingRepository) RemoveParticipant(ctx context.Context, id domain.MeetingID, peer domain.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.participants[id]
	if !ok {
		return nil
	}
	delete(set, peer)
	return nil
}

func (r *MemoryMeetingRepository) Participants(ctx context.Context, id domain.MeetingID) ([]domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.meetings[id]; !exists {
		return nil, domain.ErrMeetingNotFound
	}
	set := r.participants[id]
	out := make([]domain.Participant, 0, len(set))
	for _, p := range set {
		out = append(out, p)
	}
	return out, nil
}
