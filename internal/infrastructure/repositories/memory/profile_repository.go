package memory

import (
	"context"
	"sync"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"
)

type MemoryProfileRepository struct {
	mu       sync.RWMutex
	profiles map[domain.PeerID]domain.Participant
}

func NewMemoryProfileRepository() ports.ProfileRepository {
	return &MemoryProfileRepository{
		profiles: make(map[domain.PeerID]domain.Participant),
	}
}

func (r *MemoryProfileRepository) Get(ctx context.Context, id domain.PeerID) (*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.profiles[id]
	if !exists {
		return nil, domain.ErrPeerNotFound
	}
	return &p, nil
}

func (r *MemoryProfileRepository) Put(ctx context.Context, p domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.ID] = p
	return nil
}
