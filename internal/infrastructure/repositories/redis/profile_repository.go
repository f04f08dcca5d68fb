package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisProfileRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisProfileRepository(client *redis.Client) ports.ProfileRepository {
	return &RedisProfileRepository{
		client: client,
		prefix: "roomnet:profile:",
	}
}

func (r *RedisProfileRepository) profileKey(id domain.PeerID) string {
	return r.prefix + string(id)
}

func (r *RedisProfileRepository) Get(ctx context.Context, id domain.PeerID) (*domain.Participant, error) {
	data, err := r.client.Get(ctx, r.profileKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrPeerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile from Redis: %w", err)
	}

	var p domain.Participant
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &p, nil
}

func (r *RedisProfileRepository) Put(ctx context.Context, p domain.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := r.client.Set(ctx, r.profileKey(p.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set profile in Redis: %w", err)
	}
	return nil
}
