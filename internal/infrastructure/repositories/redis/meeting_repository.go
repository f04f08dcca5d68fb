package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisMeetingRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisMeetingRepository(client *redis.Client) ports.MeetingRepository {
	return &RedisMeetingRepository{
		client: client,
		prefix: "roomnet:meeting:",
	}
}

func (r *RedisMeetingRepository) meetingKey(id domain.MeetingID) string {
	return r.prefix + string(id)
}

func (r *RedisMeetingRepository) participantsKey(id domain.MeetingID) string {
	return fmt.Sprintf("roomnet:meeting:%s:participants", id)
}

func (r *RedisMeetingRepository) Create(ctx context.Context, m *domain.Meeting) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal meeting: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.meetingKey(m.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set meeting in Redis: %w", err)
	}
	if !ok {
		return fmt.Errorf("meeting already exists: %s", m.ID)
	}
	return nil
}

func (r *RedisMeetingRepository) Get(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	data, err := r.client.Get(ctx, r.meetingKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrMeetingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meeting from Redis: %w", err)
	}

	var m domain.Meeting
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal meeting: %w", err)
	}
	return &m, nil
}

func (r *RedisMeetingRepository) Update(ctx context.Context, m *domain.Meeting) error {
	exists, err := r.client.Exists(ctx, r.meetingKey(m.ID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check meeting in Redis: %w", err)
	}
	if exists == 0 {
		return domain.ErrMeetingNotFound
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal meeting: %w", err)
	}
	if err := r.client.Set(ctx, r.meetingKey(m.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set meeting in Redis: %w", err)
	}
	return nil
}

func (r *RedisMeetingRepository) Delete(ctx context.Context, id domain.MeetingID) error {
	deleted, err := r.client.Del(ctx, r.meetingKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete meeting from Redis: %w", err)
	}
	if deleted == 0 {
		return domain.ErrMeetingNotFound
	}
	if err := r.client.Del(ctx, r.participantsKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete meeting participants from Redis: %w", err)
	}
	return nil
}

func (r *RedisMeetingRepository) AddParticipant(ctx context.Context, id domain.MeetingID, p domain.Participant) error {
	exists, err := r.client.Exists(ctx, r.meetingKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check meeting in Redis: %w", err)
	}
	if exists == 0 {
		return domain.ErrMeetingNotFound
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal participant: %w", err)
	}
	if err := r.client.HSet(ctx, r.participantsKey(id), string(p.ID), data).Err(); err != nil {
		return fmt.Errorf("failed to add participant in Redis: %w", err)
	}
	return nil
}

func (r *RedisMeetingRepository) RemoveParticipant(ctx context.Context, id domain.MeetingID, peer domain.PeerID) error {
	if err := r.client.HDel(ctx, r.participantsKey(id), string(peer)).Err(); err != nil {
		return fmt.Errorf("failed to remove participant in Redis: %w", err)
	}
	return nil
}

func (r *RedisMeetingRepository) Participants(ctx context.Context, id domain.MeetingID) ([]domain.Participant, error) {
	exists, err := r.client.Exists(ctx, r.meetingKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check meeting in Redis: %w", err)
	}
	if exists == 0 {
		return nil, domain.ErrMeetingNotFound
	}

	entries, err := r.client.HGetAll(ctx, r.participantsKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get participants from Redis: %w", err)
	}

	out := make([]domain.Participant, 0, len(entries))
	for _, raw := range entries {
		var p domain.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			// Skip entries that fail to decode
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
