package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/danghamo/nearby/internal/domain/shared"
)

// RedisMuteRepository implements MuteRepository with one JSON key per user
type RedisMuteRepository struct {
	client *redis.Client
}

// NewRedisMuteRepository creates a new Redis-backed mute repository
func NewRedisMuteRepository(client *redis.Client) MuteRepository {
	return &RedisMuteRepository{
		client: client,
	}
}

func muteKey(userID string) string {
	return fmt.Sprintf("mute:%s", userID)
}

// GetMuteState implements MuteRepository
func (r *RedisMuteRepository) GetMuteState(ctx context.Context, userID string) (*MuteState, error) {
	data, err := r.client.Get(ctx, muteKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, shared.WrapDomainError(err, shared.ErrCodeStoreFailure, "failed to get mute state")
	}

	state := &MuteState{}
	if err := json.Unmarshal([]byte(data), state); err != nil {
		return nil, fmt.Errorf("failed to deserialize mute state: %w", err)
	}
	return state, nil
}

// PutMuteState implements MuteRepository
func (r *RedisMuteRepository) PutMuteState(ctx context.Context, userID string, state MuteState) error {
	if userID == "" {
		return shared.ErrInvalidInput("user id cannot be empty")
	}

	jsonBytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to serialize mute state: %w", err)
	}

	if err := r.client.Set(ctx, muteKey(userID), string(jsonBytes), 0).Err(); err != nil {
		return shared.WrapDomainError(err, shared.ErrCodeStoreFailure, "failed to save mute state")
	}
	return nil
}
