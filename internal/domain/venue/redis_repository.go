package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/danghamo/nearby/internal/domain/shared"
)

const venuesKey = "venues"

// RedisRepository stores venues as JSON values in a single hash keyed by id
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository creates a new Redis-backed venue repository
func NewRedisRepository(client *redis.Client) Repository {
	return &RedisRepository{
		client: client,
	}
}

// ListActive implements Repository
func (r *RedisRepository) ListActive(ctx context.Context) ([]*Venue, error) {
	all, err := r.client.HGetAll(ctx, venuesKey).Result()
	if err != nil {
		return nil, shared.WrapDomainError(err, shared.ErrCodeStoreFailure, "failed to list venues")
	}

	venues := make([]*Venue, 0, len(all))
	for id, data := range all {
		v := &Venue{}
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return nil, fmt.Errorf("failed to deserialize venue %s: %w", id, err)
		}
		if v.IsActive {
			venues = append(venues, v)
		}
	}

	sort.Slice(venues, func(i, j int) bool {
		return venues[i].ID < venues[j].ID
	})

	return venues, nil
}

// GetByID implements Repository
func (r *RedisRepository) GetByID(ctx context.Context, id ID) (*Venue, error) {
	data, err := r.client.HGet(ctx, venuesKey, id.String()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, shared.WrapDomainError(err, shared.ErrCodeStoreFailure, "failed to get venue")
	}

	v := &Venue{}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return nil, fmt.Errorf("failed to deserialize venue: %w", err)
	}
	return v, nil
}

// Save implements Repository
func (r *RedisRepository) Save(ctx context.Context, v *Venue) error {
	if v == nil || v.ID == "" {
		return shared.ErrInvalidInput("venue id cannot be empty")
	}

	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize venue: %w", err)
	}

	if err := r.client.HSet(ctx, venuesKey, v.ID.String(), string(jsonBytes)).Err(); err != nil {
		return shared.WrapDomainError(err, shared.ErrCodeStoreFailure, "failed to save venue")
	}
	return nil
}

// Delete implements Repository
func (r *RedisRepository) Delete(ctx context.Context, id ID) error {
	if err := r.client.HDel(ctx, venuesKey, id.String()).Err(); err != nil {
		return shared.WrapDomainError(err, shared.ErrCodeStoreFailure, "failed to delete venue")
	}
	return nil
}
