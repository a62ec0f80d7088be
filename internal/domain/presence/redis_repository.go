package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/danghamo/nearby/internal/domain/shared"
	"github.com/danghamo/nearby/internal/geo"
)

const lastSeenKey = "presence:last_seen"

// RedisRepository implements Repository with a JSON key per user and a
// sorted set of last-seen stamps
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository creates a new Redis-backed position repository
func NewRedisRepository(client *redis.Client) Repository {
	return &RedisRepository{
		client: client,
	}
}

func positionKey(userID string) string {
	return fmt.Sprintf("position:%s", userID)
}

// UpsertUserPosition implements Repository
func (r *RedisRepository) UpsertUserPosition(ctx context.Context, userID string, pos geo.Position) error {
	if userID == "" {
		return shared.ErrInvalidInput("user id cannot be empty")
	}
	key := positionKey(userID)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readRecord(ctx, tx, key)
		if err != nil {
			return err
		}

		// stale writes lose
		if current != nil && pos.CapturedAt.Before(current.Position.CapturedAt) {
			return nil
		}

		rec := Record{UserID: userID, Position: pos, LastSeen: pos.CapturedAt}
		jsonBytes, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to serialize position: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, string(jsonBytes), 0)
			pipe.ZAdd(ctx, lastSeenKey, redis.Z{
				Score:  float64(rec.LastSeen.UnixMilli()),
				Member: userID,
			})
			return nil
		})
		return err
	}, key)

	if err != nil {
		return shared.WrapDomainError(err, shared.ErrCodeStoreFailure, "failed to upsert user position")
	}
	return nil
}

// GetUserPosition implements Repository
func (r *RedisRepository) GetUserPosition(ctx context.Context, userID string) (*Record, error) {
	rec, err := readRecord(ctx, r.client, positionKey(userID))
	if err != nil {
		return nil, shared.WrapDomainError(err, shared.ErrCodeStoreFailure, "failed to get user position")
	}
	return rec, nil
}

// SeenSince implements Repository
func (r *RedisRepository) SeenSince(ctx context.Context, since time.Time) ([]string, error) {
	ids, err := r.client.ZRangeByScore(ctx, lastSeenKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, shared.WrapDomainError(err, shared.ErrCodeStoreFailure, "failed to list online users")
	}
	return ids, nil
}

func readRecord(ctx context.Context, c redis.Cmdable, key string) (*Record, error) {
	data, err := c.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec := &Record{}
	if err := json.Unmarshal([]byte(data), rec); err != nil {
		return nil, fmt.Errorf("failed to deserialize position: %w", err)
	}
	return rec, nil
}
