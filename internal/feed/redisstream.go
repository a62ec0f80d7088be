package feed

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"github.com/danghamo/nearby/pkg/logger"
)

// RedisStreams builds per-session feeds over Redis streams. The publisher is
// shared; every session gets its own consumer group so each one sees the
// full venue stream.
type RedisStreams struct {
	client        redis.UniversalClient
	consumerGroup string
	prefix        string
	publisher     message.Publisher
	logger        *logger.Logger
}

// NewRedisStreams creates the shared redis stream publisher
func NewRedisStreams(client redis.UniversalClient, consumerGroup, prefix string, log *logger.Logger) (*RedisStreams, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		NewWatermillLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis stream publisher: %w", err)
	}

	return &RedisStreams{
		client:        client,
		consumerGroup: consumerGroup,
		prefix:        prefix,
		publisher:     publisher,
		logger:        log,
	}, nil
}

// ForSession creates a feed whose subscriber reads only new messages
func (r *RedisStreams) ForSession(sessionID string) (*WatermillFeed, error) {
	subscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client:        r.client,
			ConsumerGroup: fmt.Sprintf("%s-%s", r.consumerGroup, sessionID),
			OldestId:      "$",
		},
		NewWatermillLogger(r.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis stream subscriber: %w", err)
	}

	return NewWatermillFeed(r.publisher, subscriber, r.prefix, r.logger), nil
}

// Close closes the shared publisher
func (r *RedisStreams) Close() error {
	return r.publisher.Close()
}
