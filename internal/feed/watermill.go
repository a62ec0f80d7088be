package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danghamo/nearby/internal/channel"
	"github.com/danghamo/nearby/internal/domain/chat"
	"github.com/danghamo/nearby/internal/domain/shared"
	"github.com/danghamo/nearby/internal/domain/venue"
	"github.com/danghamo/nearby/pkg/logger"
)

// WatermillFeed carries venue messages over any watermill pub/sub, one
// topic per venue
type WatermillFeed struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	prefix     string
	logger     *logger.Logger
}

// NewWatermillFeed creates a feed over the given publisher and subscriber
func NewWatermillFeed(publisher message.Publisher, subscriber message.Subscriber, prefix string, log *logger.Logger) *WatermillFeed {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &WatermillFeed{
		publisher:  publisher,
		subscriber: subscriber,
		prefix:     prefix,
		logger:     log.WithComponent("watermill_feed"),
	}
}

func (f *WatermillFeed) topic(venueID venue.ID) string {
	return f.prefix + venueID.String()
}

// OpenChannel implements channel.Feed
func (f *WatermillFeed) OpenChannel(ctx context.Context, venueID venue.ID, h channel.Handlers) (channel.Handle, error) {
	subCtx, cancel := context.WithCancel(ctx)

	messages, err := f.subscriber.Subscribe(subCtx, f.topic(venueID))
	if err != nil {
		cancel()
		return nil, shared.WrapDomainError(err, shared.ErrCodeChannelSubscription, "failed to subscribe to venue topic")
	}

	go f.consume(subCtx, venueID, messages, h)

	return &watermillHandle{cancel: cancel}, nil
}

func (f *WatermillFeed) consume(ctx context.Context, venueID venue.ID, messages <-chan *message.Message, h channel.Handlers) {
	log := f.logger.WithVenueID(venueID.String())
	defer func() {
		if r := recover(); r != nil {
			log.Error("Feed consumer panic recovered", zap.Any("panic", r))
		}
	}()

	if h.OnReady != nil {
		h.OnReady()
	}

	for m := range messages {
		var msg chat.Message
		if err := json.Unmarshal(m.Payload, &msg); err != nil {
			log.Warn("Dropping undecodable message", zap.String("uuid", m.UUID), zap.Error(err))
			m.Ack()
			continue
		}
		m.Ack()

		if h.OnMessage != nil {
			h.OnMessage(msg)
		}
	}

	// the stream ended without us asking
	if ctx.Err() == nil && h.OnClosed != nil {
		h.OnClosed()
	}
}

// PublishMessage implements channel.Feed
func (f *WatermillFeed) PublishMessage(ctx context.Context, venueID venue.ID, authorID, text string) (chat.MessageID, error) {
	msg := chat.Message{
		ID:        chat.MessageID(uuid.NewString()),
		VenueID:   venueID,
		AuthorID:  authorID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	return msg.ID, f.publish(ctx, msg)
}

// PublishDeletion broadcasts a soft delete of a message already in the stream
func (f *WatermillFeed) PublishDeletion(ctx context.Context, msg chat.Message) error {
	msg.IsDeleted = true
	return f.publish(ctx, msg)
}

func (f *WatermillFeed) publish(ctx context.Context, msg chat.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return shared.WrapDomainError(err, shared.ErrCodeInvalidInput, "failed to encode message")
	}

	wm := message.NewMessage(uuid.NewString(), payload)
	wm.SetContext(ctx)

	if err := f.publisher.Publish(f.topic(msg.VenueID), wm); err != nil {
		f.logger.Warn("Publish failed", zap.String("venue_id", msg.VenueID.String()), zap.Error(err))
		return shared.WrapDomainError(err, shared.ErrCodeSendFailedTransient, "failed to publish message")
	}
	return nil
}

// Close releases the subscriber. The publisher may be shared and is left open.
func (f *WatermillFeed) Close() error {
	return f.subscriber.Close()
}

type watermillHandle struct {
	cancel context.CancelFunc
}

// Close ends the subscription without waiting for the consumer, so it is
// safe to call from inside a handler
func (h *watermillHandle) Close() error {
	h.cancel()
	return nil
}
