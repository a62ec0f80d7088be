package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/danghamo/nearby/internal/channel"
	"github.com/danghamo/nearby/internal/domain/chat"
	"github.com/danghamo/nearby/internal/domain/shared"
	"github.com/danghamo/nearby/internal/domain/venue"
	"github.com/danghamo/nearby/pkg/logger"
)

const natsFlushTimeout = 2 * time.Second

var errNATSDisconnected = errors.New("nats connection lost")

// NATSFeed carries venue messages over core NATS, one subject per venue
type NATSFeed struct {
	nc     *nats.Conn
	prefix string
	logger *logger.Logger

	mu      sync.Mutex
	handles map[*natsHandle]struct{}
}

// NewNATSFeed connects to the NATS server at url
func NewNATSFeed(url, prefix string, log *logger.Logger) (*NATSFeed, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	f := &NATSFeed{
		prefix:  prefix,
		logger:  log.WithComponent("nats_feed"),
		handles: make(map[*natsHandle]struct{}),
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			f.logger.Warn("NATS disconnected", zap.Error(err))
			f.failAll(err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			f.logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, shared.WrapDomainError(err, shared.ErrCodeChannelSubscription, "failed to connect to NATS")
	}
	f.nc = nc

	return f, nil
}

func (f *NATSFeed) subject(venueID venue.ID) string {
	return f.prefix + venueID.String()
}

// OpenChannel implements channel.Feed
func (f *NATSFeed) OpenChannel(ctx context.Context, venueID venue.ID, h channel.Handlers) (channel.Handle, error) {
	log := f.logger.WithVenueID(venueID.String())

	sub, err := f.nc.Subscribe(f.subject(venueID), func(m *nats.Msg) {
		var msg chat.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			log.Warn("Dropping undecodable message", zap.Error(err))
			return
		}
		if h.OnMessage != nil {
			h.OnMessage(msg)
		}
	})
	if err != nil {
		return nil, shared.WrapDomainError(err, shared.ErrCodeChannelSubscription, "failed to subscribe to venue subject")
	}

	// the subscription is live once the server has processed it
	if err := f.nc.FlushTimeout(natsFlushTimeout); err != nil {
		_ = sub.Unsubscribe()
		return nil, shared.WrapDomainError(err, shared.ErrCodeChannelSubscription, "subscription not acknowledged")
	}

	handle := &natsHandle{feed: f, sub: sub, handlers: h}
	f.mu.Lock()
	f.handles[handle] = struct{}{}
	f.mu.Unlock()

	if h.OnReady != nil {
		h.OnReady()
	}
	return handle, nil
}

// PublishMessage implements channel.Feed
func (f *NATSFeed) PublishMessage(ctx context.Context, venueID venue.ID, authorID, text string) (chat.MessageID, error) {
	msg := chat.Message{
		ID:        chat.MessageID(uuid.NewString()),
		VenueID:   venueID,
		AuthorID:  authorID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return "", shared.WrapDomainError(err, shared.ErrCodeInvalidInput, "failed to encode message")
	}

	if err := f.nc.Publish(f.subject(venueID), data); err != nil {
		return "", shared.WrapDomainError(err, shared.ErrCodeSendFailedTransient, "failed to publish message")
	}
	if err := f.nc.FlushWithContext(ctx); err != nil {
		return "", shared.WrapDomainError(err, shared.ErrCodeSendFailedTransient, "publish not acknowledged")
	}
	return msg.ID, nil
}

// Close drains the connection
func (f *NATSFeed) Close() error {
	return f.nc.Drain()
}

func (f *NATSFeed) failAll(err error) {
	if err == nil {
		err = errNATSDisconnected
	}

	f.mu.Lock()
	handles := make([]*natsHandle, 0, len(f.handles))
	for h := range f.handles {
		handles = append(handles, h)
	}
	f.mu.Unlock()

	for _, h := range handles {
		if h.handlers.OnError != nil {
			h.handlers.OnError(err)
		}
	}
}

type natsHandle struct {
	feed     *NATSFeed
	sub      *nats.Subscription
	handlers channel.Handlers
}

func (h *natsHandle) Close() error {
	h.feed.mu.Lock()
	delete(h.feed.handles, h)
	h.feed.mu.Unlock()

	if !h.sub.IsValid() {
		return nil
	}
	return h.sub.Unsubscribe()
}
