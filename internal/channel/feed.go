package channel

import (
	"context"

	"github.com/danghamo/nearby/internal/domain/chat"
	"github.com/danghamo/nearby/internal/domain/venue"
)

// Handlers receive events of one venue subscription. They may be invoked on
// any goroutine, including synchronously from OpenChannel.
type Handlers struct {
	OnReady   func()
	OnMessage func(chat.Message)
	OnError   func(error)
	OnClosed  func()
}

// Handle is an open venue subscription
type Handle interface {
	Close() error
}

// Feed is the realtime message transport
type Feed interface {
	// OpenChannel subscribes to the message stream of a venue
	OpenChannel(ctx context.Context, venueID venue.ID, h Handlers) (Handle, error)

	// PublishMessage sends a message and returns the id it was stored under
	PublishMessage(ctx context.Context, venueID venue.ID, authorID, text string) (chat.MessageID, error)
}

// Moderator decides whether the session user may send
type Moderator interface {
	Permit(ctx context.Context) error
}
