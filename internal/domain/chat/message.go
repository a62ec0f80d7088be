package chat

import (
	"time"

	"github.com/danghamo/nearby/internal/domain/venue"
)

// MessageID identifies a chat message
type MessageID string

// String returns the string representation of MessageID
func (id MessageID) String() string {
	return string(id)
}

// Message is a chat message in a venue channel. Messages are soft-deleted by
// moderators and never removed from history.
type Message struct {
	ID          MessageID `json:"id"`
	VenueID     venue.ID  `json:"venue_id"`
	AuthorID    string    `json:"author_id"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
	IsPromotion bool      `json:"is_promotion,omitempty"`
	IsDeleted   bool      `json:"is_deleted,omitempty"`
}
