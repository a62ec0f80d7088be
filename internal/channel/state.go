package channel

import (
	"github.com/danghamo/nearby/internal/domain/chat"
	"github.com/danghamo/nearby/internal/domain/venue"
)

// State is the connection state of a venue channel
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Backoff
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Backoff:
		return "backoff"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is the UI-facing view of one channel
type Snapshot struct {
	VenueID    venue.ID       `json:"venue_id"`
	State      State          `json:"state"`
	Attempt    int            `json:"attempt"`
	Exhausted  bool           `json:"exhausted"`
	Queued     int            `json:"queued"`
	Messages   int            `json:"messages"`
	LastSeenID chat.MessageID `json:"last_seen_id,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
}

// EventKind classifies manager events
type EventKind string

const (
	EventState   EventKind = "state"
	EventMessage EventKind = "message"
	EventQueue   EventKind = "queue"
)

// Event is emitted on every observable channel change
type Event struct {
	Kind     EventKind     `json:"kind"`
	VenueID  venue.ID      `json:"venue_id"`
	Snapshot Snapshot      `json:"snapshot"`
	Message  *chat.Message `json:"message,omitempty"`
}

// SendStatus describes what happened to an outbound message
type SendStatus string

const (
	StatusSent     SendStatus = "sent"
	StatusQueued   SendStatus = "queued"
	StatusRequeued SendStatus = "requeued"
)

// SendResult is returned for every accepted send
type SendResult struct {
	Status    SendStatus     `json:"status"`
	MessageID chat.MessageID `json:"message_id,omitempty"`
	Queued    int            `json:"queued"`
	Cause     error          `json:"-"`
}
