package channel

import (
	"sync"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"

	"github.com/danghamo/nearby/internal/domain/chat"
	"github.com/danghamo/nearby/internal/domain/venue"
	"github.com/danghamo/nearby/pkg/logger"
)

// channel is the per-venue state. Every field is guarded by mu and owned
// exclusively by this channel.
type channel struct {
	venueID venue.ID
	logger  *logger.Logger

	mu        sync.Mutex
	state     State
	gen       uint64
	attempt   int
	backoff   *backoff.ExponentialBackOff
	exhausted bool
	handle    Handle
	timer     clockwork.Timer
	queue     []string
	dedup     *dedupWindow
	messages  []chat.Message
	lastSeen  chat.MessageID
	lastErr   error

	// flushOwner is the token of the single sender allowed to publish from
	// this channel, zero when nobody is publishing
	flushSeq   uint64
	flushOwner uint64
}

func newChannel(venueID venue.ID, cfg Config, log *logger.Logger) *channel {
	return &channel{
		venueID: venueID,
		logger:  log,
		state:   Idle,
		backoff: cfg.NewBackOff(),
		dedup:   newDedupWindow(cfg.MessageLimit),
	}
}

// reset discards everything held for the venue
func (c *channel) reset(cfg Config) {
	c.queue = nil
	c.flushOwner = 0
	c.dedup = newDedupWindow(cfg.MessageLimit)
	c.messages = nil
	c.lastSeen = ""
	c.lastErr = nil
	c.attempt = 0
	c.backoff.Reset()
	c.exhausted = false
}

// append keeps at most limit messages, evicting the oldest
func (c *channel) append(msg chat.Message, limit int) {
	if len(c.messages) >= limit {
		c.messages = append(c.messages[:0:0], c.messages[len(c.messages)-limit+1:]...)
	}
	c.messages = append(c.messages, msg)
	c.lastSeen = msg.ID
}

func (c *channel) flushing() bool {
	return c.flushOwner != 0
}

func (c *channel) acquireFlush() uint64 {
	c.flushSeq++
	c.flushOwner = c.flushSeq
	return c.flushOwner
}

func (c *channel) releaseFlush(token uint64) {
	if c.flushOwner == token {
		c.flushOwner = 0
	}
}

// popSent drops the queue head once it has been published
func (c *channel) popSent(text string) {
	if len(c.queue) > 0 && c.queue[0] == text {
		c.queue = c.queue[1:]
	}
}

func (c *channel) find(id chat.MessageID) *chat.Message {
	for i := range c.messages {
		if c.messages[i].ID == id {
			msg := c.messages[i]
			return &msg
		}
	}
	return nil
}

func (c *channel) markDeleted(id chat.MessageID) bool {
	for i := range c.messages {
		if c.messages[i].ID == id {
			if c.messages[i].IsDeleted {
				return false
			}
			c.messages[i].IsDeleted = true
			return true
		}
	}
	return false
}

func (c *channel) snapshot() Snapshot {
	s := Snapshot{
		VenueID:    c.venueID,
		State:      c.state,
		Attempt:    c.attempt,
		Exhausted:  c.exhausted,
		Queued:     len(c.queue),
		Messages:   len(c.messages),
		LastSeenID: c.lastSeen,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}
