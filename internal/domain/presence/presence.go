package presence

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/danghamo/nearby/internal/geo"
)

// Record is the last stored position of a user
type Record struct {
	UserID   string       `json:"user_id"`
	Position geo.Position `json:"position"`
	LastSeen time.Time    `json:"last_seen"`
}

// Repository stores user positions keyed by user id
type Repository interface {
	// UpsertUserPosition stores pos unless a newer position is already stored.
	// Replaying the same call is a no-op.
	UpsertUserPosition(ctx context.Context, userID string, pos geo.Position) error

	// GetUserPosition returns nil when nothing is stored for the user
	GetUserPosition(ctx context.Context, userID string) (*Record, error)

	// SeenSince returns the ids of users whose last position is not older than since
	SeenSince(ctx context.Context, since time.Time) ([]string, error)
}

// IsOnline reports whether lastSeen falls within window of now
func IsOnline(lastSeen, now time.Time, window time.Duration) bool {
	if lastSeen.IsZero() {
		return false
	}
	return now.Sub(lastSeen) <= window
}

// Checker answers online questions at read time from stored last-seen stamps
type Checker struct {
	repo   Repository
	clock  clockwork.Clock
	window time.Duration
}

// NewChecker creates a presence checker with the given freshness window
func NewChecker(repo Repository, clk clockwork.Clock, window time.Duration) *Checker {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Checker{repo: repo, clock: clk, window: window}
}

// IsOnline reports whether the user reported a position within the window
func (c *Checker) IsOnline(ctx context.Context, userID string) (bool, error) {
	rec, err := c.repo.GetUserPosition(ctx, userID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	return IsOnline(rec.LastSeen, c.clock.Now(), c.window), nil
}

// Online lists users seen within the window
func (c *Checker) Online(ctx context.Context) ([]string, error) {
	return c.repo.SeenSince(ctx, c.clock.Now().Add(-c.window))
}
