package venue

import "context"

// Repository defines the venue reference store
type Repository interface {
	// ListActive returns every venue with IsActive set
	ListActive(ctx context.Context) ([]*Venue, error)

	// GetByID retrieves a venue, returning nil when it does not exist
	GetByID(ctx context.Context, id ID) (*Venue, error)

	// Save creates or replaces a venue
	Save(ctx context.Context, v *Venue) error

	// Delete removes a venue
	Delete(ctx context.Context, id ID) error
}
