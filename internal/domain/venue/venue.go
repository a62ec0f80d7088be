package venue

import (
	"github.com/danghamo/nearby/internal/domain/shared"
	"github.com/danghamo/nearby/internal/geo"
)

// ID identifies a venue
type ID string

// String returns the string representation of ID
func (id ID) String() string {
	return string(id)
}

// Venue is a location whose chat can be unlocked by standing near it
type Venue struct {
	ID        ID      `json:"id"`
	Name      string  `json:"name,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	IsActive  bool    `json:"is_active"`
}

// NewVenue creates an active venue at the given coordinate
func NewVenue(id ID, name string, lat, lon float64) (*Venue, error) {
	if id == "" {
		return nil, shared.ErrInvalidInput("venue id cannot be empty")
	}
	if err := (geo.RawReading{Latitude: lat, Longitude: lon}).Validate(); err != nil {
		return nil, err
	}

	return &Venue{
		ID:        id,
		Name:      name,
		Latitude:  lat,
		Longitude: lon,
		IsActive:  true,
	}, nil
}

// Position returns the venue location as a geo position
func (v *Venue) Position() geo.Position {
	return geo.Position{Latitude: v.Latitude, Longitude: v.Longitude}
}
