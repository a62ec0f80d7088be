package geo

import (
	"fmt"
	"math"
	"time"

	"github.com/danghamo/nearby/internal/domain/shared"
)

// Position is an accepted, smoothed device location
type Position struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	CapturedAt     time.Time `json:"captured_at"`
}

// String returns string representation of position
func (p Position) String() string {
	return fmt.Sprintf("(%.6f,%.6f ±%.0fm)", p.Latitude, p.Longitude, p.AccuracyMeters)
}

// RawReading is a single sample delivered by the location sensor
type RawReading struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks the reading is usable numeric input
func (r RawReading) Validate() error {
	if math.IsNaN(r.Latitude) || math.IsNaN(r.Longitude) || math.IsNaN(r.Accuracy) {
		return shared.ErrInvalidInput("reading contains NaN")
	}
	if r.Latitude < -90 || r.Latitude > 90 {
		return shared.NewDomainErrorf(shared.ErrCodeInvalidInput, "latitude out of range: %f", r.Latitude)
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		return shared.NewDomainErrorf(shared.ErrCodeInvalidInput, "longitude out of range: %f", r.Longitude)
	}
	if r.Accuracy < 0 || math.IsInf(r.Accuracy, 0) {
		return shared.NewDomainErrorf(shared.ErrCodeInvalidInput, "invalid accuracy: %f", r.Accuracy)
	}
	return nil
}

// Position converts the raw reading as-is
func (r RawReading) Position() Position {
	return Position{
		Latitude:       r.Latitude,
		Longitude:      r.Longitude,
		AccuracyMeters: r.Accuracy,
		CapturedAt:     r.Timestamp,
	}
}

// Point is a bare coordinate pair
type Point struct {
	Lat float64 `json:"lat" mapstructure:"lat"`
	Lon float64 `json:"lon" mapstructure:"lon"`
}
