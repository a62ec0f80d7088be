package tracker

import (
	"time"

	"github.com/danghamo/nearby/internal/domain/shared"
	"github.com/danghamo/nearby/internal/geo"
)

// ErrorCode classifies sensor failures
type ErrorCode int

const (
	PermissionDenied ErrorCode = iota + 1
	Timeout
	Unavailable
)

func (c ErrorCode) String() string {
	switch c {
	case PermissionDenied:
		return "permission_denied"
	case Timeout:
		return "timeout"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Terminal reports whether the failure ends the tracking session
func (c ErrorCode) Terminal() bool {
	return c == PermissionDenied
}

// Err converts the code into a domain error
func (c ErrorCode) Err() error {
	switch c {
	case PermissionDenied:
		return shared.NewDomainError(shared.ErrCodeSensorPermissionDenied, "location permission denied")
	case Timeout:
		return shared.NewDomainError(shared.ErrCodeSensorTimeout, "location request timed out")
	default:
		return shared.NewDomainError(shared.ErrCodeSensorUnavailable, "location signal unavailable")
	}
}

// SensorOptions configures a sensor subscription
type SensorOptions struct {
	HighAccuracy bool
	MaxAge       time.Duration
}

// ReadingFunc receives raw sensor readings
type ReadingFunc func(geo.RawReading)

// ErrorFunc receives sensor failures
type ErrorFunc func(ErrorCode)

// Sensor delivers a continuous location stream. Callbacks may arrive on any
// goroutine. Transient failures are retried by the sensor itself.
type Sensor interface {
	Subscribe(opts SensorOptions, onReading ReadingFunc, onError ErrorFunc) (unsubscribe func(), err error)
}
