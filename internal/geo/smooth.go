package geo

import "math"

// Verdict describes what Smooth did with a reading
type Verdict int

const (
	Accepted Verdict = iota
	Rejected
	Dampened
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Dampened:
		return "dampened"
	default:
		return "unknown"
	}
}

// SmoothingConfig holds the jump rejection thresholds
type SmoothingConfig struct {
	RejectThresholdMeters float64 `mapstructure:"reject_threshold_m"`
	DampenThresholdMeters float64 `mapstructure:"dampen_threshold_m"`
	AccuracyTrustMeters   float64 `mapstructure:"accuracy_trust_m"`
	DampenAccuracyMeters  float64 `mapstructure:"dampen_accuracy_m"`
	PreviousWeight        float64 `mapstructure:"dampen_previous_weight"`
}

// DefaultSmoothing returns the stock thresholds
func DefaultSmoothing() SmoothingConfig {
	return SmoothingConfig{
		RejectThresholdMeters: 10000,
		DampenThresholdMeters: 5000,
		AccuracyTrustMeters:   100,
		DampenAccuracyMeters:  200,
		PreviousWeight:        0.3,
	}
}

// Smooth rejects or dampens implausible jumps between the previous accepted
// position and the next raw reading. The returned position's CapturedAt never
// goes backwards relative to previous.
func Smooth(cfg SmoothingConfig, previous *Position, next RawReading) (Position, Verdict) {
	candidate := next.Position()
	if previous == nil {
		return candidate, Accepted
	}

	if candidate.CapturedAt.Before(previous.CapturedAt) {
		candidate.CapturedAt = previous.CapturedAt
	}

	d := DistanceMeters(*previous, candidate)

	if d > cfg.RejectThresholdMeters && next.Accuracy > cfg.AccuracyTrustMeters {
		return *previous, Rejected
	}

	if d > cfg.DampenThresholdMeters && next.Accuracy > cfg.DampenAccuracyMeters {
		w := cfg.PreviousWeight
		lon := blendLongitude(previous.Longitude, candidate.Longitude, w)
		return Position{
			Latitude:       w*previous.Latitude + (1-w)*candidate.Latitude,
			Longitude:      lon,
			AccuracyMeters: math.Max(0, w*previous.AccuracyMeters+(1-w)*candidate.AccuracyMeters),
			CapturedAt:     candidate.CapturedAt,
		}, Dampened
	}

	return candidate, Accepted
}

// blendLongitude takes the short way around the antimeridian
func blendLongitude(prev, next, w float64) float64 {
	delta := normalizeLongitude(next - prev)
	return normalizeLongitude(prev + (1-w)*delta)
}
