package geo

import "math"

// EarthRadiusMeters is the mean earth radius used by the haversine formula
const EarthRadiusMeters = 6371000.0

// DistanceMeters returns the great-circle distance between two positions
func DistanceMeters(a, b Position) float64 {
	return Haversine(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// Haversine returns the great-circle distance in meters between two coordinates
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lon2 - lon1)

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)

	h := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Destination returns the point reached by travelling distanceMeters from
// (lat, lon) along the given initial bearing (degrees clockwise from north)
func Destination(lat, lon, bearingDegrees, distanceMeters float64) (float64, float64) {
	delta := distanceMeters / EarthRadiusMeters
	theta := toRadians(bearingDegrees)
	phi1 := toRadians(lat)
	lambda1 := toRadians(lon)

	phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta))
	lambda2 := lambda1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2),
	)

	return toDegrees(phi2), normalizeLongitude(toDegrees(lambda2))
}

// degreesForMeters returns conservative lat/lon spans covering the given
// distance around a latitude, used to pre-filter before haversine
func degreesForMeters(lat, meters float64) (dLat, dLon float64) {
	dLat = toDegrees(meters / EarthRadiusMeters)
	cos := math.Cos(toRadians(lat))
	if cos < 1e-6 {
		return dLat, 360
	}
	dLon = dLat / cos
	if dLon > 360 {
		dLon = 360
	}
	return dLat, dLon
}

// WithinBox reports whether (lat2, lon2) can possibly lie within meters of
// (lat1, lon1). It never returns false for a point that is within range.
func WithinBox(lat1, lon1, lat2, lon2, meters float64) bool {
	dLat, dLon := degreesForMeters(math.Max(math.Abs(lat1), math.Abs(lat2)), meters)
	if math.Abs(lat2-lat1) > dLat*1.01 {
		return false
	}
	if dLon >= 360 {
		return true
	}
	diff := math.Abs(normalizeLongitude(lon2 - lon1))
	return diff <= dLon*1.01
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

func normalizeLongitude(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
