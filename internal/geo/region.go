package geo

// BoundingBox is an axis-aligned lat/lon rectangle. When MinLon > MaxLon the
// box crosses the antimeridian.
type BoundingBox struct {
	MinLat float64 `json:"min_lat" mapstructure:"min_lat"`
	MinLon float64 `json:"min_lon" mapstructure:"min_lon"`
	MaxLat float64 `json:"max_lat" mapstructure:"max_lat"`
	MaxLon float64 `json:"max_lon" mapstructure:"max_lon"`
}

// Contains reports whether the point lies inside the box, edges inclusive
func (b BoundingBox) Contains(lat, lon float64) bool {
	if lat < b.MinLat || lat > b.MaxLat {
		return false
	}
	if b.MinLon <= b.MaxLon {
		return lon >= b.MinLon && lon <= b.MaxLon
	}
	return lon >= b.MinLon || lon <= b.MaxLon
}

// Region is a named geofence used for coarse eligibility gating
type Region struct {
	Name         string       `json:"name" mapstructure:"name"`
	Center       Point        `json:"center" mapstructure:"center"`
	RadiusMeters float64      `json:"radius_meters" mapstructure:"radius_meters"`
	Box          *BoundingBox `json:"box,omitempty" mapstructure:"box"`
	Polygon      []Point      `json:"polygon,omitempty" mapstructure:"polygon"`
}

// IsZero reports whether the region carries no boundary at all
func (r Region) IsZero() bool {
	return len(r.Polygon) < 3 && r.Box == nil && r.RadiusMeters <= 0
}

// ContainsPoint tests the point against the region's polygon when it has one,
// then its bounding box, then its center radius
func ContainsPoint(r Region, lat, lon float64) bool {
	switch {
	case len(r.Polygon) >= 3:
		return polygonContains(r.Polygon, lat, lon)
	case r.Box != nil:
		return r.Box.Contains(lat, lon)
	case r.RadiusMeters > 0:
		return Haversine(r.Center.Lat, r.Center.Lon, lat, lon) <= r.RadiusMeters
	default:
		return false
	}
}

// polygonContains applies the even-odd rule by casting a ray toward +lon.
// The edge from the last vertex back to the first is always included.
func polygonContains(poly []Point, lat, lon float64) bool {
	n := len(poly)
	if n > 3 && poly[0] == poly[n-1] {
		n--
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := poly[i], poly[j]
		if (pi.Lat > lat) != (pj.Lat > lat) {
			crossLon := (pj.Lon-pi.Lon)*(lat-pi.Lat)/(pj.Lat-pi.Lat) + pi.Lon
			if lon < crossLon {
				inside = !inside
			}
		}
	}
	return inside
}
