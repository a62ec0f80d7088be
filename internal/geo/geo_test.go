package geo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceMeters_SamePointIsZero(t *testing.T) {
	points := []Position{
		{Latitude: 0, Longitude: 0},
		{Latitude: 37.5665, Longitude: 126.9780},
		{Latitude: -33.8688, Longitude: 151.2093},
		{Latitude: 89.9999, Longitude: -179.9999},
	}

	for _, p := range points {
		assert.Equal(t, 0.0, DistanceMeters(p, p), p.String())
	}
}

func TestDistanceMeters_Symmetric(t *testing.T) {
	pairs := [][2]Position{
		{{Latitude: 37.5665, Longitude: 126.9780}, {Latitude: 35.1796, Longitude: 129.0756}},
		{{Latitude: 51.5074, Longitude: -0.1278}, {Latitude: 40.7128, Longitude: -74.0060}},
		{{Latitude: 10, Longitude: 179.9}, {Latitude: 10, Longitude: -179.9}},
	}

	for _, pair := range pairs {
		assert.Equal(t, DistanceMeters(pair[0], pair[1]), DistanceMeters(pair[1], pair[0]))
	}
}

func TestDistanceMeters_KnownValues(t *testing.T) {
	seoul := Position{Latitude: 37.5665, Longitude: 126.9780}
	busan := Position{Latitude: 35.1796, Longitude: 129.0756}

	assert.InDelta(t, 325000, DistanceMeters(seoul, busan), 2000)

	// one degree of latitude
	assert.InDelta(t, 111195, Haversine(0, 0, 1, 0), 1)

	// across the antimeridian
	assert.InDelta(t, 22239, Haversine(0, 179.9, 0, -179.9), 1)
}

func TestDestination_RoundTrip(t *testing.T) {
	lat, lon := Destination(37.5665, 126.9780, 90, 500)
	assert.InDelta(t, 500, Haversine(37.5665, 126.9780, lat, lon), 1e-3)

	lat, lon = Destination(0, 179.999, 90, 1000)
	assert.Less(t, lon, 0.0)
	assert.InDelta(t, 1000, Haversine(0, 179.999, lat, lon), 1e-3)
}

func TestWithinBox_NeverExcludesNearPoint(t *testing.T) {
	for _, bearing := range []float64{0, 45, 90, 135, 180, 225, 270, 315} {
		lat, lon := Destination(60, 10, bearing, 9999)
		assert.True(t, WithinBox(60, 10, lat, lon, 10000), "bearing %v", bearing)
	}
	assert.False(t, WithinBox(0, 0, 1, 0, 10000))
	assert.False(t, WithinBox(0, 0, 0, 1, 10000))
}

func square() []Point {
	return []Point{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 10},
		{Lat: 10, Lon: 10},
		{Lat: 10, Lon: 0},
	}
}

func rotate(poly []Point, k int) []Point {
	out := make([]Point, 0, len(poly))
	out = append(out, poly[k:]...)
	return append(out, poly[:k]...)
}

func TestContainsPoint_Polygon(t *testing.T) {
	r := Region{Name: "square", Polygon: square()}

	tests := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{"center", 5, 5, true},
		{"near closing edge", 5, 0.01, true},
		{"outside west", 5, -1, false},
		{"outside north", 11, 5, false},
		{"outside east", 5, 11, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ContainsPoint(r, tt.lat, tt.lon))
		})
	}
}

func TestContainsPoint_RotationInvariant(t *testing.T) {
	concave := []Point{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 10},
		{Lat: 10, Lon: 10},
		{Lat: 5, Lon: 5},
		{Lat: 10, Lon: 0},
	}
	samples := []Point{
		{Lat: 2, Lon: 2}, {Lat: 8, Lon: 5}, {Lat: 8, Lon: 1}, {Lat: 8, Lon: 9},
		{Lat: -1, Lon: 5}, {Lat: 5, Lon: 5.0001}, {Lat: 9.9, Lon: 0.05},
	}

	for _, pt := range samples {
		want := ContainsPoint(Region{Polygon: concave}, pt.Lat, pt.Lon)
		for k := 1; k < len(concave); k++ {
			got := ContainsPoint(Region{Polygon: rotate(concave, k)}, pt.Lat, pt.Lon)
			assert.Equal(t, want, got, "pt %v rotation %d", pt, k)
		}
	}
}

func TestContainsPoint_ClosedPolygonMatchesOpen(t *testing.T) {
	open := square()
	closed := append(square(), open[0])

	for _, pt := range []Point{{Lat: 5, Lon: 5}, {Lat: 5, Lon: 15}, {Lat: 0.5, Lon: 9.5}} {
		assert.Equal(t,
			ContainsPoint(Region{Polygon: open}, pt.Lat, pt.Lon),
			ContainsPoint(Region{Polygon: closed}, pt.Lat, pt.Lon),
		)
	}
}

func TestContainsPoint_Box(t *testing.T) {
	r := Region{Box: &BoundingBox{MinLat: 37, MinLon: 126, MaxLat: 38, MaxLon: 127}}
	assert.True(t, ContainsPoint(r, 37.5, 126.5))
	assert.True(t, ContainsPoint(r, 37, 126), "edges are inclusive")
	assert.False(t, ContainsPoint(r, 36.9, 126.5))

	wrap := Region{Box: &BoundingBox{MinLat: -10, MinLon: 170, MaxLat: 10, MaxLon: -170}}
	assert.True(t, ContainsPoint(wrap, 0, 179))
	assert.True(t, ContainsPoint(wrap, 0, -175))
	assert.False(t, ContainsPoint(wrap, 0, 0))
}

func TestContainsPoint_Radius(t *testing.T) {
	r := Region{Center: Point{Lat: 37.5665, Lon: 126.9780}, RadiusMeters: 1000}
	lat, lon := Destination(37.5665, 126.9780, 30, 999)
	assert.True(t, ContainsPoint(r, lat, lon))
	lat, lon = Destination(37.5665, 126.9780, 30, 1001)
	assert.False(t, ContainsPoint(r, lat, lon))
	assert.False(t, ContainsPoint(Region{}, 0, 0))
}

func TestSmooth(t *testing.T) {
	cfg := DefaultSmoothing()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	prev := &Position{Latitude: 37.5665, Longitude: 126.9780, AccuracyMeters: 10, CapturedAt: base}

	reading := func(meters, accuracy float64) RawReading {
		lat, lon := Destination(prev.Latitude, prev.Longitude, 0, meters)
		return RawReading{Latitude: lat, Longitude: lon, Accuracy: accuracy, Timestamp: base.Add(time.Minute)}
	}

	t.Run("first reading accepted unchanged", func(t *testing.T) {
		r := reading(20000, 900)
		got, verdict := Smooth(cfg, nil, r)
		assert.Equal(t, Accepted, verdict)
		assert.Equal(t, r.Position(), got)
	})

	t.Run("far jump with poor accuracy is discarded", func(t *testing.T) {
		got, verdict := Smooth(cfg, prev, reading(12000, 500))
		assert.Equal(t, Rejected, verdict)
		assert.Equal(t, *prev, got)
	})

	t.Run("far jump with trusted accuracy is accepted", func(t *testing.T) {
		r := reading(12000, 50)
		got, verdict := Smooth(cfg, prev, r)
		assert.Equal(t, Accepted, verdict)
		assert.Equal(t, r.Position(), got)
	})

	t.Run("moderate jump with moderate accuracy is blended", func(t *testing.T) {
		r := reading(6000, 300)
		got, verdict := Smooth(cfg, prev, r)
		require.Equal(t, Dampened, verdict)
		assert.InDelta(t, 0.3*prev.Latitude+0.7*r.Latitude, got.Latitude, 1e-9)
		assert.InDelta(t, 4200, DistanceMeters(*prev, got), 5)
	})

	t.Run("moderate jump with good accuracy is accepted", func(t *testing.T) {
		_, verdict := Smooth(cfg, prev, reading(6000, 150))
		assert.Equal(t, Accepted, verdict)
	})

	t.Run("small movement accepted", func(t *testing.T) {
		_, verdict := Smooth(cfg, prev, reading(40, 900))
		assert.Equal(t, Accepted, verdict)
	})

	t.Run("captured at never goes backwards", func(t *testing.T) {
		r := reading(10, 5)
		r.Timestamp = base.Add(-time.Hour)
		got, _ := Smooth(cfg, prev, r)
		assert.Equal(t, base, got.CapturedAt)
	})
}

func TestSmooth_DampenAcrossAntimeridian(t *testing.T) {
	cfg := DefaultSmoothing()
	prev := &Position{Latitude: 0, Longitude: 179.97}
	next := RawReading{Latitude: 0, Longitude: -179.97, Accuracy: 300}

	got, verdict := Smooth(cfg, prev, next)
	require.Equal(t, Dampened, verdict)
	assert.Less(t, got.Longitude, -179.9)
}

func TestRawReading_Validate(t *testing.T) {
	assert.NoError(t, RawReading{Latitude: 1, Longitude: 2, Accuracy: 3}.Validate())
	assert.Error(t, RawReading{Latitude: 91}.Validate())
	assert.Error(t, RawReading{Longitude: -181}.Validate())
	assert.Error(t, RawReading{Accuracy: -1}.Validate())
}
