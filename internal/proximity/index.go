package proximity

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/danghamo/nearby/internal/domain/venue"
	"github.com/danghamo/nearby/internal/geo"
	"github.com/danghamo/nearby/pkg/logger"
)

// distanceEpsilon absorbs floating point noise at the unlock boundary
const distanceEpsilon = 1e-6

// Config holds proximity settings
type Config struct {
	UnlockRadiusMeters float64       `mapstructure:"unlock_radius_m"`
	OuterRadiusMeters  float64       `mapstructure:"outer_radius_m"`
	HysteresisMeters   float64       `mapstructure:"hysteresis_m"`
	GridDecimals       int           `mapstructure:"grid_decimals"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl"`
}

// DefaultConfig returns the stock proximity settings
func DefaultConfig() Config {
	return Config{
		UnlockRadiusMeters: 500,
		OuterRadiusMeters:  10000,
		HysteresisMeters:   1,
		GridDecimals:       3,
		CacheTTL:           5 * time.Minute,
	}
}

// Record is the derived proximity of one venue
type Record struct {
	VenueID        venue.ID `json:"venue_id"`
	DistanceMeters float64  `json:"distance_meters"`
	Unlocked       bool     `json:"unlocked"`
}

// Change lists the venues that entered or left a set in one recomputation
type Change struct {
	Entered []venue.ID
	Left    []venue.ID
}

// Empty reports whether nothing changed
func (c Change) Empty() bool {
	return len(c.Entered) == 0 && len(c.Left) == 0
}

// CatalogSource provides the shared read-only venue catalog
type CatalogSource interface {
	Active(ctx context.Context) (venue.Snapshot, error)
}

// Stats counts full catalog scans against grid-cell memo hits
type Stats struct {
	Scans    int
	MemoHits int
}

// Index maintains the nearby and unlocked venue sets for one session.
// Recomputation is serialized; listeners run while the index is locked and
// must not call back into it.
type Index struct {
	cfg     Config
	catalog CatalogSource
	region  *geo.Region
	memo    *cache.Cache
	logger  *logger.Logger

	mu         sync.Mutex
	position   *geo.Position
	records    []Record
	nearby     map[venue.ID]struct{}
	unlocked   map[venue.ID]struct{}
	stats      Stats
	onNearby   []func(Change)
	onUnlocked []func(Change)
}

// Option configures an Index
type Option func(*Index)

// WithRegion restricts eligibility to positions inside region
func WithRegion(region geo.Region) Option {
	return func(i *Index) {
		if !region.IsZero() {
			i.region = &region
		}
	}
}

// New creates an empty index
func New(cfg Config, catalog CatalogSource, log *logger.Logger, opts ...Option) *Index {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	idx := &Index{
		cfg:      cfg,
		catalog:  catalog,
		memo:     cache.New(ttl, 2*ttl),
		logger:   log.WithComponent("proximity_index"),
		nearby:   make(map[venue.ID]struct{}),
		unlocked: make(map[venue.ID]struct{}),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// OnNearbyChanged registers a listener for nearby set transitions
func (i *Index) OnNearbyChanged(fn func(Change)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.onNearby = append(i.onNearby, fn)
}

// OnUnlockedChanged registers a listener for unlocked set transitions
func (i *Index) OnUnlockedChanged(fn func(Change)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.onUnlocked = append(i.onUnlocked, fn)
}

// Update recomputes proximity for a newly accepted position
func (i *Index) Update(ctx context.Context, pos geo.Position) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.position = &pos
	return i.recomputeLocked(ctx)
}

// Recompute reruns proximity for the last position, typically after a
// catalog refresh. It does nothing before the first position.
func (i *Index) Recompute(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.position == nil {
		return nil
	}
	return i.recomputeLocked(ctx)
}

// Reset clears all sets and emits the corresponding Left transitions
func (i *Index) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.position = nil
	i.applyLocked(nil)
}

func (i *Index) recomputeLocked(ctx context.Context) error {
	pos := *i.position

	if i.region != nil && !geo.ContainsPoint(*i.region, pos.Latitude, pos.Longitude) {
		i.logger.Debug("Position outside service region", zap.String("region", i.region.Name))
		i.applyLocked(nil)
		return nil
	}

	snap, err := i.catalog.Active(ctx)
	if err != nil {
		i.logger.Warn("Catalog unavailable, keeping previous proximity", zap.Error(err))
		return err
	}

	candidates := i.candidatesLocked(snap, pos)

	records := make([]Record, 0, len(candidates))
	for _, v := range candidates {
		d := geo.Haversine(pos.Latitude, pos.Longitude, v.Latitude, v.Longitude)
		if d > i.cfg.OuterRadiusMeters+distanceEpsilon {
			continue
		}
		records = append(records, Record{
			VenueID:        v.ID,
			DistanceMeters: d,
			Unlocked:       i.unlockedAt(v.ID, d),
		})
	}

	sort.Slice(records, func(a, b int) bool {
		if records[a].DistanceMeters == records[b].DistanceMeters {
			return records[a].VenueID < records[b].VenueID
		}
		return records[a].DistanceMeters < records[b].DistanceMeters
	})

	i.applyLocked(records)
	return nil
}

// unlockedAt enters at the unlock radius and leaves only beyond the
// hysteresis band
func (i *Index) unlockedAt(id venue.ID, d float64) bool {
	limit := i.cfg.UnlockRadiusMeters
	if _, already := i.unlocked[id]; already {
		limit += i.cfg.HysteresisMeters
	}
	return d <= limit+distanceEpsilon
}

// candidatesLocked returns the venues that can be within the outer radius of
// any point in pos's grid cell. The scan result is memoized per cell and
// catalog version.
func (i *Index) candidatesLocked(snap venue.Snapshot, pos geo.Position) []*venue.Venue {
	cellLat, cellLon := i.cell(pos)
	key := fmt.Sprintf("%d|%.*f,%.*f", snap.Version, i.cfg.GridDecimals, cellLat, i.cfg.GridDecimals, cellLon)

	if cached, found := i.memo.Get(key); found {
		i.stats.MemoHits++
		return cached.([]*venue.Venue)
	}

	reach := i.cfg.OuterRadiusMeters + i.cellMarginMeters()
	candidates := make([]*venue.Venue, 0)
	for _, v := range snap.Venues {
		if !v.IsActive {
			continue
		}
		if !geo.WithinBox(cellLat, cellLon, v.Latitude, v.Longitude, reach) {
			continue
		}
		if geo.Haversine(cellLat, cellLon, v.Latitude, v.Longitude) <= reach {
			candidates = append(candidates, v)
		}
	}

	i.stats.Scans++
	i.memo.SetDefault(key, candidates)

	i.logger.Debug("Venue scan",
		zap.String("cell", key),
		zap.Int("catalog", len(snap.Venues)),
		zap.Int("candidates", len(candidates)),
	)
	return candidates
}

func (i *Index) cell(pos geo.Position) (float64, float64) {
	scale := math.Pow(10, float64(i.cfg.GridDecimals))
	return math.Round(pos.Latitude*scale) / scale, math.Round(pos.Longitude*scale) / scale
}

// cellMarginMeters bounds the distance from a cell center to any point in the cell
func (i *Index) cellMarginMeters() float64 {
	step := math.Pow(10, -float64(i.cfg.GridDecimals))
	return step * (math.Pi / 180) * geo.EarthRadiusMeters
}

func (i *Index) applyLocked(records []Record) {
	nearby := make(map[venue.ID]struct{}, len(records))
	unlocked := make(map[venue.ID]struct{})
	for _, r := range records {
		nearby[r.VenueID] = struct{}{}
		if r.Unlocked {
			unlocked[r.VenueID] = struct{}{}
		}
	}

	nearbyChange := diff(i.nearby, nearby)
	unlockedChange := diff(i.unlocked, unlocked)

	i.records = records
	i.nearby = nearby
	i.unlocked = unlocked

	if !nearbyChange.Empty() {
		i.logger.Debug("Nearby set changed",
			zap.Int("entered", len(nearbyChange.Entered)),
			zap.Int("left", len(nearbyChange.Left)),
		)
		for _, fn := range i.onNearby {
			fn(nearbyChange)
		}
	}

	if !unlockedChange.Empty() {
		i.logger.Info("Unlocked set changed",
			zap.Any("entered", unlockedChange.Entered),
			zap.Any("left", unlockedChange.Left),
		)
		for _, fn := range i.onUnlocked {
			fn(unlockedChange)
		}
	}
}

func diff(before, after map[venue.ID]struct{}) Change {
	var c Change
	for id := range after {
		if _, ok := before[id]; !ok {
			c.Entered = append(c.Entered, id)
		}
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			c.Left = append(c.Left, id)
		}
	}
	sort.Slice(c.Entered, func(a, b int) bool { return c.Entered[a] < c.Entered[b] })
	sort.Slice(c.Left, func(a, b int) bool { return c.Left[a] < c.Left[b] })
	return c
}

// Records returns the current proximity records ordered by distance
func (i *Index) Records() []Record {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make([]Record, len(i.records))
	copy(out, i.records)
	return out
}

// Nearby returns the ids in the nearby set ordered by distance
func (i *Index) Nearby() []venue.ID {
	i.mu.Lock()
	defer i.mu.Unlock()

	ids := make([]venue.ID, 0, len(i.records))
	for _, r := range i.records {
		ids = append(ids, r.VenueID)
	}
	return ids
}

// Unlocked returns the ids in the unlocked set ordered by distance
func (i *Index) Unlocked() []venue.ID {
	i.mu.Lock()
	defer i.mu.Unlock()

	ids := make([]venue.ID, 0, len(i.unlocked))
	for _, r := range i.records {
		if r.Unlocked {
			ids = append(ids, r.VenueID)
		}
	}
	return ids
}

// IsUnlocked reports whether chat is currently unlocked for the venue
func (i *Index) IsUnlocked(id venue.ID) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	_, ok := i.unlocked[id]
	return ok
}

// Stats returns scan counters
func (i *Index) Stats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stats
}
