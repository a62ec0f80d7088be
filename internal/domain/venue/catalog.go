package venue

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/danghamo/nearby/pkg/logger"
)

const activeKey = "active"

// Snapshot is an immutable view of the active venues at one catalog version
type Snapshot struct {
	Version uint64
	Venues  []*Venue
}

// Catalog caches the active venue list for a bounded time. Snapshots are
// shared read-only between the proximity index and the channel manager.
type Catalog struct {
	repo   Repository
	cache  *cache.Cache
	logger *logger.Logger

	mu      sync.Mutex
	version uint64
}

// NewCatalog creates a catalog refreshing from repo at most once per ttl
func NewCatalog(repo Repository, ttl time.Duration, log *logger.Logger) *Catalog {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Catalog{
		repo:   repo,
		cache:  cache.New(ttl, 2*ttl),
		logger: log.WithComponent("venue_catalog"),
	}
}

// Active returns the cached snapshot, fetching from the repository when the
// cache is empty or expired. Each fetch bumps the version.
func (c *Catalog) Active(ctx context.Context) (Snapshot, error) {
	if cached, found := c.cache.Get(activeKey); found {
		return cached.(Snapshot), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, found := c.cache.Get(activeKey); found {
		return cached.(Snapshot), nil
	}

	venues, err := c.repo.ListActive(ctx)
	if err != nil {
		c.logger.Warn("Failed to load active venues", zap.Error(err))
		return Snapshot{}, err
	}

	c.version++
	snap := Snapshot{Version: c.version, Venues: venues}
	c.cache.SetDefault(activeKey, snap)

	c.logger.Debug("Venue catalog loaded",
		zap.Uint64("version", snap.Version),
		zap.Int("count", len(venues)),
	)

	return snap, nil
}

// Invalidate drops the cached snapshot so the next Active call refetches
func (c *Catalog) Invalidate() {
	c.cache.Delete(activeKey)
}
