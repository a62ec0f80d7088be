package session

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/danghamo/nearby/internal/domain/shared"
	"github.com/danghamo/nearby/internal/geo"
	"github.com/danghamo/nearby/pkg/logger"
	"github.com/danghamo/nearby/pkg/metrics"
)

// Reporter accepts readings pushed by the client
type Reporter interface {
	Push(r geo.RawReading) error
}

// Build is what a Factory produces for one user
type Build struct {
	Session *Session
	// Reporter is nil when readings arrive out of band
	Reporter Reporter
	// Cleanup releases per-session transport resources after Close
	Cleanup func()
}

// Factory builds an unopened session for a user
type Factory func(ctx context.Context, userID string) (Build, error)

// Registry holds at most one open session per user. Sessions are built
// outside the registry lock; concurrent first uses of one user share a build.
type Registry struct {
	factory Factory
	logger  *logger.Logger
	builds  singleflight.Group

	mu      sync.Mutex
	entries map[string]Build
}

// NewRegistry creates an empty registry
func NewRegistry(factory Factory, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Registry{
		factory: factory,
		logger:  log.WithComponent("session_registry"),
		entries: make(map[string]Build),
	}
}

// Acquire returns the user's session, building and opening it on first use
func (r *Registry) Acquire(ctx context.Context, userID string) (*Session, error) {
	b, err := r.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	return b.Session, nil
}

func (r *Registry) acquire(ctx context.Context, userID string) (Build, error) {
	if userID == "" {
		return Build{}, shared.ErrInvalidInput("user id cannot be empty")
	}

	if b, ok := r.lookup(userID); ok {
		return b, nil
	}

	v, err, _ := r.builds.Do(userID, func() (interface{}, error) {
		if b, ok := r.lookup(userID); ok {
			return b, nil
		}

		b, err := r.build(ctx, userID)
		if err != nil {
			return Build{}, err
		}

		r.mu.Lock()
		r.entries[userID] = b
		count := len(r.entries)
		r.mu.Unlock()

		metrics.SessionsActive.Inc()
		r.logger.Info("Session registered", zap.String("user_id", userID), zap.Int("sessions", count))
		return b, nil
	})
	if err != nil {
		return Build{}, err
	}
	return v.(Build), nil
}

// build creates and opens a session without holding the registry lock
func (r *Registry) build(ctx context.Context, userID string) (Build, error) {
	b, err := r.factory(ctx, userID)
	if err != nil {
		return Build{}, err
	}
	if err := b.Session.Open(ctx); err != nil {
		b.Session.Close()
		if b.Cleanup != nil {
			b.Cleanup()
		}
		return Build{}, err
	}
	return b, nil
}

func (r *Registry) lookup(userID string) (Build, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.entries[userID]
	return b, ok
}

// Report pushes a client reading into the user's session
func (r *Registry) Report(ctx context.Context, userID string, reading geo.RawReading) error {
	b, err := r.acquire(ctx, userID)
	if err != nil {
		return err
	}
	if b.Reporter == nil {
		return shared.ErrInvalidState("position reports are not accepted for this session")
	}
	return b.Reporter.Push(reading)
}

// Lookup returns an open session without creating one
func (r *Registry) Lookup(userID string) (*Session, bool) {
	b, ok := r.lookup(userID)
	return b.Session, ok
}

// Release closes and forgets the user's session
func (r *Registry) Release(userID string) bool {
	r.mu.Lock()
	b, ok := r.entries[userID]
	delete(r.entries, userID)
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.shutdown(b)
	r.logger.Info("Session released", zap.String("user_id", userID))
	return true
}

// CloseAll closes every session
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]Build)
	r.mu.Unlock()

	for _, b := range entries {
		r.shutdown(b)
	}
	r.logger.Info("All sessions closed", zap.Int("count", len(entries)))
}

// Len returns the number of open sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) shutdown(b Build) {
	b.Session.Close()
	if b.Cleanup != nil {
		b.Cleanup()
	}
	metrics.SessionsActive.Dec()
}
