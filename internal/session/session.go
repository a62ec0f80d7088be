package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/danghamo/nearby/internal/channel"
	"github.com/danghamo/nearby/internal/domain/chat"
	"github.com/danghamo/nearby/internal/domain/shared"
	"github.com/danghamo/nearby/internal/domain/venue"
	"github.com/danghamo/nearby/internal/geo"
	"github.com/danghamo/nearby/internal/moderation"
	"github.com/danghamo/nearby/internal/proximity"
	"github.com/danghamo/nearby/internal/tracker"
	"github.com/danghamo/nearby/pkg/logger"
)

// SignalType names the observable engine signals
type SignalType string

const (
	SignalPosition SignalType = "position"
	SignalNearby   SignalType = "nearby_changed"
	SignalUnlocked SignalType = "unlocked_changed"
	SignalChannel  SignalType = "channel"
	SignalError    SignalType = "error"
)

// Signal is delivered to session listeners
type Signal struct {
	Type    SignalType  `json:"type"`
	VenueID venue.ID    `json:"venue_id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
	At      time.Time   `json:"at"`
}

// Catalog is the venue catalog shared by every session
type Catalog interface {
	proximity.CatalogSource
	Invalidate()
}

// Config groups the settings of every session component
type Config struct {
	Tracker   tracker.Config
	Smoothing geo.SmoothingConfig
	Proximity proximity.Config
	Channel   channel.Config
	Region    geo.Region
}

// Deps are the external collaborators of a session
type Deps struct {
	Sensor    tracker.Sensor
	Positions tracker.PositionStore
	Catalog   Catalog
	Mutes     chat.MuteRepository
	Feed      channel.Feed
	Clock     clockwork.Clock
	Logger    *logger.Logger
}

// Status is the UI-facing summary of a session
type Status struct {
	UserID   string             `json:"user_id"`
	Tracking string             `json:"tracking"`
	Position *geo.Position      `json:"position,omitempty"`
	Nearby   []proximity.Record `json:"nearby"`
	Unlocked []venue.ID         `json:"unlocked"`
	Channels []channel.Snapshot `json:"channels"`
	Muted    bool               `json:"muted"`
}

// Session is the engine scoped to one user's device session. It replaces
// process-wide tracking state with an explicit Open/Close lifecycle.
type Session struct {
	userID   string
	catalog  Catalog
	clock    clockwork.Clock
	logger   *logger.Logger
	tracker  *tracker.Tracker
	index    *proximity.Index
	channels *channel.Manager
	gate     *moderation.Gate

	mu     sync.Mutex
	open   bool
	closed bool
	ctx    context.Context
	cancel context.CancelFunc

	listenersMu sync.RWMutex
	listeners   []func(Signal)
}

// New builds a session and wires its components together
func New(userID string, cfg Config, deps Deps) (*Session, error) {
	if userID == "" {
		return nil, shared.ErrInvalidInput("user id cannot be empty")
	}
	if deps.Sensor == nil || deps.Catalog == nil || deps.Feed == nil {
		return nil, shared.ErrInvalidInput("sensor, catalog and feed are required")
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = logger.GetGlobalLogger()
	}

	log := deps.Logger.WithComponent("session").WithUserID(userID)
	gate := moderation.NewGate(userID, deps.Mutes, deps.Clock, deps.Logger)

	s := &Session{
		userID:   userID,
		catalog:  deps.Catalog,
		clock:    deps.Clock,
		logger:   log,
		tracker:  tracker.New(userID, deps.Sensor, deps.Positions, cfg.Tracker, cfg.Smoothing, deps.Clock, deps.Logger),
		index:    proximity.New(cfg.Proximity, deps.Catalog, deps.Logger, proximity.WithRegion(cfg.Region)),
		channels: channel.NewManager(userID, deps.Feed, gate, cfg.Channel, deps.Clock, deps.Logger),
		gate:     gate,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.tracker.OnPosition(s.handlePosition)
	s.tracker.OnError(s.handleTrackerError)
	s.index.OnNearbyChanged(func(c proximity.Change) {
		s.emit(Signal{Type: SignalNearby, Payload: c})
	})
	s.index.OnUnlockedChanged(s.handleUnlocked)
	s.channels.Subscribe(func(ev channel.Event) {
		s.emit(Signal{Type: SignalChannel, VenueID: ev.VenueID, Payload: ev})
	})

	return s, nil
}

// UserID returns the session owner
func (s *Session) UserID() string {
	return s.userID
}

// OnSignal registers a listener. Listeners run synchronously on the engine
// path and must not block or call back into the session.
func (s *Session) OnSignal(fn func(Signal)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Open loads moderation state and starts position tracking
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return shared.ErrInvalidState("session already closed")
	}
	if s.open {
		s.mu.Unlock()
		return nil
	}
	s.open = true
	s.mu.Unlock()

	if err := s.gate.Refresh(ctx); err != nil {
		s.logger.Warn("Starting with unknown mute state", zap.Error(err))
	}

	if err := s.tracker.Start(s.ctx); err != nil {
		s.mu.Lock()
		s.open = false
		s.mu.Unlock()
		return err
	}

	s.logger.Info("Session opened")
	return nil
}

// Close stops tracking and tears down every channel. A closed session
// cannot be reopened.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.open = false
	s.mu.Unlock()

	s.tracker.Stop()
	s.channels.CloseAll()
	s.cancel()
	s.logger.Info("Session closed")
}

// Send publishes text to an unlocked venue
func (s *Session) Send(ctx context.Context, venueID venue.ID, text string) (channel.SendResult, error) {
	return s.channels.Send(ctx, venueID, text)
}

// Reconnect retries a venue channel immediately
func (s *Session) Reconnect(venueID venue.ID) error {
	return s.channels.Reconnect(venueID)
}

// Messages returns the held messages of a venue
func (s *Session) Messages(venueID venue.ID) []chat.Message {
	return s.channels.Messages(venueID)
}

// RefreshCatalog refetches venues and recomputes proximity
func (s *Session) RefreshCatalog(ctx context.Context) error {
	s.catalog.Invalidate()
	return s.index.Recompute(ctx)
}

// RefreshModeration reloads the mute record
func (s *Session) RefreshModeration(ctx context.Context) error {
	return s.gate.Refresh(ctx)
}

// Status summarizes what the UI must be able to render
func (s *Session) Status() Status {
	st := Status{
		UserID:   s.userID,
		Tracking: s.tracker.State().String(),
		Nearby:   s.index.Records(),
		Unlocked: s.index.Unlocked(),
		Channels: s.channels.Snapshots(),
		Muted:    s.gate.State().IsMuted,
	}
	if pos, ok := s.tracker.Position(); ok {
		st.Position = &pos
	}
	return st
}

func (s *Session) handlePosition(pos geo.Position) {
	s.emit(Signal{Type: SignalPosition, Payload: pos})

	if err := s.index.Update(s.ctx, pos); err != nil {
		s.logger.Warn("Proximity update failed", zap.Error(err))
	}
}

func (s *Session) handleUnlocked(c proximity.Change) {
	for _, id := range c.Entered {
		s.channels.Open(id)
	}
	for _, id := range c.Left {
		s.channels.Close(id)
	}
	s.emit(Signal{Type: SignalUnlocked, Payload: c})
}

func (s *Session) handleTrackerError(err error) {
	s.emit(Signal{
		Type:    SignalError,
		Payload: map[string]string{"code": shared.CodeString(err), "message": err.Error()},
	})
}

func (s *Session) emit(sig Signal) {
	sig.At = s.clock.Now()

	s.listenersMu.RLock()
	listeners := s.listeners
	s.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(sig)
	}
}
