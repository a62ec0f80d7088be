package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/danghamo/nearby/internal/domain/shared"
	"github.com/danghamo/nearby/internal/geo"
	"github.com/danghamo/nearby/pkg/logger"
)

// State is the tracker lifecycle state
type State int

const (
	Stopped State = iota
	Starting
	Tracking
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Tracking:
		return "tracking"
	default:
		return "unknown"
	}
}

// Config holds tracker settings
type Config struct {
	MinInterval  time.Duration `mapstructure:"min_interval"`
	HighAccuracy bool          `mapstructure:"high_accuracy"`
	MaxAge       time.Duration `mapstructure:"max_age"`
}

// DefaultConfig returns the stock tracker settings
func DefaultConfig() Config {
	return Config{
		MinInterval:  5 * time.Second,
		HighAccuracy: true,
		MaxAge:       10 * time.Second,
	}
}

// PositionStore persists the latest accepted position of a user
type PositionStore interface {
	UpsertUserPosition(ctx context.Context, userID string, pos geo.Position) error
}

// Tracker turns a raw sensor stream into a throttled, smoothed position
// stream and persists the most recent accepted position
type Tracker struct {
	userID    string
	sensor    Sensor
	store     PositionStore
	cfg       Config
	smoothing geo.SmoothingConfig
	clock     clockwork.Clock
	logger    *logger.Logger

	// dispatchMu serializes reading handling so subscribers observe
	// positions one at a time in acceptance order
	dispatchMu sync.Mutex

	mu          sync.Mutex
	state       State
	unsubscribe func()
	limiter     *rate.Limiter
	last        *geo.Position
	err         error
	subscribers []func(geo.Position)
	onError     []func(error)
	writer      *writer
}

// New creates a stopped tracker
func New(userID string, sensor Sensor, store PositionStore, cfg Config, smoothing geo.SmoothingConfig, clk clockwork.Clock, log *logger.Logger) *Tracker {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Tracker{
		userID:    userID,
		sensor:    sensor,
		store:     store,
		cfg:       cfg,
		smoothing: smoothing,
		clock:     clk,
		logger:    log.WithComponent("position_tracker").WithUserID(userID),
	}
}

// OnPosition registers a subscriber for accepted positions. Subscribers run
// synchronously on the reading path.
func (t *Tracker) OnPosition(fn func(geo.Position)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers = append(t.subscribers, fn)
}

// OnError registers a listener for terminal sensor failures
func (t *Tracker) OnError(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = append(t.onError, fn)
}

// Start subscribes to the sensor. Calling Start while already running is a no-op.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.err != nil {
		err := t.err
		t.mu.Unlock()
		return err
	}
	if t.state != Stopped {
		t.mu.Unlock()
		return nil
	}

	t.state = Starting
	t.limiter = rate.NewLimiter(rate.Every(t.cfg.MinInterval), 1)
	w := newWriter(ctx, t.userID, t.store, t.logger)
	t.writer = w
	t.mu.Unlock()

	t.logger.Info("Starting position tracking",
		zap.Bool("high_accuracy", t.cfg.HighAccuracy),
		zap.Duration("max_age", t.cfg.MaxAge),
		zap.Duration("min_interval", t.cfg.MinInterval),
	)

	unsubscribe, err := t.sensor.Subscribe(
		SensorOptions{HighAccuracy: t.cfg.HighAccuracy, MaxAge: t.cfg.MaxAge},
		t.handleReading,
		t.handleError,
	)

	t.mu.Lock()
	if err != nil {
		t.state = Stopped
		t.writer = nil
		t.mu.Unlock()
		w.stop()

		t.logger.Error("Sensor subscription failed", zap.Error(err))
		if shared.CodeOf(err) == shared.ErrCodeUnknown {
			err = shared.WrapDomainError(err, shared.ErrCodeSensorUnavailable, "sensor subscription failed")
		}
		return err
	}

	if t.state != Starting {
		// terminated by a sensor failure during subscribe
		terminal := t.err
		t.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return terminal
	}

	t.state = Tracking
	t.unsubscribe = unsubscribe
	t.mu.Unlock()
	return nil
}

// Stop cancels the sensor subscription, waits for a reading already being
// handled, and flushes the pending store write. Stop is idempotent and must
// not be called from a position subscriber.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.state == Stopped {
		t.mu.Unlock()
		return
	}
	unsubscribe, w := t.stopLocked()
	t.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	// a reading that got past the state check finishes before teardown
	t.dispatchMu.Lock()
	t.dispatchMu.Unlock()

	if w != nil {
		w.stop()
	}
	t.logger.Info("Position tracking stopped")
}

func (t *Tracker) stopLocked() (func(), *writer) {
	t.state = Stopped
	unsubscribe, w := t.unsubscribe, t.writer
	t.unsubscribe = nil
	t.writer = nil
	return unsubscribe, w
}

// State returns the lifecycle state
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the terminal failure, if any
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Position returns the last accepted position
func (t *Tracker) Position() (geo.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return geo.Position{}, false
	}
	return *t.last, true
}

func (t *Tracker) handleReading(r geo.RawReading) {
	t.dispatchMu.Lock()
	defer t.dispatchMu.Unlock()

	t.mu.Lock()
	if t.state == Stopped {
		t.mu.Unlock()
		return
	}

	if err := r.Validate(); err != nil {
		t.mu.Unlock()
		t.logger.Debug("Dropping invalid reading", zap.Error(err))
		return
	}

	now := t.clock.Now()
	reservation := t.limiter.ReserveN(now, 1)
	if !reservation.OK() || reservation.DelayFrom(now) > 0 {
		reservation.CancelAt(now)
		t.mu.Unlock()
		t.logger.Debug("Reading throttled")
		return
	}

	pos, verdict := geo.Smooth(t.smoothing, t.last, r)
	if verdict == geo.Rejected {
		// only accepted readings count against the interval
		reservation.CancelAt(now)
		t.mu.Unlock()
		t.logger.Debug("Reading rejected as implausible jump",
			zap.Float64("accuracy", r.Accuracy),
		)
		return
	}

	t.last = &pos
	subscribers := make([]func(geo.Position), len(t.subscribers))
	copy(subscribers, t.subscribers)
	w := t.writer
	t.mu.Unlock()

	if verdict == geo.Dampened {
		t.logger.Debug("Reading dampened", zap.Stringer("position", pos))
	}

	for _, fn := range subscribers {
		fn(pos)
	}

	if w != nil {
		w.submit(pos)
	}
}

func (t *Tracker) handleError(code ErrorCode) {
	err := code.Err()

	if !code.Terminal() {
		t.logger.Warn("Transient sensor failure", zap.Stringer("code", code))
		return
	}

	t.mu.Lock()
	if t.err != nil {
		t.mu.Unlock()
		return
	}
	t.err = err
	var unsubscribe func()
	var w *writer
	if t.state != Stopped {
		unsubscribe, w = t.stopLocked()
	}
	listeners := make([]func(error), len(t.onError))
	copy(listeners, t.onError)
	t.mu.Unlock()

	t.logger.Error("Location permission denied, tracking ended", zap.Error(err))

	if unsubscribe != nil {
		unsubscribe()
	}
	if w != nil {
		w.stop()
	}
	for _, fn := range listeners {
		fn(err)
	}
}
