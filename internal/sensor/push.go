package sensor

import (
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/danghamo/nearby/internal/domain/shared"
	"github.com/danghamo/nearby/internal/geo"
	"github.com/danghamo/nearby/internal/tracker"
	"github.com/danghamo/nearby/pkg/logger"
)

type subscription struct {
	opts      tracker.SensorOptions
	onReading tracker.ReadingFunc
	onError   tracker.ErrorFunc
}

// PushSensor is fed by the client over HTTP. Readings older than the
// subscriber's MaxAge are refused.
type PushSensor struct {
	clock  clockwork.Clock
	logger *logger.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]subscription
}

// NewPushSensor creates a push sensor
func NewPushSensor(clk clockwork.Clock, log *logger.Logger) *PushSensor {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &PushSensor{
		clock:  clk,
		logger: log.WithComponent("push_sensor"),
		subs:   make(map[int]subscription),
	}
}

// Subscribe implements tracker.Sensor
func (s *PushSensor) Subscribe(opts tracker.SensorOptions, onReading tracker.ReadingFunc, onError tracker.ErrorFunc) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs[id] = subscription{opts: opts, onReading: onReading, onError: onError}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}, nil
}

// Push delivers a reading to every subscriber. A zero timestamp means now.
func (s *PushSensor) Push(r geo.RawReading) error {
	if err := r.Validate(); err != nil {
		return err
	}
	now := s.clock.Now()
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}

	subs := s.snapshot()
	if len(subs) == 0 {
		return shared.ErrInvalidState("no active location subscription")
	}

	delivered := 0
	for _, sub := range subs {
		if sub.opts.MaxAge > 0 && now.Sub(r.Timestamp) > sub.opts.MaxAge {
			s.logger.Debug("Dropping stale reading",
				zap.Time("timestamp", r.Timestamp),
				zap.Duration("max_age", sub.opts.MaxAge),
			)
			continue
		}
		sub.onReading(r)
		delivered++
	}

	if delivered == 0 {
		return shared.ErrInvalidInput("reading is older than the allowed age")
	}
	return nil
}

// Fail reports a sensor failure to every subscriber
func (s *PushSensor) Fail(code tracker.ErrorCode) {
	for _, sub := range s.snapshot() {
		sub.onError(code)
	}
}

// Subscribers returns the number of active subscriptions
func (s *PushSensor) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *PushSensor) snapshot() []subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}
