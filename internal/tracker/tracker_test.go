package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/nearby/internal/domain/shared"
	"github.com/danghamo/nearby/internal/geo"
	"github.com/danghamo/nearby/pkg/logger"
)

type fakeSensor struct {
	mu           sync.Mutex
	onReading    ReadingFunc
	onError      ErrorFunc
	opts         SensorOptions
	subscribeErr error
	failOnSub    *ErrorCode
	unsubscribed int
}

func (s *fakeSensor) Subscribe(opts SensorOptions, onReading ReadingFunc, onError ErrorFunc) (func(), error) {
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	s.mu.Lock()
	s.opts = opts
	s.onReading = onReading
	s.onError = onError
	s.mu.Unlock()

	if s.failOnSub != nil {
		onError(*s.failOnSub)
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.unsubscribed++
	}, nil
}

func (s *fakeSensor) emit(r geo.RawReading) {
	s.mu.Lock()
	fn := s.onReading
	s.mu.Unlock()
	fn(r)
}

func (s *fakeSensor) fail(code ErrorCode) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	fn(code)
}

func (s *fakeSensor) unsubscribeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed
}

type fakeStore struct {
	mu     sync.Mutex
	writes []geo.Position
	err    error
}

func (s *fakeStore) UpsertUserPosition(ctx context.Context, userID string, pos geo.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, pos)
	return s.err
}

func (s *fakeStore) last() (geo.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.writes) == 0 {
		return geo.Position{}, false
	}
	return s.writes[len(s.writes)-1], true
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestTracker(sensor *fakeSensor, store *fakeStore) (*Tracker, clockwork.FakeClock) {
	clk := clockwork.NewFakeClockAt(epoch)
	tr := New("user-1", sensor, store, DefaultConfig(), geo.DefaultSmoothing(), clk, logger.NewNop())
	return tr, clk
}

func reading(lat, lon, accuracy float64, at time.Time) geo.RawReading {
	return geo.RawReading{Latitude: lat, Longitude: lon, Accuracy: accuracy, Timestamp: at}
}

func TestTracker_StartPublishesAndPersists(t *testing.T) {
	sensor := &fakeSensor{}
	store := &fakeStore{}
	tr, _ := newTestTracker(sensor, store)

	var got []geo.Position
	tr.OnPosition(func(p geo.Position) { got = append(got, p) })

	require.NoError(t, tr.Start(context.Background()))
	assert.Equal(t, Tracking, tr.State())
	assert.True(t, sensor.opts.HighAccuracy)
	assert.Equal(t, 10*time.Second, sensor.opts.MaxAge)

	sensor.emit(reading(37.5665, 126.9780, 15, epoch))
	require.Len(t, got, 1)
	assert.Equal(t, 37.5665, got[0].Latitude)

	pos, ok := tr.Position()
	require.True(t, ok)
	assert.Equal(t, got[0], pos)

	require.Eventually(t, func() bool {
		p, ok := store.last()
		return ok && p == got[0]
	}, time.Second, 5*time.Millisecond)

	tr.Stop()
}

func TestTracker_Throttle(t *testing.T) {
	sensor := &fakeSensor{}
	tr, clk := newTestTracker(sensor, nil)

	count := 0
	tr.OnPosition(func(geo.Position) { count++ })
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop()

	sensor.emit(reading(37.5665, 126.9780, 15, epoch))
	assert.Equal(t, 1, count)

	clk.Advance(4 * time.Second)
	sensor.emit(reading(37.5666, 126.9780, 15, clk.Now()))
	assert.Equal(t, 1, count, "reading inside the interval is dropped")

	clk.Advance(2 * time.Second)
	sensor.emit(reading(37.5667, 126.9780, 15, clk.Now()))
	assert.Equal(t, 2, count)
}

func TestTracker_RejectsImplausibleJump(t *testing.T) {
	sensor := &fakeSensor{}
	tr, clk := newTestTracker(sensor, nil)

	var got []geo.Position
	tr.OnPosition(func(p geo.Position) { got = append(got, p) })
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop()

	sensor.emit(reading(37.5665, 126.9780, 15, epoch))
	first, _ := tr.Position()

	clk.Advance(time.Minute)
	lat, lon := geo.Destination(37.5665, 126.9780, 90, 12000)
	sensor.emit(reading(lat, lon, 500, clk.Now()))

	assert.Len(t, got, 1)
	pos, _ := tr.Position()
	assert.Equal(t, first, pos)
}

func TestTracker_DropsInvalidReading(t *testing.T) {
	sensor := &fakeSensor{}
	tr, _ := newTestTracker(sensor, nil)

	count := 0
	tr.OnPosition(func(geo.Position) { count++ })
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop()

	sensor.emit(reading(123, 0, 5, epoch))
	assert.Equal(t, 0, count)
}

func TestTracker_PermissionDeniedIsTerminal(t *testing.T) {
	sensor := &fakeSensor{}
	tr, _ := newTestTracker(sensor, nil)

	var surfaced []error
	tr.OnError(func(err error) { surfaced = append(surfaced, err) })
	require.NoError(t, tr.Start(context.Background()))

	sensor.fail(PermissionDenied)
	sensor.fail(PermissionDenied)

	assert.Equal(t, Stopped, tr.State())
	assert.Equal(t, 1, sensor.unsubscribeCount())
	require.Len(t, surfaced, 1, "surfaced once")
	assert.True(t, shared.IsCode(surfaced[0], shared.ErrCodeSensorPermissionDenied))

	err := tr.Start(context.Background())
	assert.True(t, shared.IsCode(err, shared.ErrCodeSensorPermissionDenied))
	assert.Equal(t, Stopped, tr.State())
}

func TestTracker_PermissionDeniedDuringSubscribe(t *testing.T) {
	denied := PermissionDenied
	sensor := &fakeSensor{failOnSub: &denied}
	tr, _ := newTestTracker(sensor, nil)

	err := tr.Start(context.Background())
	assert.True(t, shared.IsCode(err, shared.ErrCodeSensorPermissionDenied))
	assert.Equal(t, Stopped, tr.State())
	assert.Equal(t, 1, sensor.unsubscribeCount())
}

func TestTracker_TransientErrorsKeepTracking(t *testing.T) {
	sensor := &fakeSensor{}
	tr, _ := newTestTracker(sensor, nil)

	called := false
	tr.OnError(func(error) { called = true })
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop()

	sensor.fail(Timeout)
	sensor.fail(Unavailable)

	assert.Equal(t, Tracking, tr.State())
	assert.False(t, called)
	assert.NoError(t, tr.Err())
}

func TestTracker_SubscribeFailure(t *testing.T) {
	sensor := &fakeSensor{subscribeErr: errors.New("no gps")}
	tr, _ := newTestTracker(sensor, nil)

	err := tr.Start(context.Background())
	require.Error(t, err)
	assert.True(t, shared.IsCode(err, shared.ErrCodeSensorUnavailable))
	assert.Equal(t, Stopped, tr.State())
}

func TestTracker_StopIsIdempotent(t *testing.T) {
	sensor := &fakeSensor{}
	tr, _ := newTestTracker(sensor, &fakeStore{})

	count := 0
	tr.OnPosition(func(geo.Position) { count++ })
	require.NoError(t, tr.Start(context.Background()))

	tr.Stop()
	tr.Stop()
	assert.Equal(t, 1, sensor.unsubscribeCount())
	assert.Equal(t, Stopped, tr.State())

	// late delivery after stop is ignored
	sensor.emit(reading(1, 1, 5, epoch))
	assert.Equal(t, 0, count)

	require.NoError(t, tr.Start(context.Background()))
	assert.Equal(t, Tracking, tr.State())
	tr.Stop()
}

func TestTracker_StopFlushesPendingWrite(t *testing.T) {
	sensor := &fakeSensor{}
	store := &fakeStore{}
	tr, _ := newTestTracker(sensor, store)

	require.NoError(t, tr.Start(context.Background()))
	sensor.emit(reading(10, 20, 5, epoch))
	tr.Stop()

	p, ok := store.last()
	require.True(t, ok)
	assert.Equal(t, 10.0, p.Latitude)
}

func TestTracker_RejectedJumpKeepsInterval(t *testing.T) {
	sensor := &fakeSensor{}
	tr, clk := newTestTracker(sensor, nil)

	count := 0
	tr.OnPosition(func(geo.Position) { count++ })
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop()

	sensor.emit(reading(37.5665, 126.9780, 15, epoch))
	require.Equal(t, 1, count)

	clk.Advance(time.Minute)
	lat, lon := geo.Destination(37.5665, 126.9780, 90, 12000)
	sensor.emit(reading(lat, lon, 500, clk.Now()))
	require.Equal(t, 1, count)

	sensor.emit(reading(37.5666, 126.9780, 15, clk.Now()))
	assert.Equal(t, 2, count, "a rejected reading does not throttle the next one")
}

func TestTracker_StopWaitsForReadingInFlight(t *testing.T) {
	sensor := &fakeSensor{}
	tr, _ := newTestTracker(sensor, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	tr.OnPosition(func(geo.Position) {
		close(entered)
		<-release
	})
	require.NoError(t, tr.Start(context.Background()))

	go sensor.emit(reading(37.5665, 126.9780, 15, epoch))
	<-entered

	stopped := make(chan struct{})
	go func() {
		tr.Stop()
		close(stopped)
	}()

	assert.Never(t, func() bool {
		select {
		case <-stopped:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, time.Millisecond, "Stop returned while a reading was being handled")

	close(release)
	require.Eventually(t, func() bool {
		select {
		case <-stopped:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	assert.Equal(t, Stopped, tr.State())
}
