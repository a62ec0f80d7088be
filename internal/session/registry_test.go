package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/nearby/internal/channel"
	"github.com/danghamo/nearby/internal/domain/shared"
	"github.com/danghamo/nearby/internal/domain/venue"
	"github.com/danghamo/nearby/internal/geo"
	"github.com/danghamo/nearby/internal/proximity"
	"github.com/danghamo/nearby/internal/sensor"
	"github.com/danghamo/nearby/internal/tracker"
	"github.com/danghamo/nearby/pkg/logger"
)

type factoryRecorder struct {
	mu       sync.Mutex
	builds   int
	cleanups int
	push     bool
	err      error
	// wait runs before a build, outside the recorder lock
	wait func(userID string)
}

func (f *factoryRecorder) factory(t *testing.T) Factory {
	catalog := &fakeCatalog{}
	cafe, err := venue.NewVenue("cafe", "Cafe", cafeLat, cafeLon)
	require.NoError(t, err)
	catalog.set(cafe)

	return func(ctx context.Context, userID string) (Build, error) {
		f.mu.Lock()
		wait := f.wait
		f.mu.Unlock()
		if wait != nil {
			wait(userID)
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.err != nil {
			return Build{}, f.err
		}
		f.builds++

		clk := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
		push := sensor.NewPushSensor(clk, logger.NewNop())
		s, err := New(userID, Config{
			Tracker:   tracker.DefaultConfig(),
			Smoothing: geo.DefaultSmoothing(),
			Proximity: proximity.DefaultConfig(),
			Channel:   channel.DefaultConfig(),
		}, Deps{Sensor: push, Catalog: catalog, Feed: &fakeFeed{}, Clock: clk, Logger: logger.NewNop()})
		if err != nil {
			return Build{}, err
		}

		b := Build{Session: s, Cleanup: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.cleanups++
		}}
		if f.push {
			b.Reporter = push
		}
		return b, nil
	}
}

func (f *factoryRecorder) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds, f.cleanups
}

func TestRegistry_AcquireReusesSession(t *testing.T) {
	rec := &factoryRecorder{}
	reg := NewRegistry(rec.factory(t), logger.NewNop())
	defer reg.CloseAll()

	ctx := context.Background()
	first, err := reg.Acquire(ctx, "user-1")
	require.NoError(t, err)
	second, err := reg.Acquire(ctx, "user-1")
	require.NoError(t, err)
	other, err := reg.Acquire(ctx, "user-2")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.NotSame(t, first, other)
	assert.Equal(t, 2, reg.Len())

	builds, _ := rec.counts()
	assert.Equal(t, 2, builds)

	got, ok := reg.Lookup("user-1")
	assert.True(t, ok)
	assert.Same(t, first, got)

	_, ok = reg.Lookup("user-3")
	assert.False(t, ok)
}

func TestRegistry_AcquireRejectsEmptyUser(t *testing.T) {
	reg := NewRegistry((&factoryRecorder{}).factory(t), logger.NewNop())

	_, err := reg.Acquire(context.Background(), "")
	assert.True(t, shared.IsCode(err, shared.ErrCodeInvalidInput))
}

func TestRegistry_FactoryError(t *testing.T) {
	rec := &factoryRecorder{err: errors.New("redis down")}
	reg := NewRegistry(rec.factory(t), logger.NewNop())

	_, err := reg.Acquire(context.Background(), "user-1")
	assert.EqualError(t, err, "redis down")
	assert.Zero(t, reg.Len())
}

func TestRegistry_Report(t *testing.T) {
	rec := &factoryRecorder{push: true}
	reg := NewRegistry(rec.factory(t), logger.NewNop())
	defer reg.CloseAll()

	ctx := context.Background()
	require.NoError(t, reg.Report(ctx, "user-1", geo.RawReading{Latitude: cafeLat, Longitude: cafeLon, Accuracy: 5}))

	s, ok := reg.Lookup("user-1")
	require.True(t, ok)
	assert.Equal(t, []venue.ID{"cafe"}, s.Status().Unlocked)

	err := reg.Report(ctx, "user-1", geo.RawReading{Latitude: 91, Longitude: 0, Accuracy: 5})
	assert.True(t, shared.IsCode(err, shared.ErrCodeInvalidInput))
}

func TestRegistry_ReportWithoutReporter(t *testing.T) {
	reg := NewRegistry((&factoryRecorder{}).factory(t), logger.NewNop())
	defer reg.CloseAll()

	err := reg.Report(context.Background(), "user-1", geo.RawReading{Latitude: cafeLat, Longitude: cafeLon, Accuracy: 5})
	assert.True(t, shared.IsCode(err, shared.ErrCodeInvalidState))
}

func TestRegistry_ReleaseAndCloseAll(t *testing.T) {
	rec := &factoryRecorder{}
	reg := NewRegistry(rec.factory(t), logger.NewNop())
	ctx := context.Background()

	s, err := reg.Acquire(ctx, "user-1")
	require.NoError(t, err)
	_, err = reg.Acquire(ctx, "user-2")
	require.NoError(t, err)

	assert.True(t, reg.Release("user-1"))
	assert.False(t, reg.Release("user-1"))
	assert.Equal(t, 1, reg.Len())

	err = s.Open(ctx)
	assert.True(t, shared.IsCode(err, shared.ErrCodeInvalidState))

	reg.CloseAll()
	assert.Zero(t, reg.Len())

	_, cleanups := rec.counts()
	assert.Equal(t, 2, cleanups)
}

func TestRegistry_SlowBuildDoesNotBlockOtherUsers(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	rec := &factoryRecorder{wait: func(userID string) {
		if userID == "slow" {
			close(entered)
			<-release
		}
	}}
	reg := NewRegistry(rec.factory(t), logger.NewNop())
	defer reg.CloseAll()
	ctx := context.Background()

	results := make(chan *Session, 2)
	for i := 0; i < 2; i++ {
		go func() {
			s, err := reg.Acquire(ctx, "slow")
			assert.NoError(t, err)
			results <- s
		}()
	}
	<-entered

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := reg.Acquire(ctx, "user-2")
		assert.NoError(t, err)
		_, ok := reg.Lookup("slow")
		assert.False(t, ok)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("registry blocked behind a slow build")
	}

	close(release)
	first, second := <-results, <-results
	assert.Same(t, first, second)

	builds, _ := rec.counts()
	assert.Equal(t, 2, builds)
	assert.Equal(t, 2, reg.Len())
}
