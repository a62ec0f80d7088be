package tracker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/danghamo/nearby/internal/geo"
	"github.com/danghamo/nearby/pkg/logger"
)

// writer persists positions on its own goroutine. Only the newest pending
// position is kept, so a slow store never backs up the reading path.
type writer struct {
	userID string
	store  PositionStore
	logger *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	signal chan struct{}
	quit   chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	pending *geo.Position
	once    sync.Once
}

func newWriter(ctx context.Context, userID string, store PositionStore, log *logger.Logger) *writer {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &writer{
		userID: userID,
		store:  store,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
		signal: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *writer) submit(pos geo.Position) {
	if w.store == nil {
		return
	}

	w.mu.Lock()
	w.pending = &pos
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *writer) run() {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Position writer panic recovered", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-w.signal:
			w.flush()
		case <-w.quit:
			w.flush()
			return
		}
	}
}

func (w *writer) flush() {
	w.mu.Lock()
	pos := w.pending
	w.pending = nil
	w.mu.Unlock()

	if pos == nil {
		return
	}

	if err := w.store.UpsertUserPosition(w.ctx, w.userID, *pos); err != nil {
		w.logger.Warn("Failed to persist position", zap.Error(err))
	}
}

func (w *writer) stop() {
	w.once.Do(func() {
		close(w.quit)
		<-w.done
		w.cancel()
	})
}
