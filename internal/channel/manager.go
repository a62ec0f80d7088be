package channel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/danghamo/nearby/internal/domain/chat"
	"github.com/danghamo/nearby/internal/domain/shared"
	"github.com/danghamo/nearby/internal/domain/venue"
	"github.com/danghamo/nearby/pkg/logger"
)

// ErrClosedByFeed is reported when the feed ends a subscription on its own
var ErrClosedByFeed = errors.New("subscription closed by feed")

// Config holds channel settings
type Config struct {
	MessageLimit int           `mapstructure:"message_limit"`
	BaseDelay    time.Duration `mapstructure:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	MaxQueue     int           `mapstructure:"max_queue"`
}

// DefaultConfig returns the stock channel settings
func DefaultConfig() Config {
	return Config{
		MessageLimit: 50,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  5,
		MaxQueue:     100,
	}
}

// NewBackOff returns the reconnect schedule: BaseDelay doubled after every
// failure and capped at MaxDelay, without jitter
func (c Config) NewBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.MaxDelay,
	}
	b.Reset()
	return b
}

// Manager runs one connection state machine per venue. Channels share
// nothing but the feed; a stalled venue never blocks another.
type Manager struct {
	authorID string
	feed     Feed
	gate     Moderator
	cfg      Config
	clock    clockwork.Clock
	logger   *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	channels map[venue.ID]*channel

	listenersMu sync.RWMutex
	listeners   []func(Event)
}

// NewManager creates a channel manager publishing as authorID
func NewManager(authorID string, feed Feed, gate Moderator, cfg Config, clk clockwork.Clock, log *logger.Logger) *Manager {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = DefaultConfig().MessageLimit
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		authorID: authorID,
		feed:     feed,
		gate:     gate,
		cfg:      cfg,
		clock:    clk,
		logger:   log.WithComponent("channel_manager").WithUserID(authorID),
		ctx:      ctx,
		cancel:   cancel,
		channels: make(map[venue.ID]*channel),
	}
}

// Subscribe registers a listener for channel events. Listeners run
// synchronously while the channel is locked and must not call the Manager.
func (m *Manager) Subscribe(fn func(Event)) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Open starts the channel of a venue that entered the unlocked set. Opening
// a channel that is already live is a no-op.
func (m *Manager) Open(venueID venue.ID) {
	if m.ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	ch, ok := m.channels[venueID]
	if !ok {
		ch = newChannel(venueID, m.cfg, m.logger.WithVenueID(venueID.String()))
		m.channels[venueID] = ch
	}
	m.mu.Unlock()

	ch.mu.Lock()
	defer ch.mu.Unlock()

	// CloseAll cancels before it takes any channel lock
	if m.ctx.Err() != nil {
		ch.logger.Debug("Manager closed, channel not opened")
		return
	}
	if ch.state != Idle && ch.state != Closed {
		return
	}
	if ch.state == Closed {
		ch.reset(m.cfg)
	}
	ch.logger.Info("Opening channel")
	m.connectLocked(ch)
}

// Close cancels the subscription of a venue that left the unlocked set.
// Queued messages, the dedup window and held messages are discarded.
func (m *Manager) Close(venueID venue.ID) {
	ch := m.channel(venueID)
	if ch == nil {
		return
	}
	m.closeChannel(ch)
}

// Release closes the channel and forgets it entirely
func (m *Manager) Release(venueID venue.ID) {
	m.Close(venueID)

	m.mu.Lock()
	delete(m.channels, venueID)
	m.mu.Unlock()
}

// CloseAll closes every channel and waits for in-flight work to finish.
// Open is a no-op afterwards.
func (m *Manager) CloseAll() {
	m.cancel()

	m.mu.RLock()
	channels := make([]*channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.RUnlock()

	for _, ch := range channels {
		m.closeChannel(ch)
	}
	m.wg.Wait()
}

// Reconnect is the manual retry trigger. A channel in backoff skips the
// remaining delay and its attempt counter restarts.
func (m *Manager) Reconnect(venueID venue.ID) error {
	ch := m.channel(venueID)
	if ch == nil {
		return shared.ErrNotFound("channel")
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	switch ch.state {
	case Connecting, Connected:
		return nil
	case Closed:
		return shared.NewDomainError(shared.ErrCodeChannelLocked, "venue chat is locked")
	}

	if ch.timer != nil {
		ch.timer.Stop()
		ch.timer = nil
	}
	ch.attempt = 0
	ch.backoff.Reset()
	ch.exhausted = false
	ch.logger.Info("Manual reconnect")
	m.connectLocked(ch)
	return nil
}

// Snapshot returns the UI view of a channel
func (m *Manager) Snapshot(venueID venue.ID) (Snapshot, bool) {
	ch := m.channel(venueID)
	if ch == nil {
		return Snapshot{}, false
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.snapshot(), true
}

// Snapshots returns the UI view of every known channel
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	channels := make([]*channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(channels))
	for _, ch := range channels {
		ch.mu.Lock()
		out = append(out, ch.snapshot())
		ch.mu.Unlock()
	}
	return out
}

// Messages returns the held messages of a venue, oldest first
func (m *Manager) Messages(venueID venue.ID) []chat.Message {
	ch := m.channel(venueID)
	if ch == nil {
		return nil
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	out := make([]chat.Message, len(ch.messages))
	copy(out, ch.messages)
	return out
}

// Send publishes text to the venue, or queues it while the channel is not
// connected. Rejections happen before any network call.
func (m *Manager) Send(ctx context.Context, venueID venue.ID, text string) (SendResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SendResult{}, shared.NewDomainError(shared.ErrCodeSendRejectedEmpty, "message is empty")
	}

	if m.gate != nil {
		if err := m.gate.Permit(ctx); err != nil {
			return SendResult{}, err
		}
	}

	ch := m.channel(venueID)
	if ch == nil {
		return SendResult{}, shared.NewDomainError(shared.ErrCodeChannelLocked, "venue chat is locked")
	}

	ch.mu.Lock()
	if ch.state == Closed || ch.state == Idle {
		ch.mu.Unlock()
		return SendResult{}, shared.NewDomainError(shared.ErrCodeChannelLocked, "venue chat is locked")
	}
	if m.cfg.MaxQueue > 0 && len(ch.queue) >= m.cfg.MaxQueue {
		ch.mu.Unlock()
		return SendResult{}, shared.NewDomainErrorf(shared.ErrCodeSendQueueFull, "outbound queue is full (%d)", m.cfg.MaxQueue)
	}

	if ch.state != Connected || len(ch.queue) > 0 || ch.flushing() {
		ch.queue = append(ch.queue, text)
		m.emitLocked(ch, EventQueue, nil)
		if ch.state == Connected {
			m.startFlushLocked(ch)
		}
		result := SendResult{Status: StatusQueued, Queued: len(ch.queue)}
		ch.mu.Unlock()
		return result, nil
	}

	token := ch.acquireFlush()
	ch.mu.Unlock()

	id, err := m.feed.PublishMessage(ctx, venueID, m.authorID, text)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.releaseFlush(token)

	if err == nil {
		if ch.state == Connected {
			m.startFlushLocked(ch)
		}
		return SendResult{Status: StatusSent, MessageID: id, Queued: len(ch.queue)}, nil
	}

	if ch.state == Closed {
		return SendResult{}, shared.NewDomainError(shared.ErrCodeChannelLocked, "venue chat was locked during send")
	}

	ch.queue = append([]string{text}, ch.queue...)
	ch.lastErr = err
	ch.logger.Warn("Publish failed, message requeued", zap.Error(err))
	m.emitLocked(ch, EventQueue, nil)
	return SendResult{
		Status: StatusRequeued,
		Queued: len(ch.queue),
		Cause:  asTransient(err),
	}, nil
}

func (m *Manager) channel(venueID venue.ID) *channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[venueID]
}

func (m *Manager) closeChannel(ch *channel) {
	ch.mu.Lock()
	if ch.state == Closed {
		ch.mu.Unlock()
		return
	}

	ch.gen++
	if ch.timer != nil {
		ch.timer.Stop()
		ch.timer = nil
	}
	handle := ch.handle
	ch.handle = nil
	discarded := len(ch.queue)
	ch.reset(m.cfg)
	ch.state = Closed
	m.emitLocked(ch, EventState, nil)
	ch.mu.Unlock()

	ch.logger.Info("Channel closed", zap.Int("discarded_queue", discarded))
	m.closeHandle(ch, handle)
}

func (m *Manager) closeHandle(ch *channel, handle Handle) {
	if handle == nil {
		return
	}
	if err := handle.Close(); err != nil {
		ch.logger.Debug("Failed to close subscription", zap.Error(err))
	}
}

// connectLocked starts a new subscription generation. Callbacks carrying an
// older generation are ignored.
func (m *Manager) connectLocked(ch *channel) {
	ch.gen++
	ch.state = Connecting
	m.emitLocked(ch, EventState, nil)

	gen := ch.gen
	m.wg.Add(1)
	go m.dial(ch, gen)
}

func (m *Manager) dial(ch *channel, gen uint64) {
	defer m.wg.Done()

	handlers := Handlers{
		OnReady:   func() { m.onReady(ch, gen) },
		OnMessage: func(msg chat.Message) { m.onMessage(ch, gen, msg) },
		OnError:   func(err error) { m.onFailure(ch, gen, err) },
		OnClosed:  func() { m.onFailure(ch, gen, ErrClosedByFeed) },
	}

	handle, err := m.feed.OpenChannel(m.ctx, ch.venueID, handlers)

	ch.mu.Lock()
	if ch.gen != gen {
		ch.mu.Unlock()
		m.closeHandle(ch, handle)
		return
	}
	if err != nil {
		stale := m.failLocked(ch, err)
		ch.mu.Unlock()
		m.closeHandle(ch, stale)
		return
	}
	ch.handle = handle
	ch.mu.Unlock()
}

func (m *Manager) onReady(ch *channel, gen uint64) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.gen != gen || ch.state != Connecting {
		return
	}

	ch.state = Connected
	ch.attempt = 0
	ch.backoff.Reset()
	ch.exhausted = false
	ch.lastErr = nil
	ch.logger.Info("Channel connected", zap.Int("queued", len(ch.queue)))
	m.emitLocked(ch, EventState, nil)
	m.startFlushLocked(ch)
}

func (m *Manager) onFailure(ch *channel, gen uint64, err error) {
	ch.mu.Lock()
	if ch.gen != gen || (ch.state != Connecting && ch.state != Connected) {
		ch.mu.Unlock()
		return
	}
	stale := m.failLocked(ch, err)
	ch.mu.Unlock()

	m.closeHandle(ch, stale)
}

// failLocked moves the channel into backoff and returns the dead handle
func (m *Manager) failLocked(ch *channel, err error) Handle {
	ch.gen++
	handle := ch.handle
	ch.handle = nil
	ch.flushOwner = 0
	ch.lastErr = shared.WrapDomainError(err, shared.ErrCodeChannelSubscription, "subscription failed")
	ch.state = Backoff

	n := ch.attempt
	if n >= m.cfg.MaxAttempts {
		ch.exhausted = true
		ch.logger.Warn("Reconnect attempts exhausted, waiting for manual reconnect",
			zap.Int("attempt", n),
			zap.Error(err),
		)
		m.emitLocked(ch, EventState, nil)
		return handle
	}

	delay := ch.backoff.NextBackOff()
	ch.attempt = n + 1
	gen := ch.gen
	ch.timer = m.clock.AfterFunc(delay, func() { m.retry(ch, gen) })

	ch.logger.Warn("Channel subscription failed, backing off",
		zap.Int("attempt", ch.attempt),
		zap.Duration("delay", delay),
		zap.Error(err),
	)
	m.emitLocked(ch, EventState, nil)
	return handle
}

func (m *Manager) retry(ch *channel, gen uint64) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.gen != gen || ch.state != Backoff {
		return
	}
	ch.timer = nil
	m.connectLocked(ch)
}

func (m *Manager) onMessage(ch *channel, gen uint64, msg chat.Message) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.gen != gen || (ch.state != Connecting && ch.state != Connected) {
		return
	}

	if ch.dedup.contains(msg.ID) {
		if msg.IsDeleted && ch.markDeleted(msg.ID) {
			held := ch.find(msg.ID)
			m.emitLocked(ch, EventMessage, held)
			return
		}
		ch.logger.Debug("Duplicate message dropped", zap.String("message_id", msg.ID.String()))
		return
	}

	ch.dedup.add(msg.ID)
	ch.append(msg, m.cfg.MessageLimit)
	m.emitLocked(ch, EventMessage, &msg)
}

func (m *Manager) startFlushLocked(ch *channel) {
	if ch.flushing() || len(ch.queue) == 0 {
		return
	}
	token := ch.acquireFlush()
	m.wg.Add(1)
	go m.flush(ch, ch.gen, token)
}

// flush drains the queue in FIFO order, one publish at a time, and stops at
// the first failure leaving the rest queued
func (m *Manager) flush(ch *channel, gen, token uint64) {
	defer m.wg.Done()

	for {
		ch.mu.Lock()
		if ch.gen != gen || ch.state != Connected || len(ch.queue) == 0 {
			ch.releaseFlush(token)
			ch.mu.Unlock()
			return
		}
		text := ch.queue[0]
		ch.mu.Unlock()

		_, err := m.feed.PublishMessage(m.ctx, ch.venueID, m.authorID, text)

		ch.mu.Lock()
		if err != nil {
			ch.releaseFlush(token)
			ch.lastErr = asTransient(err)
			ch.logger.Warn("Queue flush stopped", zap.Int("remaining", len(ch.queue)), zap.Error(err))
			ch.mu.Unlock()
			return
		}
		// a newer generation owns the queue now
		if ch.gen == gen && ch.state != Closed {
			ch.popSent(text)
			m.emitLocked(ch, EventQueue, nil)
		}
		ch.mu.Unlock()
	}
}

func (m *Manager) emitLocked(ch *channel, kind EventKind, msg *chat.Message) {
	m.listenersMu.RLock()
	listeners := m.listeners
	m.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	ev := Event{Kind: kind, VenueID: ch.venueID, Snapshot: ch.snapshot(), Message: msg}
	for _, fn := range listeners {
		fn(ev)
	}
}

func asTransient(err error) error {
	if shared.CodeOf(err) != shared.ErrCodeUnknown {
		return err
	}
	return shared.WrapDomainError(err, shared.ErrCodeSendFailedTransient, "publish failed")
}
