package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danghamo/nearby/internal/api/jsonrpcx"
	"github.com/danghamo/nearby/internal/api/middleware"
	"github.com/danghamo/nearby/pkg/logger"
)

// Client is one connected event stream
type Client struct {
	ID     string
	UserID string

	writer  http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
	once    sync.Once
	mutex   sync.Mutex // serializes writes to this stream
}

// NewClient wraps a response writer as an event stream
func NewClient(userID string, w http.ResponseWriter, flusher http.Flusher) *Client {
	return &Client{
		ID:      uuid.NewString(),
		UserID:  userID,
		writer:  w,
		flusher: flusher,
		done:    make(chan struct{}),
	}
}

// Done is closed once the client is removed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// send writes one SSE data frame
func (c *Client) send(data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	select {
	case <-c.done:
		return fmt.Errorf("client connection closed")
	default:
	}

	frame := fmt.Sprintf("data: %s\n\n", data)
	n, err := c.writer.Write([]byte(frame))
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("incomplete write: wrote %d/%d bytes", n, len(frame))
	}
	c.flusher.Flush()
	return nil
}

type userMessage struct {
	userID string
	data   []byte
}

// SnapshotFunc returns the initial state sent to a freshly connected user
type SnapshotFunc func(userID string) (jsonrpcx.Notification, bool)

// Broadcaster fans notifications out to each user's open streams.
// Publish never blocks; messages are dropped when the queue is full.
type Broadcaster struct {
	logger    *logger.Logger
	heartbeat time.Duration
	snapshot  SnapshotFunc

	mutex       sync.RWMutex
	clients     map[string]*Client
	userClients map[string][]*Client

	queue     chan userMessage
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures a Broadcaster
type Option func(*Broadcaster)

// WithHeartbeat sets the keep-alive interval
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broadcaster) { b.heartbeat = d }
}

// WithSnapshot sends an initial notification to every new stream
func WithSnapshot(fn SnapshotFunc) Option {
	return func(b *Broadcaster) { b.snapshot = fn }
}

// NewBroadcaster creates a broadcaster and starts its delivery loop
func NewBroadcaster(log *logger.Logger, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		logger:      log.WithComponent("sse-broadcaster"),
		heartbeat:   30 * time.Second,
		clients:     make(map[string]*Client),
		userClients: make(map[string][]*Client),
		queue:       make(chan userMessage, 1000),
		shutdown:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.wg.Add(1)
	go b.deliverLoop()

	return b
}

// AddClient registers a stream
func (b *Broadcaster) AddClient(client *Client) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.clients[client.ID] = client
	b.userClients[client.UserID] = append(b.userClients[client.UserID], client)

	b.logger.Debug("SSE client connected",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID))
}

// RemoveClient unregisters a stream and closes it
func (b *Broadcaster) RemoveClient(clientID string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	client, exists := b.clients[clientID]
	if !exists {
		return
	}
	client.close()
	delete(b.clients, clientID)

	userClients := b.userClients[client.UserID]
	for i, uc := range userClients {
		if uc.ID == clientID {
			b.userClients[client.UserID] = append(userClients[:i], userClients[i+1:]...)
			break
		}
	}
	if len(b.userClients[client.UserID]) == 0 {
		delete(b.userClients, client.UserID)
	}

	b.logger.Debug("SSE client disconnected",
		zap.String("client_id", clientID),
		zap.String("user_id", client.UserID))
}

// Publish queues a notification for every stream of userID
func (b *Broadcaster) Publish(userID string, notification jsonrpcx.Notification) {
	if !b.Connected(userID) {
		return
	}

	data, err := json.Marshal(notification)
	if err != nil {
		b.logger.Error("Failed to marshal notification", zap.Error(err))
		return
	}

	select {
	case <-b.shutdown:
	case b.queue <- userMessage{userID: userID, data: data}:
	default:
		b.logger.Warn("SSE queue full, dropping notification",
			zap.String("user_id", userID),
			zap.String("method", notification.Method))
	}
}

// Connected reports whether userID has an open stream on this server
func (b *Broadcaster) Connected(userID string) bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.userClients[userID]) > 0
}

// ClientCount returns the number of open streams
func (b *Broadcaster) ClientCount() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) deliverLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.shutdown:
			return
		case msg := <-b.queue:
			b.deliver(msg)
		}
	}
}

func (b *Broadcaster) deliver(msg userMessage) {
	b.mutex.RLock()
	clients := append([]*Client(nil), b.userClients[msg.userID]...)
	b.mutex.RUnlock()

	for _, client := range clients {
		if err := client.send(msg.data); err != nil {
			b.logger.Warn("Failed to send to client",
				zap.String("client_id", client.ID),
				zap.String("user_id", client.UserID),
				zap.Error(err))
			b.RemoveClient(client.ID)
		}
	}
}

// Close stops delivery and closes every stream
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		close(b.shutdown)
		b.wg.Wait()

		b.mutex.Lock()
		defer b.mutex.Unlock()

		for _, client := range b.clients {
			client.close()
		}
		b.clients = make(map[string]*Client)
		b.userClients = make(map[string][]*Client)

		b.logger.Debug("SSE broadcaster shutdown complete")
	})
}

// HandleSSE streams the authenticated user's notifications
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Server-Sent Events not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := NewClient(userID, w, flusher)
	b.AddClient(client)
	defer b.RemoveClient(client.ID)

	hello, _ := json.Marshal(jsonrpcx.NewNotification("stream.connected", map[string]string{"client_id": client.ID}))
	if err := client.send(hello); err != nil {
		return
	}
	if b.snapshot != nil {
		if n, ok := b.snapshot(userID); ok {
			if data, err := json.Marshal(n); err == nil {
				_ = client.send(data)
			}
		}
	}

	heartbeat := time.NewTicker(b.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-client.Done():
			return
		case <-r.Context().Done():
			return
		case <-b.shutdown:
			return
		case <-heartbeat.C:
			if err := client.heartbeat(); err != nil {
				b.logger.Debug("Heartbeat failed", zap.String("client_id", client.ID), zap.Error(err))
				return
			}
		}
	}
}

// heartbeat writes an SSE comment line
func (c *Client) heartbeat() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, err := c.writer.Write([]byte(": heartbeat\n\n")); err != nil {
		return fmt.Errorf("heartbeat write failed: %w", err)
	}
	c.flusher.Flush()
	return nil
}
