package sse

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/nearby/internal/api/jsonrpcx"
	"github.com/danghamo/nearby/internal/api/middleware"
	"github.com/danghamo/nearby/pkg/logger"
)

// streamWriter is a goroutine-safe ResponseWriter and Flusher
type streamWriter struct {
	mu     sync.Mutex
	header http.Header
	buf    bytes.Buffer
	fail   bool
}

func newStreamWriter() *streamWriter {
	return &streamWriter{header: make(http.Header)}
}

func (w *streamWriter) Header() http.Header { return w.header }

func (w *streamWriter) WriteHeader(int) {}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return 0, errors.New("broken pipe")
	}
	return w.buf.Write(p)
}

func (w *streamWriter) Flush() {}

func (w *streamWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestBroadcaster_PublishTargetsUser(t *testing.T) {
	b := NewBroadcaster(logger.NewNop())
	defer b.Close()

	alice1, alice2, bob := newStreamWriter(), newStreamWriter(), newStreamWriter()
	b.AddClient(NewClient("alice", alice1, alice1))
	b.AddClient(NewClient("alice", alice2, alice2))
	b.AddClient(NewClient("bob", bob, bob))
	assert.Equal(t, 3, b.ClientCount())

	b.Publish("alice", jsonrpcx.NewNotification("engine.unlocked_changed", map[string]any{"entered": []string{"cafe"}}))

	for _, w := range []*streamWriter{alice1, alice2} {
		w := w
		require.Eventually(t, func() bool {
			return strings.Contains(w.String(), `"method":"engine.unlocked_changed"`)
		}, time.Second, 5*time.Millisecond)
		assert.True(t, strings.HasPrefix(w.String(), "data: "))
	}
	assert.Empty(t, bob.String())
}

func TestBroadcaster_PublishWithoutClientsIsDropped(t *testing.T) {
	b := NewBroadcaster(logger.NewNop())
	defer b.Close()

	assert.False(t, b.Connected("carol"))
	b.Publish("carol", jsonrpcx.NewNotification("engine.position", nil))
}

func TestBroadcaster_FailedClientRemoved(t *testing.T) {
	b := NewBroadcaster(logger.NewNop())
	defer b.Close()

	w := newStreamWriter()
	w.fail = true
	client := NewClient("alice", w, w)
	b.AddClient(client)

	b.Publish("alice", jsonrpcx.NewNotification("engine.position", nil))

	require.Eventually(t, func() bool { return b.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	select {
	case <-client.Done():
	default:
		t.Fatal("client should be closed")
	}
}

func TestBroadcaster_RemoveClient(t *testing.T) {
	b := NewBroadcaster(logger.NewNop())
	defer b.Close()

	w := newStreamWriter()
	client := NewClient("alice", w, w)
	b.AddClient(client)
	b.RemoveClient(client.ID)
	b.RemoveClient(client.ID)

	assert.False(t, b.Connected("alice"))
	assert.Zero(t, b.ClientCount())
}

func TestHandleSSE(t *testing.T) {
	b := NewBroadcaster(logger.NewNop(),
		WithHeartbeat(time.Hour),
		WithSnapshot(func(userID string) (jsonrpcx.Notification, bool) {
			return jsonrpcx.NewNotification("engine.status", map[string]string{"user_id": userID}), true
		}),
	)
	defer b.Close()

	ctx, cancel := context.WithCancel(middleware.WithUserID(context.Background(), "alice"))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream/session", nil).WithContext(ctx)
	w := newStreamWriter()

	done := make(chan struct{})
	go func() {
		b.HandleSSE(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return b.Connected("alice") }, time.Second, 5*time.Millisecond)
	b.Publish("alice", jsonrpcx.NewNotification("engine.position", nil))
	require.Eventually(t, func() bool {
		return strings.Contains(w.String(), "engine.position")
	}, time.Second, 5*time.Millisecond)

	out := w.String()
	assert.Contains(t, out, "stream.connected")
	assert.Contains(t, out, `"user_id":"alice"`)
	assert.Equal(t, "text/event-stream; charset=utf-8", w.Header().Get("Content-Type"))

	cancel()
	<-done
	assert.False(t, b.Connected("alice"))
}

func TestHandleSSE_RequiresUser(t *testing.T) {
	b := NewBroadcaster(logger.NewNop())
	defer b.Close()

	rec := httptest.NewRecorder()
	b.HandleSSE(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stream/session", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
