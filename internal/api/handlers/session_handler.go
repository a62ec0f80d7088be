package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/danghamo/nearby/internal/api/jsonrpcx"
	"github.com/danghamo/nearby/pkg/logger"
)

// SessionHandler manages the caller's engine session
type SessionHandler struct {
	logger   *logger.Logger
	sessions Sessions
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(log *logger.Logger, sessions Sessions) *SessionHandler {
	return &SessionHandler{
		logger:   log.WithComponent("session-handler"),
		sessions: sessions,
	}
}

// Status handles POST /api/v1/session.Status. It opens the session on first use.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	c, ok := begin(w, r, nil)
	if !ok {
		return
	}

	s, err := h.sessions.Acquire(r.Context(), c.userID)
	if err != nil {
		jsonrpcx.FromError(w, c.req.ID, err)
		return
	}
	jsonrpcx.Success(w, c.req.ID, s.Status())
}

// Refresh handles POST /api/v1/session.Refresh. It reloads the venue
// catalog and the caller's mute state.
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	c, ok := begin(w, r, nil)
	if !ok {
		return
	}

	s, err := h.sessions.Acquire(r.Context(), c.userID)
	if err != nil {
		jsonrpcx.FromError(w, c.req.ID, err)
		return
	}

	if err := s.RefreshCatalog(r.Context()); err != nil {
		jsonrpcx.FromError(w, c.req.ID, err)
		return
	}
	if err := s.RefreshModeration(r.Context()); err != nil {
		h.logger.Warn("Mute state refresh failed", zap.String("user_id", c.userID), zap.Error(err))
	}
	jsonrpcx.Success(w, c.req.ID, s.Status())
}

// Close handles POST /api/v1/session.Close
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	c, ok := begin(w, r, nil)
	if !ok {
		return
	}

	released := h.sessions.Release(c.userID)
	jsonrpcx.Success(w, c.req.ID, map[string]bool{"closed": released})
}
