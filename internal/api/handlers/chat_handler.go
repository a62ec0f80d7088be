package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/danghamo/nearby/internal/api/jsonrpcx"
	"github.com/danghamo/nearby/internal/channel"
	"github.com/danghamo/nearby/internal/domain/chat"
	"github.com/danghamo/nearby/internal/domain/shared"
	"github.com/danghamo/nearby/internal/domain/venue"
	"github.com/danghamo/nearby/pkg/logger"
	"github.com/danghamo/nearby/pkg/metrics"
)

// ChatHandler exposes venue chat operations
type ChatHandler struct {
	logger   *logger.Logger
	sessions Sessions
}

// NewChatHandler creates a new chat handler
func NewChatHandler(log *logger.Logger, sessions Sessions) *ChatHandler {
	return &ChatHandler{
		logger:   log.WithComponent("chat-handler"),
		sessions: sessions,
	}
}

// VenueRequest names a venue channel
type VenueRequest struct {
	VenueID venue.ID `json:"venue_id"`
}

// SendRequest is an outbound chat message
type SendRequest struct {
	VenueID venue.ID `json:"venue_id"`
	Text    string   `json:"text"`
}

// SendResponse reports the fate of an outbound message
type SendResponse struct {
	channel.SendResult
	Warning string `json:"warning,omitempty"`
}

// MessagesResponse lists the held messages of a venue, oldest first
type MessagesResponse struct {
	VenueID  venue.ID       `json:"venue_id"`
	Messages []chat.Message `json:"messages"`
}

// Send handles POST /api/v1/chat.Send
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	var params SendRequest
	c, ok := begin(w, r, &params)
	if !ok {
		return
	}
	if params.VenueID == "" {
		jsonrpcx.Fail(w, c.req.ID, jsonrpcx.InvalidParams, "venue_id is required")
		return
	}

	s, err := h.sessions.Acquire(r.Context(), c.userID)
	if err != nil {
		jsonrpcx.FromError(w, c.req.ID, err)
		return
	}

	result, err := s.Send(r.Context(), params.VenueID, params.Text)
	if err != nil {
		metrics.SendsTotal.WithLabelValues(shared.CodeString(err)).Inc()
		jsonrpcx.FromError(w, c.req.ID, err)
		return
	}
	metrics.SendsTotal.WithLabelValues(string(result.Status)).Inc()

	resp := SendResponse{SendResult: result}
	if result.Cause != nil {
		resp.Warning = shared.CodeString(result.Cause)
		h.logger.Debug("Message requeued",
			zap.String("user_id", c.userID),
			zap.String("venue_id", params.VenueID.String()),
			zap.Error(result.Cause))
	}
	jsonrpcx.Success(w, c.req.ID, resp)
}

// Reconnect handles POST /api/v1/chat.Reconnect
func (h *ChatHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	var params VenueRequest
	c, ok := begin(w, r, &params)
	if !ok {
		return
	}

	s, ok := h.sessions.Lookup(c.userID)
	if !ok {
		jsonrpcx.FromError(w, c.req.ID, shared.ErrNotFound("session"))
		return
	}

	if err := s.Reconnect(params.VenueID); err != nil {
		jsonrpcx.FromError(w, c.req.ID, err)
		return
	}
	jsonrpcx.Success(w, c.req.ID, map[string]bool{"reconnecting": true})
}

// Messages handles POST /api/v1/chat.Messages
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	var params VenueRequest
	c, ok := begin(w, r, &params)
	if !ok {
		return
	}

	resp := MessagesResponse{VenueID: params.VenueID, Messages: []chat.Message{}}
	if s, ok := h.sessions.Lookup(c.userID); ok {
		if msgs := s.Messages(params.VenueID); msgs != nil {
			resp.Messages = msgs
		}
	}
	jsonrpcx.Success(w, c.req.ID, resp)
}
