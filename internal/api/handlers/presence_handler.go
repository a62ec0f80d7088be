package handlers

import (
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/danghamo/nearby/internal/api/jsonrpcx"
	"github.com/danghamo/nearby/internal/domain/presence"
	"github.com/danghamo/nearby/pkg/logger"
)

// PresenceHandler answers whether other users are online
type PresenceHandler struct {
	logger *logger.Logger
	repo   presence.Repository
	clock  clockwork.Clock
	window time.Duration
}

// NewPresenceHandler creates a new presence handler
func NewPresenceHandler(log *logger.Logger, repo presence.Repository, clk clockwork.Clock, window time.Duration) *PresenceHandler {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &PresenceHandler{
		logger: log.WithComponent("presence-handler"),
		repo:   repo,
		clock:  clk,
		window: window,
	}
}

// PresenceRequest names the user to look up
type PresenceRequest struct {
	UserID string `json:"user_id"`
}

// PresenceResponse is the derived online status of a user
type PresenceResponse struct {
	UserID   string     `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// OnlineResponse lists users seen within the freshness window
type OnlineResponse struct {
	UserIDs []string `json:"user_ids"`
}

// Get handles POST /api/v1/presence.Get
func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	var params PresenceRequest
	c, ok := begin(w, r, &params)
	if !ok {
		return
	}
	if params.UserID == "" {
		params.UserID = c.userID
	}

	rec, err := h.repo.GetUserPosition(r.Context(), params.UserID)
	if err != nil {
		jsonrpcx.FromError(w, c.req.ID, err)
		return
	}

	resp := PresenceResponse{UserID: params.UserID}
	if rec != nil {
		seen := rec.LastSeen
		resp.LastSeen = &seen
		resp.Online = presence.IsOnline(seen, h.clock.Now(), h.window)
	}
	jsonrpcx.Success(w, c.req.ID, resp)
}

// Online handles POST /api/v1/presence.Online
func (h *PresenceHandler) Online(w http.ResponseWriter, r *http.Request) {
	c, ok := begin(w, r, nil)
	if !ok {
		return
	}

	ids, err := presence.NewChecker(h.repo, h.clock, h.window).Online(r.Context())
	if err != nil {
		jsonrpcx.FromError(w, c.req.ID, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	jsonrpcx.Success(w, c.req.ID, OnlineResponse{UserIDs: ids})
}
