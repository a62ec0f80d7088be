package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/nearby/internal/api/jsonrpcx"
	"github.com/danghamo/nearby/internal/geo"
	"github.com/danghamo/nearby/pkg/logger"
)

// PositionHandler accepts location readings pushed by the client
type PositionHandler struct {
	logger   *logger.Logger
	sessions Sessions
}

// NewPositionHandler creates a new position handler
func NewPositionHandler(log *logger.Logger, sessions Sessions) *PositionHandler {
	return &PositionHandler{
		logger:   log.WithComponent("position-handler"),
		sessions: sessions,
	}
}

// ReportRequest is one raw device reading
type ReportRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	// Timestamp is unix milliseconds; zero means now
	Timestamp int64 `json:"timestamp,omitempty"`
}

// ReportResponse echoes the session's tracked position
type ReportResponse struct {
	Position *geo.Position `json:"position,omitempty"`
}

// Report handles POST /api/v1/position.Report
func (h *PositionHandler) Report(w http.ResponseWriter, r *http.Request) {
	var params ReportRequest
	c, ok := begin(w, r, &params)
	if !ok {
		return
	}

	reading := geo.RawReading{
		Latitude:  params.Latitude,
		Longitude: params.Longitude,
		Accuracy:  params.Accuracy,
	}
	if params.Timestamp > 0 {
		reading.Timestamp = time.UnixMilli(params.Timestamp)
	}

	if err := h.sessions.Report(r.Context(), c.userID, reading); err != nil {
		h.logger.Debug("Position report refused", zap.String("user_id", c.userID), zap.Error(err))
		jsonrpcx.FromError(w, c.req.ID, err)
		return
	}

	var resp ReportResponse
	if s, ok := h.sessions.Lookup(c.userID); ok {
		resp.Position = s.Status().Position
	}
	jsonrpcx.Success(w, c.req.ID, resp)
}
