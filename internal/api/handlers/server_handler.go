package handlers

import (
	"net/http"

	"github.com/danghamo/nearby/internal/api/jsonrpcx"
	"github.com/danghamo/nearby/internal/proximity"
)

// ServerHandler handles server information requests
type ServerHandler struct {
	info ServerInfoResponse
}

// ServerInfoResponse represents the engine settings a client needs to render
type ServerInfoResponse struct {
	Host               string  `json:"host"`
	Port               int     `json:"port"`
	Region             string  `json:"region,omitempty"`
	UnlockRadiusMeters float64 `json:"unlock_radius_m"`
	OuterRadiusMeters  float64 `json:"outer_radius_m"`
	Transport          string  `json:"transport"`
}

// NewServerHandler creates a new server handler
func NewServerHandler(host string, port int, region, transport string, prox proximity.Config) *ServerHandler {
	return &ServerHandler{info: ServerInfoResponse{
		Host:               host,
		Port:               port,
		Region:             region,
		UnlockRadiusMeters: prox.UnlockRadiusMeters,
		OuterRadiusMeters:  prox.OuterRadiusMeters,
		Transport:          transport,
	}}
}

// Info handles POST /api/v1/server.Info. It does not require authentication.
func (h *ServerHandler) Info(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonrpcx.Fail(w, nil, jsonrpcx.MethodNotFound, "Method not allowed")
		return
	}

	req, err := jsonrpcx.ParseRequest(r)
	if err != nil {
		jsonrpcx.Fail(w, nil, jsonrpcx.ParseError, "Invalid JSON-RPC request")
		return
	}

	jsonrpcx.Success(w, req.ID, h.info)
}
