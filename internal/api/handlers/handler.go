package handlers

import (
	"context"
	"net/http"

	"github.com/danghamo/nearby/internal/api/jsonrpcx"
	"github.com/danghamo/nearby/internal/api/middleware"
	"github.com/danghamo/nearby/internal/geo"
	"github.com/danghamo/nearby/internal/session"
)

// Sessions is the per-user session registry
type Sessions interface {
	Acquire(ctx context.Context, userID string) (*session.Session, error)
	Lookup(userID string) (*session.Session, bool)
	Report(ctx context.Context, userID string, reading geo.RawReading) error
	Release(userID string) bool
}

// call is a parsed, authenticated JSON-RPC call
type call struct {
	userID string
	req    *jsonrpcx.Request
}

// begin checks the HTTP method, authentication and envelope, then decodes
// params. It writes the error response itself and returns false on failure.
func begin(w http.ResponseWriter, r *http.Request, params any) (call, bool) {
	if r.Method != http.MethodPost {
		jsonrpcx.Fail(w, nil, jsonrpcx.MethodNotFound, "Method not allowed")
		return call{}, false
	}

	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		jsonrpcx.Fail(w, nil, jsonrpcx.Unauthorized, "User not authenticated")
		return call{}, false
	}

	req, err := jsonrpcx.ParseRequest(r)
	if err != nil {
		jsonrpcx.Fail(w, nil, jsonrpcx.ParseError, "Invalid JSON-RPC request")
		return call{}, false
	}

	if params != nil {
		if err := req.DecodeParams(params); err != nil {
			jsonrpcx.Fail(w, req.ID, jsonrpcx.InvalidParams, "Invalid params")
			return call{}, false
		}
	}

	return call{userID: userID, req: req}, true
}
