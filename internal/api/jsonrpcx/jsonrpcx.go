package jsonrpcx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/danghamo/nearby/internal/domain/shared"
)

// maxBodyBytes bounds a request body
const maxBodyBytes = 1 << 20

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      any    `json:"id,omitempty"`
}

// Error represents a JSON-RPC 2.0 error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Notification is a server push without an id
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSON-RPC 2.0 error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// DomainError carries an engine error code in Data
	DomainError  = -32000
	Unauthorized = -32001
)

// ErrorData is attached to DomainError responses
type ErrorData struct {
	Code string `json:"code"`
}

// NewNotification builds a notification for method
func NewNotification(method string, params any) Notification {
	return Notification{JSONRPC: "2.0", Method: method, Params: params}
}

// ParseRequest parses a JSON-RPC 2.0 request from the HTTP request body
func ParseRequest(r *http.Request) (*Request, error) {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	if req.JSONRPC != "2.0" {
		return nil, fmt.Errorf("unsupported jsonrpc version %q", req.JSONRPC)
	}

	return &req, nil
}

// DecodeParams unmarshals the request params into v. Missing params decode
// as an empty object.
func (r *Request) DecodeParams(v any) error {
	if len(r.Params) == 0 {
		return nil
	}
	return json.Unmarshal(r.Params, v)
}

// Success sends a successful JSON-RPC 2.0 response
func Success(w http.ResponseWriter, id any, result any) {
	Write(w, Response{JSONRPC: "2.0", Result: result, ID: id})
}

// Fail sends an error JSON-RPC 2.0 response
func Fail(w http.ResponseWriter, id any, code int, message string) {
	Write(w, Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	})
}

// FromError maps an engine error onto a JSON-RPC error response
func FromError(w http.ResponseWriter, id any, err error) {
	Write(w, Response{JSONRPC: "2.0", Error: ErrorFor(err), ID: id})
}

// ErrorFor converts err into a JSON-RPC error. Domain errors keep their
// string code in Data.
func ErrorFor(err error) *Error {
	code := shared.CodeOf(err)
	switch code {
	case shared.ErrCodeInvalidInput, shared.ErrCodeSendRejectedEmpty:
		return &Error{Code: InvalidParams, Message: err.Error(), Data: ErrorData{Code: shared.CodeString(err)}}
	case shared.ErrCodeUnknown:
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			return rpcErr
		}
		return &Error{Code: InternalError, Message: "Internal error"}
	default:
		return &Error{Code: DomainError, Message: err.Error(), Data: ErrorData{Code: shared.CodeString(err)}}
	}
}

func (e *Error) Error() string {
	return e.Message
}

// Write sends a JSON-RPC 2.0 response (always HTTP 200)
func Write(w http.ResponseWriter, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
