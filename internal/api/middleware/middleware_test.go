package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/nearby/internal/api/jsonrpcx"
	"github.com/danghamo/nearby/pkg/logger"
)

const testSecret = "test-secret-123"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims(userID string) Claims {
	return Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "auth",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := GetUserID(r.Context())
		_, _ = w.Write([]byte(userID))
	})
}

func decodeRPC(t *testing.T, rec *httptest.ResponseRecorder) jsonrpcx.Response {
	t.Helper()
	var resp jsonrpcx.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRequireAuth(t *testing.T) {
	auth := NewAuthMiddleware(testSecret, "auth", logger.NewNop())
	handler := auth.RequireAuth(echoUser())

	expired := validClaims("user-1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	wrongIssuer := validClaims("user-1")
	wrongIssuer.Issuer = "someone-else"

	subjectOnly := validClaims("")
	subjectOnly.Subject = "user-2"

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid token", "Bearer " + signToken(t, testSecret, validClaims("user-1")), "user-1"},
		{"subject fallback", "Bearer " + signToken(t, testSecret, subjectOnly), "user-2"},
		{"missing header", "", ""},
		{"not bearer", "Basic abc", ""},
		{"wrong secret", "Bearer " + signToken(t, "other-secret", validClaims("user-1")), ""},
		{"expired", "Bearer " + signToken(t, testSecret, expired), ""},
		{"wrong issuer", "Bearer " + signToken(t, testSecret, wrongIssuer), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/session.Status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if tt.want != "" {
				assert.Equal(t, tt.want, rec.Body.String())
				return
			}
			resp := decodeRPC(t, rec)
			require.NotNil(t, resp.Error)
			assert.Equal(t, jsonrpcx.Unauthorized, resp.Error.Code)
		})
	}
}

func TestRequireSSEAuth_QueryToken(t *testing.T) {
	auth := NewAuthMiddleware(testSecret, "", logger.NewNop())
	handler := auth.RequireSSEAuth(echoUser())

	token := signToken(t, testSecret, validClaims("user-1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stream/session?token="+token, nil))
	assert.Equal(t, "user-1", rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stream/session", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, logger.NewNop())
	now := time.Now()

	assert.True(t, rl.Allow("1.2.3.4", now))
	assert.True(t, rl.Allow("1.2.3.4", now))
	assert.False(t, rl.Allow("1.2.3.4", now))
	assert.True(t, rl.Allow("5.6.7.8", now))
	assert.True(t, rl.Allow("1.2.3.4", now.Add(time.Second)))

	assert.Equal(t, 2, rl.Sweep(now.Add(10*time.Minute), 3*time.Minute))
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, 1, logger.NewNop())
	handler := rl.Middleware()(echoUser())

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/api/v1/chat.Send", nil))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/api/v1/chat.Send", nil))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRecovery(t *testing.T) {
	handler := Recovery(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/chat.Send", nil))

	resp := decodeRPC(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpcx.InternalError, resp.Error.Code)
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"http://localhost:3000"}, []string{"GET", "POST"}, []string{"Authorization"})(echoUser())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/chat.Send", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST", rec.Header().Get("Access-Control-Allow-Methods"))

	req = httptest.NewRequest(http.MethodPost, "/api/v1/chat.Send", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	Chain(mw("a"), mw("b"), Logging(logger.NewNop()))(echoUser()).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, []string{"a", "b"}, order)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "1.1.1.1, 2.2.2.2")
	assert.Equal(t, "1.1.1.1", getClientIP(req))
}
