package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/danghamo/nearby/internal/api/jsonrpcx"
	"github.com/danghamo/nearby/pkg/logger"
)

// UserContextKey is the key for storing user info in request context
type UserContextKey string

// UserIDContextKey stores the user ID in context
const UserIDContextKey UserContextKey = "user_id"

// Claims are the claims issued by the external auth service
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// AuthMiddleware verifies HS256 tokens issued by the auth service
type AuthMiddleware struct {
	secret []byte
	issuer string
	logger *logger.Logger
}

// NewAuthMiddleware creates a new auth middleware. An empty issuer accepts
// tokens from any issuer.
func NewAuthMiddleware(secret, issuer string, log *logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		secret: []byte(secret),
		issuer: issuer,
		logger: log.WithComponent("auth-middleware"),
	}
}

// ValidateToken parses and verifies a token, returning its user id
func (m *AuthMiddleware) ValidateToken(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", jwt.ErrTokenMalformed
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return userID, nil
}

// RequireAuth requires a Bearer token in the Authorization header
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := bearerToken(r)
		if !ok {
			m.logger.Debug("Missing or malformed Authorization header")
			jsonrpcx.Fail(w, nil, jsonrpcx.Unauthorized, "Missing Authorization header")
			return
		}

		userID, err := m.ValidateToken(tokenString)
		if err != nil {
			m.logger.Debug("Invalid JWT token", zap.Error(err))
			jsonrpcx.Fail(w, nil, jsonrpcx.Unauthorized, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// RequireSSEAuth accepts the token from the Authorization header or the
// token query parameter, since EventSource cannot set headers
func (m *AuthMiddleware) RequireSSEAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := bearerToken(r)
		if !ok {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		userID, err := m.ValidateToken(tokenString)
		if err != nil {
			m.logger.Debug("Invalid SSE token", zap.Error(err))
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// WithUserID stores the authenticated user in ctx
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDContextKey, userID)
}

// GetUserID extracts user ID from request context
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDContextKey).(string)
	return userID, ok && userID != ""
}
