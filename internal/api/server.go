package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/nearby/internal/api/handlers"
	"github.com/danghamo/nearby/internal/api/jsonrpcx"
	"github.com/danghamo/nearby/internal/api/middleware"
	"github.com/danghamo/nearby/internal/session"
	"github.com/danghamo/nearby/pkg/autorouter"
	"github.com/danghamo/nearby/pkg/config"
	"github.com/danghamo/nearby/pkg/logger"
	"github.com/danghamo/nearby/pkg/metrics"
	"github.com/danghamo/nearby/pkg/redisx"
	"github.com/danghamo/nearby/pkg/sse"
)

// rate limiter entries idle this long are dropped
const rateLimitIdle = 10 * time.Minute

// Server represents the HTTP server
type Server struct {
	cfg            *config.Config
	httpServer     *http.Server
	logger         *logger.Logger
	redisClient    *redisx.Client
	mux            *http.ServeMux
	engine         *Engine
	registry       *session.Registry
	authMiddleware *middleware.AuthMiddleware
	rateLimiter    *middleware.RateLimiter
	broadcaster    *sse.Broadcaster
	router         *autorouter.AutoRouter
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, log *logger.Logger, redisClient *redisx.Client) (*Server, error) {
	apiLogger := log.WithComponent("api")

	s := &Server{
		cfg:            cfg,
		logger:         apiLogger,
		redisClient:    redisClient,
		mux:            http.NewServeMux(),
		authMiddleware: middleware.NewAuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.Issuer, apiLogger),
		rateLimiter:    middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, apiLogger),
	}
	s.broadcaster = sse.NewBroadcaster(apiLogger, sse.WithSnapshot(s.statusSnapshot))

	engine, err := NewEngine(cfg, redisClient, s.broadcaster, log)
	if err != nil {
		s.broadcaster.Close()
		return nil, err
	}
	s.engine = engine
	s.registry = session.NewRegistry(engine.Build, log)

	if err := s.setupRoutes(); err != nil {
		_ = engine.Close()
		s.broadcaster.Close()
		return nil, err
	}

	s.httpServer = &http.Server{
		Addr:        cfg.Server.GetServerAddr(),
		Handler:     s.setupMiddleware(s.mux),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		// no WriteTimeout: event streams stay open
	}

	return s, nil
}

// setupRoutes configures the server routes
func (s *Server) setupRoutes() error {
	s.mux.HandleFunc(s.cfg.Server.HealthCheckPath, s.healthCheckHandler)
	if s.cfg.Metrics.Enabled {
		s.mux.Handle(s.cfg.Metrics.Path, metrics.Handler())
	}

	s.router = autorouter.New(s.mux, autorouter.Options{Prefix: "/api/v1/"}, s.logger)
	auth := autorouter.Middleware(s.authMiddleware.RequireAuth)

	info := handlers.NewServerHandler(s.cfg.Server.Host, s.cfg.Server.Port, s.cfg.Region.Name, s.cfg.Feed.Transport, s.cfg.Proximity.Config)
	if _, err := s.router.With("server.").Register(info); err != nil {
		return err
	}

	routes := []struct {
		prefix  string
		handler interface{}
	}{
		{"position.", handlers.NewPositionHandler(s.logger, s.registry)},
		{"chat.", handlers.NewChatHandler(s.logger, s.registry)},
		{"session.", handlers.NewSessionHandler(s.logger, s.registry)},
		{"presence.", handlers.NewPresenceHandler(s.logger, s.engine.Positions(), nil, s.cfg.Presence.FreshnessWindow)},
	}
	for _, r := range routes {
		if _, err := s.router.With(r.prefix, auth).Register(r.handler); err != nil {
			return err
		}
	}

	s.mux.Handle("/api/v1/stream/session", s.authMiddleware.RequireSSEAuth(http.HandlerFunc(s.broadcaster.HandleSSE)))

	s.logger.Info("Routes registered", zap.Strings("paths", s.router.Paths()))
	return nil
}

// setupMiddleware applies middleware to all routes
func (s *Server) setupMiddleware(h http.Handler) http.Handler {
	chain := middleware.Chain(
		middleware.Recovery(s.logger),
		middleware.CORS(s.cfg.CORS.AllowedOrigins, s.cfg.CORS.AllowedMethods, s.cfg.CORS.AllowedHeaders),
		s.rateLimiter.Middleware(),
		middleware.Logging(s.logger),
	)
	return chain(h)
}

// Handler returns the root handler, for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is cancelled, then shuts down
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.httpServer.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go s.sweepRateLimiter(ctx)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		_ = s.Shutdown()
		return err
	}

	return s.Shutdown()
}

func (s *Server) sweepRateLimiter(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.rateLimiter.Sweep(now, rateLimitIdle); n > 0 {
				s.logger.Debug("Rate limiter swept", zap.Int("removed", n))
			}
		}
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down HTTP server")

	// close streams first so Shutdown does not wait on them
	s.broadcaster.Close()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown error", zap.Error(err))
	}

	s.registry.CloseAll()

	if err := s.engine.Close(); err != nil {
		s.logger.Error("Feed shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// GetAddr returns the server address
func (s *Server) GetAddr() string {
	return s.httpServer.Addr
}

func (s *Server) statusSnapshot(userID string) (jsonrpcx.Notification, bool) {
	if s.registry == nil {
		return jsonrpcx.Notification{}, false
	}
	sess, ok := s.registry.Lookup(userID)
	if !ok {
		return jsonrpcx.Notification{}, false
	}
	return jsonrpcx.NewNotification("engine.status", sess.Status()), true
}

type healthCheck struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status   string                 `json:"status"`
	Sessions int                    `json:"sessions"`
	Checks   map[string]healthCheck `json:"checks"`
}

// healthCheckHandler handles health check requests
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "healthy",
		Sessions: s.registry.Len(),
		Checks:   map[string]healthCheck{"redis": {Status: "up"}},
	}
	code := http.StatusOK

	if err := s.redisClient.HealthCheck(r.Context()); err != nil {
		s.logger.Error("Redis health check failed", zap.Error(err))
		resp.Status = "unhealthy"
		resp.Checks["redis"] = healthCheck{Status: "down", Error: fmt.Sprint(err)}
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
