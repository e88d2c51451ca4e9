package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/loomcms/gatehouse/internal/dispatch"
	"github.com/loomcms/gatehouse/internal/events"
	"github.com/loomcms/gatehouse/internal/gateway"
	"github.com/loomcms/gatehouse/internal/metrics"
	"github.com/loomcms/gatehouse/internal/webhook"
)

// Config holds HTTP server configuration.
type Config struct {
	Listen       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxEventBody caps the accepted size of one emitted event.
	MaxEventBody int64
	// AdminToken guards the operator surface. Empty leaves it unmounted.
	AdminToken string
}

// EndpointLister lists a workspace's registered endpoints.
type EndpointLister interface {
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*webhook.Endpoint, error)
}

// Server is the HTTP surface: health, metrics, the gated /v1 API and the
// admin stream.
type Server struct {
	config     Config
	gate       *gateway.Middleware
	dispatcher *dispatch.Dispatcher
	endpoints  EndpointLister
	hub        *events.Hub
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
}

func New(config Config, gate *gateway.Middleware, dispatcher *dispatch.Dispatcher, endpoints EndpointLister, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:     config,
		gate:       gate,
		dispatcher: dispatcher,
		endpoints:  endpoints,
		hub:        hub,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// The gated workspace API.
	r.Group(func(r chi.Router) {
		r.Use(s.gate.Handler)
		r.With(s.gate.RequireScopes("events:rw", "*")).Post("/v1/events", s.handleEmitEvent)
		r.With(s.gate.RequireScopes("webhooks:ro", "webhooks:rw", "*")).Get("/v1/webhooks", s.handleListWebhooks)
		r.Get("/v1/keys/self", s.handleKeySelf)
	})

	// Operator surface.
	if s.config.AdminToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(s.adminAuthMiddleware)
			r.Get("/v1/stream", s.handleStream)
		})
	}

	return r
}

// loggingMiddleware logs requests. Query strings are omitted: a credential
// may arrive via the key query parameter and must never reach the log.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, errCode, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: errCode, Message: message})
}
