// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/scottwelch968/Spork-V2-sub004/internal/config"
	"github.com/scottwelch968/Spork-V2-sub004/internal/metrics"
	"github.com/scottwelch968/Spork-V2-sub004/internal/model"
	"github.com/scottwelch968/Spork-V2-sub004/internal/storage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize bounds request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxMessageCount is the maximum number of messages in a chat request.
	MaxMessageCount = 200

	// MaxBatchOperations is the maximum number of writes in one batch_save.
	MaxBatchOperations = 100

	// Version is the server version.
	Version = "0.3.0"
)

// ============================================================================
// SERVER
// ============================================================================

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithResponder sets where replies come from. The default is EchoResponder.
func WithResponder(r Responder) Option {
	return func(s *Server) { s.responder = r }
}

// WithCatalog sets the models auto routing picks from.
func WithCatalog(c []model.ModelInfo) Option {
	return func(s *Server) { s.catalog = c }
}

// Server is the sporkd HTTP server.
type Server struct {
	cfg       config.ServerConfig
	auth      AuthConfig
	store     storage.Store
	responder Responder
	catalog   []model.ModelInfo
	logger    zerolog.Logger

	limiter *RateLimiter
	ledger  *CreditLedger
	started time.Time

	mu         sync.Mutex
	router     chi.Router
	httpServer *http.Server
}

// New creates a server over store.
func New(cfg config.ServerConfig, publishableKey string, store storage.Store, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		auth:      AuthConfig{BearerTokens: cfg.BearerTokens, PublishableKey: publishableKey},
		store:     store,
		responder: EchoResponder{},
		catalog:   model.Catalog,
		logger:    zerolog.Nop(),
		limiter:   NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		ledger:    NewCreditLedger(cfg.Credits),
		started:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(metrics.Middleware)
	r.Use(SecurityHeadersMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(RecoveryMiddleware(s.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "apikey", "Cache-Control"},
		ExposedHeaders:   []string{"Retry-After", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/functions/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(s.auth, s.logger))
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				req.Body = http.MaxBytesReader(w, req.Body, MaxRequestBodySize)
				next.ServeHTTP(w, req)
			})
		})

		r.With(s.limiter.Middleware, s.ledger.Middleware).Post("/chat", s.handleChat)
		r.Post("/spork-data", s.handleData)
	})

	return r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ApplyConfig updates the limits that can change without a restart.
func (s *Server) ApplyConfig(cfg config.ServerConfig) {
	s.limiter.SetLimits(cfg.RateLimitRPS, cfg.RateLimitBurst)
	s.ledger.SetLimit(cfg.Credits)
	s.logger.Info().
		Float64("rps", cfg.RateLimitRPS).
		Int("burst", cfg.RateLimitBurst).
		Int("credits", cfg.Credits).
		Msg("server limits updated")
}

// ============================================================================
// HEALTH
// ============================================================================

// HealthResponse is the /health body.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Database string `json:"database"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:   "ok",
		Version:  Version,
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Database: "ok",
	}
	status := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe serves on the configured address until Shutdown.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info().Str("addr", s.cfg.Addr).Str("version", Version).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Info().Msg("server shutting down")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": message}, the shape both endpoints use.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func generateResponseID() string {
	b := make([]byte, 12)
	rand.Read(b)
	return "chatcmpl-" + hex.EncodeToString(b)
}
