// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package server is the huddle gateway: a REST and websocket front end over
// a document store.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sigil-dev/huddle/internal/wire"
	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr   string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// WriteLimit rate-limits mutations per client IP. Zero disables it.
	WriteLimit RateLimitConfig
}

// Server wraps a chi router with a huma API and the watch socket.
type Server struct {
	router chi.Router
	api    huma.API
	cfg    Config
	svc    *Services
	logger *slog.Logger

	limiterDone chan struct{}
}

// New builds the gateway over svc.
func New(cfg Config, svc *Services) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, huddleerr.New(huddleerr.CodeServerConfigInvalid, "listen address is required")
	}
	if svc == nil {
		return nil, huddleerr.New(huddleerr.CodeServerConfigInvalid, "services are required")
	}
	if err := cfg.WriteLimit.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}

	r := chi.NewRouter()
	s := &Server{
		router:      r,
		cfg:         cfg,
		svc:         svc,
		logger:      svc.logger,
		limiterDone: make(chan struct{}),
	}

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(s.metricsMiddleware)
	r.Use(s.authMiddleware)
	r.Use(writesOnly(rateLimitMiddleware(cfg.WriteLimit, s.limiterDone)))

	humaConfig := huma.DefaultConfig("Huddle Gateway", "0.1.0")
	humaConfig.Info.Description = "Document store gateway with live watch queries"
	s.api = humachi.New(r, humaConfig)

	huma.Register(s.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        wire.PathHealth,
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*HealthResponse, error) {
		return &HealthResponse{Body: HealthBody{Status: "ok"}}, nil
	})

	s.registerRoutes()
	s.registerWatchRoute()
	s.registerMetricsRoute()

	return s, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API, used to export the OpenAPI document.
func (s *Server) API() huma.API {
	return s.api
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return huddleerr.Wrapf(err, huddleerr.CodeServerStartFailure, "listening on %s", s.cfg.ListenAddr)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("gateway listening", "addr", ln.Addr().String(), "backend", s.svc.backend)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return huddleerr.Wrap(err, huddleerr.CodeServerStartFailure, "serving")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return huddleerr.Wrap(err, huddleerr.CodeServerShutdownFailure, "shutting down")
	}
	s.logger.Info("gateway stopped")
	return <-errCh
}

// Close stops background work. It does not close the store.
func (s *Server) Close() error {
	select {
	case <-s.limiterDone:
	default:
		close(s.limiterDone)
	}
	return nil
}

// HealthBody is the JSON body of the health endpoint response.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthResponse wraps the health check response.
type HealthResponse struct {
	Body HealthBody
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
