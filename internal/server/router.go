// Package server exposes the fstorage HTTP API.
//
// Routes:
//
//	GET    /healthz                 liveness
//	GET    /readyz                  lifecycle state and dependency checks
//	POST   /api/v1/files/upload     multipart upload (authenticated)
//	DELETE /api/v1/files/batch      batch delete (authenticated)
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/StricklySoft/stricklysoft-fstorage/pkg/auth"
	"github.com/StricklySoft/stricklysoft-fstorage/pkg/telemetry"
)

// Dependencies are the collaborators the router needs.
type Dependencies struct {
	Verifier  auth.Verifier
	Files     FileService
	Readiness Readiness

	// Checks run on every /readyz request, keyed by dependency name.
	Checks map[string]HealthCheck

	Logger *slog.Logger
}

// NewRouter builds the HTTP handler. The auth gate covers every route under
// /api/v1/files.
func NewRouter(cfg Config, deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{
		files:     deps.Files,
		readiness: deps.Readiness,
		checks:    deps.Checks,
		cfg:       cfg,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(corsMiddleware(cfg.CORSAllowedOrigins))
	r.Use(telemetry.HTTPMiddleware(cfg.Telemetry.ServiceName))

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)

	r.Route("/api/v1/files", func(r chi.Router) {
		r.Use(auth.HTTPMiddleware(deps.Verifier, logger))
		r.Post("/upload", h.upload)
		r.Delete("/batch", h.batchDelete)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}
