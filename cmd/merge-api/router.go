// Package main provides the API router setup.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/danjuanyang/psm-merge/cmd/merge-api/handlers"
	"github.com/danjuanyang/psm-merge/cmd/merge-api/middleware"
	"github.com/danjuanyang/psm-merge/internal/app"
	"github.com/danjuanyang/psm-merge/internal/observability"
)

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, a *app.App) http.Handler {
	cfg := a.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	// Health check (unauthenticated)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"psm-merge"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		w.Header().Set("Content-Type", "application/json")
		if err := a.DB.PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.Write([]byte(`{"status":"ready"}`))
	})

	mergeHandler := handlers.NewMergeHandler(logger, a.Service, cfg.Assembly.PageNumbers)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(middleware.AuthConfig{
			Enabled: cfg.Auth.Enabled,
			Token:   cfg.Auth.Token,
		}))

		timeout := chimiddleware.Timeout(cfg.API.RequestTimeout)

		r.With(timeout).Post("/projects/{projectId}/merge/preview", mergeHandler.Preview)
		r.With(timeout).Get("/merge/previews/{sessionId}/{imageName}", mergeHandler.PreviewImage)

		r.Route("/merge/jobs/{jobId}", func(r chi.Router) {
			// Event streams stay open for the whole run
			r.Get("/events", mergeHandler.Events)

			r.Group(func(r chi.Router) {
				r.Use(timeout)
				r.Get("/", mergeHandler.Get)
				r.Delete("/", mergeHandler.Delete)
				r.Post("/finalize", mergeHandler.Finalize)
				r.Get("/download", mergeHandler.Download)
			})
		})
	})

	return r
}

// requestLogger logs each request through the service logger with the chi
// request id attached.
func requestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			ctx := observability.ContextWithRequestID(r.Context(), chimiddleware.GetReqID(r.Context()))
			next.ServeHTTP(ww, r.WithContext(ctx))

			logger.WithContext(ctx).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		})
	}
}
