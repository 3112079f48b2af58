// Package server exposes the ingest and query pipelines over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/docmind/docmind/internal/config"
	"github.com/docmind/docmind/internal/metrics"
	"github.com/docmind/docmind/internal/models"
	"github.com/docmind/docmind/internal/worker"
)

// Dispatcher hands trigger events to the workflow runner and reports on runs.
type Dispatcher interface {
	EnqueueIngest(ctx context.Context, event models.IngestEvent) (string, error)
	EnqueueQuery(ctx context.Context, event models.QueryEvent) (string, error)
	Status(ctx context.Context, runID string) (worker.RunStatus, error)
	WaitForResult(ctx context.Context, runID string, wait time.Duration) (worker.RunStatus, error)
}

type Server struct {
	dispatcher Dispatcher
	config     config.ServerConfig
	server     *http.Server
}

func NewServer(dispatcher Dispatcher, cfg config.ServerConfig) *Server {
	return &Server{dispatcher: dispatcher, config: cfg}
}

// Routes builds the API router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// queries hold the connection for up to the configured wait
		r.Use(middleware.Timeout(s.config.QueryWait() + 30*time.Second))
		r.Post("/ingest", s.handleIngest)
		r.Post("/documents", s.handleUpload)
		r.Post("/query", s.handleQuery)
		r.Get("/runs/{id}", s.handleRunStatus)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().Str("addr", addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		took := time.Since(start)

		metrics.APIRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method, route).Observe(took.Seconds())
		log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("took", took).
			Msg("HTTP request")
	})
}
