package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgallion1/storygest/internal/config"
	"github.com/dgallion1/storygest/internal/pipeline"
)

// Server is the HTTP API server for storygest.
type Server struct {
	router   chi.Router
	registry *pipeline.Registry
	log      *slog.Logger
	cfg      config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(registry *pipeline.Registry, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		registry: registry,
		log:      log,
		cfg:      cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))
	r.Use(Metrics)

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.StorygestAPIKey, s.log))

		r.Post("/api/stories", s.handleGenerate)
		r.Get("/api/stories/{userID}/status", s.handleStoryStatus)
		r.Delete("/api/stories/{userID}", s.handleCancelStory)

		r.Post("/api/parse", s.handleParse)
		r.Post("/api/import", s.handleImport)

		r.Get("/api/stats/generation", s.handleGenerationStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
