package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/savegress/labsync/internal/astm"
	"github.com/savegress/labsync/internal/config"
	"github.com/savegress/labsync/internal/journal"
)

// Server represents the API server
type Server struct {
	config   *config.Config
	router   chi.Router
	handlers *Handlers
}

// NewServer creates a new API server. tx may be nil when no instrument
// line is configured.
func NewServer(cfg *config.Config, gen *astm.Generator, j *journal.Journal, tx Transmitter) *Server {
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		handlers: NewHandlers(&cfg.Codec, gen, j, tx),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handlers.HealthCheck)

	s.router.Route("/api/v1/labsync", func(r chi.Router) {
		// Codec
		r.Route("/astm", func(r chi.Router) {
			r.Post("/generate", s.handlers.GenerateMessage)
			r.Post("/frame", s.handlers.FrameMessage)
			r.Post("/parse", s.handlers.ParseMessage)
			r.Post("/send", s.handlers.SendMessage)
		})

		// Journal
		r.Route("/journal", func(r chi.Router) {
			r.Get("/", s.handlers.ListJournal)
			r.Get("/stats", s.handlers.GetJournalStats)
			r.Get("/{id}", s.handlers.GetJournalEntry)
		})
	})
}

// Router returns the chi router
func (s *Server) Router() http.Handler {
	return s.router
}
