package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linkup-app/linkup/internal/config"
	"github.com/rs/zerolog/log"
)

// EventTypes is the event classification vocabulary offered to clients.
var EventTypes = []string{
	"Conference",
	"Hackathon",
	"Networking Event",
	"Workshop",
	"Trade Show",
	"Meetup",
	"Webinar",
	"Other",
}

// PersonCategories is the connection classification vocabulary.
var PersonCategories = []string{
	"Potential Collaborator",
	"Industry Expert",
	"Investor",
	"Peer",
	"Client Prospect",
	"Mentor",
	"Mentee",
	"Other",
}

// Service is the REST backend.
type Service struct {
	version     string
	cfg         *config.Config
	store       *Store
	profiles    *ProfileStore
	connections *ConnectionDBStore
	upstream    *http.Client
	router      chi.Router
	server      *http.Server
}

// NewService wires the stores and routes.
func NewService(version string, cfg *config.Config, store *Store) *Service {
	svc := &Service{
		version:     version,
		cfg:         cfg,
		store:       store,
		profiles:    NewProfileStore(store),
		connections: NewConnectionDBStore(store),
		upstream:    &http.Client{Timeout: 30 * time.Second},
		router:      chi.NewRouter(),
	}
	svc.setupRoutes()
	return svc
}

// Router exposes the HTTP handler, for embedding and tests.
func (s *Service) Router() http.Handler { return s.router }

// Start serves HTTP until the listener fails or Shutdown is called.
func (s *Service) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.BackendPort)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", addr).Str("version", s.version).Msg("Backend listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Service) setupRoutes() {
	s.router.Use(middleware.Recoverer)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/", s.handleRoot)
		r.Get("/health", s.handleHealth)

		r.Post("/profile", s.handleCreateProfile)
		r.Get("/profile/{userID}", s.handleGetProfile)
		r.Get("/profiles", s.handleListProfiles)
		r.Get("/qr-code/{userID}", s.handleQRCode)

		r.Post("/transcribe", s.handleTranscribe)
		r.Post("/generate-message", s.handleGenerateMessage)

		r.Post("/connection", s.handleCreateConnection)
		r.Get("/connections/{userID}", s.handleListConnections)
		r.Put("/connection/{connectionID}", s.handleUpdateConnection)

		r.Get("/event-types", s.handleEventTypes)
		r.Get("/person-categories", s.handlePersonCategories)
	})
}
