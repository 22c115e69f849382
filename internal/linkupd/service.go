// Package linkupd provides the orchestration daemon service: the HTTP
// surface through which UI clients drive a networking exchange session and
// stream its events.
package linkupd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linkup-app/linkup/internal/capture"
	"github.com/linkup-app/linkup/internal/config"
	"github.com/linkup-app/linkup/internal/linkupd/sse"
	"github.com/linkup-app/linkup/internal/recorder"
	"github.com/linkup-app/linkup/internal/session"
	"github.com/rs/zerolog/log"
)

const (
	frameBuffer = 16
	chunkBuffer = 64
)

// Service is the daemon: one session engine, one event broadcaster, one
// router.
type Service struct {
	version     string
	cfg         *config.Config
	engine      *session.Engine
	broadcaster *sse.Broadcaster
	router      chi.Router
	server      *http.Server
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	startTime   time.Time
	ready       atomic.Bool

	// mu guards the push sources of the active scan and recording.
	mu     sync.Mutex
	frames *capture.ChanSource
	audio  *recorder.ChunkSource
}

// NewService wires the engine into an HTTP service. Session events flow to
// connected clients through the broadcaster.
func NewService(version string, cfg *config.Config, engine *session.Engine) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:     version,
		cfg:         cfg,
		engine:      engine,
		broadcaster: sse.NewBroadcaster(),
		router:      chi.NewRouter(),
		ctx:         ctx,
		cancel:      cancel,
		startTime:   time.Now(),
	}
	svc.unsubscribe = engine.Subscribe(func(ev session.Event) {
		svc.broadcaster.Publish(ev)
	})
	svc.setupRoutes()
	svc.ready.Store(true)
	return svc
}

// Router exposes the HTTP handler, for embedding and tests.
func (s *Service) Router() http.Handler { return s.router }

// Start serves HTTP until the listener fails or Shutdown is called.
func (s *Service) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.DaemonPort)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", addr).Str("version", s.version).Msg("Daemon listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server and tears down the engine.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.unsubscribe()
	s.cancel()

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.engine.Close()
	return err
}

// setFrames swaps in the push source of a newly started scan.
func (s *Service) setFrames(src *capture.ChanSource) {
	s.mu.Lock()
	old := s.frames
	s.frames = src
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (s *Service) currentFrames() *capture.ChanSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// setAudio swaps in the push source of a newly started recording.
func (s *Service) setAudio(src *recorder.ChunkSource) {
	s.mu.Lock()
	old := s.audio
	s.audio = src
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (s *Service) currentAudio() *recorder.ChunkSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

func (s *Service) setupRoutes() {
	s.router.Use(middleware.Recoverer)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/events", s.broadcaster.ServeHTTP)

		r.Get("/session", s.handleSession)
		r.Post("/session/reset", s.handleReset)
		r.Post("/session/retry-commit", s.handleRetryCommit)

		r.Post("/profile/setup", s.handleProfileSetup)
		r.Post("/profile", s.handleProfileComplete)
		r.Get("/profile", s.handleProfile)

		r.Post("/event/setup", s.handleEventSetup)
		r.Post("/event", s.handleEventSet)
		r.Get("/event", s.handleEvent)

		r.Post("/scan/start", s.handleScanStart)
		r.Post("/scan/frame", s.handleScanFrame)
		r.Post("/scan/cancel", s.handleScanCancel)

		r.Post("/mode", s.handleMode)

		r.Post("/record/start", s.handleRecordStart)
		r.Post("/record/chunk", s.handleRecordChunk)
		r.Post("/record/stop", s.handleRecordStop)
		r.Get("/record/elapsed", s.handleRecordElapsed)

		r.Get("/connections", s.handleConnections)
		r.Post("/connections/view", s.handleConnectionsView)

		r.Get("/fallback-preview", s.handleFallbackPreview)
	})
}
