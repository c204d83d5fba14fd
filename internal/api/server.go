package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/tgcesports/notifier/internal/config"
	"github.com/tgcesports/notifier/internal/eligibility"
	"github.com/tgcesports/notifier/internal/ipfilter"
	"github.com/tgcesports/notifier/internal/ledger"
	"github.com/tgcesports/notifier/internal/metrics"
	"github.com/tgcesports/notifier/internal/sandbox"
	"github.com/tgcesports/notifier/internal/scheduler"
	"github.com/tgcesports/notifier/internal/tournament"
)

// TournamentSource reads tournaments from the backend
type TournamentSource interface {
	FetchTournaments(ctx context.Context) ([]tournament.Tournament, error)
	FetchParticipants(ctx context.Context, tournamentID string) ([]tournament.Participant, error)
}

// Jobs controls the scheduler
type Jobs interface {
	Start(name string, runImmediately bool) error
	Stop(name string) error
	RunNow(ctx context.Context, name string) (any, error)
	Status() []scheduler.JobStatus
}

// Ledger is the subset of the ledger exposed over HTTP
type Ledger interface {
	Today() string
	HasBeenNotified(ctx context.Context, tournamentID string, kind ledger.Kind) (bool, error)
	PruneOlderThan(ctx context.Context, days int) (int, error)
	ListAll(ctx context.Context) ([]*ledger.Entry, error)
	ClearAll(ctx context.Context) (int, error)
	Count(ctx context.Context) (int, error)
	Summary(ctx context.Context) ([]ledger.DaySummary, error)
}

// AllowList is the runtime-editable recipient allow-list
type AllowList interface {
	Entries() []string
	Add(entry string) bool
	Remove(entry string) bool
}

// Sandbox exposes captured messages
type Sandbox interface {
	List(ctx context.Context, filter sandbox.ListFilter) ([]*sandbox.Message, error)
	Get(ctx context.Context, id string) (*sandbox.Message, error)
	Clear(ctx context.Context, olderThan time.Duration) (int, error)
	Stats(ctx context.Context) (*sandbox.Stats, error)
}

// Deps are the components served by the API. Sandbox may be nil.
type Deps struct {
	Tournaments   TournamentSource
	Jobs          Jobs
	Ledger        Ledger
	AllowList     AllowList
	Sandbox       Sandbox
	StartingSoon  eligibility.StartingSoon
	Lookback      time.Duration
	RetentionDays int
	Version       string
}

// Server is the HTTP control API
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	config     *config.APIConfig
	logger     *slog.Logger
	startTime  time.Time
	now        func() time.Time
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg *config.APIConfig, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		deps:      deps,
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
		now:       time.Now,
	}

	s.setupRoutes()
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(ipfilter.New(s.config.AllowedIPs, s.logger).HTTPMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)
	if len(s.config.CORSOrigins) > 0 {
		s.router.Use(cors.New(cors.Options{
			AllowedOrigins: s.config.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}).Handler)
	}

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/tournaments", s.handleTournaments)
		r.Get("/tournaments/{id}/participants", s.handleParticipants)

		r.Post("/reminders/send", s.handleRunJob(config.JobReminders))
		r.Post("/announcements/send", s.handleRunJob(config.JobAnnouncements))

		r.Route("/scheduler", func(r chi.Router) {
			r.Get("/status", s.handleSchedulerStatus)
			r.Post("/start", s.handleSchedulerStart)
			r.Post("/stop", s.handleSchedulerStop)
			r.Post("/run", s.handleSchedulerRun)
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/", s.handleLedgerList)
			r.Delete("/", s.handleLedgerClear)
			r.Get("/summary", s.handleLedgerSummary)
			r.Get("/check/{tournamentId}/{kind}", s.handleLedgerCheck)
			r.Post("/cleanup", s.handleLedgerCleanup)
		})

		r.Route("/allowlist", func(r chi.Router) {
			r.Get("/", s.handleAllowListGet)
			r.Post("/", s.handleAllowListAdd)
			r.Delete("/{domain}", s.handleAllowListRemove)
		})

		r.Route("/sandbox", func(r chi.Router) {
			r.Get("/", s.handleSandboxList)
			r.Delete("/", s.handleSandboxClear)
			r.Get("/{id}", s.handleSandboxGet)
		})
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
