// Package app wires the notifier components together from configuration
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tgcesports/notifier/internal/api"
	"github.com/tgcesports/notifier/internal/config"
	"github.com/tgcesports/notifier/internal/eligibility"
	"github.com/tgcesports/notifier/internal/ledger"
	"github.com/tgcesports/notifier/internal/mailer"
	"github.com/tgcesports/notifier/internal/metrics"
	"github.com/tgcesports/notifier/internal/notify"
	"github.com/tgcesports/notifier/internal/render"
	"github.com/tgcesports/notifier/internal/sandbox"
	"github.com/tgcesports/notifier/internal/scheduler"
	"github.com/tgcesports/notifier/internal/tournament"
)

// App is the main application
type App struct {
	config    *config.Config
	version   string
	logger    *slog.Logger
	ledger    *ledger.Ledger
	pruner    *ledger.Pruner
	sandbox   *sandbox.Storage
	client    *tournament.Client
	allowList *eligibility.AllowList
	service   *notify.Service
	scheduler *scheduler.Scheduler
	apiServer *api.Server

	metrics       *metrics.Metrics
	metricsServer *metrics.Server
	collector     *metrics.Collector
}

// New builds every component. Nothing is started until Run.
func New(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	logger := setupLogger(cfg.Logging)

	m := metrics.New()
	metrics.SetGlobal(m)

	l, err := OpenLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		config:  cfg,
		version: version,
		logger:  logger,
		ledger:  l,
		metrics: m,
	}

	sender, sandboxStorage, err := NewSender(cfg, logger)
	if err != nil {
		l.Close()
		return nil, err
	}
	a.sandbox = sandboxStorage

	renderer, err := render.New()
	if err != nil {
		a.closeStores()
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	defaultLang := tournament.ParseLanguage(cfg.Recipients.DefaultLanguage, tournament.English)
	a.client = tournament.NewClient(cfg.Upstream, defaultLang, logger.With("component", "upstream"))
	a.allowList = eligibility.NewAllowList(cfg.Recipients.AllowList)
	if len(cfg.Recipients.AllowList) == 0 {
		logger.Warn("recipient allow-list is empty, no email will be sent")
	}

	a.service = notify.NewService(
		a.client,
		l,
		sender,
		renderer,
		a.allowList,
		notify.OptionsFromConfig(cfg),
		logger.With("component", "notify"),
	)

	a.scheduler = scheduler.New(cfg.Location(), logger.With("component", "scheduler"))
	if err := a.registerJobs(); err != nil {
		a.scheduler.Shutdown(ctx)
		a.closeStores()
		return nil, err
	}

	a.pruner = ledger.NewPruner(l, cfg.Ledger.RetentionDays, cfg.Ledger.CleanupInterval, logger.With("component", "ledger_pruner"))

	if cfg.API.Enabled {
		a.apiServer = api.NewServer(api.Deps{
			Tournaments:   a.client,
			Jobs:          a.scheduler,
			Ledger:        l,
			AllowList:     a.allowList,
			Sandbox:       sandboxOrNil(sandboxStorage),
			StartingSoon:  startingSoon(cfg.Reminder),
			Lookback:      cfg.Announcement.Lookback,
			RetentionDays: cfg.Ledger.RetentionDays,
			Version:       version,
		}, &cfg.API, logger.With("component", "api"))
	}

	if cfg.Metrics.Enabled {
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
		storagePath := ""
		if cfg.Ledger.Backend == "bolt" {
			storagePath = cfg.Ledger.Path
		}
		a.collector = metrics.NewCollector(m, l, storagePath, 0)
	}

	return a, nil
}

// OpenLedger opens the configured ledger backend
func OpenLedger(ctx context.Context, cfg *config.Config) (*ledger.Ledger, error) {
	var store ledger.Store
	switch cfg.Ledger.Backend {
	case "postgres":
		s, err := ledger.NewPostgresStore(ctx, cfg.Ledger.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres ledger: %w", err)
		}
		store = s
	default:
		s, err := ledger.NewBoltStore(cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger: %w", err)
		}
		store = s
	}
	return ledger.New(store, cfg.Location(), nil), nil
}

// NewSender builds the outbound sender for the configured mode. The sandbox
// storage is returned in sandbox mode so that it can be inspected and closed.
func NewSender(cfg *config.Config, logger *slog.Logger) (mailer.Sender, *sandbox.Storage, error) {
	mc := cfg.Mailer

	if mc.Mode == "sandbox" {
		storage, err := sandbox.OpenStorage(mc.Sandbox.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sandbox storage: %w", err)
		}
		logger.Info("sandbox mode enabled, messages are captured and not delivered", "path", mc.Sandbox.Path)
		s := sandbox.NewSender(storage, mc.From, mc.Sandbox.SimulateFail, mc.Sandbox.MaxAge, logger.With("component", "sandbox_sender"))
		return s, storage, nil
	}

	var signer *mailer.Signer
	if mc.DKIM.Enabled {
		var err error
		signer, err = mailer.NewSignerFromFile(mc.DKIM.KeyFile, mc.DKIM.Domain, mc.DKIM.Selector)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load DKIM key: %w", err)
		}
		logger.Info("DKIM signing enabled", "domain", mc.DKIM.Domain, "selector", mc.DKIM.Selector)
	}

	smtpSender := mailer.NewSMTPSender(
		mc.SMTP,
		mailer.Envelope{From: mc.From, FromName: mc.FromName},
		signer,
		logger.With("component", "smtp_sender"),
	)
	return mailer.NewThrottled(smtpSender, mc.MaxPerSecond), nil, nil
}

// sandboxOrNil avoids handing the API a typed nil interface
func sandboxOrNil(s *sandbox.Storage) api.Sandbox {
	if s == nil {
		return nil
	}
	return s
}

func startingSoon(cfg config.ReminderConfig) eligibility.StartingSoon {
	return eligibility.StartingSoon{
		Strategy:  eligibility.Strategy(cfg.Strategy),
		Window:    cfg.Window,
		Tolerance: cfg.Tolerance,
	}
}

func (a *App) registerJobs() error {
	tasks := map[string]scheduler.Task{
		config.JobReminders: func(ctx context.Context) (any, error) {
			return a.service.RunReminders(ctx)
		},
		config.JobAnnouncements: func(ctx context.Context) (any, error) {
			return a.service.RunAnnouncements(ctx)
		},
	}
	for name, task := range tasks {
		job := a.config.Scheduler.Jobs[name]
		if err := a.scheduler.Register(scheduler.Job{Name: name, Spec: job.Schedule, Task: task}); err != nil {
			return fmt.Errorf("failed to register job: %w", err)
		}
	}
	return nil
}

// RunJob runs one job synchronously and returns its summary
func (a *App) RunJob(ctx context.Context, name string) (*notify.Summary, error) {
	result, err := a.scheduler.RunNow(ctx, name)
	sum, _ := result.(*notify.Summary)
	return sum, err
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting notifier",
		"version", a.version,
		"api_addr", a.config.API.ListenAddr,
		"mailer_mode", a.config.Mailer.Mode,
		"ledger_backend", a.config.Ledger.Backend,
		"timezone", a.config.Ledger.Timezone,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.pruner.Start(ctx)
	if a.collector != nil {
		a.collector.Start(ctx)
	}

	errCh := make(chan error, 2)

	if a.apiServer != nil {
		go func() {
			if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
	}

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if a.config.Scheduler.Enabled {
		for _, name := range []string{config.JobReminders, config.JobAnnouncements} {
			job := a.config.Scheduler.Jobs[name]
			if job.Disabled {
				a.logger.Info("job disabled", "job", name)
				continue
			}
			if err := a.scheduler.Start(name, job.RunOnStart); err != nil {
				a.logger.Error("failed to start job", "job", name, "error", err)
			}
		}
	} else {
		a.logger.Info("scheduler disabled, jobs run only on demand")
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	if err := a.Shutdown(context.Background()); err != nil {
		return err
	}
	return runErr
}

// Shutdown stops the scheduler and waits for in-flight jobs, then stops the
// servers and background loops and closes the stores.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	a.scheduler.StopAll()
	if err := a.scheduler.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("scheduler shutdown error", "error", err)
	}

	if a.apiServer != nil {
		if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("api server shutdown error", "error", err)
		}
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}
	if a.collector != nil {
		a.collector.Stop()
	}

	a.pruner.Stop()

	a.closeStores()
	a.logger.Info("shutdown complete")
	return nil
}

// Close releases resources of an App that was never Run
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := a.scheduler.Shutdown(ctx)
	a.closeStores()
	return err
}

func (a *App) closeStores() {
	if a.sandbox != nil {
		if err := a.sandbox.Close(); err != nil {
			a.logger.Error("sandbox storage close error", "error", err)
		}
	}
	if err := a.ledger.Close(); err != nil {
		a.logger.Error("ledger close error", "error", err)
	}
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
