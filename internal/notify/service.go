// Package notify runs the reminder and announcement flows: it combines
// eligible tournaments with eligible recipients, consults the ledger and
// dispatches email.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tgcesports/notifier/internal/config"
	"github.com/tgcesports/notifier/internal/eligibility"
	"github.com/tgcesports/notifier/internal/ledger"
	"github.com/tgcesports/notifier/internal/mailer"
	"github.com/tgcesports/notifier/internal/metrics"
	"github.com/tgcesports/notifier/internal/render"
	"github.com/tgcesports/notifier/internal/tournament"
)

// Source provides tournament and recipient data
type Source interface {
	FetchTournaments(ctx context.Context) ([]tournament.Tournament, error)
	FetchParticipants(ctx context.Context, tournamentID string) ([]tournament.Participant, error)
	FetchRegistrations(ctx context.Context) ([]tournament.Recipient, error)
	FetchUsers(ctx context.Context) ([]tournament.Recipient, error)
}

// Ledger records which notifications were sent today
type Ledger interface {
	HasBeenNotified(ctx context.Context, tournamentID string, kind ledger.Kind) (bool, error)
	MarkNotified(ctx context.Context, tournamentID string, kind ledger.Kind, rec ledger.Record) (bool, error)
	PruneOlderThan(ctx context.Context, days int) (int, error)
}

// Renderer builds message content
type Renderer interface {
	Reminder(t tournament.Tournament, name string, lang tournament.Language) (render.Content, error)
	Announcement(t tournament.Tournament, name string, lang tournament.Language) (render.Content, error)
	ReminderDigest(t tournament.Tournament, recipients []render.DigestRecipient) (render.Content, error)
	AnnouncementDigest(t tournament.Tournament, recipients []render.DigestRecipient) (render.Content, error)
}

// AllowList decides which addresses may receive email
type AllowList interface {
	Allows(email string) bool
}

// Delivery strategies
const (
	DeliveryIndividual   = "individual"
	DeliveryConsolidated = "consolidated"
)

// Announcement audiences
const (
	AudienceRegistrations = "registrations"
	AudienceUsers         = "users"
)

// Options configures both flows
type Options struct {
	Reminder      config.ReminderConfig
	Announcement  config.AnnouncementConfig
	RetentionDays int
}

// OptionsFromConfig extracts the flow settings from cfg
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Reminder:      cfg.Reminder,
		Announcement:  cfg.Announcement,
		RetentionDays: cfg.Ledger.RetentionDays,
	}
}

// Summary is the outcome of one run. It is returned to the caller and never persisted.
type Summary struct {
	RunID                string      `json:"runId"`
	Kind                 ledger.Kind `json:"kind"`
	StartedAt            time.Time   `json:"startedAt"`
	FinishedAt           time.Time   `json:"finishedAt"`
	EmailsSent           int         `json:"emailsSent"`
	EmailsFailed         int         `json:"emailsFailed"`
	EmailsSkipped        int         `json:"emailsSkipped"`
	RecipientsFiltered   int         `json:"recipientsFiltered"`
	RecipientsProcessed  int         `json:"recipientsProcessed"`
	TournamentsProcessed int         `json:"tournamentsProcessed"`
	TournamentsFailed    int         `json:"tournamentsFailed"`
	TournamentsMalformed int         `json:"tournamentsMalformed"`
	Message              string      `json:"message"`
}

// ResultMessage returns the human-readable outcome
func (s *Summary) ResultMessage() string {
	return s.Message
}

// Service runs notification flows. It holds no global state; every
// collaborator is injected.
type Service struct {
	source   Source
	ledger   Ledger
	sender   mailer.Sender
	renderer Renderer
	allow    AllowList
	opts     Options
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates a notification service
func NewService(source Source, l Ledger, sender mailer.Sender, renderer Renderer, allow AllowList, opts Options, logger *slog.Logger) *Service {
	return &Service{
		source:   source,
		ledger:   l,
		sender:   sender,
		renderer: renderer,
		allow:    allow,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// SetClock replaces the clock used for eligibility decisions
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) startRun(ctx context.Context, kind ledger.Kind) (*Summary, *slog.Logger) {
	sum := &Summary{
		RunID:     uuid.New().String(),
		Kind:      kind,
		StartedAt: s.now(),
	}
	logger := s.logger.With("run_id", sum.RunID, "kind", string(kind))

	if s.opts.RetentionDays > 0 {
		n, err := s.ledger.PruneOlderThan(ctx, s.opts.RetentionDays)
		if err != nil {
			logger.Warn("ledger prune failed", "error", err)
		} else if n > 0 {
			logger.Info("pruned ledger entries", "deleted", n)
		}
	}

	return sum, logger
}

func (s *Service) finishRun(sum *Summary, logger *slog.Logger) {
	sum.FinishedAt = s.now()

	kind := string(sum.Kind)
	metrics.AddEmailsSent(kind, sum.EmailsSent)
	metrics.AddEmailsFailed(kind, sum.EmailsFailed)
	metrics.AddTournamentsSkipped(kind, sum.EmailsSkipped)
	metrics.AddRecipientsFiltered(kind, sum.RecipientsFiltered)
	metrics.AddTournamentsMalformed(sum.TournamentsMalformed)

	logger.Info("run complete",
		"emails_sent", sum.EmailsSent,
		"emails_failed", sum.EmailsFailed,
		"emails_skipped", sum.EmailsSkipped,
		"recipients_filtered", sum.RecipientsFiltered,
		"tournaments_processed", sum.TournamentsProcessed,
		"tournaments_malformed", sum.TournamentsMalformed,
		"duration", sum.FinishedAt.Sub(sum.StartedAt),
	)
}

// countMalformed counts tournaments whose start time cannot be determined
func countMalformed(tournaments []tournament.Tournament) int {
	n := 0
	for _, t := range tournaments {
		if _, outcome := t.StartTime(); outcome != tournament.ParseOK {
			n++
		}
	}
	return n
}

func (s *Service) startingSoon() eligibility.StartingSoon {
	cfg := s.opts.Reminder
	soon := eligibility.StartingSoon{
		Strategy:  eligibility.Strategy(cfg.Strategy),
		Window:    cfg.Window,
		Tolerance: cfg.Tolerance,
	}
	if soon.Strategy == "" {
		soon.Strategy = eligibility.DefaultStartingSoon.Strategy
	}
	if soon.Window == 0 {
		soon.Window = eligibility.DefaultStartingSoon.Window
	}
	if soon.Tolerance == 0 {
		soon.Tolerance = eligibility.DefaultStartingSoon.Tolerance
	}
	return soon
}

// alreadyNotified wraps the ledger lookup with logging
func (s *Service) alreadyNotified(ctx context.Context, logger *slog.Logger, t tournament.Tournament, kind ledger.Kind) (bool, error) {
	sent, err := s.ledger.HasBeenNotified(ctx, t.ID, kind)
	if err != nil {
		return false, fmt.Errorf("check ledger for tournament %s: %w", t.ID, err)
	}
	if sent {
		logger.Info("already notified today, skipping",
			"tournament_id", t.ID,
			"tournament", t.Name,
		)
	}
	return sent, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
