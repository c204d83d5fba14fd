package notify

import (
	"context"
	"fmt"

	"github.com/tgcesports/notifier/internal/eligibility"
	"github.com/tgcesports/notifier/internal/ledger"
	"github.com/tgcesports/notifier/internal/tournament"
)

// RunAnnouncements notifies the recipient universe about tournaments whose
// registration is open. The universe is fetched once per run.
func (s *Service) RunAnnouncements(ctx context.Context) (*Summary, error) {
	sum, logger := s.startRun(ctx, ledger.KindNewTournament)
	defer s.finishRun(sum, logger)

	tournaments, err := s.source.FetchTournaments(ctx)
	if err != nil {
		sum.Message = "Failed to fetch tournaments."
		return sum, fmt.Errorf("fetch tournaments: %w", err)
	}
	sum.TournamentsMalformed = countMalformed(tournaments)

	now := s.now()
	cfg := s.opts.Announcement

	var open []tournament.Tournament
	for _, t := range tournaments {
		if _, outcome := t.StartTime(); outcome != tournament.ParseOK {
			continue
		}
		if !eligibility.HasOpenRegistration(t, now) {
			continue
		}
		if cfg.RequireRecent && !eligibility.IsRecentlyCreated(t, now, cfg.Lookback) {
			continue
		}
		open = append(open, t)
	}

	if len(open) == 0 {
		logger.Info("no tournaments open for registration", "tournaments", len(tournaments))
		sum.Message = "No new tournaments."
		return sum, nil
	}

	var pending []tournament.Tournament
	for _, t := range open {
		sent, err := s.alreadyNotified(ctx, logger, t, ledger.KindNewTournament)
		if err != nil {
			sum.Message = "Announcement run aborted."
			return sum, err
		}
		if sent {
			sum.EmailsSkipped++
			continue
		}
		pending = append(pending, t)
	}

	if len(pending) == 0 {
		sum.Message = fmt.Sprintf(
			"New tournament notification process complete. Total emails sent: 0. Emails skipped (already sent): %d.",
			sum.EmailsSkipped,
		)
		return sum, nil
	}

	records, err := s.fetchAudience(ctx)
	if err != nil {
		sum.Message = "Failed to fetch recipients."
		return sum, fmt.Errorf("fetch recipients: %w", err)
	}

	candidates := eligibility.DedupeRecipients(records)
	sum.RecipientsProcessed = len(candidates)

	allowed, filtered := s.filterAllowed(candidates)
	sum.RecipientsFiltered = filtered

	if len(allowed) == 0 {
		logger.Info("no allow-listed recipients to notify",
			"records", len(records),
			"filtered", filtered,
		)
		sum.Message = "No allow-listed recipients to notify."
		return sum, nil
	}

	logger.Info("announcing tournaments",
		"tournaments", len(pending),
		"recipients", len(allowed),
		"audience", cfg.Audience,
	)

	for _, t := range pending {
		if err := ctx.Err(); err != nil {
			sum.Message = "Announcement run cancelled."
			return sum, err
		}

		tlog := logger.With("tournament_id", t.ID)
		sum.TournamentsProcessed++

		res, deliverErr := s.deliver(ctx, tlog, ledger.KindNewTournament, t, allowed, cfg.Delivery)
		sum.EmailsSent += res.sent
		sum.EmailsFailed += res.failed

		if err := s.record(context.WithoutCancel(ctx), tlog, ledger.KindNewTournament, t, len(allowed), res, sum.RunID, cfg.Delivery.Strategy); err != nil {
			sum.Message = "Announcement run aborted."
			return sum, fmt.Errorf("record announcement for tournament %s: %w", t.ID, err)
		}
		if deliverErr != nil {
			sum.Message = "Announcement run cancelled."
			return sum, deliverErr
		}

		tlog.Info("announcement sent",
			"tournament", t.Name,
			"sent", res.sent,
			"failed", res.failed,
		)
	}

	sum.Message = fmt.Sprintf(
		"New tournament notification process complete. Total emails sent: %d. Emails skipped (already sent): %d.",
		sum.EmailsSent, sum.EmailsSkipped,
	)
	return sum, nil
}

func (s *Service) fetchAudience(ctx context.Context) ([]tournament.Recipient, error) {
	if s.opts.Announcement.Audience == AudienceUsers {
		return s.source.FetchUsers(ctx)
	}
	return s.source.FetchRegistrations(ctx)
}
