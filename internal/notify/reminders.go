package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tgcesports/notifier/internal/eligibility"
	"github.com/tgcesports/notifier/internal/ledger"
	"github.com/tgcesports/notifier/internal/tournament"
)

// RunReminders notifies participants of tournaments starting soon. An error
// is returned only when the tournament list or the ledger is unavailable;
// per-tournament and per-recipient failures are reflected in the summary.
func (s *Service) RunReminders(ctx context.Context) (*Summary, error) {
	sum, logger := s.startRun(ctx, ledger.KindReminder)
	defer s.finishRun(sum, logger)

	tournaments, err := s.source.FetchTournaments(ctx)
	if err != nil {
		sum.Message = "Failed to fetch tournaments."
		return sum, fmt.Errorf("fetch tournaments: %w", err)
	}
	sum.TournamentsMalformed = countMalformed(tournaments)

	now := s.now()
	soon := s.startingSoon()

	var due []tournament.Tournament
	for _, t := range tournaments {
		if eligibility.IsStartingSoon(t, now, soon) {
			due = append(due, t)
		}
	}

	if len(due) == 0 {
		logger.Info("no tournaments starting soon",
			"tournaments", len(tournaments),
			"window", soon.Window,
			"strategy", string(soon.Strategy),
		)
		sum.Message = "No tournaments starting soon."
		return sum, nil
	}

	logger.Info("found tournaments starting soon", "count", len(due))

	for _, t := range due {
		if err := ctx.Err(); err != nil {
			sum.Message = "Reminder run cancelled."
			return sum, err
		}

		if err := s.remindTournament(ctx, logger, sum, t); err != nil {
			sum.Message = "Reminder run aborted."
			return sum, err
		}
	}

	sum.Message = fmt.Sprintf(
		"Reminder process complete. Total emails sent: %d. Emails skipped (already sent): %d. Non-allow-listed emails filtered: %d.",
		sum.EmailsSent, sum.EmailsSkipped, sum.RecipientsFiltered,
	)
	return sum, nil
}

func (s *Service) remindTournament(ctx context.Context, logger *slog.Logger, sum *Summary, t tournament.Tournament) error {
	logger = logger.With("tournament_id", t.ID)

	sent, err := s.alreadyNotified(ctx, logger, t, ledger.KindReminder)
	if err != nil {
		return err
	}
	if sent {
		sum.EmailsSkipped++
		return nil
	}

	participants, err := s.source.FetchParticipants(ctx, t.ID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger.Error("failed to fetch participants", "error", err)
		sum.TournamentsFailed++
		return nil
	}

	records := make([]tournament.Recipient, len(participants))
	for i, p := range participants {
		records[i] = tournament.Recipient{Email: p.Email, Name: p.Name, Language: p.Language, Active: true}
	}
	candidates := eligibility.DedupeRecipients(records)
	sum.RecipientsProcessed += len(candidates)

	allowed, filtered := s.filterAllowed(candidates)
	sum.RecipientsFiltered += filtered

	if len(allowed) == 0 {
		logger.Info("no allow-listed participants",
			"participants", len(participants),
			"filtered", filtered,
		)
		return nil
	}

	sum.TournamentsProcessed++
	delivery := s.opts.Reminder.Delivery
	res, deliverErr := s.deliver(ctx, logger, ledger.KindReminder, t, allowed, delivery)
	sum.EmailsSent += res.sent
	sum.EmailsFailed += res.failed

	if err := s.record(context.WithoutCancel(ctx), logger, ledger.KindReminder, t, len(allowed), res, sum.RunID, delivery.Strategy); err != nil {
		return fmt.Errorf("record reminder for tournament %s: %w", t.ID, err)
	}

	logger.Info("reminders sent",
		"tournament", t.Name,
		"sent", res.sent,
		"failed", res.failed,
		"filtered", filtered,
	)
	return deliverErr
}

// filterAllowed keeps active, allow-listed recipients and reports how many were dropped
func (s *Service) filterAllowed(candidates []tournament.Recipient) ([]recipient, int) {
	allowed := make([]recipient, 0, len(candidates))
	for _, c := range candidates {
		if !c.Active || !s.allow.Allows(c.Email) {
			continue
		}
		allowed = append(allowed, recipient{Email: c.Email, Name: c.Name, Language: c.Language})
	}
	return allowed, len(candidates) - len(allowed)
}
