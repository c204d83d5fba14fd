package notify

import (
	"context"
	"log/slog"

	"github.com/tgcesports/notifier/internal/config"
	"github.com/tgcesports/notifier/internal/ledger"
	"github.com/tgcesports/notifier/internal/mailer"
	"github.com/tgcesports/notifier/internal/render"
	"github.com/tgcesports/notifier/internal/tournament"
)

// recipient is an allowed addressee for one batch
type recipient struct {
	Email    string
	Name     string
	Language tournament.Language
}

type batchResult struct {
	sent   int
	failed int
}

// deliver sends one tournament's batch. Per-recipient failures are counted
// and never abort the batch; only context cancellation stops it early.
func (s *Service) deliver(ctx context.Context, logger *slog.Logger, kind ledger.Kind, t tournament.Tournament, recipients []recipient, delivery config.DeliveryConfig) (batchResult, error) {
	if delivery.Strategy == DeliveryConsolidated {
		return s.deliverDigest(ctx, logger, kind, t, recipients, delivery.OperatorAddress)
	}

	var res batchResult
	for i, r := range recipients {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var (
			content render.Content
			err     error
		)
		if kind == ledger.KindReminder {
			content, err = s.renderer.Reminder(t, r.Name, r.Language)
		} else {
			content, err = s.renderer.Announcement(t, r.Name, r.Language)
		}
		if err != nil {
			logger.Error("failed to render message", "tournament_id", t.ID, "recipient", r.Email, "error", err)
			res.failed++
			continue
		}

		err = s.sender.Send(ctx, mailer.Message{
			To:      r.Email,
			ToName:  r.Name,
			Subject: content.Subject,
			HTML:    content.HTML,
			Text:    content.Text,
			Headers: headers(kind, t),
		})
		if err != nil {
			logger.Warn("failed to send email",
				"tournament_id", t.ID,
				"recipient", r.Email,
				"temporary", mailer.IsTemporary(err),
				"error", err,
			)
			res.failed++
		} else {
			logger.Debug("email sent",
				"tournament_id", t.ID,
				"recipient", r.Email,
				"language", string(r.Language),
			)
			res.sent++
		}

		attempts := i + 1
		if delivery.BatchSize > 0 && attempts%delivery.BatchSize == 0 && attempts < len(recipients) {
			if err := s.sleep(ctx, delivery.BatchPause); err != nil {
				return res, err
			}
		}
	}

	return res, nil
}

// deliverDigest sends a single message listing every recipient to the operator
func (s *Service) deliverDigest(ctx context.Context, logger *slog.Logger, kind ledger.Kind, t tournament.Tournament, recipients []recipient, operator string) (batchResult, error) {
	rows := make([]render.DigestRecipient, len(recipients))
	for i, r := range recipients {
		rows[i] = render.DigestRecipient{Email: r.Email, Name: r.Name}
	}

	var (
		content render.Content
		err     error
	)
	if kind == ledger.KindReminder {
		content, err = s.renderer.ReminderDigest(t, rows)
	} else {
		content, err = s.renderer.AnnouncementDigest(t, rows)
	}
	if err != nil {
		logger.Error("failed to render digest", "tournament_id", t.ID, "error", err)
		return batchResult{failed: 1}, nil
	}

	err = s.sender.Send(ctx, mailer.Message{
		To:      operator,
		Subject: content.Subject,
		HTML:    content.HTML,
		Text:    content.Text,
		Headers: headers(kind, t),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return batchResult{failed: 1}, ctxErr
		}
		logger.Warn("failed to send digest",
			"tournament_id", t.ID,
			"recipient", operator,
			"error", err,
		)
		return batchResult{failed: 1}, nil
	}

	logger.Info("sent consolidated notification",
		"tournament_id", t.ID,
		"recipient", operator,
		"listed", len(recipients),
	)
	return batchResult{sent: 1}, nil
}

func headers(kind ledger.Kind, t tournament.Tournament) map[string]string {
	return map[string]string{
		mailer.HeaderKind:       string(kind),
		mailer.HeaderTournament: t.ID,
	}
}

// record writes the ledger entry for a finished batch. A batch where every
// send failed is not recorded so that the next run retries it.
func (s *Service) record(ctx context.Context, logger *slog.Logger, kind ledger.Kind, t tournament.Tournament, listed int, res batchResult, runID, strategy string) error {
	if res.sent == 0 {
		logger.Warn("no emails delivered, ledger not updated", "tournament_id", t.ID)
		return nil
	}

	if strategy == "" {
		strategy = DeliveryIndividual
	}

	_, err := s.ledger.MarkNotified(ctx, t.ID, kind, ledger.Record{
		RecipientCount: listed,
		EmailsSent:     res.sent,
		EmailsFailed:   res.failed,
		Metadata: map[string]string{
			"tournament_name": t.Name,
			"delivery":        strategy,
			"run_id":          runID,
		},
	})
	return err
}
