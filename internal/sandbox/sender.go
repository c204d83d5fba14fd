package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tgcesports/notifier/internal/mailer"
)

const simulatedFailure = "550 User not found"

// Sender captures messages instead of delivering them
type Sender struct {
	storage      *Storage
	from         string
	logger       *slog.Logger
	simulateFail map[string]bool
	maxAge       time.Duration
	now          func() time.Time

	mu        sync.Mutex
	lastPrune time.Time
}

// NewSender creates a capture-only sender. Recipients listed in
// simulateFail are stored with a simulated permanent failure.
func NewSender(storage *Storage, from string, simulateFail []string, maxAge time.Duration, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	fail := make(map[string]bool, len(simulateFail))
	for _, r := range simulateFail {
		fail[strings.ToLower(strings.TrimSpace(r))] = true
	}
	return &Sender{
		storage:      storage,
		from:         from,
		logger:       logger,
		simulateFail: fail,
		maxAge:       maxAge,
		now:          time.Now,
	}
}

// Send stores msg in the sandbox
func (s *Sender) Send(ctx context.Context, msg mailer.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	captured := &Message{
		ID:         uuid.New().String(),
		From:       s.from,
		To:         msg.To,
		ToName:     msg.ToName,
		Subject:    msg.Subject,
		Kind:       msg.Headers[mailer.HeaderKind],
		HTML:       msg.HTML,
		Text:       msg.Text,
		Headers:    msg.Headers,
		CapturedAt: s.now(),
	}

	failed := s.simulateFail[strings.ToLower(msg.To)]
	if failed {
		captured.SimulatedErr = simulatedFailure
	}

	if err := s.storage.Save(ctx, captured); err != nil {
		return fmt.Errorf("sandbox: failed to save message: %w", err)
	}

	s.pruneIfDue(ctx)

	if failed {
		s.logger.Info("sandbox: simulated failure",
			"id", captured.ID,
			"recipient", msg.To,
		)
		return &mailer.SendError{
			Recipient: msg.To,
			Temporary: false,
			Message:   simulatedFailure,
		}
	}

	s.logger.Info("sandbox: message captured",
		"id", captured.ID,
		"recipient", msg.To,
		"subject", msg.Subject,
	)
	return nil
}

// pruneIfDue drops messages older than maxAge at most once an hour
func (s *Sender) pruneIfDue(ctx context.Context) {
	if s.maxAge <= 0 {
		return
	}

	s.mu.Lock()
	now := s.now()
	if now.Sub(s.lastPrune) < time.Hour {
		s.mu.Unlock()
		return
	}
	s.lastPrune = now
	s.mu.Unlock()

	n, err := s.storage.Clear(ctx, s.maxAge)
	if err != nil {
		s.logger.Warn("sandbox: failed to prune messages", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("sandbox: pruned old messages", "deleted", n)
	}
}
