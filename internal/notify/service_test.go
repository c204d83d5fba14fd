package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tgcesports/notifier/internal/config"
	"github.com/tgcesports/notifier/internal/eligibility"
	"github.com/tgcesports/notifier/internal/ledger"
	"github.com/tgcesports/notifier/internal/mailer"
	"github.com/tgcesports/notifier/internal/render"
	"github.com/tgcesports/notifier/internal/tournament"
)

var testNow = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

// fakeSource serves canned data through func fields
type fakeSource struct {
	tournaments   func(ctx context.Context) ([]tournament.Tournament, error)
	participants  func(ctx context.Context, id string) ([]tournament.Participant, error)
	registrations func(ctx context.Context) ([]tournament.Recipient, error)
	users         func(ctx context.Context) ([]tournament.Recipient, error)
}

func (f *fakeSource) FetchTournaments(ctx context.Context) ([]tournament.Tournament, error) {
	return f.tournaments(ctx)
}

func (f *fakeSource) FetchParticipants(ctx context.Context, id string) ([]tournament.Participant, error) {
	if f.participants == nil {
		return nil, nil
	}
	return f.participants(ctx, id)
}

func (f *fakeSource) FetchRegistrations(ctx context.Context) ([]tournament.Recipient, error) {
	if f.registrations == nil {
		return nil, nil
	}
	return f.registrations(ctx)
}

func (f *fakeSource) FetchUsers(ctx context.Context) ([]tournament.Recipient, error) {
	if f.users == nil {
		return nil, nil
	}
	return f.users(ctx)
}

// recordingSender records every message and fails the attempts listed in failOn (1-based)
type recordingSender struct {
	mu       sync.Mutex
	attempts int
	failOn   map[int]bool
	sent     []mailer.Message
}

func (r *recordingSender) Send(ctx context.Context, msg mailer.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.failOn[r.attempts] {
		return &mailer.SendError{Recipient: msg.To, Temporary: true, Message: "451 try later"}
	}
	r.sent = append(r.sent, msg)
	return nil
}

type harness struct {
	svc    *Service
	ledger *ledger.Ledger
	sender *recordingSender
	clock  time.Time
	sleeps []time.Duration
}

func newHarness(t *testing.T, source Source, opts Options) *harness {
	t.Helper()

	store, err := ledger.NewBoltStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	r, err := render.New()
	if err != nil {
		t.Fatalf("render.New() error = %v", err)
	}

	h := &harness{sender: &recordingSender{}, clock: testNow}
	h.ledger = ledger.New(store, time.UTC, func() time.Time { return h.clock })

	if opts.Reminder.Window == 0 {
		opts.Reminder = config.ReminderConfig{Window: 8 * time.Hour, Tolerance: 30 * time.Minute, Strategy: "window"}
	}
	if opts.RetentionDays == 0 {
		opts.RetentionDays = 7
	}

	allow := eligibility.NewAllowList([]string{"mailinator.com"})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.svc = NewService(source, h.ledger, h.sender, r, allow, opts, logger)
	h.svc.SetClock(func() time.Time { return h.clock })
	h.svc.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}
	return h
}

func (h *harness) entries(t *testing.T) []*ledger.Entry {
	t.Helper()
	entries, err := h.ledger.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	return entries
}

func tournaments(ts ...tournament.Tournament) func(ctx context.Context) ([]tournament.Tournament, error) {
	return func(ctx context.Context) ([]tournament.Tournament, error) { return ts, nil }
}

// soonCup starts 8 hours after testNow
var soonCup = tournament.Tournament{ID: "1", Name: "Soon Cup", FullName: "2025-06-15T18:00:00Z, Soon Cup"}

// openCup has registration open at testNow
var openCup = tournament.Tournament{
	ID:                  "2",
	Name:                "Open Cup",
	FullName:            "2025-06-20T18:00:00Z, Open Cup",
	RegistrationEnabled: true,
	RegistrationOpening: "2025-06-14T00:00:00Z",
	RegistrationClosing: "2025-06-18T00:00:00Z",
}

func participants(emails ...string) []tournament.Participant {
	out := make([]tournament.Participant, len(emails))
	for i, e := range emails {
		out[i] = tournament.Participant{Email: e, Name: strings.Split(e, "@")[0], Language: tournament.English}
	}
	return out
}

func TestAnnouncementEndToEnd(t *testing.T) {
	closed := openCup
	closed.ID = "3"
	closed.RegistrationEnabled = false

	future := openCup
	future.ID = "4"
	future.RegistrationOpening = "2025-06-16T00:00:00Z"

	source := &fakeSource{
		tournaments: tournaments(openCup, closed, future),
		registrations: func(ctx context.Context) ([]tournament.Recipient, error) {
			return []tournament.Recipient{
				{Email: "a@mailinator.com", Name: "A", Active: true},
				{Email: "b@gmail.com", Active: true},
				{Email: "c@MAILINATOR.com", Name: "C", Active: true},
				{Email: "d@yahoo.com", Active: true},
				{Email: "e@notmailinator.com", Active: true},
			}, nil
		},
	}

	h := newHarness(t, source, Options{})
	sum, err := h.svc.RunAnnouncements(context.Background())
	if err != nil {
		t.Fatalf("RunAnnouncements() error = %v", err)
	}

	if sum.EmailsSent != 2 {
		t.Errorf("EmailsSent = %d, want 2", sum.EmailsSent)
	}
	if sum.TournamentsProcessed != 1 {
		t.Errorf("TournamentsProcessed = %d, want 1", sum.TournamentsProcessed)
	}
	if sum.RecipientsFiltered != 3 {
		t.Errorf("RecipientsFiltered = %d, want 3", sum.RecipientsFiltered)
	}
	if sum.Kind != ledger.KindNewTournament || sum.RunID == "" {
		t.Errorf("unexpected summary identity: %+v", sum)
	}

	entries := h.entries(t)
	if len(entries) != 1 {
		t.Fatalf("ledger has %d entries, want 1", len(entries))
	}
	if entries[0].TournamentID != "2" || entries[0].EmailsSent != 2 || entries[0].RecipientCount != 2 {
		t.Errorf("unexpected entry: %+v", entries[0])
	}

	if len(h.sender.sent) != 2 {
		t.Fatalf("sender got %d messages, want 2", len(h.sender.sent))
	}
	if h.sender.sent[0].Subject != "New Tournament Alert: Open Cup" {
		t.Errorf("Subject = %q", h.sender.sent[0].Subject)
	}
	if h.sender.sent[0].Headers[mailer.HeaderKind] != "new_tournament" {
		t.Errorf("kind header = %q", h.sender.sent[0].Headers[mailer.HeaderKind])
	}
	if !strings.Contains(sum.Message, "Total emails sent: 2") {
		t.Errorf("Message = %q", sum.Message)
	}
}

func TestRemindersTwiceSameDay(t *testing.T) {
	source := &fakeSource{
		tournaments: tournaments(soonCup),
		participants: func(ctx context.Context, id string) ([]tournament.Participant, error) {
			return participants("a@mailinator.com", "b@mailinator.com"), nil
		},
	}
	h := newHarness(t, source, Options{})

	first, err := h.svc.RunReminders(context.Background())
	if err != nil {
		t.Fatalf("first RunReminders() error = %v", err)
	}
	if first.EmailsSent != 2 {
		t.Errorf("first run EmailsSent = %d, want 2", first.EmailsSent)
	}

	h.clock = h.clock.Add(10 * time.Minute)
	second, err := h.svc.RunReminders(context.Background())
	if err != nil {
		t.Fatalf("second RunReminders() error = %v", err)
	}
	if second.EmailsSent != 0 || second.EmailsSkipped != 1 {
		t.Errorf("second run sent %d skipped %d, want 0 and 1", second.EmailsSent, second.EmailsSkipped)
	}
	if len(h.sender.sent) != 2 {
		t.Errorf("sender got %d messages, want 2", len(h.sender.sent))
	}
	if n := len(h.entries(t)); n != 1 {
		t.Errorf("ledger has %d entries, want 1", n)
	}
}

func TestReminderSendFailureContinues(t *testing.T) {
	source := &fakeSource{
		tournaments: tournaments(soonCup),
		participants: func(ctx context.Context, id string) ([]tournament.Participant, error) {
			return participants("a@mailinator.com", "b@mailinator.com", "c@mailinator.com", "d@mailinator.com", "e@mailinator.com"), nil
		},
	}
	h := newHarness(t, source, Options{})
	h.sender.failOn = map[int]bool{2: true}

	sum, err := h.svc.RunReminders(context.Background())
	if err != nil {
		t.Fatalf("RunReminders() error = %v", err)
	}

	if h.sender.attempts != 5 {
		t.Errorf("attempts = %d, want 5", h.sender.attempts)
	}
	if sum.EmailsSent != 4 || sum.EmailsFailed != 1 {
		t.Errorf("sent %d failed %d, want 4 and 1", sum.EmailsSent, sum.EmailsFailed)
	}

	entries := h.entries(t)
	if len(entries) != 1 || entries[0].EmailsFailed != 1 || entries[0].EmailsSent != 4 {
		t.Errorf("unexpected ledger entries: %+v", entries)
	}
}

func TestReminderAllSendsFailNotRecorded(t *testing.T) {
	source := &fakeSource{
		tournaments: tournaments(soonCup),
		participants: func(ctx context.Context, id string) ([]tournament.Participant, error) {
			return participants("a@mailinator.com", "b@mailinator.com"), nil
		},
	}
	h := newHarness(t, source, Options{})
	h.sender.failOn = map[int]bool{1: true, 2: true}

	sum, err := h.svc.RunReminders(context.Background())
	if err != nil {
		t.Fatalf("RunReminders() error = %v", err)
	}
	if sum.EmailsFailed != 2 {
		t.Errorf("EmailsFailed = %d, want 2", sum.EmailsFailed)
	}
	if n := len(h.entries(t)); n != 0 {
		t.Errorf("ledger has %d entries, want 0", n)
	}
}

func TestRemindersMalformedExcluded(t *testing.T) {
	source := &fakeSource{
		tournaments: tournaments(
			tournament.Tournament{ID: "x", Name: "No date"},
			tournament.Tournament{ID: "y", Name: "Bad date", FullName: "tomorrow evening, Cup"},
		),
		participants: func(ctx context.Context, id string) ([]tournament.Participant, error) {
			t.Errorf("participants fetched for malformed tournament %s", id)
			return nil, nil
		},
	}
	h := newHarness(t, source, Options{})

	sum, err := h.svc.RunReminders(context.Background())
	if err != nil {
		t.Fatalf("RunReminders() error = %v", err)
	}
	if sum.TournamentsMalformed != 2 {
		t.Errorf("TournamentsMalformed = %d, want 2", sum.TournamentsMalformed)
	}
	if sum.Message != "No tournaments starting soon." {
		t.Errorf("Message = %q", sum.Message)
	}
}

func TestAnnouncementsMalformedExcluded(t *testing.T) {
	badDate := openCup
	badDate.FullName = "not-a-date, Bad Cup"
	noDate := openCup
	noDate.ID = "5"
	noDate.FullName = ""

	source := &fakeSource{
		tournaments: tournaments(badDate, noDate),
		registrations: func(ctx context.Context) ([]tournament.Recipient, error) {
			t.Error("audience fetched although no tournament qualifies")
			return []tournament.Recipient{{Email: "a@mailinator.com", Active: true}}, nil
		},
	}
	h := newHarness(t, source, Options{})

	sum, err := h.svc.RunAnnouncements(context.Background())
	if err != nil {
		t.Fatalf("RunAnnouncements() error = %v", err)
	}
	if sum.TournamentsMalformed != 2 {
		t.Errorf("TournamentsMalformed = %d, want 2", sum.TournamentsMalformed)
	}
	if sum.EmailsSent != 0 || len(h.sender.sent) != 0 {
		t.Errorf("sent %d emails for tournaments without a start time", len(h.sender.sent))
	}
	if n := len(h.entries(t)); n != 0 {
		t.Errorf("ledger has %d entries, want 0", n)
	}
	if sum.Message != "No new tournaments." {
		t.Errorf("Message = %q", sum.Message)
	}
}

func TestRemindersUpstreamFailure(t *testing.T) {
	source := &fakeSource{
		tournaments: func(ctx context.Context) ([]tournament.Tournament, error) {
			return nil, tournament.ErrUpstreamUnavailable
		},
	}
	h := newHarness(t, source, Options{})

	sum, err := h.svc.RunReminders(context.Background())
	if !errors.Is(err, tournament.ErrUpstreamUnavailable) {
		t.Errorf("error = %v, want ErrUpstreamUnavailable", err)
	}
	if sum == nil || sum.Message == "" {
		t.Error("a failed run should still return a summary with a message")
	}
	if n := len(h.entries(t)); n != 0 {
		t.Errorf("ledger has %d entries, want 0", n)
	}
}

func TestReminderParticipantFailureIsContained(t *testing.T) {
	other := soonCup
	other.ID = "9"

	source := &fakeSource{
		tournaments: tournaments(soonCup, other),
		participants: func(ctx context.Context, id string) ([]tournament.Participant, error) {
			if id == "1" {
				return nil, tournament.ErrUpstreamUnavailable
			}
			return participants("a@mailinator.com"), nil
		},
	}
	h := newHarness(t, source, Options{})

	sum, err := h.svc.RunReminders(context.Background())
	if err != nil {
		t.Fatalf("RunReminders() error = %v", err)
	}
	if sum.TournamentsFailed != 1 || sum.EmailsSent != 1 {
		t.Errorf("failed %d sent %d, want 1 and 1", sum.TournamentsFailed, sum.EmailsSent)
	}
	entries := h.entries(t)
	if len(entries) != 1 || entries[0].TournamentID != "9" {
		t.Errorf("unexpected ledger entries: %+v", entries)
	}
}

func TestReminderNoAllowedParticipants(t *testing.T) {
	source := &fakeSource{
		tournaments: tournaments(soonCup),
		participants: func(ctx context.Context, id string) ([]tournament.Participant, error) {
			return participants("a@gmail.com", "b@yahoo.com"), nil
		},
	}
	h := newHarness(t, source, Options{})

	sum, err := h.svc.RunReminders(context.Background())
	if err != nil {
		t.Fatalf("RunReminders() error = %v", err)
	}
	if sum.RecipientsFiltered != 2 || sum.TournamentsProcessed != 0 {
		t.Errorf("filtered %d processed %d, want 2 and 0", sum.RecipientsFiltered, sum.TournamentsProcessed)
	}
	if n := len(h.entries(t)); n != 0 {
		t.Errorf("ledger has %d entries, want 0", n)
	}
}

func TestReminderLanguageAndDedupe(t *testing.T) {
	source := &fakeSource{
		tournaments: tournaments(soonCup),
		participants: func(ctx context.Context, id string) ([]tournament.Participant, error) {
			return []tournament.Participant{
				{Email: "a@mailinator.com", Name: "First", Language: tournament.English},
				{Email: "A@Mailinator.com", Name: "Second", Language: tournament.Arabic},
			}, nil
		},
	}
	h := newHarness(t, source, Options{})

	sum, err := h.svc.RunReminders(context.Background())
	if err != nil {
		t.Fatalf("RunReminders() error = %v", err)
	}
	if sum.EmailsSent != 1 || sum.RecipientsProcessed != 1 {
		t.Errorf("sent %d processed %d, want 1 and 1", sum.EmailsSent, sum.RecipientsProcessed)
	}
	if !strings.HasPrefix(h.sender.sent[0].Subject, "تذكير بالبطولة") {
		t.Errorf("last record should win, got subject %q", h.sender.sent[0].Subject)
	}
}

func TestConsolidatedDelivery(t *testing.T) {
	source := &fakeSource{
		tournaments: tournaments(openCup),
		registrations: func(ctx context.Context) ([]tournament.Recipient, error) {
			return []tournament.Recipient{
				{Email: "a@mailinator.com", Active: true},
				{Email: "b@mailinator.com", Active: true},
			}, nil
		},
	}
	opts := Options{Announcement: config.AnnouncementConfig{
		Audience: AudienceRegistrations,
		Delivery: config.DeliveryConfig{Strategy: DeliveryConsolidated, OperatorAddress: "ops@tgcesports.gg"},
	}}
	h := newHarness(t, source, opts)

	sum, err := h.svc.RunAnnouncements(context.Background())
	if err != nil {
		t.Fatalf("RunAnnouncements() error = %v", err)
	}
	if sum.EmailsSent != 1 {
		t.Errorf("EmailsSent = %d, want 1", sum.EmailsSent)
	}
	if len(h.sender.sent) != 1 || h.sender.sent[0].To != "ops@tgcesports.gg" {
		t.Fatalf("unexpected messages: %+v", h.sender.sent)
	}
	if h.sender.sent[0].Subject != "New Tournament Alert: Open Cup (2 users)" {
		t.Errorf("Subject = %q", h.sender.sent[0].Subject)
	}

	entries := h.entries(t)
	if len(entries) != 1 || entries[0].RecipientCount != 2 || entries[0].Metadata["delivery"] != DeliveryConsolidated {
		t.Errorf("unexpected ledger entries: %+v", entries)
	}
}

func TestBatchPacing(t *testing.T) {
	source := &fakeSource{
		tournaments: tournaments(soonCup),
		participants: func(ctx context.Context, id string) ([]tournament.Participant, error) {
			return participants("a@mailinator.com", "b@mailinator.com", "c@mailinator.com", "d@mailinator.com", "e@mailinator.com"), nil
		},
	}
	opts := Options{Reminder: config.ReminderConfig{
		Window:    8 * time.Hour,
		Tolerance: 30 * time.Minute,
		Delivery:  config.DeliveryConfig{BatchSize: 2, BatchPause: time.Second},
	}}
	h := newHarness(t, source, opts)

	if _, err := h.svc.RunReminders(context.Background()); err != nil {
		t.Fatalf("RunReminders() error = %v", err)
	}
	if len(h.sleeps) != 2 {
		t.Errorf("paused %d times, want 2", len(h.sleeps))
	}
	for _, d := range h.sleeps {
		if d != time.Second {
			t.Errorf("pause = %v, want 1s", d)
		}
	}
}

func TestAnnouncementUsersAudience(t *testing.T) {
	var registrationsCalled bool
	source := &fakeSource{
		tournaments: tournaments(openCup),
		registrations: func(ctx context.Context) ([]tournament.Recipient, error) {
			registrationsCalled = true
			return nil, nil
		},
		users: func(ctx context.Context) ([]tournament.Recipient, error) {
			return []tournament.Recipient{
				{Email: "active@mailinator.com", Active: true},
				{Email: "inactive@mailinator.com", Active: false},
			}, nil
		},
	}
	opts := Options{Announcement: config.AnnouncementConfig{Audience: AudienceUsers}}
	h := newHarness(t, source, opts)

	sum, err := h.svc.RunAnnouncements(context.Background())
	if err != nil {
		t.Fatalf("RunAnnouncements() error = %v", err)
	}
	if registrationsCalled {
		t.Error("registrations fetched for the users audience")
	}
	if sum.EmailsSent != 1 || sum.RecipientsFiltered != 1 {
		t.Errorf("sent %d filtered %d, want 1 and 1", sum.EmailsSent, sum.RecipientsFiltered)
	}
}

func TestAnnouncementRequireRecent(t *testing.T) {
	recent := openCup
	recent.ID = "5"
	recent.FullName = "2025-06-15T06:00:00Z, Recent"

	source := &fakeSource{
		tournaments: tournaments(openCup, recent),
		registrations: func(ctx context.Context) ([]tournament.Recipient, error) {
			return []tournament.Recipient{{Email: "a@mailinator.com", Active: true}}, nil
		},
	}
	opts := Options{Announcement: config.AnnouncementConfig{RequireRecent: true, Lookback: 24 * time.Hour}}
	h := newHarness(t, source, opts)

	sum, err := h.svc.RunAnnouncements(context.Background())
	if err != nil {
		t.Fatalf("RunAnnouncements() error = %v", err)
	}
	if sum.TournamentsProcessed != 1 {
		t.Errorf("TournamentsProcessed = %d, want 1", sum.TournamentsProcessed)
	}
	entries := h.entries(t)
	if len(entries) != 1 || entries[0].TournamentID != "5" {
		t.Errorf("unexpected ledger entries: %+v", entries)
	}
}

func TestAnnouncementRecipientFetchFailure(t *testing.T) {
	source := &fakeSource{
		tournaments: tournaments(openCup),
		registrations: func(ctx context.Context) ([]tournament.Recipient, error) {
			return nil, tournament.ErrUpstreamUnavailable
		},
	}
	h := newHarness(t, source, Options{})

	_, err := h.svc.RunAnnouncements(context.Background())
	if !errors.Is(err, tournament.ErrUpstreamUnavailable) {
		t.Errorf("error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestAnnouncementSkipsWithoutFetchingAudience(t *testing.T) {
	calls := 0
	source := &fakeSource{
		tournaments: tournaments(openCup),
		registrations: func(ctx context.Context) ([]tournament.Recipient, error) {
			calls++
			return []tournament.Recipient{{Email: "a@mailinator.com", Active: true}}, nil
		},
	}
	h := newHarness(t, source, Options{})

	h.svc.RunAnnouncements(context.Background())
	sum, err := h.svc.RunAnnouncements(context.Background())
	if err != nil {
		t.Fatalf("RunAnnouncements() error = %v", err)
	}
	if sum.EmailsSkipped != 1 {
		t.Errorf("EmailsSkipped = %d, want 1", sum.EmailsSkipped)
	}
	if calls != 1 {
		t.Errorf("audience fetched %d times, want 1", calls)
	}
}

func TestRunPrunesLedger(t *testing.T) {
	source := &fakeSource{tournaments: tournaments()}
	h := newHarness(t, source, Options{})

	ctx := context.Background()
	h.ledger.MarkNotified(ctx, "old", ledger.KindReminder, ledger.Record{})
	h.clock = h.clock.Add(8 * 24 * time.Hour)

	if _, err := h.svc.RunReminders(ctx); err != nil {
		t.Fatalf("RunReminders() error = %v", err)
	}
	if n := len(h.entries(t)); n != 0 {
		t.Errorf("ledger has %d entries after run, want 0", n)
	}
}

func TestRemindersCancelled(t *testing.T) {
	source := &fakeSource{tournaments: tournaments(soonCup)}
	h := newHarness(t, source, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.svc.RunReminders(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
