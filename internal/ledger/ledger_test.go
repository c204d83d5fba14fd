package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newBoltLedger(t *testing.T) (*Ledger, *fakeClock, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := &fakeClock{t: time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)}
	return New(store, time.UTC, clock.Now), clock, path
}

func TestMarkAndCheck(t *testing.T) {
	l, _, _ := newBoltLedger(t)
	ctx := context.Background()

	sent, err := l.HasBeenNotified(ctx, "42", KindReminder)
	if err != nil {
		t.Fatalf("HasBeenNotified() error = %v", err)
	}
	if sent {
		t.Fatal("HasBeenNotified() = true on empty ledger")
	}

	stored, err := l.MarkNotified(ctx, "42", KindReminder, Record{
		RecipientCount: 3,
		EmailsSent:     2,
		EmailsFailed:   1,
		Metadata:       map[string]string{"tournament_name": "Cup"},
	})
	if err != nil {
		t.Fatalf("MarkNotified() error = %v", err)
	}
	if !stored {
		t.Error("MarkNotified() stored = false for first write")
	}

	if sent, _ := l.HasBeenNotified(ctx, "42", KindReminder); !sent {
		t.Error("HasBeenNotified() = false after MarkNotified")
	}
	if sent, _ := l.HasBeenNotified(ctx, "42", KindNewTournament); sent {
		t.Error("kinds must be tracked independently")
	}
	if sent, _ := l.HasBeenNotified(ctx, "43", KindReminder); sent {
		t.Error("tournaments must be tracked independently")
	}

	entries, err := l.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ListAll() returned %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Day != "2025-06-15" || e.RecipientCount != 3 || e.EmailsSent != 2 || e.EmailsFailed != 1 {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.Metadata["tournament_name"] != "Cup" {
		t.Errorf("metadata = %v", e.Metadata)
	}
}

func TestMarkNotifiedIdempotent(t *testing.T) {
	l, clock, _ := newBoltLedger(t)
	ctx := context.Background()

	if _, err := l.MarkNotified(ctx, "42", KindReminder, Record{EmailsSent: 5}); err != nil {
		t.Fatalf("MarkNotified() error = %v", err)
	}
	clock.Advance(time.Hour)
	stored, err := l.MarkNotified(ctx, "42", KindReminder, Record{EmailsSent: 9})
	if err != nil {
		t.Fatalf("MarkNotified() error = %v", err)
	}
	if stored {
		t.Error("second MarkNotified() on the same day stored a new entry")
	}

	entries, _ := l.ListAll(ctx)
	if len(entries) != 1 || entries[0].EmailsSent != 5 {
		t.Errorf("first entry should be kept unchanged, got %+v", entries)
	}
}

func TestNewDayResetsKey(t *testing.T) {
	l, clock, _ := newBoltLedger(t)
	ctx := context.Background()

	l.MarkNotified(ctx, "42", KindReminder, Record{})

	clock.Advance(24 * time.Hour)
	sent, err := l.HasBeenNotified(ctx, "42", KindReminder)
	if err != nil {
		t.Fatalf("HasBeenNotified() error = %v", err)
	}
	if sent {
		t.Error("HasBeenNotified() = true on the following day")
	}

	stored, _ := l.MarkNotified(ctx, "42", KindReminder, Record{})
	if !stored {
		t.Error("MarkNotified() on the following day should store")
	}
	if n, _ := l.Count(ctx); n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestLedgerLocation(t *testing.T) {
	riyadh, err := time.LoadLocation("Asia/Riyadh")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	defer store.Close()

	// 22:00 UTC is 01:00 the next day in Riyadh
	now := time.Date(2025, 6, 15, 22, 0, 0, 0, time.UTC)
	l := New(store, riyadh, func() time.Time { return now })
	if got := l.Today(); got != "2025-06-16" {
		t.Errorf("Today() = %s, want 2025-06-16", got)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	l, clock, path := newBoltLedger(t)
	ctx := context.Background()

	l.MarkNotified(ctx, "42", KindNewTournament, Record{RecipientCount: 2})
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	store, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("NewBoltStore() reopen error = %v", err)
	}
	defer store.Close()

	reopened := New(store, time.UTC, clock.Now)
	if sent, _ := reopened.HasBeenNotified(ctx, "42", KindNewTournament); !sent {
		t.Error("entry lost after reopen")
	}
}

func TestPruneOlderThan(t *testing.T) {
	l, clock, _ := newBoltLedger(t)
	ctx := context.Background()

	l.MarkNotified(ctx, "old", KindReminder, Record{})
	clock.Advance(3 * 24 * time.Hour)
	l.MarkNotified(ctx, "mid", KindReminder, Record{})
	clock.Advance(5 * 24 * time.Hour)
	l.MarkNotified(ctx, "new", KindReminder, Record{})

	removed, err := l.PruneOlderThan(ctx, 7)
	if err != nil {
		t.Fatalf("PruneOlderThan() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("PruneOlderThan() removed %d, want 1", removed)
	}

	removed, err = l.PruneOlderThan(ctx, 7)
	if err != nil {
		t.Fatalf("PruneOlderThan() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("second PruneOlderThan() removed %d, want 0", removed)
	}

	entries, _ := l.ListAll(ctx)
	if len(entries) != 2 || entries[0].TournamentID != "new" || entries[1].TournamentID != "mid" {
		t.Errorf("ListAll() should be newest first, got %+v", entries)
	}

	if _, err := l.PruneOlderThan(ctx, -1); err == nil {
		t.Error("PruneOlderThan(-1) error = nil")
	}
}

func TestPruneBoundary(t *testing.T) {
	l, clock, _ := newBoltLedger(t)
	ctx := context.Background()

	l.MarkNotified(ctx, "edge", KindReminder, Record{})
	clock.Advance(7 * 24 * time.Hour)

	removed, _ := l.PruneOlderThan(ctx, 7)
	if removed != 1 {
		t.Errorf("entry exactly at the cutoff should be pruned, removed %d", removed)
	}
}

func TestConcurrentMarkSerialized(t *testing.T) {
	l, _, _ := newBoltLedger(t)
	ctx := context.Background()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		stored int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.MarkNotified(ctx, "42", KindReminder, Record{})
			if err != nil {
				t.Errorf("MarkNotified() error = %v", err)
				return
			}
			if ok {
				mu.Lock()
				stored++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if stored != 1 {
		t.Errorf("%d concurrent writes stored, want exactly 1", stored)
	}
}

func TestClearAll(t *testing.T) {
	l, _, _ := newBoltLedger(t)
	ctx := context.Background()

	l.MarkNotified(ctx, "1", KindReminder, Record{})
	l.MarkNotified(ctx, "2", KindNewTournament, Record{})

	n, err := l.ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if n != 2 {
		t.Errorf("ClearAll() = %d, want 2", n)
	}
	if c, _ := l.Count(ctx); c != 0 {
		t.Errorf("Count() after clear = %d", c)
	}
	if sent, _ := l.HasBeenNotified(ctx, "1", KindReminder); sent {
		t.Error("entry survived ClearAll")
	}
}

func TestSummary(t *testing.T) {
	l, clock, _ := newBoltLedger(t)
	ctx := context.Background()

	l.MarkNotified(ctx, "1", KindReminder, Record{})
	l.MarkNotified(ctx, "2", KindReminder, Record{})
	clock.Advance(24 * time.Hour)
	l.MarkNotified(ctx, "1", KindNewTournament, Record{})

	summary, err := l.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if len(summary) != 2 {
		t.Fatalf("Summary() returned %d days, want 2", len(summary))
	}
	if summary[0].Day != "2025-06-16" || summary[0].ByKind[KindNewTournament] != 1 {
		t.Errorf("newest day = %+v", summary[0])
	}
	if summary[1].Total != 2 || summary[1].ByKind[KindReminder] != 2 {
		t.Errorf("oldest day = %+v", summary[1])
	}
}

func TestMarkNotifiedValidation(t *testing.T) {
	l, _, _ := newBoltLedger(t)
	ctx := context.Background()

	if _, err := l.MarkNotified(ctx, "", KindReminder, Record{}); err == nil {
		t.Error("MarkNotified() with empty id error = nil")
	}
	if _, err := l.MarkNotified(ctx, "1", Kind("digest"), Record{}); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("MarkNotified() with bad kind error = %v", err)
	}
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"reminder", "new_tournament"} {
		if _, err := ParseKind(s); err != nil {
			t.Errorf("ParseKind(%q) error = %v", s, err)
		}
	}
	if _, err := ParseKind("newsletter"); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("ParseKind(newsletter) error = %v", err)
	}
}

func TestPrunerRunOnce(t *testing.T) {
	l, clock, _ := newBoltLedger(t)
	ctx := context.Background()

	l.MarkNotified(ctx, "1", KindReminder, Record{})
	clock.Advance(10 * 24 * time.Hour)

	p := NewPruner(l, 7, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if removed := p.RunOnce(ctx); removed != 1 {
		t.Errorf("RunOnce() = %d, want 1", removed)
	}

	p.Start(ctx)
	p.Stop()
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("NOTIFIER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("NOTIFIER_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	store, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	defer store.Close()
	store.Clear(ctx)

	clock := &fakeClock{t: time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)}
	l := New(store, time.UTC, clock.Now)

	stored, err := l.MarkNotified(ctx, "42", KindReminder, Record{EmailsSent: 1, Metadata: map[string]string{"a": "b"}})
	if err != nil || !stored {
		t.Fatalf("MarkNotified() = %v, %v", stored, err)
	}
	if stored, _ := l.MarkNotified(ctx, "42", KindReminder, Record{}); stored {
		t.Error("duplicate insert stored")
	}
	if sent, _ := l.HasBeenNotified(ctx, "42", KindReminder); !sent {
		t.Error("HasBeenNotified() = false")
	}

	clock.Advance(8 * 24 * time.Hour)
	if removed, _ := l.PruneOlderThan(ctx, 7); removed != 1 {
		t.Errorf("PruneOlderThan() = %d, want 1", removed)
	}
}
