// Package ledger records which (tournament, kind, day) notifications were
// already sent so that a tournament is notified at most once per day.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Kind is a notification kind
type Kind string

const (
	KindReminder      Kind = "reminder"
	KindNewTournament Kind = "new_tournament"
)

// ErrInvalidKind is returned for an unknown notification kind
var ErrInvalidKind = errors.New("invalid notification kind")

// ParseKind validates a notification kind
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindReminder, KindNewTournament:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: %q (must be %s or %s)", ErrInvalidKind, s, KindReminder, KindNewTournament)
}

// DayLayout is the ISO date form used in keys
const DayLayout = "2006-01-02"

// Entry is one recorded notification
type Entry struct {
	Key            string            `json:"key"`
	TournamentID   string            `json:"tournament_id"`
	Kind           Kind              `json:"kind"`
	Day            string            `json:"day"`
	SentAt         time.Time         `json:"sent_at"`
	RecipientCount int               `json:"recipient_count"`
	EmailsSent     int               `json:"emails_sent"`
	EmailsFailed   int               `json:"emails_failed"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Key builds the composite de-duplication key
func Key(tournamentID string, kind Kind, day string) string {
	return day + "|" + string(kind) + "|" + tournamentID
}

// Record describes a batch to be written to the ledger
type Record struct {
	RecipientCount int
	EmailsSent     int
	EmailsFailed   int
	Metadata       map[string]string
}

// Store persists ledger entries
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	// PutIfAbsent stores entry unless its key exists. It reports whether it stored.
	PutIfAbsent(ctx context.Context, entry *Entry) (bool, error)
	// DeleteOlderThan removes entries whose SentAt is not after cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	List(ctx context.Context) ([]*Entry, error)
	Clear(ctx context.Context) (int, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Ledger applies the calendar rules on top of a Store
type Ledger struct {
	store Store
	loc   *time.Location
	now   func() time.Time

	// mu serializes writes
	mu sync.Mutex
}

// New creates a ledger. loc defines the calendar day; now defaults to time.Now.
func New(store Store, loc *time.Location, now func() time.Time) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, loc: loc, now: now}
}

// Today returns the current ledger day
func (l *Ledger) Today() string {
	return l.now().In(l.loc).Format(DayLayout)
}

// HasBeenNotified reports whether an entry exists for today
func (l *Ledger) HasBeenNotified(ctx context.Context, tournamentID string, kind Kind) (bool, error) {
	entry, err := l.store.Get(ctx, Key(tournamentID, kind, l.Today()))
	if err != nil {
		return false, fmt.Errorf("ledger lookup: %w", err)
	}
	return entry != nil, nil
}

// MarkNotified records a batch for today. A second call for the same key on
// the same day keeps the first entry and reports false.
func (l *Ledger) MarkNotified(ctx context.Context, tournamentID string, kind Kind, rec Record) (bool, error) {
	if tournamentID == "" {
		return false, fmt.Errorf("tournament id is required")
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	day := now.In(l.loc).Format(DayLayout)
	entry := &Entry{
		Key:            Key(tournamentID, kind, day),
		TournamentID:   tournamentID,
		Kind:           kind,
		Day:            day,
		SentAt:         now.UTC(),
		RecipientCount: rec.RecipientCount,
		EmailsSent:     rec.EmailsSent,
		EmailsFailed:   rec.EmailsFailed,
		Metadata:       rec.Metadata,
	}

	stored, err := l.store.PutIfAbsent(ctx, entry)
	if err != nil {
		return false, fmt.Errorf("ledger write: %w", err)
	}
	return stored, nil
}

// PruneOlderThan removes entries sent more than days ago and returns how many were removed
func (l *Ledger) PruneOlderThan(ctx context.Context, days int) (int, error) {
	if days < 0 {
		return 0, fmt.Errorf("days must not be negative")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := l.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ledger prune: %w", err)
	}
	return n, nil
}

// ListAll returns every entry, newest first
func (l *Ledger) ListAll(ctx context.Context) ([]*Entry, error) {
	entries, err := l.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger list: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].SentAt.After(entries[j].SentAt)
	})
	return entries, nil
}

// ClearAll removes every entry and returns how many were removed
func (l *Ledger) ClearAll(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.store.Clear(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger clear: %w", err)
	}
	return n, nil
}

// Count returns the number of entries
func (l *Ledger) Count(ctx context.Context) (int, error) {
	return l.store.Count(ctx)
}

// DaySummary counts entries of one day by kind
type DaySummary struct {
	Day    string       `json:"day"`
	Total  int          `json:"total"`
	ByKind map[Kind]int `json:"by_kind"`
}

// Summary groups entries by day, newest day first
func (l *Ledger) Summary(ctx context.Context) ([]DaySummary, error) {
	entries, err := l.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger list: %w", err)
	}

	byDay := make(map[string]*DaySummary)
	for _, e := range entries {
		s, ok := byDay[e.Day]
		if !ok {
			s = &DaySummary{Day: e.Day, ByKind: make(map[Kind]int)}
			byDay[e.Day] = s
		}
		s.Total++
		s.ByKind[e.Kind]++
	}

	out := make([]DaySummary, 0, len(byDay))
	for _, s := range byDay {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day > out[j].Day })
	return out, nil
}

// Close closes the underlying store
func (l *Ledger) Close() error {
	return l.store.Close()
}
