package eligibility

import (
	"sort"
	"strings"
	"sync"

	"github.com/tgcesports/notifier/internal/tournament"
)

// IsAllowedRecipient reports whether email matches an allow-list entry.
// An entry containing a dot is a full domain and must match the suffix
// "@domain". A bare keyword matches "@keyword" anywhere or a "@keyword.com" suffix.
func IsAllowedRecipient(email string, allowList []string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return false
	}

	for _, entry := range allowList {
		entry = normalizeEntry(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, ".") {
			if strings.HasSuffix(email, "@"+entry) {
				return true
			}
			continue
		}
		if strings.Contains(email, "@"+entry) || strings.HasSuffix(email, "@"+entry+".com") {
			return true
		}
	}
	return false
}

func normalizeEntry(entry string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(entry)), "@")
}

// AllowList is a runtime-mutable set of allowed domains and keywords
type AllowList struct {
	mu      sync.RWMutex
	entries map[string]struct{}
}

// NewAllowList creates an allow-list from the given entries
func NewAllowList(entries []string) *AllowList {
	a := &AllowList{entries: make(map[string]struct{})}
	for _, e := range entries {
		a.Add(e)
	}
	return a
}

// Add inserts an entry. It returns false for empty or duplicate entries.
func (a *AllowList) Add(entry string) bool {
	entry = normalizeEntry(entry)
	if entry == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.entries[entry]; ok {
		return false
	}
	a.entries[entry] = struct{}{}
	return true
}

// Remove deletes an entry. It returns false when the entry was absent.
func (a *AllowList) Remove(entry string) bool {
	entry = normalizeEntry(entry)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.entries[entry]; !ok {
		return false
	}
	delete(a.entries, entry)
	return true
}

// Entries returns a sorted snapshot
func (a *AllowList) Entries() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.entries))
	for e := range a.entries {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Allows reports whether email matches the current entries
func (a *AllowList) Allows(email string) bool {
	return IsAllowedRecipient(email, a.Entries())
}

// DedupeRecipients collapses records sharing a lower-cased email.
// Order follows first appearance; the last record's attributes win.
func DedupeRecipients(records []tournament.Recipient) []tournament.Recipient {
	index := make(map[string]int, len(records))
	out := make([]tournament.Recipient, 0, len(records))
	for _, r := range records {
		key := strings.ToLower(strings.TrimSpace(r.Email))
		if key == "" {
			continue
		}
		if i, ok := index[key]; ok {
			out[i] = r
			continue
		}
		index[key] = len(out)
		out = append(out, r)
	}
	return out
}
