package eligibility

import (
	"testing"

	"github.com/tgcesports/notifier/internal/tournament"
)

func TestIsAllowedRecipient(t *testing.T) {
	tests := []struct {
		email     string
		allowList []string
		want      bool
	}{
		{"user@mailinator.com", []string{"mailinator.com"}, true},
		{"user@notmailinator.com", []string{"mailinator.com"}, false},
		{"user@mailinator", []string{"mailinator"}, true},
		{"user@mailinator.com", []string{"mailinator"}, true},
		{"user@notmailinator.com", []string{"mailinator"}, false},
		{"USER@Mailinator.COM", []string{"mailinator.com"}, true},
		{"user@sub.mailinator.com", []string{"mailinator.com"}, false},
		{"user@gmail.com", []string{"mailinator.com", "gmail.com"}, true},
		{"user@gmail.com", nil, false},
		{"not-an-email", []string{"mailinator"}, false},
		{"user@example.com", []string{"@example.com"}, true},
	}

	for _, tt := range tests {
		if got := IsAllowedRecipient(tt.email, tt.allowList); got != tt.want {
			t.Errorf("IsAllowedRecipient(%q, %v) = %v, want %v", tt.email, tt.allowList, got, tt.want)
		}
	}
}

func TestAllowListMutation(t *testing.T) {
	a := NewAllowList([]string{"mailinator.com"})

	if a.Allows("x@example.com") {
		t.Error("example.com allowed before Add")
	}
	if !a.Add("Example.com") {
		t.Error("Add() = false for new entry")
	}
	if a.Add("example.com") {
		t.Error("Add() = true for duplicate entry")
	}
	if !a.Allows("x@example.com") {
		t.Error("example.com not allowed after Add")
	}

	entries := a.Entries()
	if len(entries) != 2 || entries[0] != "example.com" || entries[1] != "mailinator.com" {
		t.Errorf("Entries() = %v", entries)
	}

	if !a.Remove("example.com") {
		t.Error("Remove() = false for existing entry")
	}
	if a.Remove("example.com") {
		t.Error("Remove() = true for missing entry")
	}
	if a.Add("  ") {
		t.Error("Add() = true for blank entry")
	}
}

func TestDedupeRecipients(t *testing.T) {
	in := []tournament.Recipient{
		{Email: "A@mailinator.com", Name: "First"},
		{Email: "b@mailinator.com", Name: "B"},
		{Email: "a@MAILINATOR.com", Name: "Second", Language: tournament.Arabic},
		{Email: "", Name: "Nobody"},
	}

	out := DedupeRecipients(in)
	if len(out) != 2 {
		t.Fatalf("got %d recipients, want 2", len(out))
	}
	if out[0].Name != "Second" || out[0].Language != tournament.Arabic {
		t.Errorf("last record should win, got %+v", out[0])
	}
	if out[1].Name != "B" {
		t.Errorf("order not preserved: %+v", out)
	}
}
