package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}

	if m.Registry() == nil {
		t.Error("Registry() returned nil")
	}

	if m.EmailsSentTotal == nil {
		t.Error("EmailsSentTotal is nil")
	}
	if m.EmailsFailedTotal == nil {
		t.Error("EmailsFailedTotal is nil")
	}
	if m.JobRunsTotal == nil {
		t.Error("JobRunsTotal is nil")
	}
	if m.LedgerEntries == nil {
		t.Error("LedgerEntries is nil")
	}
	if m.APIRequestsTotal == nil {
		t.Error("APIRequestsTotal is nil")
	}
}

func TestGlobalMetrics(t *testing.T) {
	if Global() != nil {
		t.Error("Global() should be nil before SetGlobal")
	}

	m := New()
	SetGlobal(m)

	if Global() != m {
		t.Error("Global() did not return the set metrics")
	}

	SetGlobal(nil)
}

func TestHelpersWithoutGlobal(t *testing.T) {
	SetGlobal(nil)

	// Must not panic
	AddEmailsSent("reminder", 3)
	AddEmailsFailed("reminder", 1)
	AddTournamentsSkipped("reminder", 1)
	AddRecipientsFiltered("reminder", 2)
	AddTournamentsMalformed(1)
	ObserveJobRun("reminders", "success", 1.5)
	SetJobRunning("reminders", true)
	IncUpstreamRequest("tournaments", "ok")
	SetLedgerEntries(4)
}

func TestEmailCounters(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	AddEmailsSent("reminder", 2)
	AddEmailsSent("reminder", 3)
	AddEmailsSent("new_tournament", 1)
	AddEmailsFailed("reminder", 1)
	AddEmailsFailed("reminder", 0)

	if got := testutil.ToFloat64(m.EmailsSentTotal.WithLabelValues("reminder")); got != 5 {
		t.Errorf("reminder sent = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.EmailsSentTotal.WithLabelValues("new_tournament")); got != 1 {
		t.Errorf("new_tournament sent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EmailsFailedTotal.WithLabelValues("reminder")); got != 1 {
		t.Errorf("reminder failed = %v, want 1", got)
	}
}

func TestJobMetrics(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	SetJobRunning("reminders", true)
	if got := testutil.ToFloat64(m.JobRunning.WithLabelValues("reminders")); got != 1 {
		t.Errorf("running = %v, want 1", got)
	}
	SetJobRunning("reminders", false)
	if got := testutil.ToFloat64(m.JobRunning.WithLabelValues("reminders")); got != 0 {
		t.Errorf("running = %v, want 0", got)
	}

	ObserveJobRun("reminders", "success", 0.2)
	ObserveJobRun("reminders", "error", 0.1)
	if got := testutil.ToFloat64(m.JobRunsTotal.WithLabelValues("reminders", "success")); got != 1 {
		t.Errorf("success runs = %v, want 1", got)
	}
}

func TestSetLedgerEntries(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	SetLedgerEntries(7)
	if got := testutil.ToFloat64(m.LedgerEntries); got != 7 {
		t.Errorf("ledger entries = %v, want 7", got)
	}
}
