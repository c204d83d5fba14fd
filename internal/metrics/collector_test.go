package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type mockLedgerStats struct {
	count int
	err   error
}

func (m *mockLedgerStats) Count(ctx context.Context) (int, error) {
	return m.count, m.err
}

func TestCollectorCollect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	if err := os.WriteFile(path, make([]byte, 2048), 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	m := New()
	c := NewCollector(m, &mockLedgerStats{count: 12}, path, 0)

	c.collect(context.Background())

	if got := testutil.ToFloat64(m.LedgerEntries); got != 12 {
		t.Errorf("LedgerEntries = %v, want 12", got)
	}
	if got := testutil.ToFloat64(m.StorageUsedBytes); got != 2048 {
		t.Errorf("StorageUsedBytes = %v, want 2048", got)
	}
	if got := testutil.ToFloat64(m.Goroutines); got <= 0 {
		t.Errorf("Goroutines = %v, want > 0", got)
	}
}

func TestCollectorStartStop(t *testing.T) {
	m := New()
	c := NewCollector(m, nil, "", 0)

	c.Start(context.Background())
	c.Stop()
}
