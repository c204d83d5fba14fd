package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tgcesports/notifier/internal/metrics"
)

// Pruner periodically removes entries past the retention window
type Pruner struct {
	ledger        *Ledger
	retentionDays int
	interval      time.Duration
	logger        *slog.Logger
	wg            sync.WaitGroup
	done          chan struct{}
}

// NewPruner creates a pruner for the given ledger
func NewPruner(l *Ledger, retentionDays int, interval time.Duration, logger *slog.Logger) *Pruner {
	return &Pruner{
		ledger:        l,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger,
		done:          make(chan struct{}),
	}
}

// Start starts the prune loop
func (p *Pruner) Start(ctx context.Context) {
	if p.interval <= 0 {
		return
	}

	p.wg.Add(1)
	go p.loop(ctx)

	p.logger.Info("ledger pruner started",
		"retention_days", p.retentionDays,
		"interval", p.interval,
	)
}

// Stop stops the pruner and waits for the loop to finish
func (p *Pruner) Stop() {
	close(p.done)
	p.wg.Wait()
	p.logger.Info("ledger pruner stopped")
}

func (p *Pruner) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Run immediately on start
	p.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce prunes once and refreshes the ledger size gauge
func (p *Pruner) RunOnce(ctx context.Context) int {
	deleted, err := p.ledger.PruneOlderThan(ctx, p.retentionDays)
	if err != nil {
		p.logger.Error("failed to prune ledger", "error", err)
		return 0
	}

	if deleted > 0 {
		p.logger.Info("pruned ledger entries", "deleted", deleted)
	}

	if n, err := p.ledger.Count(ctx); err == nil {
		metrics.SetLedgerEntries(n)
	}
	return deleted
}
