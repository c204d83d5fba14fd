package metrics

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"
)

// LedgerStatsProvider reports the current ledger size
type LedgerStatsProvider interface {
	Count(ctx context.Context) (int, error)
}

// Collector periodically refreshes system and ledger gauges
type Collector struct {
	metrics     *Metrics
	ledgerStats LedgerStatsProvider
	storagePath string
	interval    time.Duration
	startTime   time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a new metrics collector.
// storagePath may be empty when the ledger is not file-backed.
func NewCollector(m *Metrics, ledgerStats LedgerStatsProvider, storagePath string, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 15 * time.Second
	}

	return &Collector{
		metrics:     m,
		ledgerStats: ledgerStats,
		storagePath: storagePath,
		interval:    interval,
		startTime:   time.Now(),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the collector background loop
func (c *Collector) Start(ctx context.Context) {
	c.collect(ctx)

	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

// collect updates every gauge once
func (c *Collector) collect(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.ledgerStats != nil {
		if n, err := c.ledgerStats.Count(ctx); err == nil {
			c.metrics.LedgerEntries.Set(float64(n))
		}
	}
}
