package worker

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/secmon-lab/themis/pkg/utils/logging"
)

var ledgerEvictions = promauto.NewCounter(prometheus.CounterOpts{
	Name: "themis_ledger_evictions_total",
	Help: "Conversations dropped from the in-process ledger cache",
})

// Evicter drops idle conversations from an in-process cache
type Evicter interface {
	EvictIdle(ctx context.Context, idle time.Duration) int
}

// LedgerSweepWorker periodically evicts idle conversations from the ledger
//
// Architecture assumptions:
// - Each server instance owns its own ledger cache
// - Evicted conversations are still in the repository and reload on access
type LedgerSweepWorker struct {
	ledger   Evicter
	interval time.Duration
	idle     time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewLedgerSweepWorker creates a worker that evicts conversations idle for
// longer than idle every interval
func NewLedgerSweepWorker(ledger Evicter, interval, idle time.Duration) *LedgerSweepWorker {
	return &LedgerSweepWorker{
		ledger:   ledger,
		interval: interval,
		idle:     idle,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background sweep loop without blocking
func (w *LedgerSweepWorker) Start(ctx context.Context) {
	logging.Default().Info("Ledger sweep worker starting",
		"interval", w.interval.String(),
		"idle", w.idle.String())

	go w.run(ctx)
}

// Stop signals the worker to stop and waits for completion
func (w *LedgerSweepWorker) Stop() {
	logging.Default().Info("Ledger sweep worker stopping")
	close(w.stopCh)
	<-w.doneCh
	logging.Default().Info("Ledger sweep worker stopped")
}

func (w *LedgerSweepWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)

		case <-w.stopCh:
			return

		case <-ctx.Done():
			logging.Default().Info("Ledger sweep worker context cancelled")
			return
		}
	}
}

func (w *LedgerSweepWorker) sweep(ctx context.Context) {
	n := w.ledger.EvictIdle(ctx, w.idle)
	ledgerEvictions.Add(float64(n))
	if n > 0 {
		logging.Default().Debug("Evicted idle conversations", "count", n)
	}
}
