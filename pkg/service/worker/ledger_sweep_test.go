package worker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/themis/pkg/service/worker"
)

type mockEvicter struct {
	calls atomic.Int32
	idle  atomic.Int64
	swept chan struct{}
}

func (m *mockEvicter) EvictIdle(ctx context.Context, idle time.Duration) int {
	m.idle.Store(int64(idle))
	if m.calls.Add(1) == 2 {
		close(m.swept)
	}
	return 1
}

func TestLedgerSweepWorker(t *testing.T) {
	t.Run("sweeps on every tick until stopped", func(t *testing.T) {
		evicter := &mockEvicter{swept: make(chan struct{})}
		w := worker.NewLedgerSweepWorker(evicter, 5*time.Millisecond, 30*time.Minute)
		w.Start(t.Context())

		select {
		case <-evicter.swept:
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not sweep twice")
		}
		w.Stop()

		calls := evicter.calls.Load()
		gt.Number(t, calls).Greater(1)
		gt.Value(t, time.Duration(evicter.idle.Load())).Equal(30 * time.Minute)

		time.Sleep(20 * time.Millisecond)
		gt.Value(t, evicter.calls.Load()).Equal(calls)
	})

	t.Run("stops when the context is cancelled", func(t *testing.T) {
		evicter := &mockEvicter{swept: make(chan struct{})}
		ctx, cancel := context.WithCancel(t.Context())
		w := worker.NewLedgerSweepWorker(evicter, time.Hour, time.Minute)
		w.Start(ctx)
		cancel()

		done := make(chan struct{})
		go func() {
			w.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop")
		}
		gt.Value(t, evicter.calls.Load()).Equal(int32(0))
	})
}
