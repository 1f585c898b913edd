package workers_test

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/workers"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	cfg := workers.DefaultPoolConfig("test")
	cfg.NumWorkers = 2
	p := workers.NewPool(zap.NewNop(), cfg)
	p.Start()
	defer p.Stop()

	var ran int64
	for i := 0; i < 10; i++ {
		if err := p.SubmitFunc(func() error {
			atomic.AddInt64(&ran, 1)
			return nil
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt64(&ran) < 10 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := atomic.LoadInt64(&ran); got != 10 {
		t.Fatalf("expected all 10 tasks to run, got %d", got)
	}
}

func TestPoolSubmitBeforeStartReturnsErrPoolStopped(t *testing.T) {
	p := workers.NewPool(zap.NewNop(), workers.DefaultPoolConfig("test"))
	if err := p.SubmitFunc(func() error { return nil }); err != workers.ErrPoolStopped {
		t.Fatalf("expected ErrPoolStopped before Start, got %v", err)
	}
}

func TestPoolRecoversTaskPanic(t *testing.T) {
	cfg := workers.DefaultPoolConfig("test")
	cfg.NumWorkers = 1
	p := workers.NewPool(zap.NewNop(), cfg)
	p.Start()
	defer p.Stop()

	if err := p.SubmitFunc(func() error { panic("boom") }); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, failed := p.Stats(); failed > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected the panicking task to be recorded as failed")
}
