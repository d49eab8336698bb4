package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "fcfswatch/pkg/logx"
)

func TestSchedulerStartStopIdempotent(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	s := NewScheduler(time.Second, func(context.Context) { runs.Add(1) }, logx.Nop())

	if !s.Start(context.Background()) {
		t.Fatalf("first Start returned false")
	}
	if s.Start(context.Background()) {
		t.Fatalf("second Start returned true")
	}
	if !s.Running() {
		t.Fatalf("not running")
	}

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatalf("job never fired")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !s.Stop(ctx) {
		t.Fatalf("first Stop returned false")
	}
	if s.Stop(ctx) {
		t.Fatalf("second Stop returned true")
	}
	if s.Running() {
		t.Fatalf("still running")
	}
}

func TestSchedulerStopCancelsJob(t *testing.T) {
	t.Parallel()
	entered := make(chan struct{}, 1)
	cancelled := make(chan struct{})
	var once sync.Once
	s := NewScheduler(time.Second, func(ctx context.Context) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-ctx.Done()
		once.Do(func() { close(cancelled) })
	}, logx.Nop())
	s.Start(context.Background())

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatalf("job never fired")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("in-flight job not cancelled")
	}
}
