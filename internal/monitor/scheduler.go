package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "fcfswatch/pkg/logx"
)

// Scheduler fires a job on a fixed interval. Start and Stop are idempotent.
type Scheduler struct {
	mu       sync.Mutex
	c        *cron.Cron
	cancel   context.CancelFunc
	interval time.Duration
	job      func(ctx context.Context)
	log      logx.Logger
}

func NewScheduler(interval time.Duration, job func(ctx context.Context), log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{interval: interval, job: job, log: log.With(logx.String("comp", "scheduler"))}
}

// cronLogger adapts logx to cron.Logger so recovered panics are logged.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}

// Start begins ticking. ctx bounds every job run; Stop cancels it too.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	cl := cronLogger{log: s.log}
	c := cron.New(cron.WithChain(cron.Recover(cl)), cron.WithLogger(cl))
	c.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		if runCtx.Err() != nil {
			return
		}
		s.job(runCtx)
	}))
	c.Start()
	s.c, s.cancel = c, cancel
	s.log.Info("scheduler started", logx.Duration("interval", s.interval))
	return true
}

// Stop halts the timer and cancels an in-flight job, then waits for it
// (bounded by ctx).
func (s *Scheduler) Stop(ctx context.Context) bool {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return false
	}
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out", logx.Err(ctx.Err()))
	}
	s.log.Info("scheduler stopped")
	return true
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetInterval applies to the next Start. A running scheduler is restarted
// under ctx.
func (s *Scheduler) SetInterval(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	same := s.interval == d
	s.interval = d
	running := s.c != nil
	s.mu.Unlock()
	if same || !running {
		return
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	s.Start(ctx)
}
