package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fcfswatch/internal/eventbus"
	rtsup "fcfswatch/internal/runtime/supervisor"
	"fcfswatch/internal/storage"
	"fcfswatch/internal/transport"
	logx "fcfswatch/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
	ErrNoAdapter = errors.New("notifier has no transport adapter")
)

type job struct {
	n   transport.Notification
	key string
}

// Service delivers notifications through one transport with a shared rate
// limit. Send/SendObserved are synchronous; Notify queues onto a worker
// pool. Safe for concurrent use.
type Service struct {
	log     logx.Logger
	adapter transport.Adapter
	bus     eventbus.Bus
	store   storage.Store

	dedup  *dedupCache
	recent history

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	run     *pool // nil while stopped
}

// pool is one Start..Stop lifetime of the async pipeline.
type pool struct {
	queue    chan job
	sup      *rtsup.Supervisor
	inflight sync.WaitGroup // Notify calls between admission and enqueue
	closing  bool
	done     chan struct{}
}

func New(cfg Config, adapter transport.Adapter, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{
		adapter: adapter,
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
		store:   store,
		dedup:   newDedupCache(),
	}
	s.Apply(cfg)
	return s
}

func normalize(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	cfg.RetryMax = max(cfg.RetryMax, 0)
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	cfg.DedupWindow = max(cfg.DedupWindow, 0)
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	return cfg
}

// Supervisor returns the worker supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return s.run.sup
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps pacing, retry and dedup settings. Worker count and queue
// size take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = normalize(cfg)
	// Burst equals the per-second rate so short spikes are not throttled.
	lim := rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Lock()
	s.cfg, s.limiter = cfg, lim
	s.mu.Unlock()
}

// Start launches the worker pool. It is a no-op when disabled or already
// running; a Start racing a Stop waits for the Stop to finish.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if p := s.run; p != nil && p.closing {
		s.mu.Unlock()
		select {
		case <-p.done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	if s.run != nil || !s.cfg.Enabled {
		return
	}

	p := &pool{
		queue: make(chan job, s.cfg.QueueSize),
		done:  make(chan struct{}),
		// notifier failures must not take down the app
		sup: rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
	}
	s.run = p

	unexpected := func(c context.Context, what string) error {
		if c.Err() != nil {
			return c.Err()
		}
		s.mu.Lock()
		closing := p.closing
		s.mu.Unlock()
		if closing {
			return context.Canceled
		}
		return fmt.Errorf("notifier %s exited unexpectedly", what)
	}

	if s.cfg.PersistDedup && s.store != nil {
		writes := s.dedup.attach(s.store)
		st := s.store
		p.sup.GoRestart("dedup.persist", func(c context.Context) error {
			flushDedup(c, writes, st)
			return unexpected(c, "dedup flush")
		}, rtsup.WithPublishFirstError(true))
	}
	for i := range s.cfg.Workers {
		p.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.work(c, p.queue)
			return unexpected(c, "worker")
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop stops intake and drains the queue best-effort until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	p := s.run
	if p == nil {
		s.mu.Unlock()
		return
	}
	first := !p.closing
	p.closing = true
	s.mu.Unlock()

	if first {
		go func() {
			p.inflight.Wait()
			s.dedup.detach()
			close(p.queue)
			_ = p.sup.Wait(context.Background())
			s.mu.Lock()
			s.run = nil
			s.mu.Unlock()
			close(p.done)
		}()
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		if first {
			p.sup.Cancel()
		}
	}
}

// Notify enqueues n for asynchronous delivery. Duplicates within the dedup
// window are dropped silently.
func (s *Service) Notify(ctx context.Context, n transport.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	cfg, p := s.cfg, s.run
	switch {
	case !cfg.Enabled:
		s.mu.Unlock()
		return ErrDisabled
	case p == nil || p.closing:
		s.mu.Unlock()
		return ErrStopped
	}
	p.inflight.Add(1)
	s.mu.Unlock()
	defer p.inflight.Done()

	key := dedupKey(n)
	if key != "" && cfg.DedupWindow > 0 && !s.dedup.allow(ctx, key, cfg.DedupWindow, cfg.DedupMaxEntries) {
		s.log.Debug("notification deduped", logx.String("channel", n.Channel), logx.Int64("chat_id", n.Target.ChatID))
		return nil
	}

	select {
	case p.queue <- job{n: n, key: key}:
		return nil
	default:
		s.publish(eventbus.TopicNotifyFailed, n, key, 0, ErrQueueFull)
		return ErrQueueFull
	}
}

// Snapshot returns the most recent successful sends, oldest first.
func (s *Service) Snapshot() []HistoryItem { return s.recent.snapshot() }

func (s *Service) publish(topic string, n transport.Notification, key string, attempts int, err error) {
	now := time.Now()
	ev := NotificationEvent{Channel: n.Channel, ChatID: n.Target.ChatID, ThreadID: n.Target.ThreadID, Key: key, Attempts: attempts, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: topic, Time: now, Data: ev})
}

func (s *Service) work(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			_ = s.deliver(ctx, j.n, j.key, nil)
		}
	}
}
