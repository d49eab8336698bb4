package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"fcfswatch/internal/campaign"
	"fcfswatch/internal/catalog"
	"fcfswatch/internal/classifier"
	"fcfswatch/internal/eventbus"
	"fcfswatch/internal/storage"
	logx "fcfswatch/pkg/logx"
)

const (
	DefaultSpaceInterval = 30 * time.Second
	DefaultAllInterval   = 60 * time.Second
)

// Config is the hot-reloadable monitor configuration.
type Config struct {
	Mode             Mode
	SpaceInterval    time.Duration
	AllInterval      time.Duration
	MaxSpaces        int
	FailureThreshold int
	StaleAfter       time.Duration
	SendPacing       time.Duration
	Location         *time.Location
	LinkPreview      bool
	Keywords         []string
	DropKinds        []string
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeSpaces
	}
	if c.SpaceInterval <= 0 {
		c.SpaceInterval = DefaultSpaceInterval
	}
	if c.AllInterval <= 0 {
		c.AllInterval = DefaultAllInterval
	}
	if c.MaxSpaces <= 0 {
		c.MaxSpaces = DefaultMaxSpaces
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.SendPacing < 0 {
		c.SendPacing = 0
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Interval is the scan period for the configured mode.
func (c Config) Interval() time.Duration {
	if c.Mode == ModeAll {
		return c.AllInterval
	}
	return c.SpaceInterval
}

type Deps struct {
	Store    storage.Store
	Source   Source
	Sender   Sender
	Notifier Notifier
	Bus      eventbus.Bus
	Clock    Clock
}

// Status is what /status shows to one recipient.
type Status struct {
	Active           bool                   `json:"active"`
	Spaces           []storage.Subscription `json:"spaces"`
	Limit            int                    `json:"limit"`
	Mode             Mode                   `json:"mode"`
	Interval         time.Duration          `json:"interval"`
	SchedulerRunning bool                   `json:"scheduler_running"`
	State            ScanState              `json:"state"`
	Counts           storage.Counts         `json:"counts"`
}

type Health struct {
	Healthy bool                  `json:"healthy"`
	Sources []catalog.SourceHealth `json:"sources"`
	State   ScanState             `json:"state"`
}

type Stats struct {
	Counts storage.Counts `json:"counts"`
	State  ScanState      `json:"state"`
}

// Service is the command-facing facade over registry, scanner and scheduler.
type Service struct {
	store   storage.Store
	reg     *Registry
	disp    *Dispatcher
	scanner *Scanner
	sched   *Scheduler
	bus     eventbus.Bus
	log     logx.Logger

	mu      sync.Mutex
	cfg     Config
	baseCtx context.Context
}

func NewService(cfg Config, deps Deps, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = realClock{}
	}
	s := &Service{
		store:   deps.Store,
		bus:     deps.Bus,
		log:     log.With(logx.String("comp", "monitor")),
		cfg:     cfg,
		baseCtx: context.Background(),
	}
	s.reg = NewRegistry(deps.Store, cfg.MaxSpaces)
	s.disp = NewDispatcher(deps.Sender, deps.Store, deps.Clock, dispatchOptions(cfg), log)
	s.scanner = NewScanner(scannerConfig(cfg), ScannerDeps{
		Source:     deps.Source,
		Registry:   s.reg,
		Store:      deps.Store,
		Dispatcher: s.disp,
		Notifier:   deps.Notifier,
		Bus:        deps.Bus,
		Clock:      deps.Clock,
		Classifier: classifier.New(cfg.Keywords, cfg.DropKinds),
	}, log)
	s.scanner.OnIdle(func() { go s.stopIfIdle() })
	s.sched = NewScheduler(cfg.Interval(), s.tick, log)
	return s
}

func dispatchOptions(cfg Config) DispatchOptions {
	return DispatchOptions{Pacing: cfg.SendPacing, Location: cfg.Location, LinkPreview: cfg.LinkPreview}
}

func scannerConfig(cfg Config) ScannerConfig {
	return ScannerConfig{Mode: cfg.Mode, FailureThreshold: cfg.FailureThreshold, StaleAfter: cfg.StaleAfter}
}

func (s *Service) Registry() *Registry { return s.reg }

func (s *Service) Scanner() *Scanner { return s.scanner }

func (s *Service) Scheduler() *Scheduler { return s.sched }

func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) tick(ctx context.Context) {
	_, err := s.scanner.Scan(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrScanInProgress):
		s.log.Debug("tick dropped: scan in progress")
	case errors.Is(err, context.Canceled):
	default:
		s.log.Warn("scan failed", logx.Err(err))
	}
}

// Boot binds the scheduler to ctx and starts it when persisted recipients
// are already active.
func (s *Service) Boot(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	active, err := s.reg.Active(ctx)
	if err != nil {
		return err
	}
	if len(active) > 0 {
		s.ensureScheduler()
		s.log.Info("monitoring resumed", logx.Int("active_recipients", len(active)))
	}
	return nil
}

// Shutdown stops the scheduler and cancels an in-flight scan.
func (s *Service) Shutdown(ctx context.Context) {
	s.sched.Stop(ctx)
}

func (s *Service) ensureScheduler() {
	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()
	s.sched.Start(base)
}

func (s *Service) stopIfIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	active, err := s.reg.Active(s.baseCtx)
	if err != nil || len(active) > 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.baseCtx), 10*time.Second)
	defer cancel()
	if s.sched.Stop(ctx) {
		s.log.Info("monitoring idle; scheduler stopped")
	}
}

// StartMonitoring activates recipient. It reports true when the recipient
// was already active.
func (s *Service) StartMonitoring(ctx context.Context, recipient int64) (bool, error) {
	was, err := s.reg.IsActive(ctx, recipient)
	if err != nil {
		return false, err
	}
	if !was {
		if err := s.reg.SetActive(ctx, recipient, true); err != nil {
			return false, err
		}
		s.bus.Publish(eventbus.Event{Type: eventbus.TopicMonitoringToggle, Data: map[string]any{"recipient": recipient, "active": true}})
		s.log.Info("monitoring started", logx.Int64("recipient", recipient))
	}
	s.ensureScheduler()
	return was, nil
}

// StopMonitoring deactivates recipient. It reports whether it was active.
// The scheduler stops when no active recipient remains.
func (s *Service) StopMonitoring(ctx context.Context, recipient int64) (bool, error) {
	was, err := s.reg.IsActive(ctx, recipient)
	if err != nil {
		return false, err
	}
	if was {
		if err := s.reg.SetActive(ctx, recipient, false); err != nil {
			return false, err
		}
		s.bus.Publish(eventbus.Event{Type: eventbus.TopicMonitoringToggle, Data: map[string]any{"recipient": recipient, "active": false}})
		s.log.Info("monitoring stopped", logx.Int64("recipient", recipient))
	}
	s.stopIfIdle()
	return was, nil
}

func (s *Service) Status(ctx context.Context, recipient int64) (Status, error) {
	cfg := s.Config()
	active, err := s.reg.IsActive(ctx, recipient)
	if err != nil {
		return Status{}, err
	}
	subs, err := s.reg.List(ctx, recipient)
	if err != nil {
		return Status{}, err
	}
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Active:           active,
		Spaces:           subs,
		Limit:            s.reg.Limit(),
		Mode:             cfg.Mode,
		Interval:         cfg.Interval(),
		SchedulerRunning: s.sched.Running(),
		State:            s.scanner.State().Snapshot(),
		Counts:           counts,
	}, nil
}

// AddWatchedSpace accepts a space id or a quest URL.
func (s *Service) AddWatchedSpace(ctx context.Context, recipient int64, ref string) (campaign.Space, error) {
	id, err := campaign.ParseSpaceRef(ref)
	if err != nil {
		return campaign.Space{}, errors.Join(ErrInvalidSpace, err)
	}
	sp := campaign.Space{ID: id}
	if err := s.reg.Add(ctx, recipient, sp); err != nil {
		return sp, err
	}
	s.log.Info("space watched", logx.Int64("recipient", recipient), logx.String("space_id", id))
	return sp, nil
}

func (s *Service) RemoveWatchedSpace(ctx context.Context, recipient int64, ref string) (bool, error) {
	id, err := campaign.ParseSpaceRef(ref)
	if err != nil {
		return false, errors.Join(ErrInvalidSpace, err)
	}
	removed, err := s.reg.Remove(ctx, recipient, id)
	if err == nil && removed {
		s.log.Info("space unwatched", logx.Int64("recipient", recipient), logx.String("space_id", id))
	}
	return removed, err
}

func (s *Service) ListSpaces(ctx context.Context, recipient int64) ([]storage.Subscription, error) {
	return s.reg.List(ctx, recipient)
}

// HealthCheck probes every source. Healthy means at least one is up.
func (s *Service) HealthCheck(ctx context.Context) Health {
	srcs := s.scanner.Health(ctx)
	h := Health{Sources: srcs, State: s.scanner.State().Snapshot()}
	for _, sh := range srcs {
		if sh.Up {
			h.Healthy = true
			break
		}
	}
	return h
}

func (s *Service) TestScan(ctx context.Context) (TestReport, error) {
	return s.scanner.TestScan(ctx)
}

// ScanNow runs one scan immediately, outside the timer.
func (s *Service) ScanNow(ctx context.Context) (Report, error) {
	return s.scanner.Scan(ctx)
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Counts: counts, State: s.scanner.State().Snapshot()}, nil
}

// Apply hot-reloads the monitor config. A mode or interval change
// restarts a running scheduler.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	base := s.baseCtx
	s.mu.Unlock()

	s.reg.SetLimit(cfg.MaxSpaces)
	s.disp.SetOptions(dispatchOptions(cfg))
	s.scanner.SetConfig(scannerConfig(cfg))
	s.scanner.SetClassifier(classifier.New(cfg.Keywords, cfg.DropKinds))
	s.sched.SetInterval(base, cfg.Interval())
	s.log.Info("monitor config applied",
		logx.String("mode", string(cfg.Mode)),
		logx.Duration("interval", cfg.Interval()),
		logx.Int("max_spaces", cfg.MaxSpaces),
	)
}
