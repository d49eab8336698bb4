package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fcfswatch/internal/campaign"
	"fcfswatch/internal/catalog"
	"fcfswatch/internal/classifier"
	"fcfswatch/internal/eventbus"
	"fcfswatch/internal/storage"
	"fcfswatch/internal/transport"
	"fcfswatch/pkg/tgui"
	logx "fcfswatch/pkg/logx"
)

var ErrScanInProgress = errors.New("scan already in progress")

const (
	DefaultFailureThreshold = 5
	DefaultStaleAfter       = 5 * time.Minute
)

// Source is the catalog as seen by the scanner.
type Source interface {
	Fetch(ctx context.Context, scope catalog.Scope) catalog.Result
	Health(ctx context.Context) []catalog.SourceHealth
}

// Notifier queues fire-and-forget notes (health advisories).
type Notifier interface {
	Notify(ctx context.Context, n transport.Notification) error
}

// ScanObserver receives every finished or skipped scan (metrics).
type ScanObserver interface {
	ObserveScan(r Report)
}

type ScannerConfig struct {
	Mode             Mode
	FailureThreshold int
	StaleAfter       time.Duration
}

// Report summarizes one scan.
type Report struct {
	ID         string              `json:"id"`
	Started    time.Time           `json:"started"`
	Duration   time.Duration       `json:"duration"`
	Mode       Mode                `json:"mode"`
	Skipped    bool                `json:"skipped,omitempty"`
	SkipReason string              `json:"skip_reason,omitempty"`
	Scopes     []string            `json:"scopes,omitempty"`
	Records    int                 `json:"records"`
	Anomalies  int                 `json:"anomalies,omitempty"`
	Merged     int                 `json:"merged"`
	FCFS       int                 `json:"fcfs"`
	New        []campaign.Campaign `json:"new,omitempty"`
	Dispatch   DispatchReport      `json:"dispatch"`
	Errors     []error             `json:"-"`
	Success    bool                `json:"success"`
}

// TestReport is a dry-run scan: nothing is persisted or sent.
type TestReport struct {
	Mode      Mode                `json:"mode"`
	Scopes    []string            `json:"scopes"`
	Records   int                 `json:"records"`
	Anomalies int                 `json:"anomalies,omitempty"`
	Merged    int                 `json:"merged"`
	Campaigns []campaign.Campaign `json:"campaigns"`
	Unseen    int                 `json:"unseen"`
	Errors    []error             `json:"-"`
	Duration  time.Duration       `json:"duration"`
}

type Scanner struct {
	src   Source
	reg   *Registry
	store storage.Store
	disp  *Dispatcher
	notes Notifier
	bus   eventbus.Bus
	state *State
	clock Clock
	log   logx.Logger

	cls atomic.Pointer[classifier.Classifier]

	mu     sync.RWMutex
	cfg    ScannerConfig
	obs    ScanObserver
	onIdle func()
}

type ScannerDeps struct {
	Source     Source
	Registry   *Registry
	Store      storage.Store
	Dispatcher *Dispatcher
	Notifier   Notifier
	Bus        eventbus.Bus
	State      *State
	Clock      Clock
	Classifier *classifier.Classifier
}

func NewScanner(cfg ScannerConfig, deps ScannerDeps, log logx.Logger) *Scanner {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scanner{
		src:   deps.Source,
		reg:   deps.Registry,
		store: deps.Store,
		disp:  deps.Dispatcher,
		notes: deps.Notifier,
		bus:   deps.Bus,
		state: deps.State,
		clock: deps.Clock,
		log:   log.With(logx.String("comp", "scanner")),
	}
	if s.bus == nil {
		s.bus = eventbus.Nop{}
	}
	if s.state == nil {
		s.state = NewState()
	}
	if s.clock == nil {
		s.clock = realClock{}
	}
	cls := deps.Classifier
	if cls == nil {
		cls = classifier.New(nil, nil)
	}
	s.cls.Store(cls)
	s.SetConfig(cfg)
	return s
}

func (s *Scanner) SetConfig(cfg ScannerConfig) {
	if cfg.Mode == "" {
		cfg.Mode = ModeSpaces
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Scanner) config() ScannerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Scanner) SetClassifier(c *classifier.Classifier) {
	if c != nil {
		s.cls.Store(c)
	}
}

func (s *Scanner) SetObserver(o ScanObserver) {
	s.mu.Lock()
	s.obs = o
	s.mu.Unlock()
}

// OnIdle registers a hook run when a scan finds no active recipients.
// It is called on the scan goroutine and must not block on the scan.
func (s *Scanner) OnIdle(fn func()) {
	s.mu.Lock()
	s.onIdle = fn
	s.mu.Unlock()
}

func (s *Scanner) State() *State { return s.state }

// Scan runs one cycle. Overlapping calls return ErrScanInProgress. The
// running flag is cleared on return, on panic and on cancellation.
func (s *Scanner) Scan(ctx context.Context) (rep Report, err error) {
	if !s.state.TryBegin() {
		s.bus.Publish(eventbus.Event{Type: eventbus.TopicScanSkipped, Data: map[string]any{"reason": "in_progress"}})
		return Report{Skipped: true, SkipReason: "in progress"}, ErrScanInProgress
	}
	defer s.state.End()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scan panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("scan panic: %v", r)
		}
	}()

	cfg := s.config()
	rep = Report{ID: uuid.NewString(), Started: s.clock.Now(), Mode: cfg.Mode}
	log := s.log.With(logx.String("scan_id", rep.ID), logx.String("mode", string(cfg.Mode)))

	sc, err := s.reg.ActiveScope(ctx)
	if err != nil {
		return rep, fmt.Errorf("scan scope: %w", err)
	}
	scopes, reason := planScopes(cfg.Mode, sc)
	if reason != "" {
		rep.Skipped, rep.SkipReason = true, reason
		log.Debug("scan skipped", logx.String("reason", reason))
		s.bus.Publish(eventbus.Event{Type: eventbus.TopicScanSkipped, Data: map[string]any{"scan_id": rep.ID, "reason": reason}})
		s.observe(rep)
		if len(sc.Active) == 0 {
			s.idle()
		}
		return rep, nil
	}

	merged, tally, errs := s.collect(ctx, scopes)
	rep.Scopes = scopeNames(scopes)
	rep.Records = tally.records
	rep.Anomalies = tally.anomalies
	rep.Merged = len(merged)
	rep.Errors = append(rep.Errors, errs...)
	if ctx.Err() != nil {
		// partial scan: nothing recorded, the next tick starts over
		return rep, ctx.Err()
	}

	fcfs := s.cls.Load().Filter(merged)
	rep.FCFS = len(fcfs)
	unseen, lookupErrs := FilterUnseen(ctx, s.store, fcfs)
	rep.Errors = append(rep.Errors, lookupErrs...)

	var deliveries []Delivery
	for _, c := range unseen {
		ok, err := s.store.InsertDetected(ctx, storage.DetectedCampaign{Campaign: c, DetectedAt: s.clock.Now()})
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("persist %s: %w", c.ID, err))
			log.Warn("persist detected failed", logx.String("campaign_id", c.ID), logx.Err(err))
			continue
		}
		if !ok {
			continue
		}
		rep.New = append(rep.New, c)
		s.bus.Publish(eventbus.Event{Type: eventbus.TopicCampaignDetected, Data: c})
		log.Info("fcfs campaign detected",
			logx.String("campaign_id", c.ID),
			logx.String("space_id", c.Space.ID),
			logx.String("name", c.Name),
			logx.String("source", c.Source),
		)

		rcpts, err := s.reg.Interested(ctx, c.Space.ID)
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("recipients %s: %w", c.ID, err))
			continue
		}
		for _, r := range rcpts {
			deliveries = append(deliveries, Delivery{Recipient: r, Campaign: c})
		}
	}
	if len(deliveries) > 0 && s.disp != nil {
		rep.Dispatch = s.disp.Dispatch(ctx, deliveries)
	}

	rep.Success = rep.Records > 0
	rep.Duration = s.clock.Now().Sub(rep.Started)
	s.state.Finish(rep.ID, rep.Started, rep.Duration, rep.Success, len(rep.New), rep.Dispatch.Sent, rep.Dispatch.Failed)
	s.evaluateHealth(ctx, cfg, rep)

	log.Info("scan completed",
		logx.Strings("scopes", rep.Scopes),
		logx.Int("records", rep.Records),
		logx.Int("anomalies", rep.Anomalies),
		logx.Int("merged", rep.Merged),
		logx.Int("fcfs", rep.FCFS),
		logx.Int("new", len(rep.New)),
		logx.Int("sent", rep.Dispatch.Sent),
		logx.Int("failed", rep.Dispatch.Failed),
		logx.Int("errors", len(rep.Errors)),
		logx.Duration("took", rep.Duration),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.TopicScanCompleted, Data: map[string]any{
		"scan_id": rep.ID,
		"success": rep.Success,
		"records": rep.Records,
		"new":     len(rep.New),
		"sent":    rep.Dispatch.Sent,
		"failed":  rep.Dispatch.Failed,
	}})
	s.observe(rep)
	return rep, nil
}

// TestScan fetches, merges and classifies without persisting or sending.
// In spaces mode with no watched spaces it falls back to the universal scope.
func (s *Scanner) TestScan(ctx context.Context) (TestReport, error) {
	cfg := s.config()
	start := s.clock.Now()
	rep := TestReport{Mode: cfg.Mode}

	scopes := []catalog.Scope{{}}
	if cfg.Mode == ModeSpaces {
		spaces, err := s.reg.WatchedSpaces(ctx)
		if err != nil {
			return rep, fmt.Errorf("test scan scope: %w", err)
		}
		if len(spaces) > 0 {
			scopes = scopes[:0]
			for _, id := range spaces {
				scopes = append(scopes, catalog.Scope{SpaceID: id})
			}
		}
	}
	merged, tally, errs := s.collect(ctx, scopes)
	rep.Scopes = scopeNames(scopes)
	rep.Records = tally.records
	rep.Anomalies = tally.anomalies
	rep.Merged = len(merged)
	rep.Errors = errs
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	rep.Campaigns = s.cls.Load().Filter(merged)
	unseen, lookupErrs := FilterUnseen(ctx, s.store, rep.Campaigns)
	rep.Unseen = len(unseen)
	rep.Errors = append(rep.Errors, lookupErrs...)
	rep.Duration = s.clock.Now().Sub(start)
	return rep, nil
}

func (s *Scanner) Health(ctx context.Context) []catalog.SourceHealth {
	return s.src.Health(ctx)
}

// planScopes returns the scopes to fetch, or a skip reason.
func planScopes(mode Mode, sc Scope) ([]catalog.Scope, string) {
	if len(sc.Active) == 0 {
		return nil, "no active recipients"
	}
	if mode == ModeAll {
		// explicit subscribers alone never justify a universal fetch
		if !sc.WatchAll {
			return nil, "no watch-all recipients"
		}
		return []catalog.Scope{{}}, ""
	}
	if len(sc.Spaces) == 0 {
		return nil, "no watched spaces"
	}
	out := make([]catalog.Scope, 0, len(sc.Spaces))
	for _, id := range sc.Spaces {
		out = append(out, catalog.Scope{SpaceID: id})
	}
	return out, ""
}

type fetchTally struct {
	records   int
	anomalies int
}

// collect fetches scopes sequentially and merges all batches.
func (s *Scanner) collect(ctx context.Context, scopes []catalog.Scope) ([]campaign.Campaign, fetchTally, []error) {
	var (
		batches [][]campaign.Campaign
		tally   fetchTally
		errs    []error
	)
	for _, sc := range scopes {
		if ctx.Err() != nil {
			break
		}
		res := s.src.Fetch(ctx, sc)
		tally.records += res.Records
		tally.anomalies += res.Anomalies
		batches = append(batches, res.Batches...)
		errs = append(errs, res.Errors...)
	}
	return Merge(batches...), tally, errs
}

func (s *Scanner) evaluateHealth(ctx context.Context, cfg ScannerConfig, rep Report) {
	if rep.Success {
		if s.state.ClearAdvisory() {
			s.advise(ctx, "recovered", 0, tgui.Lines(
				"✅ "+tgui.B("Campaign sources recovered"),
				"Scanning is returning results again.",
			).String())
		}
		return
	}
	if !s.state.LatchAdvisory(s.clock.Now(), cfg.FailureThreshold, cfg.StaleAfter) {
		return
	}
	st := s.state.Snapshot()
	last := "never"
	if !st.LastSuccess.IsZero() {
		last = st.LastSuccess.UTC().Format(timeLayout) + " UTC"
	}
	s.advise(ctx, "advisory", 7, tgui.Lines(
		tgui.B("Campaign sources look unhealthy"),
		tgui.KV("Consecutive failed scans", tgui.Esc(fmt.Sprint(st.ConsecutiveFailures))),
		tgui.KV("Last successful scan", tgui.Esc(last)),
		"Notifications may be delayed until the sources respond again.",
	).String())
}

func (s *Scanner) advise(ctx context.Context, kind string, priority int, text string) {
	s.bus.Publish(eventbus.Event{Type: eventbus.TopicAdvisory, Data: map[string]any{"kind": kind}})
	s.log.Warn("health "+kind, logx.Int("consecutive_failures", s.state.Snapshot().ConsecutiveFailures))
	if s.notes == nil {
		return
	}
	active, err := s.reg.Active(ctx)
	if err != nil {
		s.log.Warn("advisory recipients lookup failed", logx.Err(err))
		return
	}
	for _, id := range active {
		err := s.notes.Notify(ctx, transport.Notification{
			Channel:  "advisory",
			Priority: priority,
			Target:   transport.ChatTarget{ChatID: id},
			Text:     text,
			Options:  &transport.SendOptions{ParseMode: "HTML", DisablePreview: true},
		})
		if err != nil {
			s.log.Warn("advisory enqueue failed", logx.Int64("recipient", id), logx.Err(err))
		}
	}
}

func (s *Scanner) observe(rep Report) {
	s.mu.RLock()
	o := s.obs
	s.mu.RUnlock()
	if o != nil {
		o.ObserveScan(rep)
	}
}

func (s *Scanner) idle() {
	s.mu.RLock()
	fn := s.onIdle
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func scopeNames(scopes []catalog.Scope) []string {
	out := make([]string, len(scopes))
	for i, sc := range scopes {
		out[i] = sc.String()
	}
	return out
}
