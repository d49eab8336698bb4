package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"fcfswatch/internal/campaign"
	"fcfswatch/internal/catalog"
	"fcfswatch/internal/notifier"
	"fcfswatch/internal/transport"
)

const (
	spaceA = "GCspaceAAAAAAAAAA01"
	spaceB = "GCspaceBBBBBBBBBB02"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// fakeSource returns fixed campaigns per scope key. A scope with no
// campaigns reports every tier failed.
type fakeSource struct {
	mu      sync.Mutex
	byScope map[string][]campaign.Campaign
	fail    bool
	bad     int // malformed records reported per fetch
	calls   []string
	block   chan struct{} // when set, Fetch waits for close or ctx
	entered chan struct{}
}

func (f *fakeSource) Fetch(ctx context.Context, scope catalog.Scope) catalog.Result {
	f.mu.Lock()
	f.calls = append(f.calls, scope.String())
	block, entered := f.block, f.entered
	cs, fail, bad := f.byScope[scope.String()], f.fail, f.bad
	f.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return catalog.Result{Scope: scope, Errors: []error{ctx.Err()}, AllFailed: true}
		}
	}
	if fail || len(cs) == 0 {
		return catalog.Result{Scope: scope, Tiers: []string{"primary"}, Errors: []error{errors.New("down")}, AllFailed: true, Anomalies: bad}
	}
	return catalog.Result{Scope: scope, Tiers: []string{"primary"}, Batches: [][]campaign.Campaign{cs}, Records: len(cs), Anomalies: bad}
}

func (f *fakeSource) Health(context.Context) []catalog.SourceHealth {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []catalog.SourceHealth{{Name: "primary", Tier: "structured", Up: !f.fail}}
}

func (f *fakeSource) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeSource) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type sent struct {
	ChatID int64
	Text   string
}

// fakeSender fails chats listed in failFor on every attempt.
type fakeSender struct {
	mu       sync.Mutex
	sent     []sent
	failFor  map[int64]int // chat -> attempts per send
	noTry    map[int64]bool
	attempts int
}

func (f *fakeSender) SendObserved(ctx context.Context, n transport.Notification, observe func(notifier.Attempt)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noTry[n.Target.ChatID] {
		return notifier.ErrQueueFull
	}
	if k := f.failFor[n.Target.ChatID]; k > 0 {
		err := errors.New("telegram: bad gateway")
		for i := 1; i <= k; i++ {
			f.attempts++
			observe(notifier.Attempt{N: i, At: time.Now(), Err: err})
		}
		return err
	}
	f.attempts++
	observe(notifier.Attempt{N: 1, At: time.Now()})
	f.sent = append(f.sent, sent{ChatID: n.Target.ChatID, Text: n.Text})
	return nil
}

func (f *fakeSender) Sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type fakeNotes struct {
	mu    sync.Mutex
	notes []transport.Notification
}

func (f *fakeNotes) Notify(_ context.Context, n transport.Notification) error {
	f.mu.Lock()
	f.notes = append(f.notes, n)
	f.mu.Unlock()
	return nil
}

func (f *fakeNotes) All() []transport.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Notification(nil), f.notes...)
}

func fcfs(id, space string) campaign.Campaign {
	return campaign.Campaign{ID: id, Name: "FCFS mint " + id, Status: campaign.StatusActive, Space: campaign.Space{ID: space}}
}

func plain(id, space string) campaign.Campaign {
	return campaign.Campaign{ID: id, Name: "Weekly quiz " + id, Kind: "Oat", Space: campaign.Space{ID: space}}
}
