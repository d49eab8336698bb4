package monitor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fcfswatch/internal/campaign"
	"fcfswatch/internal/catalog"
	"fcfswatch/internal/eventbus"
	"fcfswatch/internal/storage"
	logx "fcfswatch/pkg/logx"
)

type harness struct {
	svc    *Service
	store  storage.Store
	src    *fakeSource
	sender *fakeSender
	notes  *fakeNotes
	clock  *fakeClock
	bus    eventbus.Bus
}

func newHarness(t *testing.T, mode Mode, byScope map[string][]campaign.Campaign) *harness {
	t.Helper()
	h := &harness{
		store:  storage.NewMemory(),
		src:    &fakeSource{byScope: byScope},
		sender: &fakeSender{},
		notes:  &fakeNotes{},
		clock:  newFakeClock(),
		bus:    eventbus.New(),
	}
	h.svc = NewService(Config{Mode: mode, SendPacing: DefaultSendPacing}, Deps{
		Store:    h.store,
		Source:   h.src,
		Sender:   h.sender,
		Notifier: h.notes,
		Bus:      h.bus,
		Clock:    h.clock,
	}, logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.svc.Shutdown(ctx)
	})
	return h
}

func TestWatchAllRecipientGetsCampaignInAllMode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeAll, map[string][]campaign.Campaign{
		"all": {fcfs("c1", spaceA), plain("c2", spaceA)},
	})
	_, err := h.svc.StartMonitoring(ctx, 100)
	require.NoError(t, err)

	rep, err := h.svc.ScanNow(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Success)
	assert.Equal(t, []string{"all"}, rep.Scopes)
	assert.Equal(t, 2, rep.Merged)
	assert.Equal(t, 1, rep.FCFS)
	require.Len(t, rep.New, 1)
	assert.Equal(t, "c1", rep.New[0].ID)

	sent := h.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(100), sent[0].ChatID)
	assert.Contains(t, sent[0].Text, "FCFS mint c1")
	assert.Contains(t, sent[0].Text, "https://app.galxe.com/quest/"+spaceA+"/c1")

	seen, err := h.store.IsDetected(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, seen)
	seen, err = h.store.IsDetected(ctx, "c2")
	require.NoError(t, err)
	assert.False(t, seen, "non-FCFS campaigns are not recorded")

	recs, err := h.store.ListNotifications(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].OK)
	assert.Equal(t, int64(100), recs[0].Recipient)
}

func TestSecondScanDispatchesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeAll, map[string][]campaign.Campaign{"all": {fcfs("c1", spaceA)}})
	_, err := h.svc.StartMonitoring(ctx, 1)
	require.NoError(t, err)

	_, err = h.svc.ScanNow(ctx)
	require.NoError(t, err)
	rep, err := h.svc.ScanNow(ctx)
	require.NoError(t, err)

	assert.Empty(t, rep.New)
	assert.Equal(t, 0, rep.Dispatch.Sent)
	assert.Len(t, h.sender.Sent(), 1)
}

func TestSpacesModeRoutesByInterest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeSpaces, map[string][]campaign.Campaign{
		spaceA: {fcfs("a1", spaceA)},
		spaceB: {fcfs("b1", spaceB), fcfs("a1", spaceA)},
	})
	reg := h.svc.Registry()
	require.NoError(t, reg.Add(ctx, 1, campaign.Space{ID: spaceA}))
	require.NoError(t, reg.Add(ctx, 2, campaign.Space{ID: spaceB}))
	for _, r := range []int64{1, 2, 3} {
		_, err := h.svc.StartMonitoring(ctx, r)
		require.NoError(t, err)
	}

	rep, err := h.svc.ScanNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{spaceA, spaceB}, h.src.Calls())
	assert.Equal(t, 2, rep.Merged, "a1 appears in two scopes")

	got := map[int64][]string{}
	for _, s := range h.sender.Sent() {
		id := "a1"
		if strings.Contains(s.Text, "b1") {
			id = "b1"
		}
		got[s.ChatID] = append(got[s.ChatID], id)
	}
	assert.Equal(t, map[int64][]string{
		1: {"a1"},
		2: {"b1"},
		3: {"a1", "b1"}, // watch-all
	}, got)
	// 4 sends -> 3 pacing gaps
	assert.Equal(t, []time.Duration{DefaultSendPacing, DefaultSendPacing, DefaultSendPacing}, h.clock.Sleeps())
}

func TestScanSkipsWithoutActiveRecipients(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeAll, map[string][]campaign.Campaign{"all": {fcfs("c1", spaceA)}})

	rep, err := h.svc.ScanNow(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
	assert.Empty(t, h.src.Calls())

	// spaces mode with an active watch-all recipient only: nothing to scan
	h.svc.Apply(Config{Mode: ModeSpaces})
	_, err = h.svc.StartMonitoring(ctx, 1)
	require.NoError(t, err)
	rep, err = h.svc.ScanNow(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
	assert.Equal(t, "no watched spaces", rep.SkipReason)
}

func TestSingleFlight(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeAll, map[string][]campaign.Campaign{"all": {fcfs("c1", spaceA)}})
	_, err := h.svc.StartMonitoring(ctx, 1)
	require.NoError(t, err)
	h.svc.Shutdown(ctx) // drive scans by hand

	h.src.block = make(chan struct{})
	h.src.entered = make(chan struct{}, 1)
	scanCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		_, err := h.svc.ScanNow(scanCtx)
		done <- err
	}()
	<-h.src.entered

	st := h.svc.Scanner().State()
	assert.True(t, st.Running())
	_, err = h.svc.ScanNow(ctx)
	assert.ErrorIs(t, err, ErrScanInProgress)
	assert.Equal(t, uint64(1), st.Snapshot().Skipped)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, st.Running(), "flag cleared after cancellation")
	assert.Equal(t, uint64(0), st.Snapshot().Scans, "partial scans are not recorded")

	h.src.mu.Lock()
	h.src.block = nil
	h.src.mu.Unlock()
	_, err = h.svc.ScanNow(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running(), "flag cleared after completion")
}

type panicSource struct{ fakeSource }

func (p *panicSource) Fetch(context.Context, catalog.Scope) catalog.Result { panic("boom") }

func TestScanPanicClearsFlag(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	reg := NewRegistry(st, 0)
	require.NoError(t, reg.SetActive(ctx, 1, true))
	sc := NewScanner(ScannerConfig{Mode: ModeAll}, ScannerDeps{Source: &panicSource{}, Registry: reg, Store: st}, logx.Nop())

	_, err := sc.Scan(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
	assert.False(t, sc.State().Running())
}

func TestAdvisoryLatchesAndRecovers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeAll, map[string][]campaign.Campaign{"all": {fcfs("c1", spaceA)}})
	for _, r := range []int64{5, 6} {
		_, err := h.svc.StartMonitoring(ctx, r)
		require.NoError(t, err)
	}
	h.src.setFail(true)

	for range DefaultFailureThreshold + 3 {
		rep, err := h.svc.ScanNow(ctx)
		require.NoError(t, err)
		assert.False(t, rep.Success)
	}
	notes := h.notes.All()
	require.Len(t, notes, 2, "one advisory per active recipient, sent once")
	assert.Equal(t, "advisory", notes[0].Channel)
	assert.Equal(t, 7, notes[0].Priority)
	assert.True(t, h.svc.Scanner().State().Snapshot().AdvisoryActive)

	h.src.setFail(false)
	_, err := h.svc.ScanNow(ctx)
	require.NoError(t, err)
	notes = h.notes.All()
	require.Len(t, notes, 4)
	assert.Contains(t, notes[3].Text, "recovered")
	snap := h.svc.Scanner().State().Snapshot()
	assert.False(t, snap.AdvisoryActive)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
}

func TestStaleAdvisoryWithoutAnySuccess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeAll, nil)
	_, err := h.svc.StartMonitoring(ctx, 1)
	require.NoError(t, err)

	_, err = h.svc.ScanNow(ctx)
	require.NoError(t, err)
	assert.Empty(t, h.notes.All())

	h.clock.Advance(DefaultStaleAfter)
	_, err = h.svc.ScanNow(ctx)
	require.NoError(t, err)
	assert.Len(t, h.notes.All(), 1, "stale measured from the first scan")
}

func TestFailedSendIsRecordedAndDoesNotAbortBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeAll, map[string][]campaign.Campaign{"all": {fcfs("c1", spaceA)}})
	h.sender.failFor = map[int64]int{1: 3}
	for _, r := range []int64{1, 2} {
		_, err := h.svc.StartMonitoring(ctx, r)
		require.NoError(t, err)
	}

	rep, err := h.svc.ScanNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Dispatch.Sent)
	assert.Equal(t, 1, rep.Dispatch.Failed)

	recs, err := h.store.ListNotifications(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, recs, 4, "three failed attempts then one success")
	for _, r := range recs[:3] {
		assert.False(t, r.OK)
		assert.Equal(t, int64(1), r.Recipient)
	}
	assert.True(t, recs[3].OK)

	// persisted before notify: a failed send is not retried on the next scan
	rep, err = h.svc.ScanNow(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.New)
}

func TestTestScanDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeSpaces, map[string][]campaign.Campaign{
		"all": {fcfs("c1", spaceA), plain("c2", spaceA)},
	})
	rep, err := h.svc.TestScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"all"}, rep.Scopes, "no watched spaces falls back to universal")
	require.Len(t, rep.Campaigns, 1)
	assert.Equal(t, 1, rep.Unseen)

	seen, err := h.store.IsDetected(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.Empty(t, h.sender.Sent())
}

func TestLimitedDropReachesWatchAllRecipientOnce(t *testing.T) {
	ctx := context.Background()
	c1 := campaign.Campaign{ID: "c1", Name: "Limited Drop", Status: campaign.StatusActive}
	h := newHarness(t, ModeAll, map[string][]campaign.Campaign{"all": {c1}})
	_, err := h.svc.StartMonitoring(ctx, 7)
	require.NoError(t, err)

	rep, err := h.svc.ScanNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.FCFS)
	require.Len(t, rep.New, 1)

	seen, err := h.store.IsDetected(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, seen)
	recs, err := h.store.ListNotifications(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].OK)
	assert.Equal(t, int64(7), recs[0].Recipient)

	rep, err = h.svc.ScanNow(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.New)
	recs, err = h.store.ListNotifications(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Len(t, h.sender.Sent(), 1)
}

func TestAllModeSkipsWithoutWatchAllRecipient(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeAll, map[string][]campaign.Campaign{"all": {fcfs("c1", spaceB)}})
	require.NoError(t, h.svc.Registry().Add(ctx, 1, campaign.Space{ID: spaceA}))
	_, err := h.svc.StartMonitoring(ctx, 1)
	require.NoError(t, err)

	rep, err := h.svc.ScanNow(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
	assert.Equal(t, "no watch-all recipients", rep.SkipReason)
	assert.Empty(t, h.src.Calls())

	seen, err := h.store.IsDetected(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, seen, "unwatched campaigns stay available")

	// a watch-all recipient turns the universal fetch back on
	_, err = h.svc.StartMonitoring(ctx, 2)
	require.NoError(t, err)
	rep, err = h.svc.ScanNow(ctx)
	require.NoError(t, err)
	assert.False(t, rep.Skipped)
	require.Len(t, h.sender.Sent(), 1)
	assert.Equal(t, int64(2), h.sender.Sent()[0].ChatID)
}

func TestDetectedCampaignIgnoredAfterStatusChange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeAll, map[string][]campaign.Campaign{"all": {fcfs("c1", spaceA)}})
	_, err := h.svc.StartMonitoring(ctx, 1)
	require.NoError(t, err)
	_, err = h.svc.ScanNow(ctx)
	require.NoError(t, err)

	changed := fcfs("c1", spaceA)
	changed.Status = campaign.StatusExpired
	h.src.mu.Lock()
	h.src.byScope["all"] = []campaign.Campaign{changed}
	h.src.mu.Unlock()

	rep, err := h.svc.ScanNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.FCFS)
	assert.Empty(t, rep.New)
	assert.Equal(t, 0, rep.Dispatch.Sent)
	assert.Len(t, h.sender.Sent(), 1)
}

func TestScanReportsSkippedRecords(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeAll, map[string][]campaign.Campaign{"all": {fcfs("c1", spaceA)}})
	h.src.bad = 2
	_, err := h.svc.StartMonitoring(ctx, 1)
	require.NoError(t, err)

	rep, err := h.svc.ScanNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Anomalies)
	assert.True(t, rep.Success)
	require.Len(t, rep.New, 1)

	tr, err := h.svc.TestScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Anomalies)
}
