package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fcfswatch/internal/storage"
	logx "fcfswatch/pkg/logx"
)

type cancellingClock struct {
	*fakeClock
	cancel context.CancelFunc
	after  int
}

func (c *cancellingClock) Sleep(ctx context.Context, d time.Duration) error {
	if len(c.Sleeps())+1 >= c.after {
		c.cancel()
	}
	return c.fakeClock.Sleep(ctx, d)
}

func TestDispatchPacesSequentially(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	sender := &fakeSender{}
	st := storage.NewMemory()
	d := NewDispatcher(sender, st, clock, DispatchOptions{Pacing: 250 * time.Millisecond}, logx.Nop())

	rep := d.Dispatch(context.Background(), []Delivery{
		{Recipient: 3, Campaign: fcfs("c1", spaceA)},
		{Recipient: 1, Campaign: fcfs("c1", spaceA)},
		{Recipient: 2, Campaign: fcfs("c2", spaceB)},
	})
	assert.Equal(t, DispatchReport{Sent: 3, Records: 3}, rep)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, clock.Sleeps())

	var order []int64
	for _, s := range sender.Sent() {
		order = append(order, s.ChatID)
	}
	assert.Equal(t, []int64{3, 1, 2}, order)
}

func TestDispatchRecordsSendThatNeverReachedTransport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	sender := &fakeSender{noTry: map[int64]bool{9: true}}
	d := NewDispatcher(sender, st, newFakeClock(), DispatchOptions{}, logx.Nop())

	rep := d.Dispatch(ctx, []Delivery{{Recipient: 9, Campaign: fcfs("c9", spaceA)}})
	assert.Equal(t, 1, rep.Failed)

	recs, err := st.ListNotifications(ctx, "c9")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].OK)
	assert.Contains(t, recs[0].Error, "queue full")
}

func TestDispatchStopsBetweenItemsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := &cancellingClock{fakeClock: newFakeClock(), cancel: cancel, after: 2}
	sender := &fakeSender{}
	d := NewDispatcher(sender, storage.NewMemory(), clock, DispatchOptions{Pacing: time.Second}, logx.Nop())

	rep := d.Dispatch(ctx, []Delivery{
		{Recipient: 1, Campaign: fcfs("c1", spaceA)},
		{Recipient: 2, Campaign: fcfs("c1", spaceA)},
		{Recipient: 3, Campaign: fcfs("c1", spaceA)},
		{Recipient: 4, Campaign: fcfs("c1", spaceA)},
	})
	assert.Equal(t, 2, rep.Sent)
	assert.Equal(t, 2, rep.Cancelled)
	assert.Len(t, sender.Sent(), 2)
}
