package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fcfswatch/internal/campaign"
)

func TestServiceStartsAndStopsSchedulerWithRecipients(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeSpaces, nil)
	sched := h.svc.Scheduler()
	require.False(t, sched.Running())

	was, err := h.svc.StartMonitoring(ctx, 1)
	require.NoError(t, err)
	assert.False(t, was)
	assert.True(t, sched.Running())

	was, err = h.svc.StartMonitoring(ctx, 1)
	require.NoError(t, err)
	assert.True(t, was, "second start is a no-op")

	_, err = h.svc.StartMonitoring(ctx, 2)
	require.NoError(t, err)
	_, err = h.svc.StopMonitoring(ctx, 1)
	require.NoError(t, err)
	assert.True(t, sched.Running(), "recipient 2 still active")

	was, err = h.svc.StopMonitoring(ctx, 2)
	require.NoError(t, err)
	assert.True(t, was)
	assert.False(t, sched.Running())

	was, err = h.svc.StopMonitoring(ctx, 2)
	require.NoError(t, err)
	assert.False(t, was)
}

func TestServiceBootResumesPersistedRecipients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ModeAll, nil)
	require.NoError(t, h.store.SetMonitoring(ctx, 42, true))

	require.NoError(t, h.svc.Boot(ctx))
	assert.True(t, h.svc.Scheduler().Running())
	assert.Equal(t, DefaultAllInterval, h.svc.Scheduler().Interval())
}

func TestServiceWatchedSpaces(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeSpaces, nil)

	sp, err := h.svc.AddWatchedSpace(ctx, 1, "https://app.galxe.com/quest/"+spaceA+"/GCcampaign")
	require.NoError(t, err)
	assert.Equal(t, spaceA, sp.ID)

	_, err = h.svc.AddWatchedSpace(ctx, 1, "not a space")
	assert.ErrorIs(t, err, ErrInvalidSpace)
	_, err = h.svc.AddWatchedSpace(ctx, 1, spaceA)
	assert.ErrorIs(t, err, ErrAlreadyWatched)

	subs, err := h.svc.ListSpaces(ctx, 1)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	st, err := h.svc.Status(ctx, 1)
	require.NoError(t, err)
	assert.False(t, st.Active)
	assert.Equal(t, DefaultMaxSpaces, st.Limit)
	assert.Equal(t, DefaultSpaceInterval, st.Interval)
	assert.Equal(t, int64(1), st.Counts.Spaces)

	removed, err := h.svc.RemoveWatchedSpace(ctx, 1, spaceA)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestServiceApplyChangesLimitAndInterval(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeSpaces, nil)
	_, err := h.svc.StartMonitoring(ctx, 1)
	require.NoError(t, err)

	h.svc.Apply(Config{Mode: ModeAll, MaxSpaces: 1, AllInterval: 2 * time.Minute})
	assert.Equal(t, 2*time.Minute, h.svc.Scheduler().Interval())
	assert.True(t, h.svc.Scheduler().Running())

	require.NoError(t, h.svc.Registry().Add(ctx, 1, campaign.Space{ID: spaceA}))
	var capErr *CapError
	assert.ErrorAs(t, h.svc.Registry().Add(ctx, 1, campaign.Space{ID: spaceB}), &capErr)
}

func TestServiceHealthCheck(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ModeAll, nil)
	assert.True(t, h.svc.HealthCheck(ctx).Healthy)
	h.src.setFail(true)
	hc := h.svc.HealthCheck(ctx)
	assert.False(t, hc.Healthy)
	require.Len(t, hc.Sources, 1)
}
