package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/runnerx/runnerx/pkg/cache"
	"github.com/runnerx/runnerx/pkg/clock"
	"github.com/runnerx/runnerx/pkg/events"
	"github.com/runnerx/runnerx/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rateLimitError struct{}

func (rateLimitError) Error() string     { return "429 too many requests" }
func (rateLimitError) RateLimited() bool { return true }

// countingFetcher returns entities and counts its calls. Errors queued
// in fail are returned first, one per call.
type countingFetcher struct {
	calls    atomic.Int32
	entities []types.Entity
	fail     chan error
}

func newCountingFetcher(entities ...types.Entity) *countingFetcher {
	return &countingFetcher{entities: entities, fail: make(chan error, 8)}
}

func (f *countingFetcher) fetch(ctx context.Context) ([]types.Entity, error) {
	f.calls.Add(1)
	select {
	case err := <-f.fail:
		return nil, err
	default:
	}
	return f.entities, nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *cache.Store, *clock.FakeClock, *events.Registry) {
	t.Helper()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := cache.NewStore(cache.WithClock(fake))
	cfg := DefaultConfig()
	cfg.Clock = fake
	c := NewCoordinator(store, cfg)
	reg := events.NewRegistry()
	c.Attach(reg)
	t.Cleanup(c.Stop)
	return c, store, fake, reg
}

func TestDefaultIntervals(t *testing.T) {
	tests := []struct {
		category     types.Category
		connected    time.Duration
		disconnected time.Duration
	}{
		{types.CategoryMonitors, 30 * time.Second, 10 * time.Second},
		{types.CategoryMonitor, 60 * time.Second, 15 * time.Second},
		{types.CategoryNotifications, 60 * time.Second, 15 * time.Second},
		{types.CategoryUnread, 120 * time.Second, 30 * time.Second},
		{types.CategoryMonitorStats, 60 * time.Second, 60 * time.Second},
		{types.Category("unknown"), 0, 0},
	}

	c, _, _, reg := newTestCoordinator(t)
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			assert.Equal(t, tt.disconnected, c.Interval(tt.category))
		})
	}

	reg.Dispatch(events.ConnectionOpen{})
	for _, tt := range tests {
		t.Run(string(tt.category)+"/connected", func(t *testing.T) {
			assert.Equal(t, tt.connected, c.Interval(tt.category))
		})
	}
}

func TestIntervalFollowsLifecycleEvents(t *testing.T) {
	c, _, _, reg := newTestCoordinator(t)

	reg.Dispatch(events.ConnectionOpen{ConnID: "a"})
	assert.True(t, c.Connected())
	assert.Equal(t, 30*time.Second, c.Interval(types.CategoryMonitors))

	reg.Dispatch(events.ConnectionClose{ConnID: "a", Code: 1006, Reconnect: true})
	assert.False(t, c.Connected())
	assert.Equal(t, 10*time.Second, c.Interval(types.CategoryMonitors))

	// Other events never change connectivity
	reg.Dispatch(events.Error{Message: "boom"})
	reg.Dispatch(events.MonitorUpdate{MonitorID: "1"})
	assert.Equal(t, 10*time.Second, c.Interval(types.CategoryMonitors))

	reg.Dispatch(events.ConnectionOpen{ConnID: "b"})
	assert.Equal(t, 30*time.Second, c.Interval(types.CategoryMonitors))
}

func TestStartFetchesAndPolls(t *testing.T) {
	c, store, fake, _ := newTestCoordinator(t)
	monitors := newCountingFetcher(types.Entity{"id": "1"}, types.Entity{"id": "2"})
	c.Register(types.CategoryMonitors, monitors.fetch, Replace)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, int32(1), monitors.calls.Load())
	assert.Equal(t, 2, store.Len(types.CategoryMonitors))

	fake.Advance(10*time.Second - time.Millisecond)
	assert.Equal(t, int32(1), monitors.calls.Load())
	fake.Advance(time.Millisecond)
	assert.Equal(t, int32(2), monitors.calls.Load())
	fake.Advance(10 * time.Second)
	assert.Equal(t, int32(3), monitors.calls.Load())

	assert.Error(t, c.Start(context.Background()), "second start")
}

func TestReplaceRemovesMissingEntities(t *testing.T) {
	c, store, _, _ := newTestCoordinator(t)
	store.Set(cache.Key{Category: types.CategoryMonitors, ID: "old"}, types.Entity{"id": "old"})

	monitors := newCountingFetcher(types.Entity{"id": "1"})
	c.Register(types.CategoryMonitors, monitors.fetch, Replace)
	require.NoError(t, c.Start(context.Background()))

	_, ok := store.Get(cache.Key{Category: types.CategoryMonitors, ID: "old"})
	assert.False(t, ok)
}

func TestUpsertKeepsOtherEntities(t *testing.T) {
	c, store, _, _ := newTestCoordinator(t)
	store.Set(cache.Key{Category: types.CategoryMonitor, ID: "9"}, types.Entity{"id": "9"})

	detail := newCountingFetcher(types.Entity{"id": "1", "name": "api"})
	c.Register(types.CategoryMonitor, detail.fetch, Upsert)
	require.NoError(t, c.Start(context.Background()))

	assert.Equal(t, 2, store.Len(types.CategoryMonitor))
}

func TestDisconnectSwitchesToFastCadence(t *testing.T) {
	c, _, fake, reg := newTestCoordinator(t)
	monitors := newCountingFetcher()
	c.Register(types.CategoryMonitors, monitors.fetch, Replace)

	require.NoError(t, c.Start(context.Background()))
	reg.Dispatch(events.ConnectionOpen{})
	require.Eventually(t, func() bool {
		return monitors.calls.Load() == 2 && fake.PendingCount() == 1
	}, time.Second, 5*time.Millisecond, "reconnect triggers an immediate refresh")

	fake.Advance(5 * time.Second)
	reg.Dispatch(events.ConnectionClose{Code: 1006})

	// Re-armed at the disconnected interval from the moment of the close
	fake.Advance(10*time.Second - time.Millisecond)
	assert.Equal(t, int32(2), monitors.calls.Load())
	fake.Advance(time.Millisecond)
	assert.Equal(t, int32(3), monitors.calls.Load())
}

func TestRateLimitedFetchNotRetriedEarly(t *testing.T) {
	c, _, fake, _ := newTestCoordinator(t)
	notifications := newCountingFetcher()
	notifications.fail <- rateLimitError{}
	c.Register(types.CategoryNotifications, notifications.fetch, Replace)

	err := c.Start(context.Background())
	var rl RateLimited
	require.ErrorAs(t, err, &rl)

	fake.Advance(15*time.Second - time.Millisecond)
	assert.Equal(t, int32(1), notifications.calls.Load())
	fake.Advance(time.Millisecond)
	assert.Equal(t, int32(2), notifications.calls.Load())
}

func TestFailedFetchRetriesWithBackoff(t *testing.T) {
	c, _, fake, _ := newTestCoordinator(t)
	notifications := newCountingFetcher()
	for i := 0; i < 3; i++ {
		notifications.fail <- errors.New("connection refused")
	}
	c.Register(types.CategoryNotifications, notifications.fetch, Replace)

	require.Error(t, c.Start(context.Background()))

	fake.Advance(time.Second)
	assert.Equal(t, int32(2), notifications.calls.Load(), "first retry after 1s")
	fake.Advance(2 * time.Second)
	assert.Equal(t, int32(3), notifications.calls.Load(), "second retry after 2s")

	// Retries exhausted: back to the regular interval
	fake.Advance(4 * time.Second)
	assert.Equal(t, int32(3), notifications.calls.Load())
	fake.Advance(11 * time.Second)
	assert.Equal(t, int32(4), notifications.calls.Load())
}

func TestZeroConnectedIntervalPausesPolling(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := Config{
		Policies: map[types.Category]Policy{
			types.CategoryMonitors: {Connected: 0, Disconnected: 10 * time.Second},
		},
		Clock: fake,
	}
	c := NewCoordinator(cache.NewStore(), cfg)
	defer c.Stop()
	reg := events.NewRegistry()
	c.Attach(reg)

	monitors := newCountingFetcher()
	c.Register(types.CategoryMonitors, monitors.fetch, Replace)
	require.NoError(t, c.Start(context.Background()))

	reg.Dispatch(events.ConnectionOpen{})
	require.Eventually(t, func() bool { return monitors.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return fake.PendingCount() == 0 }, time.Second, 5*time.Millisecond)

	fake.Advance(time.Hour)
	assert.Equal(t, int32(2), monitors.calls.Load())
}

func TestStopCancelsTimers(t *testing.T) {
	c, _, fake, _ := newTestCoordinator(t)
	monitors := newCountingFetcher()
	c.Register(types.CategoryMonitors, monitors.fetch, Replace)
	require.NoError(t, c.Start(context.Background()))

	c.Stop()
	fake.Advance(time.Hour)
	assert.Equal(t, int32(1), monitors.calls.Load())
	assert.Error(t, c.RefreshNow())
	assert.Error(t, c.Refresh(types.CategoryMonitors))
}

func TestRefreshUnknownCategory(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	require.NoError(t, c.Start(context.Background()))
	assert.Error(t, c.Refresh(types.CategoryMonitorStats))
}

// blockingFetcher serves its first call immediately and holds every later
// call until release is closed. It ignores cancellation, like a response
// that was already read off the wire.
type blockingFetcher struct {
	calls    atomic.Int32
	started  chan struct{}
	release  chan struct{}
	canceled atomic.Bool
	entities []types.Entity
}

func newBlockingFetcher(entities ...types.Entity) *blockingFetcher {
	return &blockingFetcher{
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
		entities: entities,
	}
}

func (f *blockingFetcher) fetch(ctx context.Context) ([]types.Entity, error) {
	if f.calls.Add(1) > 1 {
		f.started <- struct{}{}
		<-f.release
		f.canceled.Store(ctx.Err() != nil)
	}
	return f.entities, nil
}

func TestCancelDiscardsInFlightResult(t *testing.T) {
	c, store, fake, _ := newTestCoordinator(t)
	key := cache.Key{Category: types.CategoryNotifications, ID: "10"}
	notifications := newBlockingFetcher(types.Entity{"id": "10", "seen": false})
	c.Register(types.CategoryNotifications, notifications.fetch, Replace)
	require.NoError(t, c.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- c.Refresh(types.CategoryNotifications) }()
	<-notifications.started

	c.Cancel(types.CategoryNotifications)
	store.Update(key, types.Entity{"seen": true})
	close(notifications.release)
	require.NoError(t, <-done)

	assert.True(t, notifications.canceled.Load(), "fetch context canceled")
	e, ok := store.Get(key)
	require.True(t, ok)
	assert.Equal(t, true, e["seen"], "local write kept")

	// The loop is not stuck in flight and keeps its schedule
	assert.Equal(t, 1, fake.PendingCount())
	require.NoError(t, c.Refresh(types.CategoryNotifications))
	assert.Equal(t, int32(3), notifications.calls.Load())
	e, _ = store.Get(key)
	assert.Equal(t, false, e["seen"])
}

func TestCancelAbortsFetchWaitingOnContext(t *testing.T) {
	c, store, _, _ := newTestCoordinator(t)
	started := make(chan struct{})
	var calls atomic.Int32
	c.Register(types.CategoryUnread, func(ctx context.Context) ([]types.Entity, error) {
		if calls.Add(1) == 1 {
			return []types.Entity{{"id": "unread", "count": 2}}, nil
		}
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, Replace)
	require.NoError(t, c.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- c.Refresh(types.CategoryUnread) }()
	<-started
	c.Cancel(types.CategoryUnread)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("refresh did not return after cancel")
	}
	e, ok := store.Get(cache.Key{Category: types.CategoryUnread, ID: "unread"})
	require.True(t, ok)
	assert.Equal(t, 2, e["count"])
}

func TestCancelIdleOrUnknownCategory(t *testing.T) {
	c, _, fake, _ := newTestCoordinator(t)
	monitors := newCountingFetcher(types.Entity{"id": "1"})
	c.Register(types.CategoryMonitors, monitors.fetch, Replace)
	require.NoError(t, c.Start(context.Background()))

	c.Cancel(types.CategoryMonitors)
	c.Cancel(types.CategoryMonitorStats)

	fake.Advance(10 * time.Second)
	assert.Equal(t, int32(2), monitors.calls.Load(), "idle cancel keeps the schedule")
}
