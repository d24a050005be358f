package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/runnerx/runnerx/pkg/clock"
	"github.com/runnerx/runnerx/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func monitorKey(id string) Key {
	return Key{Category: types.CategoryMonitors, ID: id}
}

func TestSetGet(t *testing.T) {
	s := NewStore()
	s.Set(monitorKey("1"), types.Entity{"id": json.Number("1"), "status": "up"})

	got, ok := s.Get(monitorKey("1"))
	require.True(t, ok)
	assert.Equal(t, "up", got["status"])

	got["status"] = "mutated"
	again, _ := s.Get(monitorKey("1"))
	assert.Equal(t, "up", again["status"], "Get must return a copy")

	_, ok = s.Get(monitorKey("2"))
	assert.False(t, ok)
}

func TestUpdateMerges(t *testing.T) {
	s := NewStore()
	s.Set(monitorKey("1"), types.Entity{"id": "1", "name": "api", "status": "up"})

	merged, ok := s.Update(monitorKey("1"), types.Entity{"status": "down", "last_latency_ms": 80})
	require.True(t, ok)
	assert.Equal(t, "api", merged["name"])
	assert.Equal(t, "down", merged["status"])
	assert.Equal(t, 80, merged["last_latency_ms"])
}

func TestUpdateMissingIsNoop(t *testing.T) {
	s := NewStore()
	notified := 0
	s.Observe(func([]Key) { notified++ })

	merged, ok := s.Update(monitorKey("404"), types.Entity{"status": "down"})

	assert.False(t, ok)
	assert.Nil(t, merged)
	assert.Equal(t, 0, s.Len(types.CategoryMonitors))
	assert.Equal(t, 0, notified)
}

func TestListInsertionOrder(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"3", "1", "2"} {
		s.Set(monitorKey(id), types.Entity{"id": id})
	}
	s.Set(monitorKey("1"), types.Entity{"id": "1", "status": "down"})

	var ids []string
	for _, e := range s.List(types.CategoryMonitors) {
		ids = append(ids, e.Key.ID)
	}
	assert.Equal(t, []string{"3", "1", "2"}, ids, "overwrite keeps position")

	require.True(t, s.Delete(monitorKey("1")))
	assert.False(t, s.Delete(monitorKey("1")))
	assert.Equal(t, 2, s.Len(types.CategoryMonitors))
}

func TestReplaceCategory(t *testing.T) {
	s := NewStore()
	s.Set(monitorKey("old"), types.Entity{"id": "old"})
	s.Set(Key{Category: types.CategoryNotifications, ID: "n1"}, types.Entity{"id": "n1"})

	var changed []Key
	s.Observe(func(keys []Key) { changed = append(changed, keys...) })

	skipped := s.ReplaceCategory(types.CategoryMonitors, []types.Entity{
		{"id": json.Number("2"), "status": "up"},
		{"name": "no id"},
		{"id": json.Number("1"), "status": "down"},
	})

	assert.Equal(t, 1, skipped)
	list := s.List(types.CategoryMonitors)
	require.Len(t, list, 2)
	assert.Equal(t, "2", list[0].Key.ID)
	assert.Equal(t, "1", list[1].Key.ID)
	_, ok := s.Get(monitorKey("old"))
	assert.False(t, ok)
	assert.Contains(t, changed, monitorKey("old"))
	assert.Equal(t, 1, s.Len(types.CategoryNotifications), "other categories untouched")
}

func TestBatchNotifiesOnce(t *testing.T) {
	s := NewStore()
	s.Set(monitorKey("1"), types.Entity{"id": "1"})
	s.Set(monitorKey("2"), types.Entity{"id": "2"})

	calls := 0
	var keys []Key
	cancel := s.Observe(func(k []Key) {
		calls++
		keys = k
	})

	s.Batch(func(tx *Tx) {
		tx.Update(monitorKey("1"), types.Entity{"status": "down"})
		tx.Update(monitorKey("2"), types.Entity{"status": "up"})
		tx.Update(monitorKey("3"), types.Entity{"status": "up"})
	})

	assert.Equal(t, 1, calls)
	assert.ElementsMatch(t, []Key{monitorKey("1"), monitorKey("2")}, keys)

	cancel()
	s.Set(monitorKey("4"), types.Entity{"id": "4"})
	assert.Equal(t, 1, calls)
}

func TestUpdatedAtUsesClock(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)
	s := NewStore(WithClock(fake))

	s.Set(monitorKey("1"), types.Entity{"id": "1"})
	fake.Advance(time.Minute)
	s.Update(monitorKey("1"), types.Entity{"status": "up"})

	e, ok := s.Entry(monitorKey("1"))
	require.True(t, ok)
	assert.Equal(t, start.Add(time.Minute), e.UpdatedAt)
}

func TestEntriesAndLoad(t *testing.T) {
	src := NewStore()
	src.Set(Key{Category: types.CategoryNotifications, ID: "9"}, types.Entity{"id": "9"})
	src.Set(monitorKey("b"), types.Entity{"id": "b"})
	src.Set(monitorKey("a"), types.Entity{"id": "a"})

	entries := src.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, types.CategoryMonitors, entries[0].Key.Category)

	dst := NewStore()
	dst.Set(monitorKey("stale"), types.Entity{"id": "stale"})
	dst.Load(entries)

	var ids []string
	for _, e := range dst.List(types.CategoryMonitors) {
		ids = append(ids, e.Key.ID)
	}
	assert.Equal(t, []string{"b", "a"}, ids)
	assert.Equal(t, []types.Category{types.CategoryMonitors, types.CategoryNotifications}, dst.Categories())
}
