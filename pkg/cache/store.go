package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/runnerx/runnerx/pkg/clock"
	"github.com/runnerx/runnerx/pkg/metrics"
	"github.com/runnerx/runnerx/pkg/types"
)

// Key addresses one cached entity
type Key struct {
	Category types.Category
	ID       string
}

// Entry is a cached entity. UpdatedAt is for display only and plays no
// part in conflict resolution.
type Entry struct {
	Key       Key
	Value     types.Entity
	UpdatedAt time.Time
}

// Observer is notified after each committed write with the keys it touched
type Observer func(keys []Key)

// Store is a process-local keyed store with per-category insertion order
type Store struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
	order   map[types.Category][]string

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int

	clock clock.Clock
}

// Option configures a Store
type Option func(*Store)

// WithClock sets the clock used for UpdatedAt markers
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// NewStore creates an empty store
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries:   make(map[Key]*Entry),
		order:     make(map[types.Category][]string),
		observers: make(map[int]Observer),
		clock:     clock.Real(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the entity stored under key
func (s *Store) Get(key Key) (types.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return e.Value.Clone(), true
}

// Entry returns a copy of the full entry stored under key
func (s *Store) Entry(key Key) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return copyEntry(e), true
}

// Set stores value under key, creating the entry if needed
func (s *Store) Set(key Key, value types.Entity) {
	s.Batch(func(tx *Tx) { tx.Set(key, value) })
}

// Update shallow-merges partial into the entity stored under key. A
// missing key is left missing: partial data never creates an entity.
func (s *Store) Update(key Key, partial types.Entity) (types.Entity, bool) {
	var (
		merged types.Entity
		ok     bool
	)
	s.Batch(func(tx *Tx) { merged, ok = tx.Update(key, partial) })
	return merged, ok
}

// Delete removes the entity stored under key
func (s *Store) Delete(key Key) bool {
	var ok bool
	s.Batch(func(tx *Tx) { ok = tx.Delete(key) })
	return ok
}

// ReplaceCategory installs the result of a full collection fetch. See
// Tx.ReplaceCategory.
func (s *Store) ReplaceCategory(category types.Category, entities []types.Entity) int {
	var skipped int
	s.Batch(func(tx *Tx) { skipped = tx.ReplaceCategory(category, entities) })
	return skipped
}

// List returns copies of every entry in category, in insertion order
func (s *Store) List(category types.Category) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order[category]
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyEntry(s.entries[Key{Category: category, ID: id}]))
	}
	return out
}

// Len returns the number of entries in category
func (s *Store) Len(category types.Category) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order[category])
}

// Categories returns every category holding at least one entry, sorted
func (s *Store) Categories() []types.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Category, 0, len(s.order))
	for c, ids := range s.order {
		if len(ids) > 0 {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Entries returns every entry grouped by category (sorted) and in
// insertion order within a category
func (s *Store) Entries() []Entry {
	var out []Entry
	for _, c := range s.Categories() {
		out = append(out, s.List(c)...)
	}
	return out
}

// Load installs previously exported entries, replacing the categories
// they belong to. Used to warm the store from a snapshot.
func (s *Store) Load(entries []Entry) {
	s.Batch(func(tx *Tx) {
		cleared := make(map[types.Category]bool)
		for _, e := range entries {
			if !cleared[e.Key.Category] {
				tx.clearCategory(e.Key.Category)
				cleared[e.Key.Category] = true
			}
			tx.put(e.Key, e.Value.Clone(), e.UpdatedAt)
		}
	})
}

// Observe registers fn to be called after every committed write. The
// returned func removes the observer.
func (s *Store) Observe(fn Observer) func() {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

// Batch runs fn with exclusive access to the store. All writes made
// through tx are applied in one pass; observers are notified once after
// the lock is released.
func (s *Store) Batch(fn func(tx *Tx)) {
	tx := &Tx{store: s, now: s.clock.Now()}

	counts := func() map[types.Category]int {
		s.mu.Lock()
		defer s.mu.Unlock()

		fn(tx)
		counts := make(map[types.Category]int, len(tx.touched))
		for c := range tx.touched {
			counts[c] = len(s.order[c])
		}
		return counts
	}()

	for c, n := range counts {
		metrics.CacheEntries.WithLabelValues(string(c)).Set(float64(n))
	}

	if len(tx.changed) == 0 {
		return
	}
	s.obsMu.Lock()
	observers := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.obsMu.Unlock()

	for _, o := range observers {
		o(tx.changed)
	}
}

func copyEntry(e *Entry) Entry {
	return Entry{Key: e.Key, Value: e.Value.Clone(), UpdatedAt: e.UpdatedAt}
}
