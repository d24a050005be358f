package cache

import (
	"time"

	"github.com/runnerx/runnerx/pkg/types"
)

// Tx is the write handle passed to Store.Batch. It must not be retained
// after the batch function returns.
type Tx struct {
	store   *Store
	now     time.Time
	changed []Key
	touched map[types.Category]bool
}

// Get reads an entity inside the batch
func (tx *Tx) Get(key Key) (types.Entity, bool) {
	e, ok := tx.store.entries[key]
	if !ok {
		return nil, false
	}
	return e.Value.Clone(), true
}

// Set stores value under key. New keys are appended to the category
// order; existing keys keep their position.
func (tx *Tx) Set(key Key, value types.Entity) {
	tx.put(key, value.Clone(), tx.now)
}

// Update shallow-merges partial into an existing entity. It is a no-op
// returning false when key is absent.
func (tx *Tx) Update(key Key, partial types.Entity) (types.Entity, bool) {
	e, ok := tx.store.entries[key]
	if !ok {
		return nil, false
	}
	e.Value = e.Value.Merge(partial)
	e.UpdatedAt = tx.now
	tx.mark(key)
	return e.Value.Clone(), true
}

// Delete removes key
func (tx *Tx) Delete(key Key) bool {
	if _, ok := tx.store.entries[key]; !ok {
		return false
	}
	delete(tx.store.entries, key)
	ids := tx.store.order[key.Category]
	for i, id := range ids {
		if id == key.ID {
			tx.store.order[key.Category] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	tx.mark(key)
	return true
}

// ReplaceCategory makes category hold exactly entities, in the given
// order. Entities without an id are skipped; the number skipped is
// returned. Entries no longer present are removed.
func (tx *Tx) ReplaceCategory(category types.Category, entities []types.Entity) int {
	previous := tx.store.order[category]
	tx.clearCategory(category)

	skipped := 0
	seen := make(map[string]bool, len(entities))
	for _, entity := range entities {
		id, ok := entity.ID()
		if !ok {
			skipped++
			continue
		}
		seen[id] = true
		tx.put(Key{Category: category, ID: id}, entity.Clone(), tx.now)
	}
	for _, id := range previous {
		if !seen[id] {
			tx.mark(Key{Category: category, ID: id})
		}
	}
	return skipped
}

func (tx *Tx) put(key Key, value types.Entity, at time.Time) {
	if _, exists := tx.store.entries[key]; !exists {
		tx.store.order[key.Category] = append(tx.store.order[key.Category], key.ID)
	}
	tx.store.entries[key] = &Entry{Key: key, Value: value, UpdatedAt: at}
	tx.mark(key)
}

func (tx *Tx) clearCategory(category types.Category) {
	for _, id := range tx.store.order[category] {
		delete(tx.store.entries, Key{Category: category, ID: id})
	}
	delete(tx.store.order, category)
	tx.touch(category)
}

func (tx *Tx) mark(key Key) {
	tx.changed = append(tx.changed, key)
	tx.touch(key.Category)
}

func (tx *Tx) touch(category types.Category) {
	if tx.touched == nil {
		tx.touched = make(map[types.Category]bool)
	}
	tx.touched[category] = true
}
