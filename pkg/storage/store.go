package storage

import (
	"time"

	"github.com/runnerx/runnerx/pkg/cache"
)

// Store persists cache snapshots between runs
type Store interface {
	// Save replaces the stored snapshot with entries
	Save(entries []cache.Entry) error

	// Load returns the stored entries grouped by category, in the order
	// they were saved. An empty store returns no entries and no error.
	Load() ([]cache.Entry, error)

	// SavedAt returns when the snapshot was last saved
	SavedAt() (time.Time, error)

	// Close releases the underlying database
	Close() error
}
