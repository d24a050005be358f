package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/runnerx/runnerx/pkg/cache"
	"github.com/runnerx/runnerx/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// bucketMeta holds snapshot metadata; every other top-level bucket
	// is one cache category
	bucketMeta = []byte("_meta")

	keySavedAt = []byte("saved_at")
	keyVersion = []byte("version")
)

// snapshotVersion is bumped when the record layout changes
const snapshotVersion = "1"

// record is the stored form of one cache entry
type record struct {
	ID        string       `json:"id"`
	Value     types.Entity `json:"value"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore opens or creates the snapshot database at path
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketMeta, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Save replaces the snapshot in a single transaction. Entries keep their
// order within a category through sequence-numbered keys.
func (s *BoltStore) Save(entries []cache.Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var stale [][]byte
		err := tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			if !bytes.Equal(name, bucketMeta) {
				stale = append(stale, append([]byte(nil), name...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, name := range stale {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("failed to clear bucket %s: %w", name, err)
			}
		}

		seq := make(map[types.Category]uint64)
		for _, e := range entries {
			b, err := tx.CreateBucketIfNotExists([]byte(e.Key.Category))
			if err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", e.Key.Category, err)
			}
			data, err := json.Marshal(record{ID: e.Key.ID, Value: e.Value, UpdatedAt: e.UpdatedAt})
			if err != nil {
				return fmt.Errorf("failed to encode %s/%s: %w", e.Key.Category, e.Key.ID, err)
			}
			seq[e.Key.Category]++
			if err := b.Put(itob(seq[e.Key.Category]), data); err != nil {
				return err
			}
		}

		meta := tx.Bucket(bucketMeta)
		savedAt, err := s.now().UTC().MarshalText()
		if err != nil {
			return err
		}
		if err := meta.Put(keySavedAt, savedAt); err != nil {
			return err
		}
		return meta.Put(keyVersion, []byte(snapshotVersion))
	})
}

// Load reads the snapshot
func (s *BoltStore) Load() ([]cache.Entry, error) {
	var entries []cache.Entry

	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get(keyVersion); v != nil && string(v) != snapshotVersion {
			return fmt.Errorf("unsupported snapshot version %q", v)
		}

		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			if bytes.Equal(name, bucketMeta) {
				return nil
			}
			category := types.Category(name)
			return b.ForEach(func(_, v []byte) error {
				var rec record
				dec := json.NewDecoder(bytes.NewReader(v))
				dec.UseNumber()
				if err := dec.Decode(&rec); err != nil {
					return fmt.Errorf("failed to decode entry in %s: %w", category, err)
				}
				entries = append(entries, cache.Entry{
					Key:       cache.Key{Category: category, ID: rec.ID},
					Value:     rec.Value,
					UpdatedAt: rec.UpdatedAt,
				})
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// SavedAt returns the time of the last Save, or the zero time if the
// store has never been saved
func (s *BoltStore) SavedAt() (time.Time, error) {
	var t time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keySavedAt)
		if v == nil {
			return nil
		}
		return t.UnmarshalText(v)
	})
	return t, err
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
