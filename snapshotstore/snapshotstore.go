// Package snapshotstore persists tinyevm global snapshots to a bbolt file
// so they can survive a process restart, the optional addition spec.md's
// in-memory-only global snapshot model doesn't require but
// original_source/ implies is worth offering: a long-running fuzzing
// campaign's accumulated fixture state shouldn't evaporate on a crash.
package snapshotstore

import (
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketName = []byte("tinyevm_global_snapshots")

// Store wraps a single bbolt database file, one key-value pair per
// snapshot id, value being whatever opaque blob the caller hands in (the
// executor encodes its forkdb.DB snapshot before calling Put).
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) a bbolt store at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshotstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshotstore: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores blob under id, overwriting any previous value.
func (s *Store) Put(id string, blob []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.Put([]byte(id), blob)
	})
}

// Get returns the blob stored under id, or (nil, false) if absent.
func (s *Store) Get(id string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// Delete removes id, a no-op if it doesn't exist.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.Delete([]byte(id))
	})
}

// List returns every snapshot id currently stored.
func (s *Store) List() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}
