package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketLedger = []byte("ledger")

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore opens (or creates) a ledger database at path
func NewBoltStore(path string) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketLedger); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketLedger, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, path: path}, nil
}

// Path returns the database file path
func (s *BoltStore) Path() string {
	return s.path
}

// Get returns the entry for key, or nil when absent
func (s *BoltStore) Get(ctx context.Context, key string) (*Entry, error) {
	var entry *Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLedger).Get([]byte(key))
		if data == nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("failed to unmarshal entry: %w", err)
		}
		entry = &e
		return nil
	})
	return entry, err
}

// PutIfAbsent checks and inserts inside one write transaction
func (s *BoltStore) PutIfAbsent(ctx context.Context, entry *Entry) (bool, error) {
	stored := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLedger)
		if b.Get([]byte(entry.Key)) != nil {
			return nil
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		if err := b.Put([]byte(entry.Key), data); err != nil {
			return fmt.Errorf("failed to store entry: %w", err)
		}
		stored = true
		return nil
	})
	return stored, err
}

// DeleteOlderThan removes entries whose SentAt is not after cutoff
func (s *BoltStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLedger)
		var stale [][]byte

		err := b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				// Unreadable entries cannot be matched against a day, drop them
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			if !e.SentAt.After(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("failed to delete entry: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// List returns every entry in key order
func (s *BoltStore) List(ctx context.Context) ([]*Entry, error) {
	var entries []*Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLedger).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return nil // Skip invalid entries
			}
			entries = append(entries, &e)
			return nil
		})
	})
	return entries, err
}

// Clear removes every entry
func (s *BoltStore) Clear(ctx context.Context) (int, error) {
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketLedger).Stats().KeyN
		if err := tx.DeleteBucket(bucketLedger); err != nil {
			return fmt.Errorf("failed to delete bucket: %w", err)
		}
		_, err := tx.CreateBucket(bucketLedger)
		return err
	})
	return count, err
}

// Count returns the number of entries
func (s *BoltStore) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketLedger).Stats().KeyN
		return nil
	})
	return count, err
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}
