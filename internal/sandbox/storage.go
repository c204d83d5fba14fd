// Package sandbox captures outgoing notifications in a local database
// instead of delivering them.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketSandbox = []byte("sandbox")

// indexLayout sorts lexically in time order
const indexLayout = "20060102T150405.000000000"

// Message is a notification captured in sandbox mode
type Message struct {
	ID           string            `json:"id"`
	From         string            `json:"from"`
	To           string            `json:"to"`
	ToName       string            `json:"to_name,omitempty"`
	Subject      string            `json:"subject"`
	Kind         string            `json:"kind,omitempty"`
	HTML         string            `json:"html,omitempty"`
	Text         string            `json:"text,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	CapturedAt   time.Time         `json:"captured_at"`
	SimulatedErr string            `json:"simulated_error,omitempty"`
}

// Storage provides sandbox message storage
type Storage struct {
	db     *bolt.DB
	ownsDB bool
}

// NewStorage creates sandbox storage on an already open BoltDB instance
func NewStorage(db *bolt.DB) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSandbox)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox bucket: %w", err)
	}

	return &Storage{db: db}, nil
}

// OpenStorage opens (or creates) a dedicated sandbox database at path
func OpenStorage(path string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open sandbox database: %w", err)
	}

	s, err := NewStorage(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// Close closes the database if the storage opened it
func (s *Storage) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// Save stores a captured message
func (s *Storage) Save(ctx context.Context, msg *Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return tx.Bucket(bucketSandbox).Put(makeIndexKey(msg.CapturedAt, msg.ID), data)
	})
}

// Get retrieves a message by ID, or nil when absent
func (s *Storage) Get(ctx context.Context, id string) (*Message, error) {
	var msg *Message

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSandbox).Cursor()
		suffix := []byte(":" + id)

		for k, v := c.First(); k != nil; k, v = c.Next() {
			if !strings.HasSuffix(string(k), string(suffix)) {
				continue
			}
			var m Message
			if err := json.Unmarshal(v, &m); err != nil {
				continue
			}
			if m.ID == id {
				msg = &m
				return nil
			}
		}
		return nil
	})

	return msg, err
}

// ListFilter contains filters for listing messages
type ListFilter struct {
	Recipient string
	Kind      string
	Limit     int
	Offset    int
}

// List returns matching messages, newest first. Bodies are omitted.
func (s *Storage) List(ctx context.Context, filter ListFilter) ([]*Message, error) {
	var messages []*Message

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSandbox).Cursor()

		skipped := 0
		count := 0

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				continue
			}

			if filter.Recipient != "" && !strings.EqualFold(msg.To, filter.Recipient) {
				continue
			}
			if filter.Kind != "" && msg.Kind != filter.Kind {
				continue
			}

			if skipped < filter.Offset {
				skipped++
				continue
			}

			msg.HTML = ""
			msg.Text = ""
			messages = append(messages, &msg)
			count++

			if filter.Limit > 0 && count >= filter.Limit {
				break
			}
		}

		return nil
	})

	return messages, err
}

// Clear removes captured messages. olderThan 0 removes everything.
func (s *Storage) Clear(ctx context.Context, olderThan time.Duration) (int, error) {
	var count int
	cutoff := time.Now().Add(-olderThan)

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSandbox)
		c := bucket.Cursor()

		var keysToDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if olderThan > 0 {
				var msg Message
				if err := json.Unmarshal(v, &msg); err == nil && msg.CapturedAt.After(cutoff) {
					continue
				}
			}
			keysToDelete = append(keysToDelete, append([]byte(nil), k...))
		}

		for _, k := range keysToDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			count++
		}
		return nil
	})

	return count, err
}

// Stats summarizes captured messages
type Stats struct {
	Total     int64            `json:"total"`
	Failed    int64            `json:"failed"`
	ByKind    map[string]int64 `json:"by_kind"`
	OldestAt  time.Time        `json:"oldest_at,omitempty"`
	NewestAt  time.Time        `json:"newest_at,omitempty"`
	TotalSize int64            `json:"total_size"`
}

// Stats returns sandbox statistics
func (s *Storage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByKind: make(map[string]int64)}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSandbox).ForEach(func(k, v []byte) error {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return nil
			}

			stats.Total++
			stats.TotalSize += int64(len(v))
			stats.ByKind[msg.Kind]++
			if msg.SimulatedErr != "" {
				stats.Failed++
			}

			if stats.OldestAt.IsZero() || msg.CapturedAt.Before(stats.OldestAt) {
				stats.OldestAt = msg.CapturedAt
			}
			if msg.CapturedAt.After(stats.NewestAt) {
				stats.NewestAt = msg.CapturedAt
			}
			return nil
		})
	})

	return stats, err
}

func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format(indexLayout) + ":" + id)
}
