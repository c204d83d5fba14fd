package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS notification_ledger (
	key             TEXT PRIMARY KEY,
	tournament_id   TEXT        NOT NULL,
	kind            TEXT        NOT NULL,
	day             TEXT        NOT NULL,
	sent_at         TIMESTAMPTZ NOT NULL,
	recipient_count INTEGER     NOT NULL DEFAULT 0,
	emails_sent     INTEGER     NOT NULL DEFAULT 0,
	emails_failed   INTEGER     NOT NULL DEFAULT 0,
	metadata        JSONB       NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS notification_ledger_sent_at_idx ON notification_ledger (sent_at);
`

const selectColumns = `key, tournament_id, kind, day, sent_at, recipient_count, emails_sent, emails_failed, metadata`

// PostgresStore implements Store on a shared Postgres table
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, verifies connectivity and ensures the schema exists
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.MaxConns = 4
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e        Entry
		kind     string
		metadata []byte
	)
	if err := row.Scan(&e.Key, &e.TournamentID, &kind, &e.Day, &e.SentAt,
		&e.RecipientCount, &e.EmailsSent, &e.EmailsFailed, &metadata); err != nil {
		return nil, err
	}
	e.Kind = Kind(kind)
	e.SentAt = e.SentAt.UTC()
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		if len(e.Metadata) == 0 {
			e.Metadata = nil
		}
	}
	return &e, nil
}

// Get returns the entry for key, or nil when absent
func (s *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM notification_ledger WHERE key = $1`, key)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", key, err)
	}
	return e, nil
}

// PutIfAbsent inserts entry; an existing key is left untouched
func (s *PostgresStore) PutIfAbsent(ctx context.Context, entry *Entry) (bool, error) {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return false, fmt.Errorf("encode metadata: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO notification_ledger (`+selectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (key) DO NOTHING`,
		entry.Key, entry.TournamentID, string(entry.Kind), entry.Day, entry.SentAt,
		entry.RecipientCount, entry.EmailsSent, entry.EmailsFailed, data,
	)
	if err != nil {
		return false, fmt.Errorf("insert entry %s: %w", entry.Key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteOlderThan removes entries whose sent_at is not after cutoff
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notification_ledger WHERE sent_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// List returns every entry in key order
func (s *PostgresStore) List(ctx context.Context) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM notification_ledger ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Clear removes every entry
func (s *PostgresStore) Clear(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notification_ledger`)
	if err != nil {
		return 0, fmt.Errorf("clear entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Count returns the number of entries
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notification_ledger`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Close closes the pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
