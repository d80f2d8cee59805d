package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/attendance-io/station-agent/internal/scan"
)

// StationStore persists the single process-wide Station identity (spec.md §3) and the small
// key/value metadata space (roster hash, schema version — spec.md §6) in the same database
// file as the scans table.
type StationStore struct {
	conn *Connection
}

// NewStationStore wraps an already-open Connection.
func NewStationStore(conn *Connection) *StationStore {
	return &StationStore{conn: conn}
}

// Get returns the persisted station identity, or ErrNotFound if none has been set yet.
func (s *StationStore) Get(ctx context.Context) (*scan.Station, error) {
	var name string

	err := s.conn.Reader.QueryRowContext(ctx, `SELECT station_name FROM station LIMIT 1`).Scan(&name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("station get: %w", err)
	}

	return &scan.Station{Name: name}, nil
}

// SetOnce persists the station identity. It fails if an identity already exists. Replace is
// the only way to overwrite it, and nothing in this repository calls Replace: the local API's
// reset_station_and_purge purges the scans table but leaves the station row in place.
func (s *StationStore) SetOnce(ctx context.Context, name string) error {
	if _, err := s.Get(ctx); err == nil {
		return fmt.Errorf("station identity already set")
	}

	if _, err := s.conn.Writer.ExecContext(ctx, `INSERT INTO station (station_name) VALUES (?)`, name); err != nil {
		return fmt.Errorf("station set_once: %w", err)
	}

	return nil
}

// Replace overwrites the station identity as part of an administrative reset.
func (s *StationStore) Replace(ctx context.Context, name string) error {
	if _, err := s.conn.Writer.ExecContext(ctx, `DELETE FROM station`); err != nil {
		return fmt.Errorf("station replace: delete: %w", err)
	}

	if _, err := s.conn.Writer.ExecContext(ctx, `INSERT INTO station (station_name) VALUES (?)`, name); err != nil {
		return fmt.Errorf("station replace: insert: %w", err)
	}

	return nil
}

// GetMeta reads a single key/value metadata entry (roster hash, schema version).
func (s *StationStore) GetMeta(ctx context.Context, key string) (string, error) {
	var value string

	err := s.conn.Reader.QueryRowContext(ctx, `SELECT value FROM kv_metadata WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}

		return "", fmt.Errorf("kv_metadata get %q: %w", key, err)
	}

	return value, nil
}

// SetMeta upserts a key/value metadata entry.
func (s *StationStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.conn.Writer.ExecContext(ctx, `
		INSERT INTO kv_metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("kv_metadata set %q: %w", key, err)
	}

	return nil
}
