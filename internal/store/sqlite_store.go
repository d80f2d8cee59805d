// Package store provides the Durable Scan Store (spec.md §4.A): a sqlite-backed,
// single-writer/multi-reader transactional record of every scan, grounded on the teacher's
// internal/storage package (Connection, Config, and PersistentKeyStore's CRUD style) but
// retargeted from PostgreSQL to a single local database file per SPEC_FULL.md.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/attendance-io/station-agent/internal/scan"
	"github.com/attendance-io/station-agent/internal/timeutil"
)

// SQLiteStore implements scan.Store against a local sqlite file.
type SQLiteStore struct {
	conn   *Connection
	logger *slog.Logger
}

var _ scan.Store = (*SQLiteStore)(nil)

// NewSQLiteStore wraps an already-open Connection. Migrations must have been applied
// beforehand (cmd/migrator).
func NewSQLiteStore(conn *Connection, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &SQLiteStore{conn: conn, logger: logger}
}

// InsertScan assigns the next local_id via AUTOINCREMENT, computes the idempotency key, and
// inserts a new pending scan (spec.md §4.A). The idempotency key depends on the assigned
// local_id, so it is computed from the row ID returned by the insert, inside the same
// transaction — no other writer can interleave because the writer pool is capped at one
// connection (connection.go).
func (s *SQLiteStore) InsertScan(
	ctx context.Context,
	badgeID, stationName string,
	nowUTC time.Time,
	matched bool,
) (*scan.Scan, error) {
	tx, err := s.conn.Writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("insert_scan: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO scans (badge_id, station_name, scanned_at_utc, matched, sync_status, idempotency_key, attempt_count)
		VALUES (?, ?, ?, ?, 'pending', '', 0)
	`, badgeID, stationName, timeutil.FormatUTC(nowUTC), matched)
	if err != nil {
		return nil, fmt.Errorf("insert_scan: insert: %w", err)
	}

	localID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert_scan: last insert id: %w", err)
	}

	key := scan.IdempotencyKey(stationName, badgeID, localID)

	if _, err := tx.ExecContext(ctx, `UPDATE scans SET idempotency_key = ? WHERE local_id = ?`, key, localID); err != nil {
		return nil, fmt.Errorf("insert_scan: set idempotency key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("insert_scan: commit: %w", err)
	}

	return &scan.Scan{
		LocalID:        localID,
		BadgeID:        badgeID,
		StationName:    stationName,
		ScannedAtUTC:   nowUTC.UTC(),
		Matched:        matched,
		SyncStatus:     scan.StatusPending,
		IdempotencyKey: key,
		AttemptCount:   0,
	}, nil
}

// FetchPending returns up to limit pending scans ordered oldest-first by local_id (spec.md
// §4.A). Runs against the reader handle: "no locking beyond a read snapshot."
func (s *SQLiteStore) FetchPending(ctx context.Context, limit int) ([]scan.Scan, error) {
	rows, err := s.conn.Reader.QueryContext(ctx, `
		SELECT local_id, badge_id, station_name, scanned_at_utc, matched, sync_status, idempotency_key, last_error, attempt_count
		FROM scans
		WHERE sync_status = 'pending'
		ORDER BY local_id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch_pending: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []scan.Scan

	for rows.Next() {
		s, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("fetch_pending: scan row: %w", err)
		}

		out = append(out, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch_pending: iterate: %w", err)
	}

	return out, nil
}

// MarkSynced transitions each listed scan from pending to synced. Non-pending entries are
// skipped silently (the WHERE clause only matches rows still in pending).
func (s *SQLiteStore) MarkSynced(ctx context.Context, localIDs []int64) error {
	if len(localIDs) == 0 {
		return nil
	}

	placeholders, args := inClause(localIDs)

	query := fmt.Sprintf(`UPDATE scans SET sync_status = 'synced' WHERE sync_status = 'pending' AND local_id IN (%s)`, placeholders)
	if _, err := s.conn.Writer.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark_synced: %w", err)
	}

	return nil
}

// MarkFailed transitions each listed scan from pending to failed, recording errorText and
// incrementing attempt_count. Non-pending entries are skipped silently.
func (s *SQLiteStore) MarkFailed(ctx context.Context, localIDs []int64, errorText string) error {
	if len(localIDs) == 0 {
		return nil
	}

	placeholders, idArgs := inClause(localIDs)
	args := append([]interface{}{errorText}, idArgs...)

	query := fmt.Sprintf(`
		UPDATE scans
		SET sync_status = 'failed', last_error = ?, attempt_count = attempt_count + 1
		WHERE sync_status = 'pending' AND local_id IN (%s)
	`, placeholders)
	if _, err := s.conn.Writer.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark_failed: %w", err)
	}

	return nil
}

// CountByStatus returns the current {pending, synced, failed} counts (spec.md §4.A).
func (s *SQLiteStore) CountByStatus(ctx context.Context) (scan.Counts, error) {
	rows, err := s.conn.Reader.QueryContext(ctx, `
		SELECT sync_status, COUNT(*) FROM scans GROUP BY sync_status
	`)
	if err != nil {
		return scan.Counts{}, fmt.Errorf("count_by_status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts scan.Counts

	for rows.Next() {
		var (
			status string
			count  int64
		)

		if err := rows.Scan(&status, &count); err != nil {
			return scan.Counts{}, fmt.Errorf("count_by_status: scan: %w", err)
		}

		switch scan.Status(status) {
		case scan.StatusPending:
			counts.Pending = count
		case scan.StatusSynced:
			counts.Synced = count
		case scan.StatusFailed:
			counts.Failed = count
		}
	}

	return counts, rows.Err()
}

// RecentHistory returns up to limit scans of any sync_status, most recently scanned first
// (spec.md §4.D step 7, §6).
func (s *SQLiteStore) RecentHistory(ctx context.Context, limit int) ([]scan.Scan, error) {
	rows, err := s.conn.Reader.QueryContext(ctx, `
		SELECT local_id, badge_id, station_name, scanned_at_utc, matched, sync_status, idempotency_key, last_error, attempt_count
		FROM scans
		ORDER BY local_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent_history: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []scan.Scan

	for rows.Next() {
		s, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("recent_history: scan row: %w", err)
		}

		out = append(out, s)
	}

	return out, rows.Err()
}

// RecentSameBadge returns true iff any scan with matching badge & station exists whose
// scanned_at_utc >= sinceUTC. The comparison is a string comparison against the canonical
// RFC3339 form (timeutil), which sorts lexicographically identically to chronological order —
// this is the "single canonical serializer" requirement of spec.md §9.
func (s *SQLiteStore) RecentSameBadge(ctx context.Context, badgeID, stationName string, sinceUTC time.Time) (bool, error) {
	var exists int

	err := s.conn.Reader.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM scans
			WHERE badge_id = ? AND station_name = ? AND scanned_at_utc >= ?
			LIMIT 1
		)
	`, badgeID, stationName, timeutil.FormatUTC(sinceUTC)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("recent_same_badge: %w", err)
	}

	return exists == 1, nil
}

// ResetFailedToPending is an administrative operation (spec.md §3): the only path back to
// pending for a failed scan.
func (s *SQLiteStore) ResetFailedToPending(ctx context.Context) (int64, error) {
	res, err := s.conn.Writer.ExecContext(ctx, `UPDATE scans SET sync_status = 'pending' WHERE sync_status = 'failed'`)
	if err != nil {
		return 0, fmt.Errorf("reset_failed_to_pending: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset_failed_to_pending: rows affected: %w", err)
	}

	return n, nil
}

// PurgeAllScans is an administrative operation: deletes every scan record.
func (s *SQLiteStore) PurgeAllScans(ctx context.Context) error {
	if _, err := s.conn.Writer.ExecContext(ctx, `DELETE FROM scans`); err != nil {
		return fmt.Errorf("purge_all_scans: %w", err)
	}

	return nil
}

// HealthCheck verifies the storage backend is healthy and ready to serve requests.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

func scanRow(rows *sql.Rows) (scan.Scan, error) {
	var (
		sc           scan.Scan
		scannedAtStr string
		lastError    sql.NullString
		statusStr    string
	)

	if err := rows.Scan(
		&sc.LocalID,
		&sc.BadgeID,
		&sc.StationName,
		&scannedAtStr,
		&sc.Matched,
		&statusStr,
		&sc.IdempotencyKey,
		&lastError,
		&sc.AttemptCount,
	); err != nil {
		return scan.Scan{}, err
	}

	t, err := timeutil.ParseUTC(scannedAtStr)
	if err != nil {
		return scan.Scan{}, fmt.Errorf("parse scanned_at_utc %q: %w", scannedAtStr, err)
	}

	sc.ScannedAtUTC = t
	sc.SyncStatus = scan.Status(statusStr)
	sc.LastError = lastError.String

	return sc, nil
}

// inClause builds a "?,?,?" placeholder list and the matching []interface{} argument slice.
func inClause(ids []int64) (string, []interface{}) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))

	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	return strings.Join(placeholders, ","), args
}

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("not found")
