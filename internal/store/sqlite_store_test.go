package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attendance-io/station-agent/internal/config"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db := config.SetupTestDatabase(t).Connection

	return NewSQLiteStore(&Connection{Writer: db, Reader: db}, nil)
}

// TestSQLiteStore_RecentSameBadge_ExactBoundaryIsNotADuplicate guards the boundary behavior
// spec.md §8 requires: a scan at exactly t2-t1=W is NOT a duplicate of t1. This exercises the
// real sqlite-backed store (not InMemoryStore), whose RecentSameBadge compares the canonical
// RFC3339 string form rather than full-precision time.Time values, so it is the only test that
// can catch a regression in timeutil's sub-second precision.
func TestSQLiteStore_RecentSameBadge_ExactBoundaryIsNotADuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	t1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	window := 60 * time.Second
	t2 := t1.Add(window) // exactly W later: must NOT be a duplicate

	_, err := s.InsertScan(ctx, "BADGE-1", "Gate-1", t1, true)
	require.NoError(t, err)

	// Mirrors internal/intake's half-open adjustment: since_utc = now_utc - W + 1ns.
	sinceUTC := t2.Add(-window).Add(time.Nanosecond)

	found, err := s.RecentSameBadge(ctx, "BADGE-1", "Gate-1", sinceUTC)
	require.NoError(t, err)
	assert.False(t, found, "scan exactly W before now must not be treated as a duplicate")
}

// TestSQLiteStore_RecentSameBadge_WithinWindowIsADuplicate is the complementary case: a scan
// one nanosecond inside the window must still be found.
func TestSQLiteStore_RecentSameBadge_WithinWindowIsADuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	t1 := time.Date(2026, 1, 1, 10, 0, 0, 1, time.UTC) // 1ns inside the window
	window := 60 * time.Second
	t2 := t1.Add(window).Add(-time.Nanosecond)

	_, err := s.InsertScan(ctx, "BADGE-1", "Gate-1", t1, true)
	require.NoError(t, err)

	sinceUTC := t2.Add(-window).Add(time.Nanosecond)

	found, err := s.RecentSameBadge(ctx, "BADGE-1", "Gate-1", sinceUTC)
	require.NoError(t, err)
	assert.True(t, found, "scan inside the duplicate window must be found")
}
