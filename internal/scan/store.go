package scan

import (
	"context"
	"time"
)

// Store defines the interface for durable scan persistence (spec.md §4.A). The domain
// package defines this interface, following the same Dependency Inversion pattern as the
// teacher's internal/ingestion.Store: the Sync Engine, Scan Intake, and Auto-Sync Scheduler
// depend on this interface, never on a concrete storage implementation.
type Store interface {
	// InsertScan assigns the next local_id, computes the idempotency key, and initializes
	// sync_status=pending, attempt_count=0. Atomic with any duplicate-check read performed
	// in the same logical operation (spec.md §4.A).
	InsertScan(ctx context.Context, badgeID, stationName string, nowUTC time.Time, matched bool) (*Scan, error)

	// FetchPending returns up to limit scans with sync_status=pending, oldest first by
	// local_id.
	FetchPending(ctx context.Context, limit int) ([]Scan, error)

	// MarkSynced transitions each listed scan from pending to synced. Non-pending entries
	// are skipped silently.
	MarkSynced(ctx context.Context, localIDs []int64) error

	// MarkFailed transitions each listed scan from pending to failed, recording errorText
	// and incrementing attempt_count. Non-pending entries are skipped silently.
	MarkFailed(ctx context.Context, localIDs []int64, errorText string) error

	// CountByStatus returns the current {pending, synced, failed} counts.
	CountByStatus(ctx context.Context) (Counts, error)

	// RecentHistory returns up to limit scans of any sync_status, most recently scanned
	// first, for the bounded recent-history tail of a ScanResponse and get_initial_snapshot
	// (spec.md §4.D step 7, §6).
	RecentHistory(ctx context.Context, limit int) ([]Scan, error)

	// RecentSameBadge returns true iff any scan with matching badge & station exists whose
	// scanned_at_utc >= sinceUTC.
	RecentSameBadge(ctx context.Context, badgeID, stationName string, sinceUTC time.Time) (bool, error)

	// ResetFailedToPending is an administrative operation: resets every failed scan back to
	// pending.
	ResetFailedToPending(ctx context.Context) (int64, error)

	// PurgeAllScans is an administrative operation: deletes every scan record.
	PurgeAllScans(ctx context.Context) error

	// HealthCheck verifies the storage backend is healthy and ready to serve requests.
	HealthCheck(ctx context.Context) error
}

// Counts is the {pending, synced, failed} tuple returned by CountByStatus.
type Counts struct {
	Pending int64
	Synced  int64
	Failed  int64
}

// Total returns pending+synced+failed, the conserved quantity of spec.md §8 invariant 1.
func (c Counts) Total() int64 {
	return c.Pending + c.Synced + c.Failed
}
