package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/attendance-io/station-agent/internal/scan"
)

// errUnhealthy is returned by HealthCheck after SetHealthy(false) (test hook).
var errUnhealthy = errors.New("store: simulated unhealthy state")

// InMemoryStore is a thread-safe in-memory implementation of scan.Store, grounded on
// internal/storage/memory_key_store.go's InMemoryKeyStore, used for fast unit tests of the
// Sync Engine, Scheduler, and Scan Intake without touching disk.
type InMemoryStore struct {
	mutex   sync.Mutex
	byID    map[int64]*scan.Scan
	order   []int64
	nextID  int64
	healthy bool
}

var _ scan.Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory scan store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[int64]*scan.Scan),
		healthy: true,
	}
}

// InsertScan assigns the next local_id and inserts a new pending scan.
func (s *InMemoryStore) InsertScan(_ context.Context, badgeID, stationName string, nowUTC time.Time, matched bool) (*scan.Scan, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.nextID++
	localID := s.nextID

	sc := &scan.Scan{
		LocalID:        localID,
		BadgeID:        badgeID,
		StationName:    stationName,
		ScannedAtUTC:   nowUTC.UTC(),
		Matched:        matched,
		SyncStatus:     scan.StatusPending,
		IdempotencyKey: scan.IdempotencyKey(stationName, badgeID, localID),
	}

	s.byID[localID] = sc
	s.order = append(s.order, localID)

	cp := *sc

	return &cp, nil
}

// FetchPending returns up to limit pending scans, oldest first by local_id.
func (s *InMemoryStore) FetchPending(_ context.Context, limit int) ([]scan.Scan, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var out []scan.Scan

	for _, id := range s.order {
		sc := s.byID[id]
		if sc.SyncStatus != scan.StatusPending {
			continue
		}

		out = append(out, *sc)

		if len(out) == limit {
			break
		}
	}

	return out, nil
}

// MarkSynced transitions each listed pending scan to synced.
func (s *InMemoryStore) MarkSynced(_ context.Context, localIDs []int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, id := range localIDs {
		if sc, ok := s.byID[id]; ok && sc.SyncStatus == scan.StatusPending {
			sc.SyncStatus = scan.StatusSynced
		}
	}

	return nil
}

// MarkFailed transitions each listed pending scan to failed.
func (s *InMemoryStore) MarkFailed(_ context.Context, localIDs []int64, errorText string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, id := range localIDs {
		if sc, ok := s.byID[id]; ok && sc.SyncStatus == scan.StatusPending {
			sc.SyncStatus = scan.StatusFailed
			sc.LastError = errorText
			sc.AttemptCount++
		}
	}

	return nil
}

// CountByStatus returns the current {pending, synced, failed} counts.
func (s *InMemoryStore) CountByStatus(_ context.Context) (scan.Counts, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var c scan.Counts

	for _, sc := range s.byID {
		switch sc.SyncStatus {
		case scan.StatusPending:
			c.Pending++
		case scan.StatusSynced:
			c.Synced++
		case scan.StatusFailed:
			c.Failed++
		}
	}

	return c, nil
}

// RecentHistory returns up to limit scans of any sync_status, most recently scanned first.
func (s *InMemoryStore) RecentHistory(_ context.Context, limit int) ([]scan.Scan, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var out []scan.Scan

	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, *s.byID[s.order[i]])

		if len(out) == limit {
			break
		}
	}

	return out, nil
}

// RecentSameBadge returns true iff any scan with matching badge & station exists whose
// scanned_at_utc >= sinceUTC.
func (s *InMemoryStore) RecentSameBadge(_ context.Context, badgeID, stationName string, sinceUTC time.Time) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, sc := range s.byID {
		if sc.BadgeID == badgeID && sc.StationName == stationName && !sc.ScannedAtUTC.Before(sinceUTC) {
			return true, nil
		}
	}

	return false, nil
}

// ResetFailedToPending resets every failed scan back to pending.
func (s *InMemoryStore) ResetFailedToPending(_ context.Context) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var n int64

	for _, sc := range s.byID {
		if sc.SyncStatus == scan.StatusFailed {
			sc.SyncStatus = scan.StatusPending
			n++
		}
	}

	return n, nil
}

// PurgeAllScans deletes every scan record.
func (s *InMemoryStore) PurgeAllScans(_ context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.byID = make(map[int64]*scan.Scan)
	s.order = nil
	s.nextID = 0

	return nil
}

// HealthCheck reports the store healthy unless SetHealthy(false) was called (test hook).
func (s *InMemoryStore) HealthCheck(_ context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.healthy {
		return errUnhealthy
	}

	return nil
}

// SetHealthy is a test hook to simulate a storage fault.
func (s *InMemoryStore) SetHealthy(healthy bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.healthy = healthy
}
