// Package scan provides the domain model for badge scan events: the Scan record, its
// lifecycle state machine, Station identity, and the deterministic idempotency key shared
// between the durable store and the sync engine's wire payload.
package scan

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/attendance-io/station-agent/internal/timeutil"
)

// Status is the lifecycle state of a Scan.
type Status string

const (
	// StatusPending is the only initial state.
	StatusPending Status = "pending"
	// StatusSynced is terminal.
	StatusSynced Status = "synced"
	// StatusFailed may only return to StatusPending via administrative reset.
	StatusFailed Status = "failed"

	maxBadgeIDLength   = 64
	minStationNameLen  = 1
	maxStationNameLen  = 50
	stationNameCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789 _-"
)

// Validation sentinel errors (errors.Is()-checkable), grounded on the ingestion package's
// Validate() pattern in the teacher repo.
var (
	ErrBadgeIDEmpty       = errors.New("badge_id cannot be empty")
	ErrBadgeIDTooLong     = errors.New("badge_id cannot exceed 64 characters")
	ErrBadgeIDNewline     = errors.New("badge_id cannot contain a newline")
	ErrStationNameLength  = errors.New("station_name must be 1-50 characters")
	ErrStationNameCharset = errors.New("station_name contains a disallowed character")

	// ErrInvalidTransition is returned when a lifecycle transition is not one of
	// pending->synced or pending->failed.
	ErrInvalidTransition = errors.New("invalid scan lifecycle transition")
)

// Scan is a single badge event. Fields mirror spec.md §3's Scan data model.
type Scan struct {
	LocalID        int64
	BadgeID        string
	StationName    string
	ScannedAtUTC   time.Time
	Matched        bool
	SyncStatus     Status
	IdempotencyKey string
	LastError      string
	AttemptCount   int
}

// IdempotencyKey computes "{station_name}-{badge_id}-{local_id}" per spec.md §4.C. It is a
// pure function of three already-assigned fields, so calling it at any later time reproduces
// the value assigned at insert (spec.md §8 invariant 3).
func IdempotencyKey(stationName, badgeID string, localID int64) string {
	return fmt.Sprintf("%s-%s-%d", stationName, badgeID, localID)
}

// ValidateBadgeID normalizes (trims) and validates a raw badge identifier per spec.md §4.D.
func ValidateBadgeID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrBadgeIDEmpty
	}

	if n := utf8.RuneCountInString(trimmed); n > maxBadgeIDLength {
		return "", fmt.Errorf("%w: got %d characters", ErrBadgeIDTooLong, n)
	}

	if strings.ContainsAny(trimmed, "\n\r") {
		return "", ErrBadgeIDNewline
	}

	return trimmed, nil
}

// ValidateStationName validates a station name per spec.md §4.D: 1-50 characters from
// [A-Za-z0-9 _-].
func ValidateStationName(name string) error {
	if len(name) < minStationNameLen || len(name) > maxStationNameLen {
		return fmt.Errorf("%w: got %d characters", ErrStationNameLength, len(name))
	}

	for _, r := range name {
		if !strings.ContainsRune(stationNameCharset, r) {
			return fmt.Errorf("%w: %q", ErrStationNameCharset, r)
		}
	}

	return nil
}

// ValidateTransition reports whether moving from `from` to `to` is a legal lifecycle
// transition (spec.md §3: pending is the only initial state; pending->synced and
// pending->failed are the only transitions; synced is terminal).
func ValidateTransition(from, to Status) error {
	if from == StatusPending && (to == StatusSynced || to == StatusFailed) {
		return nil
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// ScannedAtCanonical returns the canonical RFC3339 "Z"-suffixed string for ScannedAtUTC,
// using the single shared serializer (SPEC_FULL.md, timeutil package). This is the exact
// string stored in the database and the exact string sent on the wire; there is no second
// formatter anywhere in the code path.
func (s *Scan) ScannedAtCanonical() string {
	return timeutil.FormatUTC(s.ScannedAtUTC)
}
