package localapi

import (
	"time"

	"github.com/attendance-io/station-agent/internal/connectivity"
	"github.com/attendance-io/station-agent/internal/intake"
	"github.com/attendance-io/station-agent/internal/scan"
	"github.com/attendance-io/station-agent/internal/sync"
)

// ScanPayload is the wire shape of a single scan record in get_initial_snapshot's
// recent_history and submit_scan's responses.
type ScanPayload struct {
	LocalID     int64             `json:"local_id"`
	BadgeID     string            `json:"badge_id"`
	StationName string            `json:"station_name"`
	ScannedAt   string            `json:"scanned_at"`
	Matched     bool              `json:"matched"`
	Payload     map[string]string `json:"payload,omitempty"`
	SyncStatus  string            `json:"sync_status"`
}

func toScanPayload(s scan.Scan) ScanPayload {
	return ScanPayload{
		LocalID:     s.LocalID,
		BadgeID:     s.BadgeID,
		StationName: s.StationName,
		ScannedAt:   s.ScannedAtCanonical(),
		Matched:     s.Matched,
		SyncStatus:  string(s.SyncStatus),
	}
}

func toScanPayloads(scans []scan.Scan) []ScanPayload {
	out := make([]ScanPayload, len(scans))
	for i, s := range scans {
		out[i] = toScanPayload(s)
	}

	return out
}

// ConfigEcho surfaces the subset of configuration the display surface needs to render
// (spec.md §6 get_initial_snapshot's "config echoes"). Deliberately excludes CloudKey.
type ConfigEcho struct {
	CloudURL        string `json:"cloud_url"`
	AutoSyncEnabled bool   `json:"auto_sync_enabled"`
	BatchSize       int    `json:"batch_size"`
}

// SnapshotResponse is get_initial_snapshot's return value (spec.md §6).
type SnapshotResponse struct {
	Station       *StationPayload `json:"station"`
	Totals        intake.Totals   `json:"totals"`
	RecentHistory []ScanPayload   `json:"recent_history"`
	Config        ConfigEcho      `json:"config"`
}

// StationPayload is the station identity, or nil if not yet set (spec.md §3).
type StationPayload struct {
	Name string `json:"name"`
}

// SubmitScanRequest is submit_scan's request body (spec.md §4.D).
type SubmitScanRequest struct {
	Raw string `json:"raw"`
}

// SubmitScanResponse adapts intake.ScanResponse to the wire (spec.md §4.D).
type SubmitScanResponse struct {
	OK            bool              `json:"ok"`
	IsDuplicate   bool              `json:"is_duplicate"`
	BadgeID       string            `json:"badge_id"`
	Matched       bool              `json:"matched"`
	Payload       map[string]string `json:"payload,omitempty"`
	Totals        intake.Totals     `json:"totals"`
	RecentHistory []ScanPayload     `json:"recent_history"`
	Reason        string            `json:"reason,omitempty"`
}

func toSubmitScanResponse(r intake.ScanResponse) SubmitScanResponse {
	return SubmitScanResponse{
		OK:            r.OK,
		IsDuplicate:   r.IsDuplicate,
		BadgeID:       r.BadgeID,
		Matched:       r.Matched,
		Payload:       r.Payload,
		Totals:        r.Totals,
		RecentHistory: toScanPayloads(r.RecentHistory),
		Reason:        r.Reason,
	}
}

// SyncCountsResponse is get_sync_counts' return value (spec.md §6).
type SyncCountsResponse struct {
	Pending int64 `json:"pending"`
	Synced  int64 `json:"synced"`
	Failed  int64 `json:"failed"`
}

// SyncNowResponse is sync_now's cycle summary (spec.md §6).
type SyncNowResponse struct {
	CycleID          string `json:"cycle_id"`
	Skipped          bool   `json:"skipped"`
	SkipReason       string `json:"skip_reason,omitempty"`
	Synced           int    `json:"synced"`
	Failed           int    `json:"failed"`
	Batches          int    `json:"batches"`
	RemainingPending int64  `json:"remaining_pending"`
	LastError        string `json:"last_error,omitempty"`
}

func toSyncNowResponse(r sync.CycleResult) SyncNowResponse {
	return SyncNowResponse{
		CycleID:          r.CycleID,
		Skipped:          r.Skipped,
		SkipReason:       string(r.SkipReason),
		Synced:           r.Synced,
		Failed:           r.Failed,
		Batches:          r.Batches,
		RemainingPending: r.RemainingPending,
		LastError:        r.LastError,
	}
}

// ResetRequest is reset_station_and_purge's request body (spec.md §6): it carries only the
// administrative PIN, never a new station name. The reset purges scans only; the persisted
// station row is kept, and the next startup resolves to that same name (cmd/agent's
// resolveStationIdentity).
type ResetRequest struct {
	PIN string `json:"pin"`
}

// ResetResponse is reset_station_and_purge's result (spec.md §6).
type ResetResponse struct {
	OK      bool   `json:"ok"`
	Reason  string `json:"reason,omitempty"`
	Purged  int64  `json:"purged,omitempty"`
}

// SignalEnvelope wraps every event pushed down the GET /v1/events stream (spec.md §6's three
// signals), so a single SSE "event:"/"data:" pair can carry any of them.
type SignalEnvelope struct {
	Signal string `json:"signal"`
	Emitted time.Time `json:"emitted_at"`
	Payload interface{} `json:"payload"`
}

// ConnectionStatusPayload is connection_status_changed's payload (spec.md §4.B, §6).
type ConnectionStatusPayload struct {
	OK      bool              `json:"ok"`
	Message string            `json:"message"`
	State   connectivity.State `json:"state"`
}

// SyncStagePayload is sync_stage_changed's payload (spec.md §6).
type SyncStagePayload struct {
	State sync.State `json:"state"`
}

// DuplicateDetectedPayload is duplicate_detected's payload (spec.md §6), emitted regardless
// of DuplicatePolicy — see internal/intake.DuplicateNotification.
type DuplicateDetectedPayload struct {
	BadgeID     string `json:"badge_id"`
	StationName string `json:"station_name"`
}
