package localapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/attendance-io/station-agent/internal/intake"
	"github.com/attendance-io/station-agent/internal/localapi/middleware"
	"github.com/attendance-io/station-agent/internal/scan"
	"github.com/attendance-io/station-agent/internal/store"
)

// setupRoutes registers the collaborator-facing local API (spec.md §6): a narrow, fixed set
// of typed methods the display surface and administrative tooling consume, grounded on
// internal/api/routes.go's setupRoutes but with no public/protected split — every route here
// is already loopback-only (middleware.LoopbackOnly), so there is nothing to expose to the
// open internet the way the teacher's health/ready probes are.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/snapshot", s.handleGetInitialSnapshot)
	mux.HandleFunc("POST /v1/scans", s.handleSubmitScan)
	mux.HandleFunc("GET /v1/sync-counts", s.handleGetSyncCounts)
	mux.HandleFunc("POST /v1/sync-now", s.handleSyncNow)
	mux.HandleFunc("POST /v1/test-connectivity", s.handleTestConnectivity)
	mux.HandleFunc("POST /v1/station/reset", s.handleResetStationAndPurge)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("/", s.handleNotFound)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("no such route: "+r.Method+" "+r.URL.Path))
}

// handleGetInitialSnapshot handles GET /v1/snapshot (spec.md §6):
// get_initial_snapshot() -> {station, totals, recent_history, config echoes}.
func (s *Server) handleGetInitialSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var stationPayload *StationPayload

	if s.stations != nil {
		st, err := s.stations.Get(ctx)
		switch {
		case err == nil:
			stationPayload = &StationPayload{Name: st.Name}
		case errors.Is(err, store.ErrNotFound):
			// Station identity not yet set at first launch (spec.md §3); report nil.
		default:
			s.logger.Error("snapshot: station lookup failed", slog.Any("error", err))
			WriteErrorResponse(w, r, s.logger, InternalServerError("failed to load station identity"))

			return
		}
	}

	totals, history, err := s.intake.Snapshot(ctx)
	if err != nil {
		s.logger.Error("snapshot: failed", slog.Any("error", err))
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to build snapshot"))

		return
	}

	writeJSON(w, http.StatusOK, SnapshotResponse{
		Station:       stationPayload,
		Totals:        totals,
		RecentHistory: toScanPayloads(history),
		Config: ConfigEcho{
			CloudURL:        s.cfg.CloudURL,
			AutoSyncEnabled: s.cfg.AutoSyncEnabled,
			BatchSize:       s.cfg.BatchSize,
		},
	})
}

// handleSubmitScan handles POST /v1/scans (spec.md §4.D, §6): submit_scan(raw_input) ->
// ScanResponse.
func (s *Server) handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	var req SubmitScanRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("malformed request body"))

		return
	}

	resp, err := s.intake.SubmitScan(r.Context(), s.station.Name(), req.Raw)
	if err != nil {
		if errors.Is(err, intake.ErrEmptyInput) || errors.Is(err, scan.ErrBadgeIDEmpty) || errors.Is(err, scan.ErrBadgeIDTooLong) || errors.Is(err, scan.ErrBadgeIDNewline) {
			writeJSON(w, http.StatusOK, SubmitScanResponse{OK: false, Reason: err.Error()})

			return
		}

		s.logger.Error("submit_scan: failed", slog.Any("error", err))
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to record scan"))

		return
	}

	if resp.OK && s.syncer != nil {
		s.syncer.NotifyActivity(time.Now().UTC())
	}

	writeJSON(w, http.StatusOK, toSubmitScanResponse(resp))
}

// handleGetSyncCounts handles GET /v1/sync-counts (spec.md §6): get_sync_counts() ->
// {pending, synced, failed}.
func (s *Server) handleGetSyncCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.scans.CountByStatus(r.Context())
	if err != nil {
		s.logger.Error("get_sync_counts: failed", slog.Any("error", err))
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to read sync counts"))

		return
	}

	writeJSON(w, http.StatusOK, SyncCountsResponse{
		Pending: counts.Pending,
		Synced:  counts.Synced,
		Failed:  counts.Failed,
	})
}

// handleSyncNow handles POST /v1/sync-now (spec.md §6): sync_now() -> cycle summary. This
// is the manual invocation path (spec.md §4.E): it bypasses idle/min-pending/cooldown but
// still goes through the scheduler so single-flight availability (condition 5) is the only
// gate left, exactly as spec.md §4.E's "Manual sync bypasses ... but NOT (5)" requires.
func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("manual sync is not wired"))

		return
	}

	result := s.syncer.TriggerManualSync(r.Context())

	writeJSON(w, http.StatusOK, toSyncNowResponse(result))
}

// handleTestConnectivity handles POST /v1/test-connectivity (spec.md §6):
// test_connectivity() -> notification via signal (non-blocking). The probe itself is fired
// asynchronously; the caller observes the outcome via the connection_status_changed signal
// on GET /v1/events, not this response.
func (s *Server) handleTestConnectivity(w http.ResponseWriter, r *http.Request) {
	if s.oracle == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("connectivity oracle is not wired"))

		return
	}

	go s.oracle.Probe(r.Context())

	w.WriteHeader(http.StatusAccepted)
}

// handleResetStationAndPurge handles POST /v1/station/reset (spec.md §6):
// reset_station_and_purge(pin) -> result. Administrative; the PIN is bcrypt-verified against
// the configured AdminPINHash. With no hash configured the request is refused with 403 and no
// comparison is made. A successful reset purges every scan; the persisted station identity is
// left unchanged.
func (s *Server) handleResetStationAndPurge(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AdminPINHash == "" {
		WriteErrorResponse(w, r, s.logger, Forbidden("administrative reset is not configured"))

		return
	}

	var req ResetRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("malformed request body"))

		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminPINHash), []byte(req.PIN)); err != nil {
		s.logger.Warn("reset_station_and_purge: pin rejected",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())))
		writeJSON(w, http.StatusOK, ResetResponse{OK: false, Reason: "invalid pin"})

		return
	}

	ctx := r.Context()

	counts, err := s.scans.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("reset_station_and_purge: count failed", slog.Any("error", err))
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to read scan counts"))

		return
	}

	if err := s.scans.PurgeAllScans(ctx); err != nil {
		s.logger.Error("reset_station_and_purge: purge failed", slog.Any("error", err))
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to purge scans"))

		return
	}

	writeJSON(w, http.StatusOK, ResetResponse{OK: true, Purged: counts.Total()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
