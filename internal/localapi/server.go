// Package localapi implements the collaborator-facing local HTTP API (spec.md §6): the
// single same-machine caller (the display surface / administrative tooling) submits scans,
// reads snapshots and counts, triggers manual syncs, tests connectivity, and performs the
// administrative reset-and-purge, and receives the three signals over a server-sent-events
// stream. Grounded on internal/api/server.go's NewServer/Start/shutdown shape and
// internal/api/routes.go's handler-decomposition style; adapted from an internet-facing,
// multi-tenant, API-key-authenticated surface to a loopback-only, single-caller one (see
// internal/localapi/middleware's LoopbackOnly).
package localapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/attendance-io/station-agent/internal/connectivity"
	"github.com/attendance-io/station-agent/internal/intake"
	"github.com/attendance-io/station-agent/internal/localapi/middleware"
	"github.com/attendance-io/station-agent/internal/scan"
	"github.com/attendance-io/station-agent/internal/scheduler"
	"github.com/attendance-io/station-agent/internal/sync"
)

// intakeService is the subset of *intake.Service the local API depends on.
type intakeService interface {
	SubmitScan(ctx context.Context, stationName, raw string) (intake.ScanResponse, error)
	Snapshot(ctx context.Context) (intake.Totals, []scan.Scan, error)
}

// scanStore is the subset of scan.Store the local API reads/administers directly.
type scanStore interface {
	CountByStatus(ctx context.Context) (scan.Counts, error)
	ResetFailedToPending(ctx context.Context) (int64, error)
	PurgeAllScans(ctx context.Context) error
	HealthCheck(ctx context.Context) error
}

// stationStore is the subset of *store.StationStore the local API depends on.
type stationStore interface {
	Get(ctx context.Context) (*scan.Station, error)
	Replace(ctx context.Context, name string) error
}

// oracle is the subset of *connectivity.Oracle the local API depends on.
type oracle interface {
	State() connectivity.State
	Subscribe(ch chan<- connectivity.Notification)
	Probe(ctx context.Context)
}

// engine is the subset of *sync.Engine the local API depends on.
type engine interface {
	State() sync.State
	InCooldown() bool
	Subscribe(ch chan<- sync.StageNotification)
}

// manualSyncer is the subset of *scheduler.Scheduler the local API depends on for sync_now
// and for recording scan activity after submit_scan stores a scan.
type manualSyncer interface {
	TriggerManualSync(ctx context.Context) sync.CycleResult
	NotifyActivity(at time.Time)
}

// StationIdentity resolves the fixed station name submit_scan records against; the agent has
// exactly one station identity for its lifetime (spec.md §3), resolved at startup and held
// by cmd/agent, not re-derived per request.
type StationIdentity interface {
	Name() string
}

// staticStationIdentity is the trivial StationIdentity implementation cmd/agent wires in.
type staticStationIdentity string

func (s staticStationIdentity) Name() string { return string(s) }

// NewStationIdentity wraps a fixed station name as a StationIdentity.
func NewStationIdentity(name string) StationIdentity { return staticStationIdentity(name) }

// Config holds Server's tunables, all of which are the local-API-specific subset of
// config.AgentConfig (spec.md §6): bind address, rate limit, CORS, and the admin PIN hash.
type Config struct {
	Addr           string
	RateLimitRPS   int
	AllowedOrigins []string
	AdminPINHash   string
	CloudURL       string
	BatchSize      int
	AutoSyncEnabled bool
	ShutdownTimeout time.Duration
}

// DefaultShutdownTimeout bounds Server.Shutdown's drain, grounded on internal/api/server.go.
const DefaultShutdownTimeout = 10 * time.Second

// Server is the collaborator-facing local HTTP API server.
type Server struct {
	cfg Config

	intake   intakeService
	scans    scanStore
	stations stationStore
	oracle   oracle
	engine   engine
	syncer   manualSyncer
	station  StationIdentity

	logger  *slog.Logger
	limiter middleware.RateLimiter

	httpServer *http.Server
	broadcast  *broadcaster
}

// NewServer wires a Server. Any of oracle/engine/syncer may be nil in tests that don't
// exercise the corresponding operation; production wiring from cmd/agent always supplies all
// of them.
func NewServer(
	cfg Config,
	intakeSvc intakeService,
	scans scanStore,
	stations stationStore,
	oc oracle,
	eng engine,
	syncer manualSyncer,
	station StationIdentity,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		intake:   intakeSvc,
		scans:    scans,
		stations: stations,
		oracle:   oc,
		engine:   eng,
		syncer:   syncer,
		station:  station,
		logger:   logger,
		limiter:  middleware.NewInMemoryRateLimiter(cfg.RateLimitRPS),
		broadcast: newBroadcaster(logger),
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithLoopbackOnly(logger),
		middleware.WithRecovery(logger),
		middleware.WithRateLimit(s.limiter, logger),
		middleware.WithCORS(corsConfig{origins: cfg.AllowedOrigins}),
		middleware.WithRequestLogger(logger),
	)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// corsConfig adapts Config's AllowedOrigins to middleware.CORSConfig.
type corsConfig struct {
	origins []string
}

func (c corsConfig) GetAllowedOrigins() []string { return c.origins }
func (c corsConfig) GetAllowedMethods() []string {
	return []string{http.MethodGet, http.MethodPost, http.MethodOptions}
}
func (c corsConfig) GetAllowedHeaders() []string { return []string{"Content-Type"} }
func (c corsConfig) GetMaxAge() int              { return 300 }

// Run starts the Oracle/engine subscriptions that feed the SSE broadcaster and begins
// serving HTTP. Run blocks until the listener stops (mirrors internal/api/server.go's Start).
func (s *Server) Run(ctx context.Context) error {
	s.wireSignals()

	s.logger.Info("local api: listening", slog.String("addr", s.cfg.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("local api: listen: %w", err)
	}

	return nil
}

// wireSignals subscribes the broadcaster to the Oracle and Sync Engine so every state
// transition becomes a connection_status_changed / sync_stage_changed signal (spec.md §6).
func (s *Server) wireSignals() {
	if s.oracle != nil {
		ch := make(chan connectivity.Notification, 16)
		s.oracle.Subscribe(ch)

		go func() {
			for n := range ch {
				s.broadcast.publish("connection_status_changed", ConnectionStatusPayload{
					OK: n.OK, Message: n.Message, State: n.State,
				})
			}
		}()
	}

	if s.engine != nil {
		ch := make(chan sync.StageNotification, 16)
		s.engine.Subscribe(ch)

		go func() {
			for n := range ch {
				s.broadcast.publish("sync_stage_changed", SyncStagePayload{State: n.State})
			}
		}()
	}
}

// Shutdown gracefully drains in-flight requests, bounded by cfg.ShutdownTimeout (default
// DefaultShutdownTimeout), grounded on internal/api/server.go's shutdown().
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.broadcast.closeAll()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("local api: shutdown: %w", err)
	}

	return nil
}
