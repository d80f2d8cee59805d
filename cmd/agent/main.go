// Package main is the station agent: the offline-first attendance sync process that runs on
// each gate/entrance machine (spec.md §1). It loads configuration, opens the local durable
// scan store, wires the five core subsystems plus the shutdown orchestrator, and serves the
// collaborator-facing local HTTP API until terminated. Grounded on cmd/correlator/main.go's
// flag parsing, slog setup, and construct-and-run shape.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/attendance-io/station-agent/internal/cloudclient"
	"github.com/attendance-io/station-agent/internal/config"
	"github.com/attendance-io/station-agent/internal/connectivity"
	"github.com/attendance-io/station-agent/internal/intake"
	"github.com/attendance-io/station-agent/internal/localapi"
	"github.com/attendance-io/station-agent/internal/roster"
	"github.com/attendance-io/station-agent/internal/scheduler"
	"github.com/attendance-io/station-agent/internal/shutdown"
	"github.com/attendance-io/station-agent/internal/store"
	"github.com/attendance-io/station-agent/internal/sync"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "station-agent"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	execDir, err := os.Executable()
	if err != nil {
		log.Fatalf("resolve executable path: %v", err)
	}

	cfg, warnings, err := config.Load(dirOf(execDir), "")
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	logger.Info("starting station agent",
		slog.String("service", name),
		slog.String("version", version),
	)

	for _, w := range warnings {
		logger.Warn("configuration warning", slog.String("detail", w))
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("station agent stopped with error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("station agent stopped")
}

func dirOf(execPath string) string {
	dir := execPath
	for i := len(dir) - 1; i >= 0; i-- {
		if dir[i] == '/' {
			return dir[:i]
		}
	}

	return "."
}

// run wires every subsystem described in spec.md §4 and blocks until the shutdown
// orchestrator completes its drain sequence.
func run(cfg config.AgentConfig, logger *slog.Logger) error {
	if cfg.DatabasePath != "" {
		if err := os.Setenv("STATION_DB_PATH", cfg.DatabasePath); err != nil {
			return err
		}
	}

	storeCfg := store.LoadConfig()
	if err := storeCfg.Validate(); err != nil {
		return err
	}

	conn, err := store.NewConnection(storeCfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			logger.Error("close database", slog.Any("error", cerr))
		}
	}()

	scans := store.NewSQLiteStore(conn, logger)
	stations := store.NewStationStore(conn)

	ctx := context.Background()

	station, err := resolveStationIdentity(ctx, stations, cfg.StationName, logger)
	if err != nil {
		return err
	}

	// The roster importer is an external collaborator (spec.md §1's explicit non-goal); an
	// empty in-memory set keeps Scan Intake's "matched" field false until that collaborator
	// is wired in a future iteration.
	rosterLookup := roster.NewInMemorySet(nil, "")

	cloudClient := cloudclient.New(cfg.CloudURL, cfg.CloudKey, nil)

	oracleCfg := connectivity.Config{
		HealthURL:        cfg.CloudURL,
		ProbeTimeout:     cfg.HealthTimeout,
		FailureThreshold: cfg.HysteresisThreshold,
		Interval:         cfg.HealthInterval,
		InitialDelay:     cfg.HealthInitialDelay,
	}
	if err := oracleCfg.Validate(); err != nil {
		return err
	}

	oracle := connectivity.New(oracleCfg, nil, logger)

	engineCfg := sync.Config{
		BatchSize:     cfg.BatchSize,
		ConnTimeout:   cfg.ConnectionTimeout,
		UploadTimeout: cloudclient.DefaultUploadTimeout,
		RetryMax:      cfg.RetryMaxAttempts,
		RetryBase:     cfg.RetryBackoffSeconds,
		FailureMax:    cfg.MaxConsecutiveFailures,
		CooldownFor:   cfg.FailureCooldownSeconds,
	}
	if !cfg.RetryEnabled {
		engineCfg.RetryMax = 0
	}

	engine := sync.New(scans, cloudClient, engineCfg, logger)

	schedulerCfg := scheduler.Config{
		CheckInterval: cfg.CheckInterval,
		IdleThreshold: cfg.IdleSeconds,
		MinPending:    cfg.MinPending,
		Enabled:       cfg.AutoSyncEnabled,
	}

	sched := scheduler.New(schedulerCfg, scans, engine, logger)

	intakeCfg := intake.Config{
		DuplicateDetectionEnabled: cfg.DuplicateDetectionEnabled,
		Window:                    cfg.DuplicateWindowSeconds,
		Policy:                    cfg.DuplicateAction,
		RecentHistoryLimit:        20,
	}
	if err := intakeCfg.Validate(); err != nil {
		return err
	}

	intakeSvc := intake.NewService(scans, rosterLookup, intakeCfg, nil, logger)

	localCfg := localapi.Config{
		Addr:            cfg.LocalAPIAddr,
		RateLimitRPS:    cfg.LocalAPIRateLimitRPS,
		AllowedOrigins:  cfg.LocalAPIOrigins,
		AdminPINHash:    cfg.AdminPINHash,
		CloudURL:        cfg.CloudURL,
		BatchSize:       cfg.BatchSize,
		AutoSyncEnabled: cfg.AutoSyncEnabled,
	}

	server := localapi.NewServer(localCfg, intakeSvc, scans, stations, oracle, engine, sched,
		localapi.NewStationIdentity(station), logger)

	intakeSvc.OnDuplicate(func(n intake.DuplicateNotification) {
		server.PublishDuplicateDetected(n)
		sched.NotifyActivity(time.Now().UTC())
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go oracle.Run(runCtx)
	go sched.Run(runCtx)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Run(runCtx)
	}()

	orchestrator := shutdown.New(sched, engine, nil, logger)

	drainDone := make(chan struct{})
	go func() {
		orchestrator.WaitForSignal(runCtx, func(p shutdown.Progress) {
			logger.Info("shutdown progress",
				slog.String("stage", string(p.Stage)),
				slog.Bool("ok", p.OK),
				slog.String("message", p.Message),
			)
		})
		close(drainDone)
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("local api server failed", slog.Any("error", err))
		}
	case <-drainDone:
	}

	cancel()
	oracle.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), localapi.DefaultShutdownTimeout)
	defer shutdownCancel()

	return server.Shutdown(shutdownCtx)
}

// resolveStationIdentity persists the station's fixed identity on first launch (spec.md §3)
// and refuses to silently rename an already-persisted station on subsequent starts.
func resolveStationIdentity(ctx context.Context, stations *store.StationStore, configuredName string, logger *slog.Logger) (string, error) {
	existing, err := stations.Get(ctx)
	switch {
	case err == nil:
		if existing.Name != configuredName {
			logger.Warn("configured station name differs from persisted identity; keeping persisted value",
				slog.String("configured", configuredName),
				slog.String("persisted", existing.Name))
		}

		return existing.Name, nil
	case errors.Is(err, store.ErrNotFound):
		if err := stations.SetOnce(ctx, configuredName); err != nil {
			return "", err
		}

		return configuredName, nil
	default:
		return "", err
	}
}
