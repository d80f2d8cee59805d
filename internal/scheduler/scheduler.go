// Package scheduler implements the Auto-Sync Scheduler (spec.md §4.E): an idle-triggered
// background controller that decides when the Sync Engine may run. The ticker/stop/done
// pattern is grounded on the same internal/storage/lineage_store.go idiom used by the
// Connectivity Oracle.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/attendance-io/station-agent/internal/scan"
	"github.com/attendance-io/station-agent/internal/sync"
)

// Defaults per spec.md §4.E.
const (
	DefaultCheckInterval = 60 * time.Second
	DefaultIdleThreshold = 30 * time.Second
	DefaultMinPending    = 1
)

// Config holds the Scheduler's tunables.
type Config struct {
	// CheckInterval is T_check (default 60s; range 10-3600s).
	CheckInterval time.Duration
	// IdleThreshold is T_idle (default 30s; range 5-3600s).
	IdleThreshold time.Duration
	// MinPending is M_min (default 1; range 1-10000).
	MinPending int64
	// Enabled gates every tick (spec.md §4.E condition 1).
	Enabled bool
}

// DefaultConfig returns spec.md's documented defaults, enabled.
func DefaultConfig() Config {
	return Config{
		CheckInterval: DefaultCheckInterval,
		IdleThreshold: DefaultIdleThreshold,
		MinPending:    DefaultMinPending,
		Enabled:       true,
	}
}

// pendingCounter is the subset of scan.Store the scheduler needs, kept narrow for tests.
type pendingCounter interface {
	CountByStatus(ctx context.Context) (scan.Counts, error)
}

// engine is the subset of *sync.Engine the scheduler depends on.
type engine interface {
	SyncPending(ctx context.Context, all bool, maxBatches int) sync.CycleResult
	InCooldown() bool
}

// Scheduler drives the engine on a periodic tick, subject to spec.md §4.E's five
// conditions.
type Scheduler struct {
	cfg     Config
	store   pendingCounter
	engine  engine
	logger  *slog.Logger

	mu           sync.Mutex
	lastActivity time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New constructs a Scheduler. lastActivity starts at the zero Time, so the first real tick
// after startup satisfies the idle condition immediately (no stale "just started" activity
// to wait out).
func New(cfg Config, store pendingCounter, eng engine, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cfg:    cfg,
		store:  store,
		engine: eng,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// NotifyActivity records a new scan's timestamp (spec.md §4.E: "updated on every successful
// insert"). The local API's submit_scan handler calls this after every stored scan, and
// cmd/agent's OnDuplicate callback calls it for every detected duplicate.
func (s *Scheduler) NotifyActivity(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivity = at
}

// Run starts the periodic tick in a background goroutine. Run returns immediately.
func (s *Scheduler) Run(ctx context.Context) {
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	interval := s.cfg.CheckInterval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop halts the background ticker and waits for it to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// tick evaluates spec.md §4.E's five conditions and invokes the engine if all hold.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}

	s.mu.Lock()
	idleFor := time.Since(s.lastActivity)
	s.mu.Unlock()

	if idleFor < s.cfg.IdleThreshold {
		return
	}

	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("scheduler tick: pending count failed", slog.Any("error", err))

		return
	}

	if counts.Pending < s.cfg.MinPending {
		return
	}

	if s.engine.InCooldown() {
		return
	}

	// Condition 5 (single-flight availability) is enforced by the engine itself; a busy
	// engine returns {skipped: true, reason: busy} rather than blocking here.
	result := s.engine.SyncPending(ctx, true, 0)
	if result.Skipped {
		s.logger.Debug("scheduler tick: engine skipped", slog.String("reason", string(result.SkipReason)))
	}
}

// TriggerManualSync bypasses conditions 2 (idle), 3 (min pending), and engine cooldown, but
// not condition 5 (single-flight availability) — spec.md §4.E.
func (s *Scheduler) TriggerManualSync(ctx context.Context) sync.CycleResult {
	return s.engine.SyncPending(ctx, true, 0)
}
