// Package shutdown implements the Shutdown Orchestrator (spec.md §4.F): an ordered drain on
// termination — quiesce the scheduler, force a bounded sync-all cycle, hand off to the
// export collaborator, and report a consolidated outcome. Grounded on
// internal/api/server.go's Start/shutdown pair: signal.Notify + select between a
// server-error channel and the stop channel, then a bounded context.WithTimeout drain.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/attendance-io/station-agent/internal/sync"
)

// Stage identifies a phase of the shutdown sequence, reported to the UI collaborator
// (spec.md §4.F: "{stage: sync, ok, message, destination?}").
type Stage string

const (
	StageSync     Stage = "sync"
	StageExport   Stage = "export"
	StageComplete Stage = "complete"
)

// Progress is a single shutdown-stage notification.
type Progress struct {
	Stage       Stage
	OK          bool
	Message     string
	Destination string
}

// DefaultLockTimeout is the bounded time to acquire the engine lock before falling back to
// export-without-sync (spec.md §4.F: "e.g., 10s").
const DefaultLockTimeout = 10 * time.Second

// DefaultMaxBatches is the bounded max_batches passed to the drain cycle (spec.md §4.F:
// "e.g., 50").
const DefaultMaxBatches = 50

// quiescer is the subset of *scheduler.Scheduler the orchestrator needs.
type quiescer interface {
	Stop()
}

// drainEngine is the subset of *sync.Engine the orchestrator needs.
type drainEngine interface {
	SyncPending(ctx context.Context, all bool, maxBatches int) sync.CycleResult
}

// Exporter is the external report-export collaborator (an explicit non-goal of this repo,
// spec.md §1); the orchestrator only depends on its handoff interface.
type Exporter interface {
	Export(ctx context.Context) (destination string, err error)
}

// Orchestrator runs the ordered drain sequence on termination.
type Orchestrator struct {
	scheduler   quiescer
	engine      drainEngine
	exporter    Exporter
	lockTimeout time.Duration
	maxBatches  int
	logger      *slog.Logger
}

// New constructs an Orchestrator. A nil Exporter skips stage 2 (spec.md §4.F step 2), useful
// for deployments without the export collaborator wired.
func New(scheduler quiescer, engine drainEngine, exporter Exporter, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		scheduler:   scheduler,
		engine:      engine,
		exporter:    exporter,
		lockTimeout: DefaultLockTimeout,
		maxBatches:  DefaultMaxBatches,
		logger:      logger,
	}
}

// WaitForSignal blocks until SIGINT/SIGTERM is received, then runs Drain with a background
// context. Grounded on internal/api/server.go's Start(): signal.Notify + select.
func (o *Orchestrator) WaitForSignal(ctx context.Context, onProgress func(Progress)) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		o.logger.Info("shutdown: received signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}

	o.Drain(context.Background(), onProgress)
}

// Drain runs spec.md §4.F's three-stage sequence. onProgress, if non-nil, is called once per
// stage; all calls are on the caller's goroutine (the "main sequence" requirement of
// spec.md §5 is the caller's responsibility to marshal further if needed).
func (o *Orchestrator) Drain(ctx context.Context, onProgress func(Progress)) error {
	notify := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	var errs *multierror.Error

	// Stage 0: quiesce the scheduler's ticker goroutine before anything else touches the
	// engine lock (DESIGN.md open-question decision 3) — prevents a tick from racing the
	// forced drain cycle below.
	if o.scheduler != nil {
		o.scheduler.Stop()
	}

	// Stage 1: sync-all, bounded.
	lockCtx, cancel := context.WithTimeout(ctx, o.lockTimeout)
	defer cancel()

	result := o.runBoundedSync(lockCtx)

	if result.Skipped {
		notify(Progress{Stage: StageSync, OK: false, Message: "sync skipped: " + string(result.SkipReason)})
		errs = multierror.Append(errs, errSyncSkipped(result.SkipReason))
	} else {
		notify(Progress{Stage: StageSync, OK: true, Message: "sync drained"})
	}

	// Stage 2: export handoff.
	if o.exporter != nil {
		dest, err := o.exporter.Export(ctx)
		if err != nil {
			notify(Progress{Stage: StageExport, OK: false, Message: err.Error()})
			errs = multierror.Append(errs, err)
		} else {
			notify(Progress{Stage: StageExport, OK: true, Destination: dest})
		}
	}

	// Stage 3: complete.
	ok := errs == nil || errs.Len() == 0
	notify(Progress{Stage: StageComplete, OK: ok})

	if errs != nil {
		return errs.ErrorOrNil()
	}

	return nil
}

// runBoundedSync invokes the engine with all=true and a bounded max_batches. While another
// cycle holds the engine lock it retries until ctx (bounded by lockTimeout) expires, then
// returns the busy-skipped result. The same ctx also bounds the drain cycle once it runs.
func (o *Orchestrator) runBoundedSync(ctx context.Context) sync.CycleResult {
	const lockRetryInterval = 100 * time.Millisecond

	for {
		result := o.engine.SyncPending(ctx, true, o.maxBatches)
		if !result.Skipped || result.SkipReason != sync.SkipBusy {
			return result
		}

		select {
		case <-ctx.Done():
			return result
		case <-time.After(lockRetryInterval):
		}
	}
}

func errSyncSkipped(reason sync.SkipReason) error {
	return &syncSkippedError{reason: reason}
}

type syncSkippedError struct {
	reason sync.SkipReason
}

func (e *syncSkippedError) Error() string {
	return "shutdown: sync skipped: " + string(e.reason)
}
