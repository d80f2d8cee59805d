// Package sync implements the Sync Engine (spec.md §4.C): a single-flight batch uploader
// with retry/backoff, error classification, and consecutive-failure cooldown. The
// single-flight lock is grounded on internal/api/middleware/ratelimit.go's non-blocking
// select idiom; retry/backoff reuses the teacher's indirect cenkalti/backoff/v4 dependency,
// promoted here to direct use (DESIGN.md).
package sync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/attendance-io/station-agent/internal/cloudclient"
	"github.com/attendance-io/station-agent/internal/scan"
)

// State is the engine-level state machine (spec.md §4.C).
type State string

const (
	StateIdle      State = "idle"
	StateProbing   State = "probing"
	StateUploading State = "uploading"
	StateCooldown  State = "cooldown"
)

// SkipReason explains why a cycle performed no work.
type SkipReason string

const (
	SkipNone  SkipReason = ""
	SkipBusy  SkipReason = "busy"
	SkipOffline SkipReason = "offline"
)

// Defaults per spec.md §4.C.
const (
	DefaultBatchSize    = 100
	DefaultConnTimeout  = cloudclient.DefaultConnTimeout
	DefaultUploadTimeout = cloudclient.DefaultUploadTimeout
	DefaultRetryMax     = 3
	DefaultRetryBase    = 5 * time.Second
	DefaultFailureMax   = 5
	DefaultCooldown     = 300 * time.Second
)

// Config holds the Sync Engine's tunables.
type Config struct {
	BatchSize     int
	ConnTimeout   time.Duration
	UploadTimeout time.Duration
	RetryMax      int
	RetryBase     time.Duration
	FailureMax    int
	CooldownFor   time.Duration
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     DefaultBatchSize,
		ConnTimeout:   DefaultConnTimeout,
		UploadTimeout: DefaultUploadTimeout,
		RetryMax:      DefaultRetryMax,
		RetryBase:     DefaultRetryBase,
		FailureMax:    DefaultFailureMax,
		CooldownFor:   DefaultCooldown,
	}
}

// StageNotification is emitted on every engine state transition, for the collaborator-facing
// sync_stage_changed signal (spec.md §6).
type StageNotification struct {
	State State
}

// CycleResult is the summary returned by a sync cycle (spec.md §4.C step 4).
type CycleResult struct {
	CycleID          string
	Skipped          bool
	SkipReason       SkipReason
	Synced           int
	Failed           int
	Batches          int
	RemainingPending int64
	LastError        string
}

// healthProber is the subset of cloudclient.Client the engine needs for the probe step;
// declared as an interface for test doubles.
type healthProber interface {
	Health(ctx context.Context, timeout time.Duration) error
	UploadBatch(ctx context.Context, timeout time.Duration, events []cloudclient.Event) cloudclient.UploadResult
}

// Engine is the Sync Engine. Exactly one cycle may run at a time per process.
type Engine struct {
	store  scan.Store
	client healthProber
	cfg    Config
	logger *slog.Logger

	flight sync.Mutex // acquired via TryLock for single-flight semantics

	mu               sync.Mutex
	state            State
	consecutiveFails int
	cooldownUntil    time.Time
	listeners        []chan<- StageNotification
}

// Subscribe registers ch to receive a StageNotification on every state transition. Delivery
// is non-blocking, mirroring internal/connectivity.Oracle.Subscribe: a slow or full
// subscriber drops the notification rather than stalling the sync cycle.
func (e *Engine) Subscribe(ch chan<- StageNotification) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners = append(e.listeners, ch)
}

// New constructs a Sync Engine.
func New(store scan.Store, client healthProber, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{store: store, client: client, cfg: cfg, logger: logger, state: StateIdle}
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// InCooldown reports whether the engine is currently refusing scheduler-driven invocations
// (spec.md §4.E condition 4). Manual invocation bypasses this (spec.md §4.E).
func (e *Engine) InCooldown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state == StateCooldown && time.Now().Before(e.cooldownUntil)
}

// SyncPending runs spec.md §4.C's cycle contract. When all is false, at most one batch is
// processed; maxBatches of 0 means unbounded (spec.md's "max_batches: int|∞").
func (e *Engine) SyncPending(ctx context.Context, all bool, maxBatches int) CycleResult {
	cycleID := uuid.NewString()

	if !e.flight.TryLock() {
		return CycleResult{CycleID: cycleID, Skipped: true, SkipReason: SkipBusy}
	}
	defer e.flight.Unlock()

	e.setState(StateProbing)

	if err := e.client.Health(ctx, e.cfg.ConnTimeout); err != nil {
		e.setState(StateIdle)
		e.logger.Warn("sync cycle: offline, leaving pending scans untouched", slog.String("cycle_id", cycleID))

		return CycleResult{CycleID: cycleID, Skipped: true, SkipReason: SkipOffline}
	}

	e.setState(StateUploading)

	result := CycleResult{CycleID: cycleID}
	halted := false

	for maxBatches <= 0 || result.Batches < maxBatches {
		batch, err := e.store.FetchPending(ctx, e.cfg.BatchSize)
		if err != nil {
			result.LastError = err.Error()

			break
		}

		if len(batch) == 0 {
			break
		}

		outcome := e.processBatch(ctx, cycleID, batch)
		result.Batches++
		result.Synced += outcome.synced
		result.Failed += outcome.failed

		if outcome.lastErr != "" {
			result.LastError = outcome.lastErr
		}

		if outcome.halt {
			halted = true

			break
		}

		if !all {
			break
		}
	}

	e.recordCycleOutcome(result.LastError != "" && result.Synced == 0)

	counts, err := e.store.CountByStatus(ctx)
	if err == nil {
		result.RemainingPending = counts.Pending
	}

	if halted {
		e.logger.Error("sync cycle halted: permanent auth failure", slog.String("cycle_id", cycleID))
	}

	// Don't clobber a cooldown just entered by recordCycleOutcome: the engine-level state
	// machine only returns to idle once the cooldown timer expires (spec.md §4.C).
	if e.State() != StateCooldown {
		e.setState(StateIdle)
	}

	return result
}

type batchOutcome struct {
	synced  int
	failed  int
	halt    bool
	lastErr string
}

// processBatch uploads one batch and applies the outcome classification table (spec.md
// §4.C), retrying transient failures via backoff.
func (e *Engine) processBatch(ctx context.Context, cycleID string, batch []scan.Scan) batchOutcome {
	events := make([]cloudclient.Event, len(batch))
	for i, s := range batch {
		events[i] = cloudclient.NewEvent(s)
	}

	ids := make([]int64, len(batch))
	for i, s := range batch {
		ids[i] = s.LocalID
	}

	result := e.uploadWithRetry(ctx, events)

	switch result.Outcome {
	case cloudclient.OutcomeSuccess:
		if err := e.store.MarkSynced(ctx, ids); err != nil {
			return batchOutcome{lastErr: err.Error()}
		}

		return batchOutcome{synced: len(ids)}

	case cloudclient.OutcomePermanentAuth:
		_ = e.store.MarkFailed(ctx, ids, result.Err.Error())
		e.logger.Error("sync batch: permanent auth failure", slog.String("cycle_id", cycleID))

		return batchOutcome{failed: len(ids), halt: true, lastErr: result.Err.Error()}

	case cloudclient.OutcomePermanentClient, cloudclient.OutcomeMalformed:
		_ = e.store.MarkFailed(ctx, ids, result.Err.Error())

		return batchOutcome{failed: len(ids), lastErr: result.Err.Error()}

	case cloudclient.OutcomeTransient:
		// Retries already exhausted by uploadWithRetry; leave pending (network class),
		// per spec.md §4.C's documented retry-exhaustion policy.
		return batchOutcome{lastErr: result.Err.Error()}

	default:
		return batchOutcome{lastErr: "unknown outcome"}
	}
}

// uploadWithRetry retries only the transient outcome class, up to cfg.RetryMax attempts
// with exponential backoff: the randomized wait before retry k lies in
// [RetryBase·2^(k-1), 2·RetryBase·2^(k-1)] (spec.md §4.C retry policy). Attempts are counted
// per batch, not per cycle.
func (e *Engine) uploadWithRetry(ctx context.Context, events []cloudclient.Event) cloudclient.UploadResult {
	// RetryMax <= 1 means "one attempt, no retries" (retries disabled). Skip the backoff
	// machinery entirely here: WithMaxRetries takes a uint64, and RetryMax-1 would otherwise
	// underflow to math.MaxUint64 for RetryMax == 0, turning "disabled" into "retry forever".
	if e.cfg.RetryMax <= 1 {
		return e.client.UploadBatch(ctx, e.cfg.UploadTimeout, events)
	}

	var last cloudclient.UploadResult

	bo := backoff.NewExponentialBackOff()
	// Centre 1.5·base·2^(k-1) randomized by ±1/3 gives [base·2^(k-1), 2·base·2^(k-1)].
	bo.InitialInterval = e.cfg.RetryBase * 3 / 2
	bo.Multiplier = 2
	bo.RandomizationFactor = 1.0 / 3
	bo.MaxInterval = bo.InitialInterval << uint(e.cfg.RetryMax) // never capped within RetryMax attempts
	bo.MaxElapsedTime = 0                                       // bounded externally by RetryMax, not elapsed time

	attempt := 0

	operation := func() error {
		attempt++
		last = e.client.UploadBatch(ctx, e.cfg.UploadTimeout, events)

		if last.Outcome == cloudclient.OutcomeTransient {
			return errors.New("transient upload failure")
		}

		return nil
	}

	backoffWithMax := backoff.WithMaxRetries(bo, uint64(e.cfg.RetryMax-1))
	_ = backoff.Retry(operation, backoff.WithContext(backoffWithMax, ctx))

	return last
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	changed := e.state != s
	e.state = s
	listeners := e.listeners
	e.mu.Unlock()

	if !changed {
		return
	}

	for _, ch := range listeners {
		select {
		case ch <- StageNotification{State: s}:
		default:
			e.logger.Warn("sync stage notification dropped: subscriber full")
		}
	}
}

// recordCycleOutcome applies the consecutive-failure cooldown rule (spec.md §4.C): on
// F_max consecutive cycle-level failures, enter cooldown for CooldownFor.
func (e *Engine) recordCycleOutcome(cycleFailed bool) {
	e.mu.Lock()

	if cycleFailed {
		e.consecutiveFails++

		if e.consecutiveFails >= e.cfg.FailureMax {
			e.state = StateCooldown
			e.cooldownUntil = time.Now().Add(e.cfg.CooldownFor)
			listeners := e.listeners
			e.mu.Unlock()

			for _, ch := range listeners {
				select {
				case ch <- StageNotification{State: StateCooldown}:
				default:
					e.logger.Warn("sync stage notification dropped: subscriber full")
				}
			}

			return
		}

		e.mu.Unlock()

		return
	}

	e.consecutiveFails = 0

	clearedCooldown := e.state == StateCooldown && time.Now().After(e.cooldownUntil)
	if clearedCooldown {
		e.state = StateIdle
	}

	listeners := e.listeners
	e.mu.Unlock()

	if clearedCooldown {
		for _, ch := range listeners {
			select {
			case ch <- StageNotification{State: StateIdle}:
			default:
			}
		}
	}
}
