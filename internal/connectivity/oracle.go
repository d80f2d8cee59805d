// Package connectivity implements the Connectivity Oracle (spec.md §4.B): a health-check
// layer with hysteresis that gates both display state and sync decisions. The background
// probe-ticker goroutine is grounded on internal/storage/lineage_store.go's runCleanup
// (time.Ticker + stop/done channel pair, cancellable per-tick context).
package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the Oracle's three-valued connectivity state.
type State string

const (
	StateUnknown State = "unknown"
	StateOnline  State = "online"
	StateOffline State = "offline"
)

const (
	// DefaultProbeTimeout is T_probe.
	DefaultProbeTimeout = 1500 * time.Millisecond
	// DefaultFailureThreshold is H: consecutive failures before transitioning to offline.
	DefaultFailureThreshold = 2
	// DefaultInterval is T_interval; 0 disables periodic probing.
	DefaultInterval = 30 * time.Second
	// DefaultInitialDelay is T_initial.
	DefaultInitialDelay = 15 * time.Second
)

// ErrProbeTimeoutOutOfRange, ErrIntervalOutOfRange report Config.Validate failures.
var (
	ErrProbeTimeoutOutOfRange = errors.New("connectivity: probe timeout out of range")
	ErrIntervalOutOfRange     = errors.New("connectivity: probe interval out of range")
)

// Config holds the Oracle's tunables (spec.md §4.B).
type Config struct {
	// HealthURL is the unauthenticated GET endpoint probed for reachability.
	HealthURL string
	// ProbeTimeout is T_probe (default 1.5s; range 0.5s-30s).
	ProbeTimeout time.Duration
	// FailureThreshold is H (default 2).
	FailureThreshold int
	// Interval is T_interval (default 10-60s; 0 disables periodic probing).
	Interval time.Duration
	// InitialDelay is T_initial (default 15s).
	InitialDelay time.Duration
}

// DefaultConfig returns spec.md's documented defaults; HealthURL must still be set by the
// caller.
func DefaultConfig() Config {
	return Config{
		ProbeTimeout:     DefaultProbeTimeout,
		FailureThreshold: DefaultFailureThreshold,
		Interval:         DefaultInterval,
		InitialDelay:     DefaultInitialDelay,
	}
}

// Validate enforces the documented ranges.
func (c Config) Validate() error {
	if c.ProbeTimeout < 500*time.Millisecond || c.ProbeTimeout > 30*time.Second {
		return ErrProbeTimeoutOutOfRange
	}

	if c.Interval != 0 && (c.Interval < 10*time.Second || c.Interval > 60*time.Second) {
		return ErrIntervalOutOfRange
	}

	return nil
}

// Notification is the change payload emitted exactly once per state transition (spec.md §4.B).
type Notification struct {
	OK      bool
	Message string
	State   State
}

// Oracle maintains the connectivity state machine and drives the background probe ticker.
type Oracle struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu               sync.Mutex
	state            State
	consecutiveFails int
	inFlight         bool
	listeners        []chan<- Notification

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New constructs an Oracle in StateUnknown. The background ticker is not started until Run
// is called.
func New(cfg Config, client *http.Client, logger *slog.Logger) *Oracle {
	if client == nil {
		client = &http.Client{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Oracle{
		cfg:    cfg,
		client: client,
		logger: logger,
		state:  StateUnknown,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// State returns the current connectivity state.
func (o *Oracle) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.state
}

// Subscribe registers a channel to receive state-change notifications. The channel must be
// buffered or drained promptly; Subscribe never blocks a probe on a slow listener (sends are
// non-blocking, a dropped notification is logged).
func (o *Oracle) Subscribe(ch chan<- Notification) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.listeners = append(o.listeners, ch)
}

// Run starts the periodic probe ticker (spec.md §4.B scheduling: T_interval, T_initial).
// Run returns immediately; the ticker runs in a background goroutine until Stop is called.
// If cfg.Interval is 0, periodic probing is disabled and Run is a no-op beyond marking the
// Oracle started (on-demand Probe calls still work).
func (o *Oracle) Run(ctx context.Context) {
	if o.cfg.Interval == 0 {
		close(o.done)

		return
	}

	go o.runTicker(ctx)
}

func (o *Oracle) runTicker(ctx context.Context) {
	defer close(o.done)

	select {
	case <-time.After(o.cfg.InitialDelay):
	case <-o.stop:
		return
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Probe(ctx)
		}
	}
}

// Stop halts the background ticker and waits for it to exit (grounded on
// lineage_store.go's Close()/cleanupStop/cleanupDone pair).
func (o *Oracle) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
	<-o.done
}

// Probe executes a single bounded GET against HealthURL and applies the hysteresis rules.
// Concurrent calls are coalesced: a probe already in flight causes this call to return
// immediately without performing a second request (spec.md §4.B).
func (o *Oracle) Probe(ctx context.Context) {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()

		return
	}

	o.inFlight = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inFlight = false
		o.mu.Unlock()
	}()

	probeID := uuid.NewString()

	ok := o.doProbe(ctx)
	o.applyResult(probeID, ok)
}

func (o *Oracle) doProbe(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, o.cfg.HealthURL, nil)
	if err != nil {
		o.logger.Error("connectivity probe: build request failed", slog.Any("error", err))

		return false
	}

	resp, err := o.client.Do(req)
	if err != nil {
		// Covers deadline-exceeded cancellations and connection/DNS/TLS failures alike;
		// all are reported as a plain probe failure (spec.md §4.B cancellation semantics).
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (o *Oracle) applyResult(probeID string, ok bool) {
	o.mu.Lock()

	prev := o.state
	var notify *Notification

	if ok {
		o.consecutiveFails = 0

		if o.state != StateOnline {
			o.state = StateOnline
			notify = &Notification{OK: true, Message: "connectivity restored", State: StateOnline}
		}
	} else {
		o.consecutiveFails++

		if o.state != StateOffline && o.consecutiveFails >= o.cfg.FailureThreshold {
			o.state = StateOffline
			notify = &Notification{OK: false, Message: "connectivity lost", State: StateOffline}
		}
	}

	listeners := append([]chan<- Notification(nil), o.listeners...)
	o.mu.Unlock()

	if notify != nil {
		o.logger.Info("connectivity state changed",
			slog.String("probe_id", probeID),
			slog.String("from", string(prev)),
			slog.String("to", string(notify.State)))

		for _, ch := range listeners {
			select {
			case ch <- *notify:
			default:
				o.logger.Warn("connectivity notification dropped: listener not ready")
			}
		}
	}
}
