package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOracle(t *testing.T, handler http.HandlerFunc) (*Oracle, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.HealthURL = srv.URL
	cfg.Interval = 0 // no ticker; tests drive Probe directly

	return New(cfg, srv.Client(), nil), srv
}

func TestOracle_FirstSuccessTransitionsToOnline(t *testing.T) {
	o, _ := newTestOracle(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	assert.Equal(t, StateUnknown, o.State())
	o.Probe(context.Background())
	assert.Equal(t, StateOnline, o.State())
}

func TestOracle_HysteresisRequiresThresholdFailures(t *testing.T) {
	var failCount int32

	o, _ := newTestOracle(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&failCount, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	o.cfg.FailureThreshold = 2

	o.Probe(context.Background()) // failure 1, still unknown (no online->offline edge yet)
	assert.NotEqual(t, StateOffline, o.State())

	o.Probe(context.Background()) // failure 2, reaches threshold
	assert.Equal(t, StateOffline, o.State())
}

func TestOracle_AnySuccessResetsCounterAndRestoresOnline(t *testing.T) {
	healthy := int32(0)

	o, _ := newTestOracle(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&healthy) == 1 {
			w.WriteHeader(http.StatusOK)

			return
		}

		w.WriteHeader(http.StatusServiceUnavailable)
	})
	o.cfg.FailureThreshold = 2

	o.Probe(context.Background())
	o.Probe(context.Background())
	require.Equal(t, StateOffline, o.State())

	atomic.StoreInt32(&healthy, 1)
	o.Probe(context.Background())
	assert.Equal(t, StateOnline, o.State())
}

func TestOracle_NotificationEmittedOncePerTransition(t *testing.T) {
	o, _ := newTestOracle(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ch := make(chan Notification, 4)
	o.Subscribe(ch)

	o.Probe(context.Background())
	o.Probe(context.Background()) // already online: no second notification

	select {
	case n := <-ch:
		assert.True(t, n.OK)
		assert.Equal(t, StateOnline, n.State)
	case <-time.After(time.Second):
		t.Fatal("expected a notification")
	}

	select {
	case n := <-ch:
		t.Fatalf("unexpected second notification: %+v", n)
	default:
	}
}

func TestOracle_ProbeTimeoutIsReportedAsFailure(t *testing.T) {
	o, _ := newTestOracle(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})
	o.cfg.ProbeTimeout = 1 * time.Millisecond
	o.cfg.FailureThreshold = 1

	o.Probe(context.Background())
	assert.Equal(t, StateOffline, o.State())
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HealthURL = "http://localhost"
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.ProbeTimeout = 0
	assert.ErrorIs(t, bad.Validate(), ErrProbeTimeoutOutOfRange)

	bad = cfg
	bad.Interval = 5 * time.Second
	assert.ErrorIs(t, bad.Validate(), ErrIntervalOutOfRange)
}
