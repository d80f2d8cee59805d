package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attendance-io/station-agent/internal/scan"
	"github.com/attendance-io/station-agent/internal/sync"
)

type fakeStore struct {
	pending int64
	err     error
}

func (f *fakeStore) CountByStatus(_ context.Context) (scan.Counts, error) {
	if f.err != nil {
		return scan.Counts{}, f.err
	}

	return scan.Counts{Pending: f.pending}, nil
}

type fakeEngine struct {
	cooldown bool
	calls    int32
	result   sync.CycleResult
}

func (f *fakeEngine) SyncPending(_ context.Context, _ bool, _ int) sync.CycleResult {
	atomic.AddInt32(&f.calls, 1)

	return f.result
}

func (f *fakeEngine) InCooldown() bool { return f.cooldown }

func TestScheduler_Tick_AllConditionsMet_InvokesEngine(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleThreshold = 0 // lastActivity is zero-valued: always "idle enough"

	st := &fakeStore{pending: 5}
	eng := &fakeEngine{}

	s := New(cfg, st, eng, nil)
	s.tick(context.Background())

	assert.EqualValues(t, 1, atomic.LoadInt32(&eng.calls))
}

func TestScheduler_Tick_Disabled_SkipsEngine(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	eng := &fakeEngine{}
	s := New(cfg, &fakeStore{pending: 5}, eng, nil)
	s.tick(context.Background())

	assert.EqualValues(t, 0, atomic.LoadInt32(&eng.calls))
}

func TestScheduler_Tick_RecentActivity_Defers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleThreshold = time.Hour

	eng := &fakeEngine{}
	s := New(cfg, &fakeStore{pending: 5}, eng, nil)
	s.NotifyActivity(time.Now())
	s.tick(context.Background())

	assert.EqualValues(t, 0, atomic.LoadInt32(&eng.calls))
}

func TestScheduler_Tick_BelowMinPending_Skips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleThreshold = 0
	cfg.MinPending = 10

	eng := &fakeEngine{}
	s := New(cfg, &fakeStore{pending: 3}, eng, nil)
	s.tick(context.Background())

	assert.EqualValues(t, 0, atomic.LoadInt32(&eng.calls))
}

func TestScheduler_Tick_EngineInCooldown_Skips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleThreshold = 0

	eng := &fakeEngine{cooldown: true}
	s := New(cfg, &fakeStore{pending: 5}, eng, nil)
	s.tick(context.Background())

	assert.EqualValues(t, 0, atomic.LoadInt32(&eng.calls))
}

func TestScheduler_TriggerManualSync_BypassesIdleAndPendingAndCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleThreshold = time.Hour
	cfg.MinPending = 1000

	eng := &fakeEngine{cooldown: true}
	s := New(cfg, &fakeStore{pending: 0}, eng, nil)
	s.NotifyActivity(time.Now())

	result := s.TriggerManualSync(context.Background())
	require.False(t, result.Skipped)
	assert.EqualValues(t, 1, atomic.LoadInt32(&eng.calls))
}
