package shutdown

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attendance-io/station-agent/internal/sync"
)

type fakeQuiescer struct {
	stopped bool
}

func (f *fakeQuiescer) Stop() { f.stopped = true }

type fakeDrainEngine struct {
	result sync.CycleResult
}

func (f *fakeDrainEngine) SyncPending(_ context.Context, all bool, maxBatches int) sync.CycleResult {
	return f.result
}

type fakeExporter struct {
	dest string
	err  error
}

func (f *fakeExporter) Export(_ context.Context) (string, error) {
	return f.dest, f.err
}

func TestOrchestrator_Drain_HappyPath(t *testing.T) {
	sched := &fakeQuiescer{}
	eng := &fakeDrainEngine{result: sync.CycleResult{Synced: 3}}
	exp := &fakeExporter{dest: "/tmp/report.json"}

	o := New(sched, eng, exp, nil)

	var stages []Progress
	err := o.Drain(context.Background(), func(p Progress) { stages = append(stages, p) })

	require.NoError(t, err)
	assert.True(t, sched.stopped)
	require.Len(t, stages, 3)
	assert.Equal(t, StageSync, stages[0].Stage)
	assert.True(t, stages[0].OK)
	assert.Equal(t, StageExport, stages[1].Stage)
	assert.Equal(t, "/tmp/report.json", stages[1].Destination)
	assert.Equal(t, StageComplete, stages[2].Stage)
	assert.True(t, stages[2].OK)
}

func TestOrchestrator_Drain_SchedulerStoppedBeforeEngineTouched(t *testing.T) {
	sched := &fakeQuiescer{}
	var engineCalledAfterStop bool

	eng := &stopOrderEngine{sched: sched, onCall: func() {
		engineCalledAfterStop = sched.stopped
	}}

	o := New(sched, eng, nil, nil)
	_ = o.Drain(context.Background(), nil)

	assert.True(t, engineCalledAfterStop)
}

type stopOrderEngine struct {
	sched  *fakeQuiescer
	onCall func()
}

func (e *stopOrderEngine) SyncPending(_ context.Context, _ bool, _ int) sync.CycleResult {
	e.onCall()

	return sync.CycleResult{}
}

func TestOrchestrator_Drain_SyncSkippedStillRunsExportAndReportsError(t *testing.T) {
	eng := &fakeDrainEngine{result: sync.CycleResult{Skipped: true, SkipReason: sync.SkipOffline}}
	exp := &fakeExporter{dest: "/tmp/report.json"}

	o := New(&fakeQuiescer{}, eng, exp, nil)

	var stages []Progress
	err := o.Drain(context.Background(), func(p Progress) { stages = append(stages, p) })

	require.Error(t, err)
	assert.False(t, stages[0].OK)
	assert.True(t, stages[1].OK) // export still runs
	assert.False(t, stages[2].OK)
}

func TestOrchestrator_Drain_ExportFailureAggregatesError(t *testing.T) {
	eng := &fakeDrainEngine{result: sync.CycleResult{Synced: 1}}
	exp := &fakeExporter{err: errors.New("disk full")}

	o := New(&fakeQuiescer{}, eng, exp, nil)

	err := o.Drain(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestOrchestrator_Drain_NilExporterSkipsExportStage(t *testing.T) {
	eng := &fakeDrainEngine{result: sync.CycleResult{Synced: 1}}

	o := New(&fakeQuiescer{}, eng, nil, nil)

	var stages []Progress
	err := o.Drain(context.Background(), func(p Progress) { stages = append(stages, p) })

	require.NoError(t, err)
	require.Len(t, stages, 2) // sync + complete, no export
	assert.Equal(t, StageSync, stages[0].Stage)
	assert.Equal(t, StageComplete, stages[1].Stage)
}
