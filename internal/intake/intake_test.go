package intake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attendance-io/station-agent/internal/roster"
	"github.com/attendance-io/station-agent/internal/scan"
	"github.com/attendance-io/station-agent/internal/store"
)

func clockAt(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestSubmitScan_HappyPath(t *testing.T) {
	// spec.md S1: badges A, B, C at Gate-1, 10:00:00Z / :01 / :02.
	s := store.NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	cfg := DefaultConfig()

	for i, badge := range []string{"A", "B", "C"} {
		svc := NewService(s, nil, cfg, clockAt(base.Add(time.Duration(i)*time.Second)), nil)

		resp, err := svc.SubmitScan(ctx, "Gate-1", badge)
		require.NoError(t, err)
		assert.True(t, resp.OK)
		assert.False(t, resp.IsDuplicate)
	}

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, counts.Pending)

	pending, err := s.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "Gate-1-A-1", pending[0].IdempotencyKey)
	assert.Equal(t, "Gate-1-B-2", pending[1].IdempotencyKey)
	assert.Equal(t, "Gate-1-C-3", pending[2].IdempotencyKey)
}

func TestSubmitScan_BlockModeDuplicate(t *testing.T) {
	// spec.md S5: policy=block, W=60s.
	s := store.NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	cfg := DefaultConfig()
	cfg.Policy = PolicyBlock
	cfg.Window = 60 * time.Second

	svc1 := NewService(s, nil, cfg, clockAt(base), nil)
	resp1, err := svc1.SubmitScan(ctx, "Gate-1", "X")
	require.NoError(t, err)
	assert.True(t, resp1.OK)

	// 10:00:30Z: within the 60s window -> rejected.
	svc2 := NewService(s, nil, cfg, clockAt(base.Add(30*time.Second)), nil)
	resp2, err := svc2.SubmitScan(ctx, "Gate-1", "X")
	require.NoError(t, err)
	assert.False(t, resp2.OK)
	assert.True(t, resp2.IsDuplicate)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Total())

	// 10:01:05Z: past the window -> admitted, store now has two records.
	svc3 := NewService(s, nil, cfg, clockAt(base.Add(65*time.Second)), nil)
	resp3, err := svc3.SubmitScan(ctx, "Gate-1", "X")
	require.NoError(t, err)
	assert.True(t, resp3.OK)

	counts, err = s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts.Total())
}

func TestSubmitScan_ExactBoundaryIsNotADuplicate(t *testing.T) {
	// spec.md §8: a scan at exactly t2-t1=W is NOT treated as a duplicate.
	s := store.NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	cfg := DefaultConfig()
	cfg.Policy = PolicyBlock
	cfg.Window = 60 * time.Second

	svc1 := NewService(s, nil, cfg, clockAt(base), nil)
	_, err := svc1.SubmitScan(ctx, "Gate-1", "X")
	require.NoError(t, err)

	svc2 := NewService(s, nil, cfg, clockAt(base.Add(60*time.Second)), nil)
	resp, err := svc2.SubmitScan(ctx, "Gate-1", "X")
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.False(t, resp.IsDuplicate)
}

func TestSubmitScan_WarnModeInsertsAndFlags(t *testing.T) {
	s := store.NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	cfg := DefaultConfig()
	cfg.Policy = PolicyWarn

	svc1 := NewService(s, nil, cfg, clockAt(base), nil)
	_, err := svc1.SubmitScan(ctx, "Gate-1", "X")
	require.NoError(t, err)

	svc2 := NewService(s, nil, cfg, clockAt(base.Add(10*time.Second)), nil)
	resp, err := svc2.SubmitScan(ctx, "Gate-1", "X")
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.True(t, resp.IsDuplicate)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts.Total())
}

func TestSubmitScan_SilentModeInsertsWithoutFlagging(t *testing.T) {
	s := store.NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	cfg := DefaultConfig()
	cfg.Policy = PolicySilent

	svc1 := NewService(s, nil, cfg, clockAt(base), nil)
	_, err := svc1.SubmitScan(ctx, "Gate-1", "X")
	require.NoError(t, err)

	svc2 := NewService(s, nil, cfg, clockAt(base.Add(10*time.Second)), nil)
	resp, err := svc2.SubmitScan(ctx, "Gate-1", "X")
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.False(t, resp.IsDuplicate)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts.Total())
}

func TestSubmitScan_RosterMatch(t *testing.T) {
	s := store.NewInMemoryStore()
	ctx := context.Background()

	lookup := roster.NewInMemorySet([]scan.RosterEntry{
		{BadgeID: "1001", Payload: map[string]string{"name": "Ada Lovelace"}},
	}, "hash-1")

	cfg := DefaultConfig()
	svc := NewService(s, lookup, cfg, clockAt(time.Now().UTC()), nil)

	resp, err := svc.SubmitScan(ctx, "Gate-1", "1001")
	require.NoError(t, err)
	assert.True(t, resp.Matched)
	assert.Equal(t, "Ada Lovelace", resp.Payload["name"])

	resp2, err := svc.SubmitScan(ctx, "Gate-1", "9999")
	require.NoError(t, err)
	assert.False(t, resp2.Matched)
}

func TestSubmitScan_NonNumericResolvesViaRosterSearch(t *testing.T) {
	s := store.NewInMemoryStore()
	ctx := context.Background()

	lookup := roster.NewInMemorySet([]scan.RosterEntry{
		{BadgeID: "1001", Payload: map[string]string{"name": "Ada Lovelace"}},
	}, "hash-1")

	cfg := DefaultConfig()
	svc := NewService(s, lookup, cfg, clockAt(time.Now().UTC()), nil)

	resp, err := svc.SubmitScan(ctx, "Gate-1", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "1001", resp.BadgeID)
	assert.True(t, resp.Matched)
}

func TestSubmitScan_RejectsEmptyInput(t *testing.T) {
	s := store.NewInMemoryStore()
	ctx := context.Background()

	svc := NewService(s, nil, DefaultConfig(), clockAt(time.Now().UTC()), nil)

	_, err := svc.SubmitScan(ctx, "Gate-1", "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestSubmitScan_DuplicateDetectionDisabled(t *testing.T) {
	s := store.NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	cfg := DefaultConfig()
	cfg.DuplicateDetectionEnabled = false

	svc1 := NewService(s, nil, cfg, clockAt(base), nil)
	_, err := svc1.SubmitScan(ctx, "Gate-1", "X")
	require.NoError(t, err)

	svc2 := NewService(s, nil, cfg, clockAt(base.Add(time.Second)), nil)
	resp, err := svc2.SubmitScan(ctx, "Gate-1", "X")
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.False(t, resp.IsDuplicate)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts.Total())
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Policy = "bogus"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPolicy)

	bad = cfg
	bad.Window = 0
	assert.ErrorIs(t, bad.Validate(), ErrWindowOutOfRange)

	bad = cfg
	bad.Window = 4000 * time.Second
	assert.ErrorIs(t, bad.Validate(), ErrWindowOutOfRange)
}
