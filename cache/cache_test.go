package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/reproforge/reproforge/model"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	var mr = miniredis.RunT(t)
	var c = NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestTestResultRoundTrip(t *testing.T) {
	var c, mr = newTestCache(t)
	var ctx = context.Background()

	var result = TestResult{
		TestID:     "t-1",
		Passed:     true,
		ExitCode:   0,
		DurationMS: 1200,
		TestsRun:   3,
		Output:     "3 passed",
		FinishedAt: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, c.SetTestResult(ctx, result))
	require.Equal(t, TestResultTTL, mr.TTL("test_result:t-1"))

	var got, err = c.GetTestResult(ctx, "t-1")
	require.NoError(t, err)
	require.Equal(t, &result, got)
}

func TestGetTestResultAbsent(t *testing.T) {
	var c, _ = newTestCache(t)

	var got, err = c.GetTestResult(context.Background(), "never-ran")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStabilityRoundTrip(t *testing.T) {
	var c, mr = newTestCache(t)
	var ctx = context.Background()

	var rec = model.StabilityRecord{
		ReproID:          "repro-1",
		TotalRuns:        5,
		PassedRuns:       3,
		StabilityScore:   0.6,
		FlakyScore:       0.24,
		ConsistencyScore: 0.76,
		Classification:   "unstable",
		ComputedAt:       time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, c.SetStability(ctx, rec))
	require.Equal(t, StabilityTTL, mr.TTL("stability:repro-1"))

	var got, err = c.GetStability(ctx, "repro-1")
	require.NoError(t, err)
	require.Equal(t, &rec, got)
}

func TestResourceStatsExpire(t *testing.T) {
	var c, mr = newTestCache(t)
	var ctx = context.Background()

	var sample = ResourceSample{
		TestID:     "t-1",
		CPUPercent: 12.34,
		MemPercent: 56.78,
		MemUsedMB:  512,
		ObservedAt: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, c.SetResourceStats(ctx, sample))

	var got, err = c.GetResourceStats(ctx, "t-1")
	require.NoError(t, err)
	require.Equal(t, &sample, got)

	mr.FastForward(ResourceStatsTTL + time.Second)
	got, err = c.GetResourceStats(ctx, "t-1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestKeyFamiliesAreDisjoint(t *testing.T) {
	var c, _ = newTestCache(t)
	var ctx = context.Background()

	require.NoError(t, c.SetTestResult(ctx, TestResult{TestID: "x"}))
	require.NoError(t, c.SetStability(ctx, model.StabilityRecord{ReproID: "x"}))

	var stats, err = c.GetResourceStats(ctx, "x")
	require.NoError(t, err)
	require.Nil(t, stats)
}
