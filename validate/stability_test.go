package validate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func outcomesOf(passes ...bool) []Outcome {
	var out = make([]Outcome, len(passes))
	for i, p := range passes {
		out[i] = Outcome{Iteration: i, Passed: p, DurationMS: int64(100 + 10*i)}
	}
	return out
}

func TestStabilityMixedRuns(t *testing.T) {
	// Three passes and two failures over five runs.
	var rec = Stability("repro-1", outcomesOf(true, true, false, true, false))

	require.Equal(t, 5, rec.TotalRuns)
	require.Equal(t, 3, rec.PassedRuns)
	require.InDelta(t, 0.6, rec.StabilityScore, 1e-9)
	require.InDelta(t, 0.24, rec.FlakyScore, 1e-9)
	require.InDelta(t, 0.76, rec.ConsistencyScore, 1e-9)
	require.Equal(t, "unstable", rec.Classification)
}

func TestStabilityAllPassing(t *testing.T) {
	var rec = Stability("repro-1", outcomesOf(true, true, true))
	require.Equal(t, 1.0, rec.StabilityScore)
	require.Zero(t, rec.FlakyScore)
	require.Equal(t, 1.0, rec.ConsistencyScore)
	require.Equal(t, "stable", rec.Classification)
}

func TestStabilityAllFailing(t *testing.T) {
	var rec = Stability("repro-1", outcomesOf(false, false, false))
	require.Zero(t, rec.StabilityScore)
	require.Zero(t, rec.FlakyScore)
	require.Equal(t, "very_unstable", rec.Classification)
}

func TestStabilityNoRuns(t *testing.T) {
	var rec = Stability("repro-1", nil)
	require.Equal(t, "very_unstable", rec.Classification)
	require.Zero(t, rec.TotalRuns)
}

func TestStabilityMonotoneUnderAddedPass(t *testing.T) {
	// Adding a passing run never lowers the stability score and never raises
	// the flaky score past the mixed-sequence bound of 0.25.
	var passes = []bool{true, false, false, true, false}
	for i := 0; i != 10; i++ {
		var before = Stability("r", outcomesOf(passes...))
		passes = append(passes, true)
		var after = Stability("r", outcomesOf(passes...))

		require.GreaterOrEqual(t, after.StabilityScore, before.StabilityScore)
		require.LessOrEqual(t, after.FlakyScore, 0.25)
	}
}

func TestClassify(t *testing.T) {
	require.Equal(t, "stable", Classify(1.0))
	require.Equal(t, "mostly_stable", Classify(0.8))
	require.Equal(t, "mostly_stable", Classify(0.95))
	require.Equal(t, "unstable", Classify(0.5))
	require.Equal(t, "unstable", Classify(0.6))
	require.Equal(t, "very_unstable", Classify(0.49))
	require.Equal(t, "very_unstable", Classify(0.0))
}

func TestPerformanceStats(t *testing.T) {
	var outcomes = []Outcome{
		{Passed: true, DurationMS: 100},
		{Passed: true, DurationMS: 200},
		{Passed: true, DurationMS: 300},
		{Passed: true, DurationMS: 400},
	}
	var rec = Stability("repro-1", outcomes)

	require.InDelta(t, 250, rec.Performance.Mean, 1e-9)
	require.InDelta(t, 250, rec.Performance.Median, 1e-9)
	require.InDelta(t, 129.099, rec.Performance.Stdev, 0.001)
	require.Equal(t, 100.0, rec.Performance.Min)
	require.Equal(t, 400.0, rec.Performance.Max)
}
