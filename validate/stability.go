package validate

import (
	"math"
	"sort"
	"time"

	"github.com/reproforge/reproforge/model"
)

// Outcome is the observed result of one run.
type Outcome struct {
	Iteration  int
	Passed     bool
	DurationMS int64
	ExitCode   int
	Log        string
	VideoPath  string
	TracePath  string
}

// Stability derives the stability summary of a completed run set.
//
// The stability score is the pass rate. The flaky score is the population
// variance of the binary pass sequence when it contains both values, zero
// otherwise; adding a passing run can therefore never lower stability nor
// raise flakiness past its mixed-sequence bound.
func Stability(reproID string, outcomes []Outcome) model.StabilityRecord {
	var rec = model.StabilityRecord{
		ReproID:    reproID,
		TotalRuns:  len(outcomes),
		ComputedAt: time.Now().UTC(),
	}
	if len(outcomes) == 0 {
		rec.Classification = "very_unstable"
		return rec
	}

	var durations = make([]float64, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Passed {
			rec.PassedRuns++
		}
		durations = append(durations, float64(o.DurationMS))
	}

	rec.StabilityScore = float64(rec.PassedRuns) / float64(rec.TotalRuns)
	if rec.PassedRuns != 0 && rec.PassedRuns != rec.TotalRuns {
		rec.FlakyScore = binaryVariance(rec.StabilityScore)
	}
	rec.ConsistencyScore = 1 - rec.FlakyScore
	rec.Classification = Classify(rec.StabilityScore)
	rec.Performance = performanceStats(durations)
	return rec
}

// binaryVariance is the population variance of a 0/1 sequence with mean p.
func binaryVariance(p float64) float64 { return p * (1 - p) }

// Classify buckets a pass rate.
func Classify(rate float64) string {
	switch {
	case rate == 1.0:
		return "stable"
	case rate >= 0.8:
		return "mostly_stable"
	case rate >= 0.5:
		return "unstable"
	default:
		return "very_unstable"
	}
}

func performanceStats(durations []float64) model.PerformanceStats {
	if len(durations) == 0 {
		return model.PerformanceStats{}
	}
	var sorted = append([]float64(nil), durations...)
	sort.Float64s(sorted)

	var sum float64
	for _, d := range sorted {
		sum += d
	}
	var mean = sum / float64(len(sorted))

	var sq float64
	for _, d := range sorted {
		sq += (d - mean) * (d - mean)
	}
	var stdev float64
	if len(sorted) > 1 {
		stdev = math.Sqrt(sq / float64(len(sorted)-1))
	}

	var median float64
	if n := len(sorted); n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return model.PerformanceStats{
		Mean:   mean,
		Median: median,
		Stdev:  stdev,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}
}
