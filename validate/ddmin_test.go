package validate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reproforge/reproforge/model"
)

func stepsNamed(names ...string) []model.Step {
	var out = make([]model.Step, len(names))
	for i, name := range names {
		out[i] = model.Step{OrderIdx: i, Kind: model.StepClick, Payload: model.JSONMap{"name": name}}
	}
	return out
}

func namesOf(steps []model.Step) []string {
	var out = make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Payload["name"].(string)
	}
	return out
}

// failsWhenContains builds a deterministic oracle: the scenario fails iff it
// retains every named step.
func failsWhenContains(required ...string) FailTest {
	return func(_ context.Context, steps []model.Step) (bool, error) {
		var have = make(map[string]bool, len(steps))
		for _, s := range steps {
			have[s.Payload["name"].(string)] = true
		}
		for _, name := range required {
			if !have[name] {
				return false, nil
			}
		}
		return true, nil
	}
}

func TestMinimizeFindsMinimalPair(t *testing.T) {
	var steps = stepsNamed("a", "b", "c", "d")

	var got, evaluations, err = Minimize(context.Background(), steps, failsWhenContains("b", "d"), time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "d"}, namesOf(got))
	require.LessOrEqual(t, evaluations, 8)
}

func TestMinimizeSingleCulprit(t *testing.T) {
	var steps = stepsNamed("a", "b", "c", "d", "e", "f")

	var got, _, err = Minimize(context.Background(), steps, failsWhenContains("d"), time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"d"}, namesOf(got))
}

func TestMinimizeShortScenarioUnchanged(t *testing.T) {
	var steps = stepsNamed("a")

	var got, evaluations, err = Minimize(context.Background(), steps,
		func(context.Context, []model.Step) (bool, error) {
			t.Fatal("no evaluation expected")
			return false, nil
		}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, steps, got)
	require.Zero(t, evaluations)
}

func TestMinimizeExpiredBudgetReturnsBestKnown(t *testing.T) {
	var steps = stepsNamed("a", "b", "c", "d")

	var got, evaluations, err = Minimize(context.Background(), steps, failsWhenContains("b", "d"), -time.Second)
	require.NoError(t, err)
	require.Equal(t, steps, got)
	require.Zero(t, evaluations)
}

func TestMinimizePropagatesEvaluationError(t *testing.T) {
	var steps = stepsNamed("a", "b", "c", "d")
	var boom = errors.New("envelope failed")

	var got, _, err = Minimize(context.Background(), steps,
		func(context.Context, []model.Step) (bool, error) { return false, boom },
		time.Minute)
	require.ErrorIs(t, err, boom)
	require.Equal(t, steps, got)
}

func TestMinimizeNeverReturnsPassingScenario(t *testing.T) {
	// The oracle fails only on scenarios retaining both b and e; every
	// reduction Minimize commits to must itself fail.
	var steps = stepsNamed("a", "b", "c", "d", "e")
	var oracle = failsWhenContains("b", "e")

	var got, _, err = Minimize(context.Background(), steps, oracle, time.Minute)
	require.NoError(t, err)

	fails, err := oracle(context.Background(), got)
	require.NoError(t, err)
	require.True(t, fails)
}

func TestPartitionCoversContiguously(t *testing.T) {
	var steps = stepsNamed("a", "b", "c", "d", "e")
	var spans = partition(steps, 2)
	require.Len(t, spans, 2)
	require.Equal(t, 0, spans[0].from)
	require.Equal(t, spans[0].to, spans[1].from)
	require.Equal(t, len(steps), spans[1].to)

	// More partitions than steps degrades to singletons.
	spans = partition(steps, 10)
	require.Len(t, spans, 5)
}
