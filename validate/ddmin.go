package validate

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/reproforge/reproforge/model"
)

// FailTest reports whether the scenario |steps| still fails. Every
// evaluation must execute under the full determinism envelope so that
// nondeterminism cannot cause false reductions.
type FailTest func(ctx context.Context, steps []model.Step) (bool, error)

// Minimize locates a smaller failure-preserving step subset with Zeller's
// ddmin. |budget| is a hard bound: on expiry the best-known subset is
// returned rather than an error. A scenario of fewer than two steps is
// returned unchanged without any evaluations.
func Minimize(ctx context.Context, steps []model.Step, test FailTest, budget time.Duration) ([]model.Step, int, error) {
	if len(steps) < 2 {
		return steps, 0, nil
	}

	var deadline = time.Now().Add(budget)
	var evaluations = 0

	var current = append([]model.Step(nil), steps...)
	var n = 2

	for len(current) >= 2 {
		var reduced = false

		for _, part := range partition(current, n) {
			if time.Now().After(deadline) || ctx.Err() != nil {
				log.WithFields(log.Fields{
					"steps":       len(current),
					"evaluations": evaluations,
				}).Warn("minimization budget expired")
				return current, evaluations, nil
			}

			var candidate = without(current, part)
			if len(candidate) == 0 {
				continue
			}

			evaluations++
			var fails, err = test(ctx, candidate)
			if err != nil {
				return current, evaluations, err
			}
			if fails {
				current = candidate
				if n = n - 1; n < 2 {
					n = 2
				}
				reduced = true
				break
			}
		}

		if reduced {
			continue
		}
		if n >= len(current) {
			break
		}
		if n *= 2; n > len(current) {
			n = len(current)
		}
	}
	return current, evaluations, nil
}

// span marks one contiguous partition as a half-open index range.
type span struct{ from, to int }

// partition cuts |steps| into n contiguous subsets of near-equal size.
func partition(steps []model.Step, n int) []span {
	if n > len(steps) {
		n = len(steps)
	}
	var out = make([]span, 0, n)
	var size = len(steps) / n
	var extra = len(steps) % n

	var at = 0
	for i := 0; i != n; i++ {
		var width = size
		if i < extra {
			width++
		}
		out = append(out, span{from: at, to: at + width})
		at += width
	}
	return out
}

func without(steps []model.Step, cut span) []model.Step {
	var out = make([]model.Step, 0, len(steps)-(cut.to-cut.from))
	out = append(out, steps[:cut.from]...)
	return append(out, steps[cut.to:]...)
}
