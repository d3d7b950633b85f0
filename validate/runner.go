package validate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/reproforge/reproforge/cache"
	"github.com/reproforge/reproforge/determinism"
	"github.com/reproforge/reproforge/model"
	"github.com/reproforge/reproforge/synth"
)

// RunSpec is one staged execution of a repro.
type RunSpec struct {
	Repro       *model.Repro
	Steps       []model.Step
	Determinism model.TestConfig
	Iteration   int
	Dir         string
}

// Runner executes a staged repro once. The production implementation wraps
// the determinism controller; tests substitute scripted outcomes.
type Runner interface {
	RunOnce(ctx context.Context, spec RunSpec) (Outcome, error)
}

// EnvelopeRunner executes runs inside the full determinism envelope of the
// controller: shaped network, frozen clock, resource caps, isolated
// container.
type EnvelopeRunner struct {
	Config determinism.Config
	Exec   determinism.Execer
	Cache  *cache.Cache

	// Image runs the generated test; the staged directory is bind-mounted
	// into it.
	Image string
}

var _ Runner = (*EnvelopeRunner)(nil)

func (r *EnvelopeRunner) RunOnce(ctx context.Context, spec RunSpec) (Outcome, error) {
	// The scenario under evaluation may be a step subset; regenerate the
	// entry file so the staged directory matches it exactly.
	var script = synth.GenerateScript(spec.Repro.ID, spec.Steps)
	if err := os.WriteFile(filepath.Join(spec.Dir, spec.Repro.Entry), []byte(script), 0o644); err != nil {
		return Outcome{}, fmt.Errorf("staging entry file: %w", err)
	}

	var tc = spec.Determinism
	tc.TestID = fmt.Sprintf("%s-run-%d", spec.Repro.ID, spec.Iteration)
	if tc.Image == "" {
		tc.Image = r.Image
	}
	if len(tc.Command) == 0 {
		tc.Command = []string{"npx", "playwright", "test", "--reporter", "line"}
	}
	tc.WorkDir = "/work"
	tc.Mounts = append(tc.Mounts, fmt.Sprintf("type=bind,source=%s,target=/work", spec.Dir))

	var controller = determinism.NewController(r.Config, r.Exec, r.Cache)
	var result, err = controller.Run(ctx, tc)
	if err != nil {
		return Outcome{}, err
	}

	var out = Outcome{
		Iteration:  spec.Iteration,
		Passed:     result.Passed,
		DurationMS: result.DurationMS,
		ExitCode:   result.ExitCode,
		Log:        result.Output,
	}
	if video := filepath.Join(spec.Dir, "video.webm"); fileExists(video) {
		out.VideoPath = video
	}
	if trace := filepath.Join(spec.Dir, "trace.zip"); fileExists(trace) {
		out.TracePath = trace
	}
	return out, nil
}

func fileExists(path string) bool {
	var info, err = os.Stat(path)
	return err == nil && !info.IsDir()
}
