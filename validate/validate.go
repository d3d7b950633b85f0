// Package validate implements the validation worker: it executes a repro N
// times under the determinism envelope, scores the stability of the run
// set, and minimizes flaky scenarios with delta debugging.
package validate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/reproforge/reproforge/blob"
	"github.com/reproforge/reproforge/cache"
	"github.com/reproforge/reproforge/model"
	"github.com/reproforge/reproforge/runtime"
	"github.com/reproforge/reproforge/store"
)

// Spec names this worker on the bus.
var Spec = runtime.Spec{Role: "validate", Subject: model.SubjectReproValidate}

// Config tunes the validation cycle.
type Config struct {
	MinRuns             int           `long:"min-runs" env:"MIN_RUNS" default:"5" description:"Minimum runs per validation cycle"`
	MaxRuns             int           `long:"max-runs" env:"MAX_RUNS" default:"20" description:"Maximum runs per validation cycle"`
	MaxConcurrentRuns   int64         `long:"max-concurrent-runs" env:"MAX_CONCURRENT_RUNS" default:"3" description:"Cap on concurrently executing runs"`
	FlakyThreshold      float64       `long:"flaky-threshold" env:"FLAKY_THRESHOLD" default:"0.3" description:"Flaky score beyond which minimization triggers"`
	MinimizationTimeout time.Duration `long:"minimization-timeout" env:"MINIMIZATION_TIMEOUT" default:"300s" description:"Hard budget for delta minimization"`
}

// App is the validation message handler.
type App struct {
	cfg     Config
	store   *store.Store
	blob    *blob.Store
	cache   *cache.Cache
	bus     runtime.Publisher
	runner  Runner
	tempDir string
}

// NewApp builds the handler from connected collaborators.
func NewApp(cfg Config, s *store.Store, b *blob.Store, kv *cache.Cache, bus runtime.Publisher, runner Runner, tempDir string) *App {
	return &App{cfg: cfg, store: s, blob: b, cache: kv, bus: bus, runner: runner, tempDir: tempDir}
}

var _ runtime.Handler = (*App)(nil)

// Handle processes one repro.validate message.
func (a *App) Handle(ctx context.Context, payload []byte) error {
	var msg model.ValidateRequest
	if err := json.Unmarshal(payload, &msg); err != nil || msg.ValidationConfig.ReproID == "" {
		return runtime.Errorf(runtime.KindMalformedInput, "decoding validate payload: %v", err)
	}
	var vc = msg.ValidationConfig

	var runs = vc.Runs
	if runs < a.cfg.MinRuns {
		runs = a.cfg.MinRuns
	}
	if runs > a.cfg.MaxRuns {
		runs = a.cfg.MaxRuns
	}

	var repro, err = a.store.GetRepro(ctx, vc.ReproID)
	if errors.Is(err, store.ErrNotFound) {
		return runtime.WithKind(runtime.KindArtifactMissing, err)
	} else if err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}
	steps, err := a.store.GetSteps(ctx, vc.ReproID)
	if err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}

	outcomes, err := a.runCycle(ctx, repro, steps, vc, runs)
	if err != nil {
		return err
	}

	var stability = Stability(vc.ReproID, outcomes)

	for _, o := range outcomes {
		if err = a.persistRun(ctx, repro, o); err != nil {
			return runtime.WithKind(runtime.KindTransientIO, err)
		}
	}
	if err = a.store.UpdateReproValidated(ctx, vc.ReproID, stability.StabilityScore); err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}
	if err = a.cache.SetStability(ctx, stability); err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}

	var completed = model.ValidateCompleted{ReproID: vc.ReproID, Stability: stability}

	if minimized, ok := a.maybeMinimize(ctx, repro, steps, vc, stability); ok {
		for _, step := range minimized {
			completed.Minimized = append(completed.Minimized, step.OrderIdx)
		}
	}

	if err = a.bus.Publish(ctx, model.SubjectValidateCompleted, completed); err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}

	log.WithFields(log.Fields{
		"repro":          vc.ReproID,
		"runs":           stability.TotalRuns,
		"stability":      stability.StabilityScore,
		"classification": stability.Classification,
	}).Info("validated repro")
	return nil
}

// runCycle executes |runs| iterations, concurrently bounded by the run cap.
// A run whose envelope refuses a layer is recorded as failed with its
// diagnostic in the log; other runs continue.
func (a *App) runCycle(ctx context.Context, repro *model.Repro, steps []model.Step, vc model.ValidationConfig, runs int) ([]Outcome, error) {
	var outcomes = make([]Outcome, runs)
	var sem = semaphore.NewWeighted(a.cfg.MaxConcurrentRuns)
	var wg sync.WaitGroup

	for i := 0; i != runs; i++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Wait out already-spawned runs before releasing |outcomes|.
			wg.Wait()
			return nil, runtime.WithKind(runtime.KindTransientIO, err)
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[i] = a.runOne(ctx, repro, steps, vc, i)
		}(i)
	}
	wg.Wait()
	return outcomes, nil
}

func (a *App) runOne(ctx context.Context, repro *model.Repro, steps []model.Step, vc model.ValidationConfig, iteration int) Outcome {
	var fields = log.Fields{"repro": repro.ID, "iteration": iteration}

	var dir, err = a.stage(ctx, repro)
	if err != nil {
		log.WithFields(fields).WithField("err", err).Error("staging run failed")
		return Outcome{Iteration: iteration, ExitCode: -1, Log: err.Error()}
	}
	defer os.RemoveAll(dir)

	outcome, err := a.runner.RunOnce(ctx, RunSpec{
		Repro:       repro,
		Steps:       steps,
		Determinism: vc.Determinism,
		Iteration:   iteration,
		Dir:         dir,
	})
	if err != nil {
		log.WithFields(fields).WithField("err", err).Error("run failed inside envelope")
		return Outcome{Iteration: iteration, ExitCode: -1, Log: err.Error()}
	}
	outcome.Iteration = iteration
	return outcome
}

// stage fetches the repro's generated artifacts into a fresh per-run
// directory. The caller removes it on every exit path.
func (a *App) stage(ctx context.Context, repro *model.Repro) (string, error) {
	var dir, err = os.MkdirTemp(a.tempDir, "run-")
	if err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	for _, name := range []string{repro.Entry, "fixtures.json", "docker-compose.yml"} {
		if _, err = a.blob.Download(ctx, blob.GeneratedKey(repro.ID, name), dir); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
	}
	return dir, nil
}

func (a *App) persistRun(ctx context.Context, repro *model.Repro, o Outcome) error {
	var row = model.Run{
		ReproID:    repro.ID,
		Iteration:  o.Iteration,
		Passed:     o.Passed,
		DurationMS: o.DurationMS,
		ExitCode:   o.ExitCode,
	}
	var runID = fmt.Sprintf("run-%d", o.Iteration)

	if o.Log != "" {
		var key = fmt.Sprintf("validation/logs/%s/%s.log", repro.ID, runID)
		if err := a.blob.Put(ctx, key, []byte(o.Log), "text/plain"); err != nil {
			return err
		}
		row.LogsS3 = sql.NullString{String: key, Valid: true}
	}
	if o.VideoPath != "" {
		var key = blob.RunVideoKey(repro.ID, runID)
		if err := a.blob.Upload(ctx, key, o.VideoPath, "video/webm"); err != nil {
			return err
		}
		row.VideoS3 = sql.NullString{String: key, Valid: true}
	}
	if o.TracePath != "" {
		var key = blob.RunTraceKey(repro.ID, runID)
		if err := a.blob.Upload(ctx, key, o.TracePath, "application/zip"); err != nil {
			return err
		}
		row.TraceS3 = sql.NullString{String: key, Valid: true}
	}
	return a.store.InsertRun(ctx, row)
}

// maybeMinimize runs delta minimization when the cycle was flaky and
// produced at least one failure. Each evaluation re-runs the candidate
// subset under the full envelope.
func (a *App) maybeMinimize(ctx context.Context, repro *model.Repro, steps []model.Step, vc model.ValidationConfig, stability model.StabilityRecord) ([]model.Step, bool) {
	if stability.FlakyScore <= a.cfg.FlakyThreshold || stability.PassedRuns == stability.TotalRuns {
		return nil, false
	}

	var evaluation = 0
	var test = func(ctx context.Context, candidate []model.Step) (bool, error) {
		var dir, err = a.stage(ctx, repro)
		if err != nil {
			return false, err
		}
		defer os.RemoveAll(dir)

		evaluation++
		outcome, err := a.runner.RunOnce(ctx, RunSpec{
			Repro:       repro,
			Steps:       candidate,
			Determinism: vc.Determinism,
			Iteration:   -evaluation, // distinct from cycle iterations
			Dir:         dir,
		})
		if err != nil {
			return false, err
		}
		return !outcome.Passed, nil
	}

	var minimized, evaluations, err = Minimize(ctx, steps, test, a.cfg.MinimizationTimeout)
	if err != nil {
		// Minimization never fails the validation; the full scenario stands.
		log.WithFields(log.Fields{"repro": repro.ID, "err": err}).Warn("minimization aborted")
		return nil, false
	}

	log.WithFields(log.Fields{
		"repro":       repro.ID,
		"steps":       len(steps),
		"minimized":   len(minimized),
		"evaluations": evaluations,
	}).Info("minimized flaky scenario")
	return minimized, true
}
