// Package export implements the delivery worker: it packages a validated
// repro as a Docker tarball, a pull request, an online sandbox, or a
// PDF/JSON report, stores the artifact, and records the export outcome.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/reproforge/reproforge/blob"
	"github.com/reproforge/reproforge/cache"
	"github.com/reproforge/reproforge/model"
	"github.com/reproforge/reproforge/runtime"
	"github.com/reproforge/reproforge/store"
)

// Spec names this worker on the bus.
var Spec = runtime.Spec{Role: "export", Subject: model.SubjectExportRequest}

var exportNamespace = uuid.MustParse("3d7b2b16-9a0e-4f3c-8c47-51b9e0c2a6d4")

// ExportID derives the deterministic export id for a repro and channel, so
// redelivered requests converge on one exports row and one artifact key.
func ExportID(reproID string, exportType model.ExportType) string {
	return uuid.NewSHA1(exportNamespace, []byte(reproID+"/"+string(exportType))).String()
}

// App is the export.request message handler.
type App struct {
	store   *store.Store
	blob    *blob.Store
	cache   *cache.Cache
	bus     runtime.Publisher
	git     GitHost
	sandbox SandboxCreator
	pdf     PDFRenderer
}

// NewApp builds the handler from connected collaborators. The git, sandbox
// and pdf hosts may be nil when a deployment does not carry them; requests
// for the corresponding channels then fail as policy violations.
func NewApp(s *store.Store, b *blob.Store, c *cache.Cache, bus runtime.Publisher, git GitHost, sandbox SandboxCreator, pdf PDFRenderer) *App {
	return &App{store: s, blob: b, cache: c, bus: bus, git: git, sandbox: sandbox, pdf: pdf}
}

var _ runtime.Handler = (*App)(nil)

// Handle processes one export.request message.
func (a *App) Handle(ctx context.Context, payload []byte) error {
	var msg model.ExportRequestMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.ReproID == "" {
		return runtime.Errorf(runtime.KindMalformedInput, "decoding export payload: %v", err)
	}

	var repro, err = a.store.GetRepro(ctx, msg.ReproID)
	if errors.Is(err, store.ErrNotFound) {
		return runtime.WithKind(runtime.KindArtifactMissing, err)
	} else if err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}
	steps, err := a.store.GetSteps(ctx, msg.ReproID)
	if err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}

	var id = ExportID(msg.ReproID, msg.ExportType)
	var result map[string]interface{}

	switch msg.ExportType {
	case model.ExportDocker:
		result, err = a.exportDocker(ctx, id, repro, steps)
	case model.ExportPR:
		result, err = a.exportPR(ctx, repro, steps, msg.Options)
	case model.ExportSandbox:
		result, err = a.exportSandbox(ctx, repro, steps, msg.Options)
	case model.ExportReport:
		result, err = a.exportReport(ctx, id, repro, steps, msg.Options)
	default:
		err = runtime.Errorf(runtime.KindMalformedInput, "unsupported export type %q", msg.ExportType)
	}

	var status = "completed"
	if err != nil {
		status = "failed"
		result = map[string]interface{}{"error": err.Error()}
	}
	var row = model.Export{
		ID:         id,
		ReproID:    msg.ReproID,
		ExportType: msg.ExportType,
		Result:     model.JSONMap(result),
		Status:     status,
	}
	if insErr := a.store.InsertExport(ctx, row); insErr != nil {
		return runtime.WithKind(runtime.KindTransientIO, insErr)
	}
	if err != nil {
		// The failure is recorded on the exports row; surface it for ack
		// classification.
		return err
	}

	if err = a.store.UpdateReproStatus(ctx, msg.ReproID, model.ReproExported); err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}

	var completed = model.ExportCompleted{
		ExportID:   id,
		ReproID:    msg.ReproID,
		ExportType: msg.ExportType,
		Result:     result,
	}
	if err = a.bus.Publish(ctx, model.SubjectExportCompleted, completed); err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}

	log.WithFields(log.Fields{
		"repro":  msg.ReproID,
		"export": id,
		"type":   msg.ExportType,
	}).Info("completed export")
	return nil
}

func (a *App) exportDocker(ctx context.Context, id string, repro *model.Repro, steps []model.Step) (map[string]interface{}, error) {
	var files = Bundle(repro, steps)
	var archive, err = Tarball(files)
	if err != nil {
		return nil, runtime.WithKind(runtime.KindInternal, err)
	}
	var key = blob.ExportKey(repro.ID, id, "tar.gz")
	if err = a.blob.Put(ctx, key, archive, "application/gzip"); err != nil {
		return nil, runtime.WithKind(runtime.KindTransientIO, err)
	}
	return map[string]interface{}{
		"tarball_key": key,
		"size_bytes":  len(archive),
		"files":       sortedNames(files),
	}, nil
}

func (a *App) exportPR(ctx context.Context, repro *model.Repro, steps []model.Step, options map[string]interface{}) (map[string]interface{}, error) {
	if a.git == nil {
		return nil, runtime.Errorf(runtime.KindPolicyViolation, "no git host configured")
	}
	var repoURL, _ = options["repo_url"].(string)
	if repoURL == "" {
		return nil, runtime.Errorf(runtime.KindMalformedInput, "pr export requires a repo_url option")
	}
	var branch, _ = options["branch_name"].(string)
	if branch == "" {
		branch = "bug-repro-" + repro.ID
	}

	var title = repro.Title.String
	if title == "" {
		title = "Reproduction " + repro.ID
	}
	var testPath = "tests/regressions/" + repro.ID + ".spec.ts"
	var pr = PullRequest{
		RepoURL:  repoURL,
		Branch:   branch,
		Title:    "Add regression test: " + title,
		Body:     PRBody(repro, title, testPath),
		TestPath: testPath,
		TestBody: Bundle(repro, steps)[testPath],
	}
	var result, err = a.git.OpenPullRequest(ctx, pr)
	if err != nil {
		return nil, runtime.Errorf(runtime.KindTransientIO, "opening pull request: %v", err)
	}
	return map[string]interface{}{
		"pr_url":      result.URL,
		"pr_number":   result.Number,
		"branch_name": result.Branch,
		"test_path":   testPath,
	}, nil
}

func (a *App) exportSandbox(ctx context.Context, repro *model.Repro, steps []model.Step, options map[string]interface{}) (map[string]interface{}, error) {
	if a.sandbox == nil {
		return nil, runtime.Errorf(runtime.KindPolicyViolation, "no sandbox host configured")
	}
	var platform, _ = options["platform"].(string)
	if platform == "" {
		platform = "codesandbox"
	}
	var title = repro.Title.String
	if title == "" {
		title = "Reproduction " + repro.ID
	}
	var result, err = a.sandbox.Create(ctx, platform, title, Bundle(repro, steps))
	if err != nil {
		return nil, runtime.Errorf(runtime.KindTransientIO, "creating %s sandbox: %v", platform, err)
	}
	return map[string]interface{}{
		"sandbox_url": result.URL,
		"sandbox_id":  result.ID,
		"platform":    result.Platform,
	}, nil
}

func (a *App) exportReport(ctx context.Context, id string, repro *model.Repro, steps []model.Step, options map[string]interface{}) (map[string]interface{}, error) {
	var format, _ = options["format"].(string)
	if format == "" {
		format = "json"
	}

	switch format {
	case "json":
		var report, err = a.buildReport(ctx, repro, steps)
		if err != nil {
			return nil, err
		}
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return nil, runtime.WithKind(runtime.KindInternal, err)
		}
		var key = blob.ExportKey(repro.ID, id, "json")
		if err = a.blob.Put(ctx, key, data, "application/json"); err != nil {
			return nil, runtime.WithKind(runtime.KindTransientIO, err)
		}
		return map[string]interface{}{"report_key": key, "format": "json"}, nil

	case "pdf":
		if a.pdf == nil {
			return nil, runtime.Errorf(runtime.KindPolicyViolation, "no pdf renderer configured")
		}
		var title = repro.Title.String
		if title == "" {
			title = "Reproduction " + repro.ID
		}
		var doc = ReportDocument{
			Title:          title,
			Description:    repro.Description.String,
			ReproID:        repro.ID,
			Status:         string(repro.Status),
			StabilityScore: repro.StabilityScore.Float64,
		}
		if len(steps) > 0 {
			doc.TestCode = Bundle(repro, steps)["tests/regressions/"+repro.ID+".spec.ts"]
		}
		var data, err = a.pdf.Render(ctx, doc)
		if err != nil {
			return nil, runtime.Errorf(runtime.KindExtractorFailure, "rendering pdf: %v", err)
		}
		var key = blob.ExportKey(repro.ID, id, "pdf")
		if err = a.blob.Put(ctx, key, data, "application/pdf"); err != nil {
			return nil, runtime.WithKind(runtime.KindTransientIO, err)
		}
		return map[string]interface{}{"report_key": key, "format": "pdf"}, nil

	default:
		return nil, runtime.Errorf(runtime.KindMalformedInput, "unsupported report format %q", format)
	}
}

func (a *App) buildReport(ctx context.Context, repro *model.Repro, steps []model.Step) (map[string]interface{}, error) {
	var runs, err = a.store.ListRuns(ctx, repro.ID)
	if err != nil {
		return nil, runtime.WithKind(runtime.KindTransientIO, err)
	}

	var report = map[string]interface{}{
		"reproduction": map[string]interface{}{
			"id":              repro.ID,
			"report_id":       repro.ReportID,
			"title":           repro.Title.String,
			"description":     repro.Description.String,
			"framework":       repro.Framework,
			"status":          repro.Status,
			"stability_score": repro.StabilityScore.Float64,
			"created_at":      repro.CreatedAt.UTC().Format(time.RFC3339),
			"steps":           steps,
			"runs":            runs,
		},
		"export_info": map[string]interface{}{
			"exported_at": time.Now().UTC().Format(time.RFC3339),
			"format":      "json",
			"version":     "1.0",
		},
	}
	if stability, err := a.cache.GetStability(ctx, repro.ID); err != nil {
		log.WithFields(log.Fields{"repro": repro.ID, "err": err}).Warn("skipping stability lookup")
	} else if stability != nil {
		report["stability"] = stability
	}
	return report, nil
}

func sortedNames(files map[string]string) []string {
	var out = make([]string, 0, len(files))
	for name := range files {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
