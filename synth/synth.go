// Package synth implements the synth worker: it derives an executable test
// scenario from HAR-captured interactions and persists it as a repro with
// ordered steps, uploading the generated artifacts alongside.
package synth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/reproforge/reproforge/blob"
	"github.com/reproforge/reproforge/harlog"
	"github.com/reproforge/reproforge/model"
	"github.com/reproforge/reproforge/runtime"
	"github.com/reproforge/reproforge/store"
)

// Spec names this worker on the bus.
var Spec = runtime.Spec{Role: "synth", Subject: model.SubjectReportSynth}

// Repro ids derive deterministically from the report, so a redelivered
// synth message converges on the same row.
var reproNamespace = uuid.MustParse("9c9f24d0-5c3b-4f9e-a2da-6a1a67f63811")

// ReproID is the deterministic repro id of a report.
func ReproID(reportID string) string {
	return uuid.NewSHA1(reproNamespace, []byte(reportID)).String()
}

// App is the synth message handler.
type App struct {
	store *store.Store
	blob  *blob.Store
}

// NewApp builds the handler from connected collaborators.
func NewApp(s *store.Store, b *blob.Store) *App {
	return &App{store: s, blob: b}
}

var _ runtime.Handler = (*App)(nil)

// Handle processes one report.synth message.
func (a *App) Handle(ctx context.Context, payload []byte) error {
	var msg model.ReportMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.ReportID == "" {
		return runtime.Errorf(runtime.KindMalformedInput, "decoding synth payload: %v", err)
	}

	var report, err = a.store.GetReport(ctx, msg.ReportID)
	if errors.Is(err, store.ErrNotFound) {
		return runtime.WithKind(runtime.KindArtifactMissing, err)
	} else if err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}

	interactions, err := a.collectInteractions(ctx, msg.ReportID)
	if err != nil {
		return err
	}
	if len(interactions) == 0 {
		log.WithField("report", msg.ReportID).Info("no interactions to synthesize")
		return nil
	}

	var reproID = ReproID(msg.ReportID)
	var steps = BuildSteps(reproID, interactions)
	var baseURL = BaseURL(interactions)

	var title = "Reproduction of report " + msg.ReportID
	if report.Title.Valid && report.Title.String != "" {
		title = "Reproduction: " + report.Title.String
	}

	var script = GenerateScript(title, steps)
	compose, err := GenerateCompose(baseURL)
	if err != nil {
		return runtime.WithKind(runtime.KindInternal, err)
	}
	var readme = GenerateReadme(title, baseURL, steps)

	var seed = buildSeed(interactions)
	fixtures, err := json.MarshalIndent(seed, "", "  ")
	if err != nil {
		return runtime.WithKind(runtime.KindInternal, err)
	}

	for _, artifact := range []struct {
		name, contentType string
		data              []byte
	}{
		{EntryFile, "text/plain", []byte(script)},
		{"fixtures.json", "application/json", fixtures},
		{"docker-compose.yml", "text/yaml", []byte(compose)},
		{"README.md", "text/markdown", []byte(readme)},
	} {
		var key = blob.GeneratedKey(reproID, artifact.name)
		if err = a.blob.Put(ctx, key, artifact.data, artifact.contentType); err != nil {
			return runtime.WithKind(runtime.KindTransientIO, err)
		}
	}

	var row = model.Repro{
		ID:            reproID,
		ReportID:      msg.ReportID,
		Framework:     "playwright",
		Entry:         EntryFile,
		DockerCompose: compose,
		Seed:          seed,
		Status:        model.ReproCreated,
		Title:         sql.NullString{String: title, Valid: true},
		Description: sql.NullString{
			String: fmt.Sprintf("Synthesized from %d captured interactions", len(interactions)),
			Valid:  true,
		},
	}
	if err = a.store.InsertRepro(ctx, row); err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}
	if err = a.store.ReplaceSteps(ctx, reproID, steps); err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}

	log.WithFields(log.Fields{
		"report": msg.ReportID,
		"repro":  reproID,
		"steps":  len(steps),
	}).Info("synthesized repro")
	return nil
}

func (a *App) collectInteractions(ctx context.Context, reportID string) ([]Interaction, error) {
	var signals, err = a.store.ListSignals(ctx, reportID)
	if err != nil {
		return nil, runtime.WithKind(runtime.KindTransientIO, err)
	}

	var out []Interaction
	for _, signal := range signals {
		if signal.Kind != model.SignalHAR {
			continue
		}
		data, err := a.blob.Get(ctx, signal.S3Key)
		if err != nil {
			return nil, runtime.WithKind(runtime.KindTransientIO, err)
		}
		har, err := harlog.Parse(data)
		if err != nil {
			log.WithFields(log.Fields{"signal": signal.ID, "err": err}).Warn("skipping malformed HAR")
			continue
		}
		out = append(out, ExtractInteractions(har)...)
	}
	return out, nil
}

// BuildSteps orders the scenario: navigations first, then form fill and
// submit pairs, then API verifications. Order indexes are dense from zero.
func BuildSteps(reproID string, interactions []Interaction) []model.Step {
	var steps []model.Step
	var add = func(kind model.StepKind, payload model.JSONMap) {
		steps = append(steps, model.Step{
			ReproID:  reproID,
			OrderIdx: len(steps),
			Kind:     kind,
			Payload:  payload,
		})
	}

	for _, it := range interactions {
		if it.Kind == Navigation {
			add(model.StepNavigate, model.JSONMap{"url": it.URL})
		}
	}
	for _, it := range interactions {
		if it.Kind != FormSubmission {
			continue
		}
		for _, field := range sortedKeys(it.FormData) {
			var value, _ = it.FormData[field].(string)
			add(model.StepInput, model.JSONMap{
				"field": field,
				"value": value,
				"selector_chain": SelectorChain(Element{
					Tag:  "input",
					Name: field,
				}),
			})
		}
		add(model.StepSubmit, model.JSONMap{
			"url": it.URL,
			"selector_chain": SelectorChain(Element{
				Tag:  "button",
				Type: "submit",
			}),
		})
	}
	for _, it := range interactions {
		if it.Kind == APICall {
			add(model.StepAPIVerify, model.JSONMap{
				"url":    it.URL,
				"method": it.Method,
				"status": it.Status,
			})
		}
	}
	return steps
}

func buildSeed(interactions []Interaction) model.JSONMap {
	var forms []interface{}
	for _, it := range interactions {
		if it.Kind == FormSubmission {
			forms = append(forms, map[string]interface{}{
				"url":  it.URL,
				"data": it.FormData,
			})
		}
	}
	return model.JSONMap{"forms": forms}
}

func sortedKeys(m map[string]interface{}) []string {
	var out = make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
