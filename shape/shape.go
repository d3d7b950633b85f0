// Package shape implements the data-shape worker: it infers a fixture
// schema from a report's captured form traffic, generates deterministic
// records, anonymizes confident PII findings, and verifies referential
// integrity before publishing the fixture set to the object store.
package shape

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/reproforge/reproforge/blob"
	"github.com/reproforge/reproforge/harlog"
	"github.com/reproforge/reproforge/model"
	"github.com/reproforge/reproforge/runtime"
	"github.com/reproforge/reproforge/store"
	"github.com/reproforge/reproforge/synth"
)

// Spec names this worker on the bus.
var Spec = runtime.Spec{Role: "shape", Subject: model.SubjectDataShape}

// Config tunes fixture generation.
type Config struct {
	PIIThreshold       float64 `long:"pii-threshold" env:"PII_CONFIDENCE_THRESHOLD" default:"0.5" description:"Analyzer confidence gating anonymization"`
	DefaultRecordCount int     `long:"record-count" env:"RECORD_COUNT" default:"10" description:"Records generated per table when unspecified"`
}

// App is the data.shape message handler.
type App struct {
	cfg      Config
	store    *store.Store
	blob     *blob.Store
	analyzer PIIAnalyzer
}

// NewApp builds the handler from connected collaborators.
func NewApp(cfg Config, s *store.Store, b *blob.Store, analyzer PIIAnalyzer) *App {
	return &App{cfg: cfg, store: s, blob: b, analyzer: analyzer}
}

var _ runtime.Handler = (*App)(nil)

// Handle processes one data.shape message.
func (a *App) Handle(ctx context.Context, payload []byte) error {
	var msg model.ShapeRequest
	if err := json.Unmarshal(payload, &msg); err != nil || msg.ReportID == "" {
		return runtime.Errorf(runtime.KindMalformedInput, "decoding shape payload: %v", err)
	}

	var count = msg.Options.RecordCount
	if count <= 0 {
		count = a.cfg.DefaultRecordCount
	}

	var interactions, err = a.collectInteractions(ctx, msg.ReportID)
	if err != nil {
		return err
	}

	var schema = InferSchema(interactions)
	if len(schema) == 0 {
		// Nothing to infer from; emit a minimal generic table so downstream
		// consumers always find fixtures.
		schema = Schema{"records": {"name": {Type: FieldName}, "email": {Type: FieldEmail}}}
	}
	schema.Augment(msg.Options.Context)

	var records = NewGenerator(msg.ReportID).Records(schema, count)

	scrubbed, err := ScrubRecords(ctx, a.analyzer, records, a.cfg.PIIThreshold)
	if err != nil {
		return runtime.Errorf(runtime.KindExtractorFailure, "scrubbing records: %v", err)
	}

	var orphans = CheckIntegrity(schema, records)
	for _, orphan := range orphans {
		log.WithFields(log.Fields{"report": msg.ReportID, "orphan": orphan}).Warn("unresolved foreign key")
	}

	var fixtures = map[string]interface{}{
		"report_id": msg.ReportID,
		"context":   msg.Options.Context,
		"schema":    schema,
		"records":   records,
		"integrity": map[string]interface{}{
			"orphans": orphans,
			"valid":   len(orphans) == 0,
		},
	}
	data, err := json.MarshalIndent(fixtures, "", "  ")
	if err != nil {
		return runtime.WithKind(runtime.KindInternal, err)
	}
	if err = a.blob.Put(ctx, blob.FixturesKey(msg.ReportID), data, "application/json"); err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}

	log.WithFields(log.Fields{
		"report":   msg.ReportID,
		"tables":   len(schema),
		"scrubbed": scrubbed,
		"orphans":  len(orphans),
	}).Info("shaped fixtures")
	return nil
}

func (a *App) collectInteractions(ctx context.Context, reportID string) ([]synth.Interaction, error) {
	var signals, err = a.store.ListSignals(ctx, reportID)
	if err != nil {
		return nil, runtime.WithKind(runtime.KindTransientIO, err)
	}

	var out []synth.Interaction
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
		out = append(out, synth.ExtractInteractions(har)...)
	}
	return out, nil
}

// CheckIntegrity flags foreign-key values whose referenced table lacks the
// referenced id. Each flag is "table.field=value".
func CheckIntegrity(schema Schema, records map[string][]map[string]interface{}) []string {
	var known = map[string]map[string]bool{}
	for table, rows := range records {
		known[table] = map[string]bool{}
		for _, row := range rows {
			if id, ok := row["id"].(string); ok {
				known[table][id] = true
			}
		}
	}

	var orphans []string
	for table, fields := range schema {
		for name, field := range fields {
			if field.Type != FieldForeignKey {
				continue
			}
			for _, row := range records[table] {
				var value, ok = row[name].(string)
				if !ok {
					continue
				}
				if !known[field.References][value] {
					orphans = append(orphans, fmt.Sprintf("%s.%s=%s", table, name, value))
				}
			}
		}
	}
	// Deterministic order for logs and fixtures.
	sort.Strings(orphans)
	return orphans
}
