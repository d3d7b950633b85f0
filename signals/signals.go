// Package signals implements the signal worker: it parses structured
// signals (HAR captures, logs) into normalized records and clusters the
// extracted error signatures in a shared embedding space before persisting
// them by content hash.
package signals

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/reproforge/reproforge/blob"
	"github.com/reproforge/reproforge/harlog"
	"github.com/reproforge/reproforge/model"
	"github.com/reproforge/reproforge/runtime"
	"github.com/reproforge/reproforge/store"
	"github.com/reproforge/reproforge/vectors"
)

// Spec names this worker on the bus.
var Spec = runtime.Spec{Role: "signal", Subject: model.SubjectReportSignals}

// Config tunes signature clustering.
type Config struct {
	SimilarityThreshold float64 `long:"similarity-threshold" env:"SIMILARITY_THRESHOLD" default:"0.3" description:"Cosine distance threshold for clustering signatures"`
	MinSamples          int     `long:"min-samples" env:"MIN_SAMPLES_CLUSTER" default:"2" description:"Minimum cluster size for density clustering"`
}

// App is the signal message handler.
type App struct {
	cfg      Config
	store    *store.Store
	blob     *blob.Store
	embedder vectors.Embedder
}

// NewApp builds the handler from connected collaborators.
func NewApp(cfg Config, s *store.Store, b *blob.Store, embedder vectors.Embedder) *App {
	return &App{cfg: cfg, store: s, blob: b, embedder: embedder}
}

var _ runtime.Handler = (*App)(nil)

// Handle processes one report.signals message.
func (a *App) Handle(ctx context.Context, payload []byte) error {
	var msg model.ReportMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.ReportID == "" {
		return runtime.Errorf(runtime.KindMalformedInput, "decoding signals payload: %v", err)
	}

	var sigs, err = a.processSignals(ctx, msg.ReportID)
	if err != nil {
		return err
	}
	if len(sigs) == 0 {
		log.WithField("report", msg.ReportID).Info("no error signatures extracted")
		return nil
	}

	reps, err := a.cluster(ctx, sigs)
	if err != nil {
		return err
	}

	for _, rep := range reps {
		var row = model.Signature{
			Hash:          rep.Hash,
			ReportID:      msg.ReportID,
			ErrorType:     rep.ErrorType,
			Message:       rep.Message,
			Details:       rep.Details,
			KeyComponents: rep.KeyComponents,
			Severity:      rep.Severity,
			Frequency:     rep.Frequency,
		}
		if rep.StackTrace != "" {
			row.StackTrace.String, row.StackTrace.Valid = rep.StackTrace, true
		}
		if row.Embedding, err = a.embedder.Embed(ctx, rep.Message+" "+rep.Details); err != nil {
			return runtime.Errorf(runtime.KindExtractorFailure, "embedding signature %s: %v", rep.Hash, err)
		}
		if err = a.store.UpsertSignature(ctx, row); err != nil {
			return runtime.WithKind(runtime.KindTransientIO, err)
		}
	}

	log.WithFields(log.Fields{
		"report":     msg.ReportID,
		"signatures": len(sigs),
		"clusters":   len(reps),
	}).Info("persisted clustered signatures")
	return nil
}

// processSignals walks the report's signals, records HAR summaries on the
// signal rows, and extracts candidate signatures from log signals.
func (a *App) processSignals(ctx context.Context, reportID string) ([]harlog.ErrorSignature, error) {
	var signals, err = a.store.ListSignals(ctx, reportID)
	if err != nil {
		return nil, runtime.WithKind(runtime.KindTransientIO, err)
	}

	var out []harlog.ErrorSignature
	for _, signal := range signals {
		switch signal.Kind {
		case model.SignalHAR:
			if err = a.recordHARSummary(ctx, signal); err != nil {
				return nil, err
			}
		case model.SignalLog:
			data, err := a.blob.Get(ctx, signal.S3Key)
			if err != nil {
				return nil, runtime.WithKind(runtime.KindTransientIO, err)
			}
			for _, line := range harlog.Errors(harlog.ParseLines(data)) {
				out = append(out, harlog.ExtractSignature(line))
			}
		}
	}
	return out, nil
}

func (a *App) recordHARSummary(ctx context.Context, signal model.Signal) error {
	var data, err = a.blob.Get(ctx, signal.S3Key)
	if err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}
	har, err := harlog.Parse(data)
	if err != nil {
		// A malformed capture is terminal for this signal, not the message.
		log.WithFields(log.Fields{"signal": signal.ID, "err": err}).Warn("skipping malformed HAR")
		return nil
	}
	var summary = har.Summarize()

	var meta = signal.Meta
	if meta == nil {
		meta = model.JSONMap{}
	}
	meta["summary"] = summary

	if err = a.store.UpdateSignalMeta(ctx, signal.ID, meta); err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}
	log.WithFields(log.Fields{
		"signal":   signal.ID,
		"requests": summary.TotalRequests,
		"failed":   summary.FailedRequests,
	}).Info("recorded HAR summary")
	return nil
}

func (a *App) cluster(ctx context.Context, sigs []harlog.ErrorSignature) ([]harlog.ErrorSignature, error) {
	var vecs = make([]model.Vector, len(sigs))
	for i, sig := range sigs {
		var err error
		if vecs[i], err = a.embedder.Embed(ctx, sig.Message+" "+sig.Details); err != nil {
			return nil, runtime.Errorf(runtime.KindExtractorFailure, "embedding signature: %v", err)
		}
	}
	return Representatives(sigs, vectors.Cluster(vecs, a.cfg.SimilarityThreshold, a.cfg.MinSamples)), nil
}

// Representatives reduces each cluster to one signature. The representative
// of a multi-member cluster is its shortest message; its key components are
// unioned across the cluster and its frequency is the cluster size, so the
// summed frequency over representatives equals the input count.
func Representatives(sigs []harlog.ErrorSignature, clusters [][]int) []harlog.ErrorSignature {
	var out = make([]harlog.ErrorSignature, 0, len(clusters))

	for _, cluster := range clusters {
		var rep = sigs[cluster[0]]
		for _, i := range cluster[1:] {
			if len(sigs[i].Message) < len(rep.Message) {
				rep = sigs[i]
			}
		}

		var seen = make(map[string]struct{})
		var union []string
		for _, i := range cluster {
			for _, s := range sigs[i].KeyComponents {
				if _, ok := seen[s]; !ok {
					seen[s] = struct{}{}
					union = append(union, s)
				}
			}
		}
		rep.KeyComponents = union
		rep.Frequency = len(cluster)
		out = append(out, rep)
	}
	return out
}
