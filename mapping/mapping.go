// Package mapping implements the map worker: it analyzes a repository for
// its test framework, ranks candidate module paths against the query, and
// probes the project's chunk index by embedding similarity.
package mapping

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/reproforge/reproforge/model"
	"github.com/reproforge/reproforge/runtime"
	"github.com/reproforge/reproforge/store"
	"github.com/reproforge/reproforge/vectors"
)

// Spec names this worker on the bus.
var Spec = runtime.Spec{Role: "map", Subject: model.SubjectMappingRequest}

// Config tunes document search.
type Config struct {
	SearchLimit int `long:"search-limit" env:"SEARCH_LIMIT" default:"5" description:"Document chunks returned per mapping query"`
}

// App is the mapping message handler.
type App struct {
	cfg      Config
	store    *store.Store
	bus      runtime.Publisher
	embedder vectors.Embedder
}

// NewApp builds the handler from connected collaborators.
func NewApp(cfg Config, s *store.Store, bus runtime.Publisher, embedder vectors.Embedder) *App {
	return &App{cfg: cfg, store: s, bus: bus, embedder: embedder}
}

var _ runtime.Handler = (*App)(nil)

// Handle processes one mapping.request message and publishes the completed
// analysis.
func (a *App) Handle(ctx context.Context, payload []byte) error {
	var msg model.MappingRequest
	if err := json.Unmarshal(payload, &msg); err != nil || msg.MappingID == "" {
		return runtime.Errorf(runtime.KindMalformedInput, "decoding mapping payload: %v", err)
	}

	var frameworks = DetectFrameworks(msg.RepoPath)
	var guesses = GuessModules(msg.RepoPath, msg.Query)

	var query, err = a.embedder.Embed(ctx, msg.Query)
	if err != nil {
		return runtime.Errorf(runtime.KindExtractorFailure, "embedding query: %v", err)
	}
	hits, err := a.store.SearchDocChunks(ctx, msg.ProjectID, query, a.cfg.SearchLimit)
	if err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}

	var completed = model.MappingCompleted{
		MappingID:       msg.MappingID,
		ReportID:        msg.ReportID,
		FrameworkScores: frameworks,
		ConfidenceScore: Confidence(frameworks, hits),
	}
	for _, g := range guesses {
		completed.ModuleSuggestions = append(completed.ModuleSuggestions,
			model.ModuleSuggestion{Path: g.Path, Score: g.Score})
	}
	for _, h := range hits {
		completed.DocResults = append(completed.DocResults,
			model.DocResult{FilePath: h.FilePath, ChunkText: h.ChunkText, Similarity: h.Similarity})
	}

	if err = a.persist(ctx, msg, completed); err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}
	if err = a.bus.Publish(ctx, model.SubjectMappingCompleted, completed); err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}

	log.WithFields(log.Fields{
		"mapping":    msg.MappingID,
		"confidence": completed.ConfidenceScore,
	}).Info("completed mapping")
	return nil
}

func (a *App) persist(ctx context.Context, msg model.MappingRequest, completed model.MappingCompleted) error {
	var row = model.Mapping{
		ID:              msg.MappingID,
		ProjectID:       msg.ProjectID,
		ReportID:        msg.ReportID,
		ConfidenceScore: completed.ConfidenceScore,
	}
	var err error
	if row.FrameworkScores, err = model.MarshalJSONRaw(completed.FrameworkScores); err != nil {
		return err
	}
	if row.ModuleSuggestions, err = model.MarshalJSONRaw(completed.ModuleSuggestions); err != nil {
		return err
	}
	if row.DocResults, err = model.MarshalJSONRaw(completed.DocResults); err != nil {
		return err
	}
	return a.store.InsertMapping(ctx, row)
}

// Confidence blends the strongest framework evidence with the mean search
// similarity, clamped to [0, 1].
func Confidence(frameworks map[string]float64, hits []store.DocHit) float64 {
	var maxFramework float64
	for _, s := range frameworks {
		if s > maxFramework {
			maxFramework = s
		}
	}

	var meanSimilarity float64
	if len(hits) > 0 {
		for _, h := range hits {
			meanSimilarity += h.Similarity
		}
		meanSimilarity /= float64(len(hits))
	}

	var out = 0.4*maxFramework + 0.6*meanSimilarity
	if out > 1 {
		out = 1
	} else if out < 0 {
		out = 0
	}
	return out
}
