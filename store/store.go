// Package store is the relational persistence layer. All structured pipeline
// state lives here; every write is keyed by a natural key (ids, content
// hash, (repro_id, iteration)) so that at-least-once redeliveries converge.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/reproforge/reproforge/model"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("row not found")

// Store wraps the database handle with the pipeline's queries.
type Store struct {
	db *sqlx.DB
}

// New wraps an open database handle.
func New(db *sqlx.DB) *Store { return &Store{db: db} }

// GetReport fetches one report row.
func (s *Store) GetReport(ctx context.Context, id string) (*model.Report, error) {
	var out model.Report
	var err = s.db.GetContext(ctx, &out,
		`SELECT id, title, description, created_at, updated_at FROM reports WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("fetching report %s: %w", id, err)
	}
	return &out, nil
}

// AppendReportDescription appends |text| to a report's description in one
// transactional update. Descriptions grow monotonically.
func (s *Store) AppendReportDescription(ctx context.Context, id, text string) error {
	var res, err = s.db.ExecContext(ctx,
		`UPDATE reports SET description = COALESCE(description, '') || $2, updated_at = NOW() WHERE id = $1`,
		id, text)
	if err != nil {
		return fmt.Errorf("appending description of report %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListSignals returns a report's signals in enumeration order.
func (s *Store) ListSignals(ctx context.Context, reportID string) ([]model.Signal, error) {
	var out []model.Signal
	var err = s.db.SelectContext(ctx, &out,
		`SELECT id, report_id, s3_key, kind, meta FROM signals WHERE report_id = $1 ORDER BY id`, reportID)
	if err != nil {
		return nil, fmt.Errorf("listing signals of report %s: %w", reportID, err)
	}
	return out, nil
}

// UpdateSignalMeta replaces the metadata document of a signal.
func (s *Store) UpdateSignalMeta(ctx context.Context, id string, meta model.JSONMap) error {
	var _, err = s.db.ExecContext(ctx, `UPDATE signals SET meta = $2 WHERE id = $1`, id, meta)
	if err != nil {
		return fmt.Errorf("updating meta of signal %s: %w", id, err)
	}
	return nil
}

// UpsertSignature inserts a signature or, when its content hash already
// exists, atomically adds the incoming frequency to the stored row.
func (s *Store) UpsertSignature(ctx context.Context, sig model.Signature) error {
	var _, err = s.db.ExecContext(ctx, `
		INSERT INTO error_signatures
			(signature_hash, report_id, error_type, message, details, stack_trace,
			 key_components, severity, frequency, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::vector, NOW(), NOW())
		ON CONFLICT (signature_hash) DO UPDATE SET
			frequency = error_signatures.frequency + EXCLUDED.frequency,
			updated_at = NOW()`,
		sig.Hash, sig.ReportID, sig.ErrorType, sig.Message, sig.Details,
		sig.StackTrace, sig.KeyComponents, sig.Severity, sig.Frequency, sig.Embedding)
	if err != nil {
		return fmt.Errorf("upserting signature %s: %w", sig.Hash, err)
	}
	return nil
}

// InsertMapping writes a mapping record once.
func (s *Store) InsertMapping(ctx context.Context, m model.Mapping) error {
	var _, err = s.db.ExecContext(ctx, `
		INSERT INTO mappings
			(id, project_id, report_id, framework_scores, module_suggestions, doc_results, confidence_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO NOTHING`,
		m.ID, m.ProjectID, m.ReportID, m.FrameworkScores, m.ModuleSuggestions, m.DocResults, m.ConfidenceScore)
	if err != nil {
		return fmt.Errorf("inserting mapping %s: %w", m.ID, err)
	}
	return nil
}

// InsertDocChunks stores an indexed batch of document chunks.
func (s *Store) InsertDocChunks(ctx context.Context, chunks []model.DocChunk) error {
	var tx, err = s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning chunk transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range chunks {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO doc_chunks (project_id, file_path, chunk_text, embedding, meta)
			VALUES ($1, $2, $3, $4::vector, $5)`,
			c.ProjectID, c.FilePath, c.ChunkText, c.Embedding, c.Meta); err != nil {
			return fmt.Errorf("inserting chunk of %s: %w", c.FilePath, err)
		}
	}
	return tx.Commit()
}

// DocHit is one similarity-search result.
type DocHit struct {
	FilePath   string  `db:"file_path"`
	ChunkText  string  `db:"chunk_text"`
	Similarity float64 `db:"similarity"`
}

// SearchDocChunks probes the chunk index of a project, ordered by cosine
// distance ascending. Similarity is returned as 1 - distance.
func (s *Store) SearchDocChunks(ctx context.Context, projectID string, query model.Vector, limit int) ([]DocHit, error) {
	var out []DocHit
	var err = s.db.SelectContext(ctx, &out, `
		SELECT file_path, chunk_text, 1 - (embedding <=> $2::vector) AS similarity
		FROM doc_chunks
		WHERE project_id = $1
		ORDER BY embedding <=> $2::vector
		LIMIT $3`,
		projectID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching chunks of project %s: %w", projectID, err)
	}
	return out, nil
}

// InsertRepro writes a repro row. Repro ids are derived deterministically
// from the report, so replays are absorbed by the conflict clause.
func (s *Store) InsertRepro(ctx context.Context, r model.Repro) error {
	var _, err = s.db.ExecContext(ctx, `
		INSERT INTO repros
			(id, project_id, report_id, framework, entry, docker_compose, seed, status, title, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO NOTHING`,
		r.ID, r.ProjectID, r.ReportID, r.Framework, r.Entry, r.DockerCompose, r.Seed, r.Status, r.Title, r.Description)
	if err != nil {
		return fmt.Errorf("inserting repro %s: %w", r.ID, err)
	}
	return nil
}

// GetRepro fetches one repro row.
func (s *Store) GetRepro(ctx context.Context, id string) (*model.Repro, error) {
	var out model.Repro
	var err = s.db.GetContext(ctx, &out, `
		SELECT id, project_id, report_id, framework, entry, docker_compose, seed,
		       status, title, description, stability_score, created_at
		FROM repros WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("repro %s: %w", id, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("fetching repro %s: %w", id, err)
	}
	return &out, nil
}

// ReplaceSteps writes the full ordered step sequence of a repro in one
// transaction. Prior steps are dropped first so replays converge on the
// same dense 0-based ordering.
func (s *Store) ReplaceSteps(ctx context.Context, reproID string, steps []model.Step) error {
	var tx, err = s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning step transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `DELETE FROM steps WHERE repro_id = $1`, reproID); err != nil {
		return fmt.Errorf("clearing steps of repro %s: %w", reproID, err)
	}
	for i, step := range steps {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO steps (repro_id, order_idx, kind, payload) VALUES ($1, $2, $3, $4)`,
			reproID, i, step.Kind, step.Payload); err != nil {
			return fmt.Errorf("inserting step %d of repro %s: %w", i, reproID, err)
		}
	}
	return tx.Commit()
}

// GetSteps returns a repro's steps in execution order.
func (s *Store) GetSteps(ctx context.Context, reproID string) ([]model.Step, error) {
	var out []model.Step
	var err = s.db.SelectContext(ctx, &out, `
		SELECT repro_id, order_idx, kind, payload FROM steps
		WHERE repro_id = $1 ORDER BY order_idx`, reproID)
	if err != nil {
		return nil, fmt.Errorf("listing steps of repro %s: %w", reproID, err)
	}
	return out, nil
}

// UpdateReproValidated marks a repro validated with its stability score.
func (s *Store) UpdateReproValidated(ctx context.Context, id string, stability float64) error {
	var _, err = s.db.ExecContext(ctx, `
		UPDATE repros SET status = $2, stability_score = $3 WHERE id = $1`,
		id, model.ReproValidated, stability)
	if err != nil {
		return fmt.Errorf("marking repro %s validated: %w", id, err)
	}
	return nil
}

// UpdateReproStatus moves a repro through its lifecycle.
func (s *Store) UpdateReproStatus(ctx context.Context, id string, status model.ReproStatus) error {
	var _, err = s.db.ExecContext(ctx, `UPDATE repros SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("updating status of repro %s: %w", id, err)
	}
	return nil
}

// InsertRun records one execution. Runs are immutable and keyed by
// (repro_id, iteration): a redelivered validation message cannot duplicate
// them.
func (s *Store) InsertRun(ctx context.Context, r model.Run) error {
	var _, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (repro_id, iteration, passed, duration_ms, exit_code, logs_s3, video_s3, trace_s3, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (repro_id, iteration) DO NOTHING`,
		r.ReproID, r.Iteration, r.Passed, r.DurationMS, r.ExitCode, r.LogsS3, r.VideoS3, r.TraceS3)
	if err != nil {
		return fmt.Errorf("inserting run %d of repro %s: %w", r.Iteration, r.ReproID, err)
	}
	return nil
}

// ListRuns returns a repro's recorded executions in iteration order.
func (s *Store) ListRuns(ctx context.Context, reproID string) ([]model.Run, error) {
	var out []model.Run
	var err = s.db.SelectContext(ctx, &out, `
		SELECT repro_id, iteration, passed, duration_ms, exit_code, logs_s3, video_s3, trace_s3, created_at
		FROM runs WHERE repro_id = $1 ORDER BY iteration`, reproID)
	if err != nil {
		return nil, fmt.Errorf("listing runs of repro %s: %w", reproID, err)
	}
	return out, nil
}

// InsertExport records a delivery request outcome.
func (s *Store) InsertExport(ctx context.Context, e model.Export) error {
	var _, err = s.db.ExecContext(ctx, `
		INSERT INTO exports (id, repro_id, export_type, result, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET result = EXCLUDED.result, status = EXCLUDED.status`,
		e.ID, e.ReproID, e.ExportType, e.Result, e.Status)
	if err != nil {
		return fmt.Errorf("inserting export %s: %w", e.ID, err)
	}
	return nil
}

// InsertCLIRepro records a generated command-line reproduction project.
func (s *Store) InsertCLIRepro(ctx context.Context, c model.CLIRepro) error {
	var _, err = s.db.ExecContext(ctx, `
		INSERT INTO cli_repros (id, repro_id, ecosystem, test_file, build_command, dockerfile, compose_file, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.ReproID, c.Ecosystem, c.TestFile, c.BuildCommand, c.Dockerfile, c.ComposeFile, c.Status)
	if err != nil {
		return fmt.Errorf("inserting cli repro %s: %w", c.ID, err)
	}
	return nil
}
