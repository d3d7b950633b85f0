// Package model holds the persisted row types and shared value types of the
// reproduction pipeline: reports and their signals, deduplicated error
// signatures, repository mappings, generated repros with their ordered steps
// and runs, and export records.
package model

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"
)

// SignalKind tags the artifact type of a Signal.
type SignalKind string

const (
	SignalScreenshot SignalKind = "screenshot"
	SignalVideo      SignalKind = "video"
	SignalHAR        SignalKind = "har"
	SignalLog        SignalKind = "log"
)

// ReproStatus is the lifecycle of a generated reproduction case.
type ReproStatus string

const (
	ReproCreated   ReproStatus = "created"
	ReproValidated ReproStatus = "validated"
	ReproExported  ReproStatus = "exported"
)

// Report is the intake envelope for one bug. Its description grows
// monotonically as extractors append annotated frames to it.
type Report struct {
	ID          string         `db:"id"`
	Title       sql.NullString `db:"title"`
	Description string         `db:"description"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// Signal is one raw artifact attached to a Report. Immutable after creation.
type Signal struct {
	ID       string     `db:"id"`
	ReportID string     `db:"report_id"`
	S3Key    string     `db:"s3_key"`
	Kind     SignalKind `db:"kind"`
	Meta     JSONMap    `db:"meta"`
}

// Signature is a deduplicated error fingerprint keyed by content hash.
// Frequency is incremented atomically on re-observation.
type Signature struct {
	Hash          string         `db:"signature_hash"`
	ReportID      string         `db:"report_id"`
	ErrorType     string         `db:"error_type"`
	Message       string         `db:"message"`
	Details       string         `db:"details"`
	StackTrace    sql.NullString `db:"stack_trace"`
	KeyComponents pq.StringArray `db:"key_components"`
	Severity      string         `db:"severity"`
	Frequency     int            `db:"frequency"`
	Embedding     Vector         `db:"embedding"`
}

// Mapping is a repository-analysis record, written once when requested.
type Mapping struct {
	ID                string  `db:"id"`
	ProjectID         string  `db:"project_id"`
	ReportID          string  `db:"report_id"`
	FrameworkScores   JSONRaw `db:"framework_scores"`
	ModuleSuggestions JSONRaw `db:"module_suggestions"`
	DocResults        JSONRaw `db:"doc_results"`
	ConfidenceScore   float64 `db:"confidence_score"`
}

// DocChunk is one indexed fragment of a project's text corpus. Adjacent
// chunks overlap by a configured stride.
type DocChunk struct {
	ProjectID string  `db:"project_id"`
	FilePath  string  `db:"file_path"`
	ChunkText string  `db:"chunk_text"`
	Embedding Vector  `db:"embedding"`
	Meta      JSONMap `db:"meta"`
}

// Repro is a generated reproduction case. It exclusively owns its Steps,
// Runs and Exports.
type Repro struct {
	ID             string          `db:"id"`
	ProjectID      sql.NullString  `db:"project_id"`
	ReportID       string          `db:"report_id"`
	Framework      string          `db:"framework"`
	Entry          string          `db:"entry"`
	DockerCompose  string          `db:"docker_compose"`
	Seed           JSONMap         `db:"seed"`
	Status         ReproStatus     `db:"status"`
	Title          sql.NullString  `db:"title"`
	Description    sql.NullString  `db:"description"`
	StabilityScore sql.NullFloat64 `db:"stability_score"`
	CreatedAt      time.Time       `db:"created_at"`
}

// StepKind enumerates the atomic actions of a Repro.
type StepKind string

const (
	StepNavigate  StepKind = "navigate"
	StepInput     StepKind = "input"
	StepClick     StepKind = "click"
	StepSubmit    StepKind = "submit"
	StepAssert    StepKind = "assert"
	StepAPIVerify StepKind = "api_verify"
)

// Step is one atomic action. OrderIdx is dense and 0-based within a Repro.
type Step struct {
	ReproID  string   `db:"repro_id"`
	OrderIdx int      `db:"order_idx"`
	Kind     StepKind `db:"kind"`
	Payload  JSONMap  `db:"payload"`
}

// Run is one execution of a Repro, immutable after creation and keyed by
// (repro_id, iteration) so bus redeliveries are absorbed at write time.
type Run struct {
	ReproID    string         `db:"repro_id"`
	Iteration  int            `db:"iteration"`
	Passed     bool           `db:"passed"`
	DurationMS int64          `db:"duration_ms"`
	ExitCode   int            `db:"exit_code"`
	LogsS3     sql.NullString `db:"logs_s3"`
	VideoS3    sql.NullString `db:"video_s3"`
	TraceS3    sql.NullString `db:"trace_s3"`
	CreatedAt  time.Time      `db:"created_at"`
}

// StabilityRecord summarizes a set of Runs. It lives in the short-lived
// cache and may be evicted without affecting correctness.
type StabilityRecord struct {
	ReproID          string           `json:"repro_id"`
	TotalRuns        int              `json:"total_runs"`
	PassedRuns       int              `json:"passed_runs"`
	StabilityScore   float64          `json:"stability_score"`
	FlakyScore       float64          `json:"flaky_score"`
	ConsistencyScore float64          `json:"consistency_score"`
	Classification   string           `json:"classification"`
	Performance      PerformanceStats `json:"performance_stats"`
	ComputedAt       time.Time        `json:"computed_at"`
}

// PerformanceStats are duration statistics over a run set, in milliseconds.
type PerformanceStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Stdev  float64 `json:"stdev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// ExportType enumerates delivery channels for a validated Repro.
type ExportType string

const (
	ExportPR      ExportType = "pr"
	ExportSandbox ExportType = "sandbox"
	ExportDocker  ExportType = "docker"
	ExportReport  ExportType = "report"
)

// Export is the outcome of one delivery request for a Repro.
type Export struct {
	ID         string     `db:"id"`
	ReproID    string     `db:"repro_id"`
	ExportType ExportType `db:"export_type"`
	Result     JSONMap    `db:"result"`
	Status     string     `db:"status"`
}

// CLIRepro is a command-line reproduction project generated for a target
// build ecosystem.
type CLIRepro struct {
	ID           string `db:"id"`
	ReproID      string `db:"repro_id"`
	Ecosystem    string `db:"ecosystem"`
	TestFile     string `db:"test_file"`
	BuildCommand string `db:"build_command"`
	Dockerfile   string `db:"dockerfile"`
	ComposeFile  string `db:"compose_file"`
	Status       string `db:"status"`
}

// JSONMap is a JSON object column. It round-trips through jsonb.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
}

// JSONRaw is an arbitrary JSON column, stored as its serialized form.
type JSONRaw []byte

func (r JSONRaw) Value() (driver.Value, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return []byte(r), nil
}

func (r *JSONRaw) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*r = nil
		return nil
	case []byte:
		*r = append(JSONRaw(nil), v...)
		return nil
	case string:
		*r = JSONRaw(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into JSONRaw", src)
	}
}

// MarshalJSONRaw encodes |v| into a JSONRaw column value.
func MarshalJSONRaw(v interface{}) (JSONRaw, error) {
	var data, err = json.Marshal(v)
	return JSONRaw(data), err
}

// Vector is an embedding column. It renders as a pgvector literal like
// '[0.1,0.2,...]' and scans the same representation back.
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return []byte(v.String()), nil
}

func (v Vector) String() string {
	var out = make([]byte, 0, 2+12*len(v))
	out = append(out, '[')
	for i, f := range v {
		if i != 0 {
			out = append(out, ',')
		}
		out = strconv.AppendFloat(out, float64(f), 'g', -1, 32)
	}
	return string(append(out, ']'))
}

func (v *Vector) Scan(src interface{}) error {
	var s string
	switch t := src.(type) {
	case nil:
		*v = nil
		return nil
	case []byte:
		s = string(t)
	case string:
		s = t
	default:
		return fmt.Errorf("cannot scan %T into Vector", src)
	}
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return fmt.Errorf("malformed vector literal %q", s)
	}
	var out Vector
	if err := json.Unmarshal([]byte("["+s[1:len(s)-1]+"]"), &out); err != nil {
		return fmt.Errorf("parsing vector literal: %w", err)
	}
	*v = out
	return nil
}
