package model

// Bus payload types. All subjects carry JSON-encoded UTF-8 bytes.

// Subject names of the pipeline.
const (
	SubjectReportIngest      = "report.ingest"
	SubjectReportSignals     = "report.signals"
	SubjectReportSynth       = "report.synth"
	SubjectDataShape         = "data.shape"
	SubjectMappingRequest    = "mapping.request"
	SubjectMappingCompleted  = "mapping.completed"
	SubjectDeterminismCtl    = "determinism.control"
	SubjectReproValidate     = "repro.validate"
	SubjectCLIRequest        = "cli.request"
	SubjectCLICompleted      = "cli.completed"
	SubjectExportRequest     = "export.request"
	SubjectExportCompleted   = "export.completed"
	SubjectValidateCompleted = "repro.validate.completed"
)

// ReportMessage drives report.ingest, report.signals and report.synth.
type ReportMessage struct {
	ReportID string `json:"report_id"`
}

// ShapeOptions tunes fixture generation for one data.shape request.
type ShapeOptions struct {
	Context     string `json:"context"`
	RecordCount int    `json:"record_count"`
}

// ShapeRequest drives data.shape.
type ShapeRequest struct {
	ReportID string       `json:"report_id"`
	Options  ShapeOptions `json:"options"`
}

// MappingRequest drives mapping.request.
type MappingRequest struct {
	MappingID string `json:"mapping_id"`
	ProjectID string `json:"project_id"`
	ReportID  string `json:"report_id"`
	Query     string `json:"query"`
	RepoPath  string `json:"repo_path"`
}

// MappingCompleted is published to mapping.completed.
type MappingCompleted struct {
	MappingID         string             `json:"mapping_id"`
	ReportID          string             `json:"report_id"`
	FrameworkScores   map[string]float64 `json:"framework_scores"`
	ModuleSuggestions []ModuleSuggestion `json:"module_suggestions"`
	DocResults        []DocResult        `json:"doc_results"`
	ConfidenceScore   float64            `json:"confidence_score"`
}

// ModuleSuggestion is one ranked candidate module path.
type ModuleSuggestion struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// DocResult is one ranked document chunk from similarity search.
type DocResult struct {
	FilePath   string  `json:"file_path"`
	ChunkText  string  `json:"chunk_text"`
	Similarity float64 `json:"similarity"`
}

// TestConfig describes one execution under the determinism envelope.
type TestConfig struct {
	TestID  string            `json:"test_id"`
	Image   string            `json:"image"`
	Command []string          `json:"command"`
	WorkDir string            `json:"work_dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Mounts  []string          `json:"mounts,omitempty"`

	EnableNetworkShaping bool `json:"enable_network_shaping"`
	EnableTimeFreezing   bool `json:"enable_time_freezing"`
	EnableResourceLimits bool `json:"enable_resource_limits"`

	// FreezeAt is an explicit ISO-8601 instant. When empty and time freezing
	// is enabled, the clock is bound to now + FakeTimeOffset.
	FreezeAt       string `json:"freeze_at,omitempty"`
	FakeTimeOffset string `json:"fake_time_offset,omitempty"`

	NetworkInterface     string  `json:"network_interface,omitempty"`
	NetworkLatencyMS     int     `json:"network_latency_ms,omitempty"`
	NetworkBandwidthKbps int     `json:"network_bandwidth_kbps,omitempty"`
	CPULimit             float64 `json:"cpu_limit,omitempty"`
	MemoryLimitMB        int     `json:"memory_limit_mb,omitempty"`
	DiskQuotaMB          int     `json:"disk_quota_mb,omitempty"`
}

// ControlRequest drives determinism.control.
type ControlRequest struct {
	TestConfig TestConfig `json:"test_config"`
}

// ValidationConfig drives repro.validate.
type ValidationConfig struct {
	ReproID     string     `json:"repro_id"`
	Runs        int        `json:"runs"`
	Determinism TestConfig `json:"determinism"`
}

// ValidateRequest is the envelope payload of repro.validate.
type ValidateRequest struct {
	ValidationConfig ValidationConfig `json:"validation_config"`
}

// ValidateCompleted is the internal publish of a validation outcome.
type ValidateCompleted struct {
	ReproID   string          `json:"repro_id"`
	Stability StabilityRecord `json:"stability"`
	Minimized []int           `json:"minimized_steps,omitempty"`
}

// CLIRequestMessage drives cli.request.
type CLIRequestMessage struct {
	ReproID   string `json:"repro_id"`
	TestCode  string `json:"test_code"`
	Ecosystem string `json:"ecosystem"`
	RepoPath  string `json:"repo_path,omitempty"`
}

// CLICompleted is published to cli.completed.
type CLICompleted struct {
	CLIReproID string                 `json:"cli_repro_id"`
	ReproID    string                 `json:"repro_id"`
	Ecosystem  string                 `json:"ecosystem"`
	Result     map[string]interface{} `json:"result"`
}

// ExportRequestMessage drives export.request.
type ExportRequestMessage struct {
	ReproID    string                 `json:"repro_id"`
	ExportType ExportType             `json:"export_type"`
	Options    map[string]interface{} `json:"options,omitempty"`
}

// ExportCompleted is published to export.completed.
type ExportCompleted struct {
	ExportID   string                 `json:"export_id"`
	ReproID    string                 `json:"repro_id"`
	ExportType ExportType             `json:"export_type"`
	Result     map[string]interface{} `json:"result"`
}
