package blob

import "fmt"

// Object key layout of the pipeline. Every artifact family has a stable,
// id-derived prefix so that replayed messages overwrite rather than
// accumulate.

// SignalKey is the location of one raw uploaded artifact.
func SignalKey(signalID, filename string) string {
	return fmt.Sprintf("signals/%s/%s", signalID, filename)
}

// FixturesKey is the shaper's generated fixture set for a report.
func FixturesKey(reportID string) string {
	return fmt.Sprintf("shaped-data/%s/fixtures.json", reportID)
}

// GeneratedKey is one synthesized test artifact of a repro.
func GeneratedKey(reproID, filename string) string {
	return fmt.Sprintf("tests/generated/%s/%s", reproID, filename)
}

// RunVideoKey is a captured validation video.
func RunVideoKey(reproID, runID string) string {
	return fmt.Sprintf("validation/videos/%s/%s.webm", reproID, runID)
}

// RunTraceKey is a captured validation session trace.
func RunTraceKey(reproID, runID string) string {
	return fmt.Sprintf("validation/traces/%s/%s.zip", reproID, runID)
}

// ExportKey is one export deliverable. |ext| is tar.gz, pdf or json.
func ExportKey(reproID, exportID, ext string) string {
	return fmt.Sprintf("export/%s/%s.%s", reproID, exportID, ext)
}
