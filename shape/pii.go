package shape

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Entities recognized by the anonymization gate.
var Entities = []string{
	"PERSON", "EMAIL_ADDRESS", "PHONE_NUMBER", "LOCATION",
	"CREDIT_CARD", "SSN", "DATE_TIME", "IP_ADDRESS",
}

// DefaultPIIThreshold gates anonymization on analyzer confidence.
const DefaultPIIThreshold = 0.5

// Finding is one detected PII span.
type Finding struct {
	Entity string
	Score  float64
	Start  int
	End    int
}

// PIIAnalyzer detects personal data in text. Model-backed analysis is an
// opaque collaborator; RegexAnalyzer is the in-process default.
type PIIAnalyzer interface {
	Analyze(ctx context.Context, text string) ([]Finding, error)
}

// RegexAnalyzer recognizes the structured entity subset with patterns. It
// cannot detect PERSON or LOCATION spans; deployments wanting those plug in
// a model-backed analyzer.
type RegexAnalyzer struct{}

var _ PIIAnalyzer = RegexAnalyzer{}

var piiPatterns = []struct {
	entity string
	score  float64
	re     *regexp.Regexp
}{
	{"EMAIL_ADDRESS", 0.95, regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.]+`)},
	{"PHONE_NUMBER", 0.8, regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`)},
	{"CREDIT_CARD", 0.9, regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)},
	{"SSN", 0.9, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"IP_ADDRESS", 0.85, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
	{"DATE_TIME", 0.6, regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2})?)?\b`)},
}

func (RegexAnalyzer) Analyze(_ context.Context, text string) ([]Finding, error) {
	var out []Finding
	for _, p := range piiPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			out = append(out, Finding{
				Entity: p.entity,
				Score:  p.score,
				Start:  loc[0],
				End:    loc[1],
			})
		}
	}
	return out, nil
}

// Anonymize replaces findings at or above |threshold| with entity
// placeholders, later spans first so earlier offsets stay valid.
func Anonymize(text string, findings []Finding, threshold float64) string {
	var kept = make([]Finding, 0, len(findings))
	for _, f := range findings {
		if f.Score >= threshold {
			kept = append(kept, f)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start > kept[j].Start })

	for _, f := range kept {
		if f.Start < 0 || f.End > len(text) || f.Start >= f.End {
			continue
		}
		text = text[:f.Start] + fmt.Sprintf("<%s>", f.Entity) + text[f.End:]
	}
	return text
}

// ScrubRecords passes every string value of every record through the
// analyzer and anonymizes confident findings in place. It returns the
// number of anonymized values.
func ScrubRecords(ctx context.Context, analyzer PIIAnalyzer, records map[string][]map[string]interface{}, threshold float64) (int, error) {
	var scrubbed = 0
	for _, rows := range records {
		for _, row := range rows {
			for field, value := range row {
				var s, ok = value.(string)
				if !ok || field == "id" {
					continue
				}
				findings, err := analyzer.Analyze(ctx, s)
				if err != nil {
					return scrubbed, fmt.Errorf("analyzing field %s: %w", field, err)
				}
				if replaced := Anonymize(s, findings, threshold); replaced != s {
					// Identifier-typed fields keep their referential value.
					if !strings.HasSuffix(field, "_id") {
						row[field] = replaced
						scrubbed++
					}
				}
			}
		}
	}
	return scrubbed, nil
}
