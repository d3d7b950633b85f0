package harlog

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
)

// ErrorSignature is a fingerprint extracted from one error line, prior to
// clustering and persistence.
type ErrorSignature struct {
	Hash          string
	ErrorType     string
	Message       string
	Details       string
	StackTrace    string
	KeyComponents []string
	Severity      string
	Frequency     int
}

var stackTraceRes = []*regexp.Regexp{
	regexp.MustCompile(`(?m)(^\s+at .+$\n?)+`),
	regexp.MustCompile(`Traceback \(most recent call last\):[\s\S]*`),
	regexp.MustCompile(`Stack trace:[\s\S]*`),
}

var (
	quotedRe   = regexp.MustCompile(`'([^']+)'|"([^"]+)"`)
	pathRe     = regexp.MustCompile(`/[^\s'"]+\.[a-zA-Z]{2,4}`)
	callableRe = regexp.MustCompile(`\b[a-zA-Z_][a-zA-Z0-9_]*\([^)]*\)`)
	codeRe     = regexp.MustCompile(`\b\d{3,4}\b`)
)

// ExtractSignature fingerprints one parsed error line. The hash is the MD5
// of the message and details, so identical errors collapse to one row no
// matter how often they recur.
func ExtractSignature(line Line) ErrorSignature {
	var text = line.Message + " " + line.Details

	return ErrorSignature{
		Hash:          HashOf(line.Message, line.Details),
		ErrorType:     classifyError(text),
		Message:       line.Message,
		Details:       line.Details,
		StackTrace:    extractStackTrace(text),
		KeyComponents: extractKeyComponents(text),
		Severity:      severityOf(line.Level),
		Frequency:     1,
	}
}

// HashOf is the content hash identifying a signature row.
func HashOf(message, details string) string {
	var sum = md5.Sum([]byte(message + " " + details))
	return hex.EncodeToString(sum[:])
}

func classifyError(text string) string {
	var lower = strings.ToLower(text)
	switch {
	case strings.Contains(lower, "syntaxerror"):
		return "SyntaxError"
	case strings.Contains(lower, "referenceerror"):
		return "ReferenceError"
	case strings.Contains(lower, "typeerror"):
		return "TypeError"
	case strings.Contains(lower, "network"), strings.Contains(lower, "connection"):
		return "NetworkError"
	case strings.Contains(lower, "database"), strings.Contains(lower, "sql"):
		return "DatabaseError"
	case strings.Contains(lower, "authentication"), strings.Contains(lower, "unauthorized"):
		return "AuthenticationError"
	case strings.Contains(lower, "timeout"):
		return "TimeoutError"
	default:
		return "GenericError"
	}
}

func extractStackTrace(text string) string {
	for _, re := range stackTraceRes {
		if m := re.FindString(text); m != "" {
			return strings.TrimSpace(m)
		}
	}
	return ""
}

func extractKeyComponents(text string) []string {
	var seen = make(map[string]struct{})
	var out []string

	var add = func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	for _, m := range quotedRe.FindAllStringSubmatch(text, -1) {
		if m[1] != "" {
			add(m[1])
		} else {
			add(m[2])
		}
	}
	for _, m := range pathRe.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range callableRe.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range codeRe.FindAllString(text, -1) {
		add(m)
	}
	return out
}

func severityOf(level string) string {
	switch level {
	case "ERROR":
		return "high"
	case "WARN", "WARNING":
		return "medium"
	default:
		return "low"
	}
}
