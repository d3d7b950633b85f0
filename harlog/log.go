package harlog

import (
	"bufio"
	"regexp"
	"strings"
)

// Line is one parsed log line.
type Line struct {
	Timestamp string
	Logger    string
	Level     string
	Message   string
	Details   string
}

// Matches `<timestamp> [<logger>]? <LEVEL> <message>(: <details>)?`,
// case-insensitive.
var lineRe = regexp.MustCompile(
	`(?i)^(\d{4}-\d{2}-\d{2}[T\s]\d{2}:\d{2}:\d{2}(?:\.\d{3})?Z?)\s*` +
		`(?:\[([^\]]+)\])?\s*` +
		`(ERROR|WARN|WARNING|INFO|DEBUG)\s*` +
		`(.*?)(?:\s*:\s*(.*))?$`)

// ParseLine parses one log line, returning false when it does not match the
// expected shape.
func ParseLine(s string) (Line, bool) {
	var m = lineRe.FindStringSubmatch(strings.TrimRight(s, "\r"))
	if m == nil {
		return Line{}, false
	}
	return Line{
		Timestamp: m[1],
		Logger:    m[2],
		Level:     strings.ToUpper(m[3]),
		Message:   m[4],
		Details:   m[5],
	}, true
}

// ParseLines parses all matching lines of a log artifact.
func ParseLines(data []byte) []Line {
	var out []Line
	var scanner = bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if line, ok := ParseLine(scanner.Text()); ok {
			out = append(out, line)
		}
	}
	return out
}

// Errors filters |lines| to ERROR level, the candidates for signature
// extraction.
func Errors(lines []Line) []Line {
	var out []Line
	for _, l := range lines {
		if l.Level == "ERROR" {
			out = append(out, l)
		}
	}
	return out
}
