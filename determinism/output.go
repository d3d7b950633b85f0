package determinism

import (
	"regexp"
	"strconv"
	"strings"
)

var testCountRes = []*regexp.Regexp{
	regexp.MustCompile(`(\d+) passed`),
	regexp.MustCompile(`(\d+) failed`),
	regexp.MustCompile(`(\d+) tests?`),
}

// ParseTestOutput derives the pass verdict and test count from a runner's
// combined output. The exit code is authoritative; the token scan only
// demotes a zero exit that still printed failures.
func ParseTestOutput(out string, exitCode int) (passed bool, testsRun int) {
	passed = exitCode == 0

	var lower = strings.ToLower(out)
	if passed && (strings.Contains(lower, " failed") || strings.HasPrefix(lower, "failed")) {
		if m := testCountRes[1].FindStringSubmatch(lower); m != nil {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				passed = false
			}
		}
	}

	for _, re := range testCountRes[:2] {
		if m := re.FindStringSubmatch(lower); m != nil {
			var n, _ = strconv.Atoi(m[1])
			testsRun += n
		}
	}
	if testsRun == 0 {
		if m := testCountRes[2].FindStringSubmatch(lower); m != nil {
			testsRun, _ = strconv.Atoi(m[1])
		}
	}
	return passed, testsRun
}
