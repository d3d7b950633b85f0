package mapping

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// frameworkPatterns drive framework detection: a pattern occurring in a
// file path scores 1.0, in a file body 0.5.
var frameworkPatterns = map[string][]string{
	"playwright": {"playwright.config", "@playwright/test", "page.goto", "page.locator"},
	"cypress":    {"cypress.config", "cypress.json", "cy.visit", "cy.get"},
	"pytest":     {"conftest.py", "pytest.ini", "def test_", "import pytest"},
	"jest":       {"jest.config", "describe(", "it(", "expect("},
}

// skipDirs are never walked during repository analysis.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "dist": true, "build": true,
}

// DetectFrameworks scores each known test framework over the repository and
// normalizes the scores to sum to one. An unreadable or empty repository
// yields all-zero scores.
func DetectFrameworks(repoPath string) map[string]float64 {
	var scores = make(map[string]float64, len(frameworkPatterns))
	for name := range frameworkPatterns {
		scores[name] = 0
	}

	walkRepo(repoPath, func(path string, body []byte) {
		for name, patterns := range frameworkPatterns {
			for _, pattern := range patterns {
				if strings.Contains(path, pattern) {
					scores[name] += 1.0
				}
				if body != nil && strings.Contains(string(body), pattern) {
					scores[name] += 0.5
				}
			}
		}
	})

	var total float64
	for _, s := range scores {
		total += s
	}
	if total > 0 {
		for name := range scores {
			scores[name] /= total
		}
	}
	return scores
}

// ModuleGuess is one scored candidate module path.
type ModuleGuess struct {
	Path  string
	Score float64
}

var wordRe = regexp.MustCompile(`[a-z0-9]+`)

// GuessModules ranks repository files against the query: one point per
// query token occurring in the path, half a point for test-like paths, 0.3
// for configuration paths. The top ten are returned, ties broken by path.
func GuessModules(repoPath, query string) []ModuleGuess {
	var tokens = wordRe.FindAllString(strings.ToLower(query), -1)

	var guesses []ModuleGuess
	walkRepo(repoPath, func(path string, _ []byte) {
		var lower = strings.ToLower(path)
		var score float64
		for _, token := range tokens {
			if strings.Contains(lower, token) {
				score += 1.0
			}
		}
		if strings.Contains(lower, "test") || strings.Contains(lower, "spec") {
			score += 0.5
		}
		if strings.Contains(lower, "config") || strings.Contains(lower, "setup") {
			score += 0.3
		}
		if score > 0 {
			guesses = append(guesses, ModuleGuess{Path: path, Score: score})
		}
	})

	sort.Slice(guesses, func(i, j int) bool {
		if guesses[i].Score != guesses[j].Score {
			return guesses[i].Score > guesses[j].Score
		}
		return guesses[i].Path < guesses[j].Path
	})
	if len(guesses) > 10 {
		guesses = guesses[:10]
	}
	return guesses
}

// walkRepo visits every tracked file, passing its repo-relative path and,
// for indexable extensions, its body.
func walkRepo(repoPath string, visit func(path string, body []byte)) {
	if repoPath == "" {
		return
	}
	_ = filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		var rel, relErr = filepath.Rel(repoPath, path)
		if relErr != nil {
			rel = path
		}

		var body []byte
		if indexableExtensions[strings.ToLower(filepath.Ext(path))] {
			body, _ = os.ReadFile(path)
		}
		visit(rel, body)
		return nil
	})
}
