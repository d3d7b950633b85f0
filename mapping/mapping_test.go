package mapping

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkTextOverlapInvariant(t *testing.T) {
	// Adjacent chunks share the overlap, so any substring no longer than the
	// overlap appears wholly in at least one chunk.
	var text = strings.Repeat("abcdefghij", 120) // 1200 chars, no boundaries
	var size, overlap = 100, 20

	var chunks = ChunkText(text, size, overlap)
	require.NotEmpty(t, chunks)

	var window = overlap
	for start := 0; start+window <= len(text); start += 7 {
		var needle = text[start : start+window]
		var found = false
		for _, chunk := range chunks {
			if strings.Contains(chunk, needle) {
				found = true
				break
			}
		}
		require.True(t, found, "substring at %d missing from all chunks", start)
	}
}

func TestChunkTextRespectsSizeAndCoversText(t *testing.T) {
	var text = strings.Repeat("x", 2500)
	var chunks = ChunkText(text, 1000, 200)

	for _, chunk := range chunks {
		require.LessOrEqual(t, len(chunk), 1000)
	}
	require.Equal(t, text[:1000], chunks[0])
	var last = chunks[len(chunks)-1]
	require.True(t, strings.HasSuffix(text, last))
}

func TestChunkTextCutsAtLateBoundary(t *testing.T) {
	// A sentence boundary within the final 30% of the chunk truncates it.
	var text = strings.Repeat("a", 80) + ". " + strings.Repeat("b", 200)
	var chunks = ChunkText(text, 100, 10)
	require.True(t, strings.HasSuffix(chunks[0], "."))
}

func TestChunkTextShortInput(t *testing.T) {
	require.Equal(t, []string{"tiny"}, ChunkText("tiny", 1000, 200))
	require.Nil(t, ChunkText("", 1000, 200))
	require.Nil(t, ChunkText("text", 0, 0))
}

func TestDetectFrameworksNormalizesToOne(t *testing.T) {
	var dir = t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tests"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "playwright.config.ts"),
		[]byte("import { defineConfig } from '@playwright/test';"), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "tests", "checkout.spec.ts"),
		[]byte("await page.goto('/'); await page.locator('#submit').click();"), 0o644))

	var scores = DetectFrameworks(dir)

	var total float64
	for _, s := range scores {
		total += s
	}
	require.InDelta(t, 1.0, total, 1e-9)
	require.Greater(t, scores["playwright"], scores["cypress"])
	require.Greater(t, scores["playwright"], 0.5)
}

func TestDetectFrameworksEmptyRepo(t *testing.T) {
	var scores = DetectFrameworks(t.TempDir())
	for name, s := range scores {
		require.Zero(t, s, name)
	}
}

func TestGuessModulesRanksByTokenHits(t *testing.T) {
	var dir = t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", "checkout"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "checkout", "cart.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "checkout", "cart.test.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "profile.js"), []byte("x"), 0o644))

	var guesses = GuessModules(dir, "checkout cart total")
	require.NotEmpty(t, guesses)

	// The test file outranks the implementation by the test-path bonus.
	require.Equal(t, filepath.Join("src", "checkout", "cart.test.js"), guesses[0].Path)
	require.Equal(t, filepath.Join("src", "checkout", "cart.js"), guesses[1].Path)

	for _, g := range guesses {
		require.NotContains(t, g.Path, "profile.js")
	}
}

func TestGuessModulesSkipsVendoredDirs(t *testing.T) {
	var dir = t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "cart"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "cart", "cart.js"), []byte("x"), 0o644))

	require.Empty(t, GuessModules(dir, "cart"))
}
