package export

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/reproforge/reproforge/model"
	"github.com/reproforge/reproforge/synth"
)

// Bundle assembles the standalone project tree shared by the docker, pr and
// sandbox channels: a Playwright project whose single test replays the
// repro's step sequence.
func Bundle(repro *model.Repro, steps []model.Step) map[string]string {
	var title = repro.Title.String
	if title == "" {
		title = "Reproduction " + repro.ID
	}
	var testPath = "tests/regressions/" + repro.ID + ".spec.ts"

	var files = map[string]string{
		"package.json":         PackageJSON(repro.ID, title),
		"playwright.config.js": PlaywrightConfig(),
		testPath:               synth.GenerateScript(title, steps),
		"README.md":            Readme(repro, title),
		"Dockerfile":           Dockerfile(testPath),
		"docker-compose.yml":   Compose(),
	}
	if repro.DockerCompose != "" {
		files["docker-compose.yml"] = repro.DockerCompose
	}
	if len(repro.Seed) != 0 {
		if seed, err := json.MarshalIndent(map[string]interface{}(repro.Seed), "", "  "); err == nil {
			files["fixtures.json"] = string(seed)
		}
	}
	return files
}

// PackageJSON renders the npm manifest of a bundle.
func PackageJSON(reproID, title string) string {
	var manifest = map[string]interface{}{
		"name":        "bug-repro-" + reproID,
		"version":     "1.0.0",
		"description": title,
		"scripts": map[string]string{
			"test":        "playwright test",
			"test:headed": "playwright test --headed",
		},
		"devDependencies": map[string]string{
			"@playwright/test": "^1.44.0",
		},
	}
	var out, _ = json.MarshalIndent(manifest, "", "  ")
	return string(out) + "\n"
}

// PlaywrightConfig renders the runner configuration of a bundle.
func PlaywrightConfig() string {
	return `const { defineConfig } = require('@playwright/test');

module.exports = defineConfig({
  testDir: './tests',
  timeout: 30000,
  expect: { timeout: 5000 },
  use: {
    headless: true,
    viewport: { width: 1280, height: 720 },
    ignoreHTTPSErrors: true,
    video: 'on-first-retry',
    screenshot: 'only-on-failure',
  },
  projects: [{ name: 'chromium', use: { browserName: 'chromium' } }],
});
`
}

// Readme renders the bundle's instructions.
func Readme(repro *model.Repro, title string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	b.WriteString("Automated reproduction of a reported bug.\n\n")
	if repro.Description.String != "" {
		fmt.Fprintf(&b, "## Description\n%s\n\n", repro.Description.String)
	}
	b.WriteString("## Running the Test\n```bash\nnpm install\nnpm test\n```\n\n")
	b.WriteString("The test fails while the bug is present and passes once it is fixed.\n\n")
	fmt.Fprintf(&b, "Reproduction id: `%s`\n", repro.ID)
	return b.String()
}

// Dockerfile renders the container recipe running one regression test.
func Dockerfile(testPath string) string {
	return fmt.Sprintf(`FROM mcr.microsoft.com/playwright:v1.44.0-jammy

WORKDIR /app

COPY package*.json ./
RUN npm install

COPY . .

CMD ["npx", "playwright", "test", "%s"]
`, testPath)
}

// Compose renders the default compose file of a bundle.
func Compose() string {
	return `services:
  bug-repro:
    build: .
    environment:
      - CI=true
    volumes:
      - ./test-results:/app/test-results
`
}

// PRBody renders the pull-request description for a repro.
func PRBody(repro *model.Repro, title, testPath string) string {
	var b strings.Builder
	b.WriteString("## Bug Reproduction\n\n")
	fmt.Fprintf(&b, "This PR adds a regression test for: **%s**\n\n", title)
	if repro.Description.String != "" {
		fmt.Fprintf(&b, "### Description\n%s\n\n", repro.Description.String)
	}
	b.WriteString("### Test Details\n")
	fmt.Fprintf(&b, "- Reproduction id: `%s`\n", repro.ID)
	if repro.StabilityScore.Valid {
		fmt.Fprintf(&b, "- Stability score: %.2f\n", repro.StabilityScore.Float64)
	}
	fmt.Fprintf(&b, "- Status: %s\n\n", repro.Status)
	b.WriteString("### How to Verify\n")
	fmt.Fprintf(&b, "1. Run `npx playwright test %s`.\n", testPath)
	b.WriteString("2. The test fails, reproducing the reported issue.\n")
	b.WriteString("3. Once the bug is fixed the test passes.\n")
	return b.String()
}

// Tarball packs a file tree into a gzipped tar archive. Entries are written
// in name order with a fixed timestamp so identical trees produce identical
// bytes.
func Tarball(files map[string]string) ([]byte, error) {
	var names = make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	var gz = gzip.NewWriter(&buf)
	var tw = tar.NewWriter(gz)

	var epoch = time.Unix(0, 0).UTC()
	for _, name := range names {
		var body = files[name]
		var hdr = &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(body)),
			ModTime: epoch,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("writing header of %s: %w", name, err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			return nil, fmt.Errorf("writing %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip stream: %w", err)
	}
	return buf.Bytes(), nil
}
