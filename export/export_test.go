package export

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"database/sql"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reproforge/reproforge/model"
)

func sampleRepro() *model.Repro {
	return &model.Repro{
		ID:             "repro-1",
		ReportID:       "report-1",
		Framework:      "playwright",
		Title:          sql.NullString{String: "Checkout total is wrong", Valid: true},
		Description:    sql.NullString{String: "Cart shows the wrong total after adding two items.", Valid: true},
		Status:         model.ReproValidated,
		StabilityScore: sql.NullFloat64{Float64: 0.92, Valid: true},
		Seed:           model.JSONMap{"customers": []interface{}{map[string]interface{}{"email": "user@example.com"}}},
	}
}

func sampleSteps() []model.Step {
	return []model.Step{
		{ReproID: "repro-1", OrderIdx: 0, Kind: model.StepNavigate, Payload: model.JSONMap{"url": "http://app.local/checkout"}},
		{ReproID: "repro-1", OrderIdx: 1, Kind: model.StepAPIVerify, Payload: model.JSONMap{
			"method": "GET", "url": "http://app.local/api/cart", "status": 500.0,
		}},
	}
}

func TestBundleFileTree(t *testing.T) {
	var files = Bundle(sampleRepro(), sampleSteps())

	require.Contains(t, files, "package.json")
	require.Contains(t, files, "playwright.config.js")
	require.Contains(t, files, "README.md")
	require.Contains(t, files, "Dockerfile")
	require.Contains(t, files, "docker-compose.yml")
	require.Contains(t, files, "fixtures.json")

	var spec = files["tests/regressions/repro-1.spec.ts"]
	require.Contains(t, spec, "test.describe('Checkout total is wrong'")
	require.Contains(t, spec, "await page.goto('http://app.local/checkout');")

	require.Contains(t, files["package.json"], `"bug-repro-repro-1"`)
	require.Contains(t, files["package.json"], `"@playwright/test": "^1.44.0"`)
	require.Contains(t, files["Dockerfile"], "tests/regressions/repro-1.spec.ts")
	require.Contains(t, files["fixtures.json"], "user@example.com")
	require.Contains(t, files["README.md"], "Reproduction id: `repro-1`")
}

func TestBundleUsesReproCompose(t *testing.T) {
	var repro = sampleRepro()
	repro.DockerCompose = "services:\n  app:\n    image: shop:latest\n"

	var files = Bundle(repro, sampleSteps())
	require.Equal(t, repro.DockerCompose, files["docker-compose.yml"])
}

func TestBundleUntitledRepro(t *testing.T) {
	var repro = sampleRepro()
	repro.Title = sql.NullString{}
	repro.Seed = nil

	var files = Bundle(repro, sampleSteps())
	require.Contains(t, files["README.md"], "# Reproduction repro-1")
	require.NotContains(t, files, "fixtures.json")
}

func TestTarballIsDeterministic(t *testing.T) {
	var files = Bundle(sampleRepro(), sampleSteps())

	var a, err = Tarball(files)
	require.NoError(t, err)
	b, err := Tarball(files)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestTarballRoundTrip(t *testing.T) {
	var files = map[string]string{
		"b.txt":       "second",
		"a/nested.md": "first",
	}
	var archive, err = Tarball(files)
	require.NoError(t, err)

	gz, err := gzip.NewReader(bytes.NewReader(archive))
	require.NoError(t, err)
	var tr = tar.NewReader(gz)

	var got = map[string]string{}
	var order []string
	for {
		var hdr, err = tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		var body, readErr = io.ReadAll(tr)
		require.NoError(t, readErr)
		got[hdr.Name] = string(body)
		order = append(order, hdr.Name)
	}
	require.Equal(t, files, got)
	require.Equal(t, []string{"a/nested.md", "b.txt"}, order)
}

func TestPRBody(t *testing.T) {
	var body = PRBody(sampleRepro(), "Checkout total is wrong", "tests/regressions/repro-1.spec.ts")

	require.Contains(t, body, "**Checkout total is wrong**")
	require.Contains(t, body, "Reproduction id: `repro-1`")
	require.Contains(t, body, "Stability score: 0.92")
	require.Contains(t, body, "Status: validated")
	require.Contains(t, body, "npx playwright test tests/regressions/repro-1.spec.ts")
}

func TestPRBodyOmitsUnknownStability(t *testing.T) {
	var repro = sampleRepro()
	repro.StabilityScore = sql.NullFloat64{}

	var body = PRBody(repro, "title", "tests/regressions/repro-1.spec.ts")
	require.NotContains(t, body, "Stability score")
}

func TestExportIDIsDeterministicPerChannel(t *testing.T) {
	require.Equal(t, ExportID("repro-1", model.ExportDocker), ExportID("repro-1", model.ExportDocker))
	require.NotEqual(t, ExportID("repro-1", model.ExportDocker), ExportID("repro-1", model.ExportPR))
	require.NotEqual(t, ExportID("repro-1", model.ExportDocker), ExportID("repro-2", model.ExportDocker))
}
