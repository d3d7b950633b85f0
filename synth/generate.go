package synth

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/reproforge/reproforge/model"
)

// EntryFile is the generated test's entry point.
const EntryFile = "test.spec.ts"

// GenerateScript renders the Playwright test executing |steps| in order.
func GenerateScript(title string, steps []model.Step) string {
	var b strings.Builder

	b.WriteString("import { test, expect } from '@playwright/test';\n\n")
	fmt.Fprintf(&b, "test.describe('%s', () => {\n", escapeSingle(title))
	b.WriteString("  test('reproduces the reported failure', async ({ page }) => {\n")

	for _, step := range steps {
		switch step.Kind {
		case model.StepNavigate:
			fmt.Fprintf(&b, "    await page.goto('%s');\n", escapeSingle(payloadString(step.Payload, "url")))

		case model.StepInput:
			var locator = ChainExpression(payloadStrings(step.Payload, "selector_chain"))
			fmt.Fprintf(&b, "    await %s.fill('%s');\n",
				locator, escapeSingle(payloadString(step.Payload, "value")))

		case model.StepClick:
			var locator = ChainExpression(payloadStrings(step.Payload, "selector_chain"))
			fmt.Fprintf(&b, "    await %s.click();\n", locator)

		case model.StepSubmit:
			var locator = ChainExpression(payloadStrings(step.Payload, "selector_chain"))
			fmt.Fprintf(&b, "    await %s.click();\n", locator)

		case model.StepAssert:
			fmt.Fprintf(&b, "    await expect(page).toHaveURL(/%s/);\n",
				payloadString(step.Payload, "pattern"))

		case model.StepAPIVerify:
			var method = strings.ToLower(payloadString(step.Payload, "method"))
			if method == "" {
				method = "get"
			}
			fmt.Fprintf(&b, "    const response%d = await page.request.%s('%s');\n",
				step.OrderIdx, method, escapeSingle(payloadString(step.Payload, "url")))
			fmt.Fprintf(&b, "    expect(response%d.status()).toBe(%d);\n",
				step.OrderIdx, payloadInt(step.Payload, "status"))
		}
	}

	b.WriteString("  });\n")
	b.WriteString("});\n")
	return b.String()
}

type composeService struct {
	Image       string   `yaml:"image"`
	WorkingDir  string   `yaml:"working_dir,omitempty"`
	Command     string   `yaml:"command,omitempty"`
	Environment []string `yaml:"environment,omitempty"`
	Volumes     []string `yaml:"volumes,omitempty"`
	DependsOn   []string `yaml:"depends_on,omitempty"`
	Ports       []string `yaml:"ports,omitempty"`
}

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
}

// GenerateCompose renders the compose descriptor wiring the application
// under test to the generated Playwright runner.
func GenerateCompose(baseURL string) (string, error) {
	var doc = composeFile{
		Services: map[string]composeService{
			"app": {
				Image: "node:20-bookworm",
				Ports: []string{"3000:3000"},
			},
			"test": {
				Image:      "mcr.microsoft.com/playwright:v1.44.0-jammy",
				WorkingDir: "/work",
				Command:    "npx playwright test",
				Environment: []string{
					"CI=true",
					"BASE_URL=" + baseURL,
				},
				Volumes:   []string{"./:/work"},
				DependsOn: []string{"app"},
			},
		},
	}
	var out, err = yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("rendering compose: %w", err)
	}
	return string(out), nil
}

// GenerateReadme renders run instructions for the generated repro.
func GenerateReadme(title, baseURL string, steps []model.Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	b.WriteString("Generated reproduction test.\n\n")
	fmt.Fprintf(&b, "Base URL: %s\n\n", baseURL)
	b.WriteString("## Run\n\n```\ndocker compose up --abort-on-container-exit test\n```\n\n")
	b.WriteString("## Steps\n\n")
	for _, step := range steps {
		fmt.Fprintf(&b, "%d. %s", step.OrderIdx+1, step.Kind)
		if url := payloadString(step.Payload, "url"); url != "" {
			fmt.Fprintf(&b, " %s", url)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// BaseURL infers the application origin as the most common origin among
// navigations, falling back to a local default.
func BaseURL(interactions []Interaction) string {
	var counts = make(map[string]int)
	for _, it := range interactions {
		if it.Kind != Navigation {
			continue
		}
		if origin := originOf(it.URL); origin != "" {
			counts[origin]++
		}
	}
	var best string
	var bestCount int
	var origins = make([]string, 0, len(counts))
	for origin := range counts {
		origins = append(origins, origin)
	}
	sort.Strings(origins)
	for _, origin := range origins {
		if counts[origin] > bestCount {
			best, bestCount = origin, counts[origin]
		}
	}
	if best == "" {
		return "http://localhost:3000"
	}
	return best
}

func originOf(raw string) string {
	var i = strings.Index(raw, "://")
	if i == -1 {
		return ""
	}
	var rest = raw[i+3:]
	if j := strings.IndexByte(rest, '/'); j != -1 {
		rest = rest[:j]
	}
	if rest == "" {
		return ""
	}
	return raw[:i+3] + rest
}

func payloadString(p model.JSONMap, key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

func payloadInt(p model.JSONMap, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func payloadStrings(p model.JSONMap, key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []interface{}:
		var out = make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
