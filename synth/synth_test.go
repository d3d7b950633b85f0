package synth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reproforge/reproforge/harlog"
	"github.com/reproforge/reproforge/model"
)

func TestExtractInteractions(t *testing.T) {
	var har = &harlog.HAR{Log: harlog.Log{Entries: []harlog.Entry{
		{
			Request:  harlog.Request{Method: "GET", URL: "http://app.local/checkout"},
			Response: harlog.Response{Status: 200, Content: harlog.Content{MimeType: "text/html"}},
		},
		{
			Request: harlog.Request{
				Method: "POST",
				URL:    "http://app.local/checkout",
				PostData: &harlog.PostData{Params: []harlog.Param{
					{Name: "email", Value: "user@example.com"},
					{Name: "quantity", Value: "2"},
				}},
			},
			Response: harlog.Response{Status: 302},
		},
		{
			Request:  harlog.Request{Method: "GET", URL: "http://app.local/api/cart"},
			Response: harlog.Response{Status: 500, Content: harlog.Content{MimeType: "application/json"}},
		},
		{
			// Asset traffic matches no classification and is dropped.
			Request:  harlog.Request{Method: "GET", URL: "http://cdn.local/site.css"},
			Response: harlog.Response{Status: 200, Content: harlog.Content{MimeType: "text/css"}},
		},
	}}}

	var interactions = ExtractInteractions(har)
	require.Len(t, interactions, 3)

	require.Equal(t, Navigation, interactions[0].Kind)
	require.Equal(t, FormSubmission, interactions[1].Kind)
	require.Equal(t, map[string]interface{}{"email": "user@example.com", "quantity": "2"}, interactions[1].FormData)
	require.Equal(t, APICall, interactions[2].Kind)
	require.Equal(t, 500, interactions[2].Status)
}

func TestParseFormDataJSONBody(t *testing.T) {
	var pd = &harlog.PostData{Text: `{"email":"user@example.com","qty":2}`}
	require.Equal(t,
		map[string]interface{}{"email": "user@example.com", "qty": 2.0},
		parseFormData(pd))

	var raw = &harlog.PostData{Text: "not json"}
	require.Equal(t, map[string]interface{}{"_raw": "not json"}, parseFormData(raw))
}

func TestSelectorChainPreferenceOrder(t *testing.T) {
	var el = Element{
		Tag:         "input",
		Type:        "email",
		ID:          "email-field",
		Name:        "email",
		Placeholder: "Email address",
		Classes:     []string{"a1b2c3d4e5f6a7b8", "form-input"},
		DataAttrs:   map[string]string{"data-testid": "checkout-email"},
	}
	var chain = SelectorChain(el)

	require.Equal(t, `[role="textbox"]`, chain[0])
	require.Equal(t, `[data-testid="checkout-email"]`, chain[1])
	require.Equal(t, "#email-field", chain[2])
	require.Equal(t, `input[name="email"]`, chain[3])
	require.Equal(t, `[placeholder="Email address"]`, chain[4])

	// The hash-like class is rejected; the stable one is kept.
	require.Contains(t, chain, "input.form-input")
	for _, s := range chain {
		require.NotContains(t, s, "a1b2c3d4e5f6a7b8")
	}
}

func TestFirstStableClassRejectsDynamicNames(t *testing.T) {
	require.Equal(t, "", firstStableClass([]string{"deadbeefcafe1234"}))
	require.Equal(t, "", firstStableClass([]string{"js-toggle"}))
	require.Equal(t, "", firstStableClass([]string{"react-select"}))
	require.Equal(t, "", firstStableClass([]string{"cell-20481"}))
	require.Equal(t, "submit-button", firstStableClass([]string{"js-toggle", "submit-button"}))
}

func TestChainExpression(t *testing.T) {
	require.Equal(t, "", ChainExpression(nil))
	require.Equal(t, "page.locator('#id')", ChainExpression([]string{"#id"}))
	require.Equal(t,
		`page.locator('#id').or(page.locator('input[name="email"]'))`,
		ChainExpression([]string{"#id", `input[name="email"]`}))
}

func TestBuildStepsOrderingAndDensity(t *testing.T) {
	var interactions = []Interaction{
		{Kind: APICall, Method: "GET", URL: "http://app.local/api/cart", Status: 500},
		{Kind: Navigation, URL: "http://app.local/checkout"},
		{Kind: FormSubmission, URL: "http://app.local/checkout", FormData: map[string]interface{}{
			"email": "user@example.com",
			"city":  "Lisbon",
		}},
	}
	var steps = BuildSteps("repro-1", interactions)

	// navigate, input x2 (sorted by field), submit, api_verify.
	require.Len(t, steps, 5)
	require.Equal(t, model.StepNavigate, steps[0].Kind)
	require.Equal(t, model.StepInput, steps[1].Kind)
	require.Equal(t, "city", steps[1].Payload["field"])
	require.Equal(t, model.StepInput, steps[2].Kind)
	require.Equal(t, "email", steps[2].Payload["field"])
	require.Equal(t, model.StepSubmit, steps[3].Kind)
	require.Equal(t, model.StepAPIVerify, steps[4].Kind)

	for i, step := range steps {
		require.Equal(t, i, step.OrderIdx)
		require.Equal(t, "repro-1", step.ReproID)
	}
}

func TestBuildStepsNavigationAndAPIOnly(t *testing.T) {
	var interactions = []Interaction{
		{Kind: Navigation, URL: "http://app.local/"},
		{Kind: APICall, Method: "GET", URL: "http://app.local/api/items", Status: 500},
	}
	var steps = BuildSteps("repro-2", interactions)
	require.Len(t, steps, 2)
	require.Equal(t, model.StepNavigate, steps[0].Kind)
	require.Equal(t, model.StepAPIVerify, steps[1].Kind)
}

func TestGenerateScript(t *testing.T) {
	var steps = BuildSteps("repro-1", []Interaction{
		{Kind: Navigation, URL: "http://app.local/checkout"},
		{Kind: FormSubmission, URL: "http://app.local/checkout", FormData: map[string]interface{}{
			"email": "user@example.com",
		}},
		{Kind: APICall, Method: "GET", URL: "http://app.local/api/cart", Status: 500},
	})
	var script = GenerateScript("Checkout total is wrong", steps)

	require.Contains(t, script, "import { test, expect } from '@playwright/test';")
	require.Contains(t, script, "test.describe('Checkout total is wrong'")
	require.Contains(t, script, "await page.goto('http://app.local/checkout');")
	require.Contains(t, script, ".fill('user@example.com');")
	require.Contains(t, script, "await page.request.get('http://app.local/api/cart');")
	require.Contains(t, script, ".status()).toBe(500);")
}

func TestGenerateCompose(t *testing.T) {
	var compose, err = GenerateCompose("http://app.local")
	require.NoError(t, err)
	require.Contains(t, compose, "mcr.microsoft.com/playwright:v1.44.0-jammy")
	require.Contains(t, compose, "BASE_URL=http://app.local")
	require.Contains(t, compose, "depends_on:")
}

func TestBaseURL(t *testing.T) {
	var interactions = []Interaction{
		{Kind: Navigation, URL: "http://app.local/checkout"},
		{Kind: Navigation, URL: "http://app.local/cart"},
		{Kind: Navigation, URL: "http://other.local/"},
		{Kind: APICall, URL: "http://api.local/v1/cart"},
	}
	require.Equal(t, "http://app.local", BaseURL(interactions))
	require.Equal(t, "http://localhost:3000", BaseURL(nil))
}

func TestReproIDIsDeterministic(t *testing.T) {
	require.Equal(t, ReproID("report-1"), ReproID("report-1"))
	require.NotEqual(t, ReproID("report-1"), ReproID("report-2"))
}

func TestGenerateScriptEscapesQuotes(t *testing.T) {
	var steps = []model.Step{{
		Kind:    model.StepNavigate,
		Payload: model.JSONMap{"url": "http://app.local/o'brien"},
	}}
	var script = GenerateScript("it's broken", steps)
	require.Contains(t, script, `it\'s broken`)
	require.False(t, strings.Contains(script, "goto('http://app.local/o'brien')"))
}
