package synth

import (
	"encoding/json"
	"strings"

	"github.com/reproforge/reproforge/harlog"
)

// InteractionKind classifies one captured exchange.
type InteractionKind string

const (
	Navigation     InteractionKind = "navigation"
	FormSubmission InteractionKind = "form_submission"
	APICall        InteractionKind = "api_call"
)

// Interaction is one user-visible action recovered from a HAR capture.
type Interaction struct {
	Kind     InteractionKind
	Method   string
	URL      string
	Status   int
	MimeType string
	FormData map[string]interface{}
}

var apiPathMarkers = []string{"/api/", "/v1/", "/v2/", "/graphql"}

// ExtractInteractions classifies a capture's entries. GET of an HTML (or
// untyped) response is a navigation; POST with a decodable body is a form
// submission; JSON traffic or API-shaped paths are API calls. Entries
// matching none are dropped.
func ExtractInteractions(har *harlog.HAR) []Interaction {
	var out []Interaction
	for _, entry := range har.Log.Entries {
		var mime = entry.Response.Content.MimeType
		var interaction = Interaction{
			Method:   entry.Request.Method,
			URL:      entry.Request.URL,
			Status:   entry.Response.Status,
			MimeType: mime,
		}

		switch {
		case entry.Request.Method == "GET" &&
			(mime == "" || strings.Contains(mime, "text/html")):
			interaction.Kind = Navigation

		case entry.Request.Method == "POST" && hasBody(entry.Request.PostData):
			interaction.Kind = FormSubmission
			interaction.FormData = parseFormData(entry.Request.PostData)

		case isAPICall(entry):
			interaction.Kind = APICall

		default:
			continue
		}
		out = append(out, interaction)
	}
	return out
}

func hasBody(pd *harlog.PostData) bool {
	return pd != nil && (len(pd.Params) > 0 || pd.Text != "")
}

// parseFormData prefers decoded params, then a JSON body, then the raw text
// under a sentinel key.
func parseFormData(pd *harlog.PostData) map[string]interface{} {
	if len(pd.Params) > 0 {
		var out = make(map[string]interface{}, len(pd.Params))
		for _, p := range pd.Params {
			out[p.Name] = p.Value
		}
		return out
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(pd.Text), &decoded); err == nil {
		return decoded
	}
	return map[string]interface{}{"_raw": pd.Text}
}

func isAPICall(entry harlog.Entry) bool {
	if strings.Contains(entry.Request.Header("content-type"), "json") ||
		strings.Contains(entry.Request.Header("accept"), "json") ||
		strings.Contains(entry.Response.Content.MimeType, "json") {
		return true
	}
	var lower = strings.ToLower(entry.Request.URL)
	for _, marker := range apiPathMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
