// Package harlog parses the two structured signal formats of the pipeline:
// HTTP Archive (HAR 1.2) captures and timestamped application logs, and
// extracts deduplicatable error signatures from the latter.
package harlog

import (
	"encoding/json"
	"fmt"
	"strings"
)

// HAR is the top-level HTTP Archive document.
type HAR struct {
	Log Log `json:"log"`
}

// Log is the body of a HAR document.
type Log struct {
	Pages   []Page  `json:"pages"`
	Entries []Entry `json:"entries"`
}

// Page is one captured page load.
type Page struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	StartedDateTime string      `json:"startedDateTime"`
	PageTimings     PageTimings `json:"pageTimings"`
}

// PageTimings are per-page load milestones, in milliseconds.
type PageTimings struct {
	OnContentLoad float64 `json:"onContentLoad"`
	OnLoad        float64 `json:"onLoad"`
}

// Entry is one captured request/response exchange.
type Entry struct {
	Pageref         string   `json:"pageref"`
	StartedDateTime string   `json:"startedDateTime"`
	Time            float64  `json:"time"`
	Request         Request  `json:"request"`
	Response        Response `json:"response"`
}

// Request is the request half of an Entry.
type Request struct {
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	Headers     []Header  `json:"headers"`
	HeadersSize int64     `json:"headersSize"`
	PostData    *PostData `json:"postData"`
}

// PostData is a request body, either as decoded params or raw text.
type PostData struct {
	MimeType string  `json:"mimeType"`
	Text     string  `json:"text"`
	Params   []Param `json:"params"`
}

// Param is one decoded form parameter.
type Param struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Response is the response half of an Entry.
type Response struct {
	Status      int      `json:"status"`
	StatusText  string   `json:"statusText"`
	Headers     []Header `json:"headers"`
	Content     Content  `json:"content"`
	HeadersSize int64    `json:"headersSize"`
}

// Content is the response body metadata.
type Content struct {
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// Header is one HTTP header.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Summary are the aggregate statistics of one HAR capture.
type Summary struct {
	TotalRequests  int     `json:"total_requests"`
	FailedRequests int     `json:"failed_requests"`
	TotalSize      int64   `json:"total_size"`
	LoadTime       float64 `json:"load_time"`
}

// Parse decodes a HAR document.
func Parse(data []byte) (*HAR, error) {
	var har HAR
	if err := json.Unmarshal(data, &har); err != nil {
		return nil, fmt.Errorf("parsing HAR: %w", err)
	}
	return &har, nil
}

// Summarize computes aggregate statistics. An entry is failed iff its
// response status is at least 400. Total size sums positive response
// content sizes only (content.size per HAR 1.2; request header sizes are
// per-entry metrics and never join the total). Load time is the maximum
// onLoad timing across pages, or zero when there are none.
func (h *HAR) Summarize() Summary {
	var out = Summary{TotalRequests: len(h.Log.Entries)}

	for _, entry := range h.Log.Entries {
		if entry.Response.Status >= 400 {
			out.FailedRequests++
		}
		if entry.Response.Content.Size > 0 {
			out.TotalSize += entry.Response.Content.Size
		}
	}
	for _, page := range h.Log.Pages {
		if page.PageTimings.OnLoad > out.LoadTime {
			out.LoadTime = page.PageTimings.OnLoad
		}
	}
	return out
}

// Header returns the first request header matching |name|, case-insensitive.
func (r Request) Header(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Header returns the first response header matching |name|, case-insensitive.
func (r Response) Header(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}
