package harlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSummarizeCountsFailuresSizesAndLoadTime(t *testing.T) {
	var doc = []byte(`{
		"log": {
			"pages": [
				{"id": "p1", "pageTimings": {"onLoad": 850}},
				{"id": "p2", "pageTimings": {"onLoad": 1200}}
			],
			"entries": [
				{
					"request": {"method": "GET", "url": "http://app.local/", "headersSize": 100},
					"response": {"status": 200, "content": {"size": 5000, "mimeType": "text/html"}}
				},
				{
					"request": {"method": "GET", "url": "http://app.local/api/items", "headersSize": 80},
					"response": {"status": 500, "content": {"size": 120, "mimeType": "application/json"}}
				},
				{
					"request": {"method": "GET", "url": "http://app.local/missing", "headersSize": -1},
					"response": {"status": 404, "content": {"size": -1, "mimeType": ""}}
				}
			]
		}
	}`)

	var har, err = Parse(doc)
	require.NoError(t, err)

	var summary = har.Summarize()
	require.Equal(t, 3, summary.TotalRequests)
	require.Equal(t, 2, summary.FailedRequests)
	require.Equal(t, int64(5000+120), summary.TotalSize)
	require.Equal(t, 1200.0, summary.LoadTime)
}

func TestParseRejectsMalformedDocuments(t *testing.T) {
	var _, err = Parse([]byte(`{"log": [`))
	require.Error(t, err)
}

func TestRequestHeaderIsCaseInsensitive(t *testing.T) {
	var req = Request{Headers: []Header{{Name: "User-Agent", Value: "tester"}}}
	require.Equal(t, "tester", req.Header("user-agent"))
	require.Equal(t, "", req.Header("referer"))
}

func TestParseLine(t *testing.T) {
	var cases = []struct {
		give string
		want Line
		ok   bool
	}{
		{
			give: "2024-03-01T10:22:01.532Z [checkout] ERROR TypeError: Cannot read properties of undefined",
			want: Line{
				Timestamp: "2024-03-01T10:22:01.532Z",
				Logger:    "checkout",
				Level:     "ERROR",
				Message:   "TypeError",
				Details:   "Cannot read properties of undefined",
			},
			ok: true,
		},
		{
			give: "2024-03-01 10:22:02 WARN retrying request",
			want: Line{
				Timestamp: "2024-03-01 10:22:02",
				Level:     "WARN",
				Message:   "retrying request",
			},
			ok: true,
		},
		{
			give: "2024-03-01T10:22:03Z info lowercase levels still match",
			want: Line{
				Timestamp: "2024-03-01T10:22:03Z",
				Level:     "INFO",
				Message:   "lowercase levels still match",
			},
			ok: true,
		},
		{give: "free-form text without a timestamp", ok: false},
		{give: "", ok: false},
	}

	for _, tc := range cases {
		var got, ok = ParseLine(tc.give)
		require.Equal(t, tc.ok, ok, tc.give)
		if tc.ok {
			require.Equal(t, tc.want, got, tc.give)
		}
	}
}

func TestErrorsFiltersToErrorLevel(t *testing.T) {
	var lines = ParseLines([]byte(
		"2024-03-01T10:22:01Z ERROR boom: details\n" +
			"2024-03-01T10:22:02Z INFO all fine\n" +
			"not a log line\n" +
			"2024-03-01T10:22:03Z ERROR boom again\n"))
	require.Len(t, lines, 3)

	var errors = Errors(lines)
	require.Len(t, errors, 2)
	require.Equal(t, "boom", errors[0].Message)
	require.Equal(t, "boom again", errors[1].Message)
}

func TestExtractSignature(t *testing.T) {
	var line = Line{
		Level:   "ERROR",
		Message: "TypeError",
		Details: "Cannot read 'total' of undefined in computeCart() at /srv/app/cart.js line 412",
	}
	var sig = ExtractSignature(line)

	require.Equal(t, HashOf(line.Message, line.Details), sig.Hash)
	require.Equal(t, "TypeError", sig.ErrorType)
	require.Equal(t, "high", sig.Severity)
	require.Equal(t, 1, sig.Frequency)
	require.Contains(t, sig.KeyComponents, "total")
	require.Contains(t, sig.KeyComponents, "/srv/app/cart.js")
	require.Contains(t, sig.KeyComponents, "computeCart()")
	require.Contains(t, sig.KeyComponents, "412")
}

func TestExtractSignatureCapturesStackTrace(t *testing.T) {
	var line = Line{
		Level:   "ERROR",
		Message: "Unhandled rejection",
		Details: "boom\n    at submitOrder (/srv/app/order.js:88:13)\n    at process (/srv/app/queue.js:17:5)",
	}
	var sig = ExtractSignature(line)
	require.Contains(t, sig.StackTrace, "at submitOrder")
	require.Contains(t, sig.StackTrace, "at process")
}

func TestHashOfIsStable(t *testing.T) {
	require.Equal(t, HashOf("a", "b"), HashOf("a", "b"))
	require.NotEqual(t, HashOf("a", "b"), HashOf("a", "c"))
}

func TestClassifyError(t *testing.T) {
	var cases = map[string]string{
		"SyntaxError: unexpected token":        "SyntaxError",
		"ReferenceError: x is not defined":     "ReferenceError",
		"TypeError: nil dereference":           "TypeError",
		"connection refused by upstream":       "NetworkError",
		"sql: no rows in result set":           "DatabaseError",
		"unauthorized: missing bearer token":   "AuthenticationError",
		"timeout waiting for selector":         "TimeoutError",
		"something else entirely went wrong":   "GenericError",
	}
	for text, want := range cases {
		require.Equal(t, want, classifyError(text), text)
	}
}

func TestSeverityOf(t *testing.T) {
	require.Equal(t, "high", severityOf("ERROR"))
	require.Equal(t, "medium", severityOf("WARN"))
	require.Equal(t, "medium", severityOf("WARNING"))
	require.Equal(t, "low", severityOf("INFO"))
	require.Equal(t, "low", severityOf("DEBUG"))
}
