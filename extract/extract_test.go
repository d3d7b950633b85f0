package extract

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/reproforge/reproforge/model"
)

func TestLogTextSelectsSeverityLines(t *testing.T) {
	var data = []byte(strings.Join([]string{
		"2024-03-01 10:00:00 INFO starting up",
		"2024-03-01 10:00:01 ERROR cart total mismatch",
		"2024-03-01 10:00:02 DEBUG probing",
		"TypeError: Cannot read properties of undefined",
		"2024-03-01 10:00:03 WARN retrying",
	}, "\n"))

	var got = logText(data)
	require.Equal(t, strings.Join([]string{
		"2024-03-01 10:00:01 ERROR cart total mismatch",
		"TypeError: Cannot read properties of undefined",
		"2024-03-01 10:00:03 WARN retrying",
	}, "\n"), got)
}

func TestLogTextCapsMatchedLines(t *testing.T) {
	var lines = make([]string, 0, 80)
	for i := 0; i != 80; i++ {
		lines = append(lines, "ERROR repeated failure")
	}
	var got = logText([]byte(strings.Join(lines, "\n")))
	require.Len(t, strings.Split(got, "\n"), maxLogLines)
}

func TestLogTextFallsBackToPrefix(t *testing.T) {
	var data = []byte(strings.Repeat("plain output without severities\n", 100))
	var got = logText(data)
	require.Len(t, got, 1000)
}

func TestTruncateBacksOffToRuneBoundary(t *testing.T) {
	require.Equal(t, "abc", Truncate("abc", 10))
	require.Equal(t, "abcde", Truncate("abcdef", 5))

	// A cut landing inside a multi-byte rune backs off to the rune start.
	var s = "abécd" // é is two bytes, occupying s[2:4]
	require.Equal(t, "ab", Truncate(s, 3))
	require.Equal(t, "abé", Truncate(s, 4))
	require.True(t, utf8.ValidString(Truncate(strings.Repeat("日", 500), 1000)))
}

func TestHARText(t *testing.T) {
	var data = []byte(`{"log":{"entries":[{
		"request":{
			"method":"POST",
			"url":"http://app.local/checkout",
			"headers":[{"name":"User-Agent","value":"Mozilla/5.0"}]
		},
		"response":{"status":500,"content":{"mimeType":"application/json"}}
	}]}}`)

	var got, err = harText(data)
	require.NoError(t, err)
	require.Contains(t, got, "POST http://app.local/checkout -> 500 application/json")
	require.Contains(t, got, "user-agent: Mozilla/5.0")
}

func TestHARTextRejectsMalformedCapture(t *testing.T) {
	var _, err = harText([]byte("not a capture"))
	require.Error(t, err)
}

func TestRegistryDisabledKinds(t *testing.T) {
	var r = &Registry{}

	var _, err = r.Text(context.Background(), model.SignalScreenshot, nil)
	require.ErrorContains(t, err, "no OCR transform configured")

	_, err = r.Text(context.Background(), model.SignalVideo, nil)
	require.ErrorContains(t, err, "no speech-to-text transform configured")

	_, err = r.Text(context.Background(), "hologram", nil)
	require.ErrorContains(t, err, `unknown signal kind "hologram"`)
}

func TestRegistryLogKind(t *testing.T) {
	var r = &Registry{}
	var got, err = r.Text(context.Background(), model.SignalLog, []byte("ERROR boom"))
	require.NoError(t, err)
	require.Equal(t, "ERROR boom", got)
}
