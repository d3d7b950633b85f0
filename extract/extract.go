// Package extract turns raw signal artifacts into text. Model-backed
// transforms (OCR, speech-to-text) are opaque collaborators behind small
// interfaces; HAR and log extraction are implemented directly.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/reproforge/reproforge/harlog"
	"github.com/reproforge/reproforge/model"
)

// OCR recognizes text in a decoded raster image.
type OCR interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// Transcriber converts mono 16 kHz PCM audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (string, error)
}

// Registry dispatches signal kinds to their extractors. A nil OCR or
// Transcriber disables the corresponding kind.
type Registry struct {
	OCR         OCR
	Transcriber Transcriber
	TempDir     string
}

// Text extracts text from one signal artifact. The contract is bytes to
// text; callers treat a failure as an empty extract rather than a message
// failure.
func (r *Registry) Text(ctx context.Context, kind model.SignalKind, data []byte) (string, error) {
	switch kind {
	case model.SignalScreenshot:
		return r.screenshotText(ctx, data)
	case model.SignalVideo:
		return r.videoText(ctx, data)
	case model.SignalHAR:
		return harText(data)
	case model.SignalLog:
		return logText(data), nil
	default:
		return "", fmt.Errorf("unknown signal kind %q", kind)
	}
}

func (r *Registry) screenshotText(ctx context.Context, data []byte) (string, error) {
	if r.OCR == nil {
		return "", fmt.Errorf("no OCR transform configured")
	}
	var img, _, err = image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decoding screenshot: %w", err)
	}
	return r.OCR.Recognize(ctx, img)
}

// videoText demuxes the audio track to mono 16 kHz PCM and transcribes it.
func (r *Registry) videoText(ctx context.Context, data []byte) (string, error) {
	if r.Transcriber == nil {
		return "", fmt.Errorf("no speech-to-text transform configured")
	}
	var dir, err = os.MkdirTemp(r.TempDir, "video-")
	if err != nil {
		return "", fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	var videoPath = filepath.Join(dir, "input")
	var wavPath = filepath.Join(dir, "audio.wav")

	if err = os.WriteFile(videoPath, data, 0o600); err != nil {
		return "", fmt.Errorf("staging video: %w", err)
	}

	var cmd = exec.CommandContext(ctx, "ffmpeg",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y", wavPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("extracting audio: %w (%s)", err, firstLine(out))
	}
	return r.Transcriber.Transcribe(ctx, wavPath)
}

// harText enumerates a capture's exchanges: URL, selected request headers,
// response status and MIME type.
func harText(data []byte) (string, error) {
	var har, err = harlog.Parse(data)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, entry := range har.Log.Entries {
		fmt.Fprintf(&b, "%s %s -> %d %s\n",
			entry.Request.Method, entry.Request.URL,
			entry.Response.Status, entry.Response.Content.MimeType)

		for _, name := range []string{"user-agent", "referer", "host"} {
			if v := entry.Request.Header(name); v != "" {
				fmt.Fprintf(&b, "  %s: %s\n", name, v)
			}
		}
	}
	return b.String(), nil
}

var severityTokens = []string{
	"Error", "Exception", "Failed", "Traceback", "ERROR", "WARN", "WARNING", "FATAL",
}

const maxLogLines = 50

// logText selects lines carrying severity tokens, capped at maxLogLines.
// When nothing matches, the first 1000 characters stand in for the log.
func logText(data []byte) string {
	var matched []string
	for _, line := range strings.Split(string(data), "\n") {
		for _, token := range severityTokens {
			if strings.Contains(line, token) {
				matched = append(matched, line)
				break
			}
		}
		if len(matched) == maxLogLines {
			break
		}
	}
	if len(matched) != 0 {
		return strings.Join(matched, "\n")
	}

	return Truncate(string(data), 1000)
}

// Truncate caps |s| at |n| bytes, backing off to a rune boundary so the
// result stays valid UTF-8.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func firstLine(out []byte) string {
	if i := bytes.IndexByte(out, '\n'); i != -1 {
		out = out[:i]
	}
	return string(out)
}
