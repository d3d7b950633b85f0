package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reproforge/reproforge/runtime"
)

func frameOf(signalID, text string) string {
	return fmt.Sprintf("--- Signal %s ---\n%s", signalID, text)
}

func TestNewFramesDropsEmptyAndPreservesOrder(t *testing.T) {
	var frames = []string{
		frameOf("s-1", "first extract"),
		"",
		frameOf("s-3", "third extract"),
	}
	var kept = newFrames("", frames)
	require.Equal(t, []string{frames[0], frames[2]}, kept)
}

func TestNewFramesSkipsAlreadyAppended(t *testing.T) {
	var description = "Original report text.\n\n" + frameOf("s-1", "first extract")
	var frames = []string{
		frameOf("s-1", "first extract, re-run"),
		frameOf("s-2", "second extract"),
	}
	var kept = newFrames(description, frames)
	require.Equal(t, []string{frames[1]}, kept)
}

// Reprocessing the same signal set against a description that already holds
// every frame appends nothing.
func TestNewFramesReplayIsNoop(t *testing.T) {
	var frames = []string{
		frameOf("s-1", "first extract"),
		frameOf("s-2", "second extract"),
	}
	var description = frames[0] + "\n\n" + frames[1]
	require.Empty(t, newFrames(description, frames))
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	var app = NewApp(nil, nil, nil, 1)

	var err = app.Handle(context.Background(), []byte(`{`))
	require.Error(t, err)
	require.Equal(t, runtime.KindMalformedInput, runtime.KindOf(err))

	err = app.Handle(context.Background(), []byte(`{}`))
	require.Error(t, err)
	require.Equal(t, runtime.KindMalformedInput, runtime.KindOf(err))
}
