// Package ingest implements the ingest worker: for every signal of a
// report it extracts text and appends an annotated frame to the report's
// description.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/reproforge/reproforge/blob"
	"github.com/reproforge/reproforge/extract"
	"github.com/reproforge/reproforge/model"
	"github.com/reproforge/reproforge/runtime"
	"github.com/reproforge/reproforge/store"
)

// Spec names this worker on the bus.
var Spec = runtime.Spec{Role: "ingest", Subject: model.SubjectReportIngest}

const maxFrameChars = 2000

// App is the ingest message handler.
type App struct {
	store    *store.Store
	blob     *blob.Store
	registry *extract.Registry
	maxTasks int64
}

// NewApp builds the handler from connected collaborators.
func NewApp(s *store.Store, b *blob.Store, registry *extract.Registry, maxTasks int64) *App {
	return &App{store: s, blob: b, registry: registry, maxTasks: maxTasks}
}

var _ runtime.Handler = (*App)(nil)

// Handle processes one report.ingest message. Signals are extracted
// concurrently under the task cap; all non-empty frames are appended to the
// report description in a single transactional update. Frames already
// present are not appended again, so replays leave the frame set unchanged.
func (a *App) Handle(ctx context.Context, payload []byte) error {
	var msg model.ReportMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.ReportID == "" {
		return runtime.Errorf(runtime.KindMalformedInput, "decoding ingest payload: %v", err)
	}

	var report, err = a.store.GetReport(ctx, msg.ReportID)
	if errors.Is(err, store.ErrNotFound) {
		return runtime.WithKind(runtime.KindArtifactMissing, err)
	} else if err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}

	signals, err := a.store.ListSignals(ctx, msg.ReportID)
	if err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}
	if len(signals) == 0 {
		log.WithField("report", msg.ReportID).Info("report has no signals")
		return nil
	}

	// Extract concurrently, preserving signal-enumeration order.
	var frames = make([]string, len(signals))
	var sem = semaphore.NewWeighted(a.maxTasks)

	var wg sync.WaitGroup
	for i, signal := range signals {
		if err = sem.Acquire(ctx, 1); err != nil {
			// Wait out already-spawned extracts before releasing |frames|.
			wg.Wait()
			return runtime.WithKind(runtime.KindTransientIO, err)
		}
		wg.Add(1)
		go func(i int, signal model.Signal) {
			defer wg.Done()
			defer sem.Release(1)
			frames[i] = a.extractFrame(ctx, signal)
		}(i, signal)
	}
	wg.Wait()

	var kept = newFrames(report.Description, frames)
	if len(kept) == 0 {
		log.WithFields(log.Fields{
			"report":  msg.ReportID,
			"signals": len(signals),
		}).Info("no new extracts to append")
		return nil
	}

	var appended = strings.Join(kept, "\n\n")
	if report.Description != "" {
		appended = "\n\n" + appended
	}
	if err = a.store.AppendReportDescription(ctx, msg.ReportID, appended); err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}

	log.WithFields(log.Fields{
		"report":  msg.ReportID,
		"signals": len(signals),
		"frames":  len(kept),
	}).Info("appended signal extracts")
	return nil
}

// newFrames filters out empty frames and frames whose signal-id header is
// already present in |description|, preserving order. Replays therefore
// leave the description's frame set unchanged.
func newFrames(description string, frames []string) []string {
	var kept []string
	for _, frame := range frames {
		if frame == "" {
			continue
		}
		var header = frame[:strings.IndexByte(frame, '\n')]
		if strings.Contains(description, header) {
			continue
		}
		kept = append(kept, frame)
	}
	return kept
}

// extractFrame extracts one signal and frames the result. Extraction
// failures are logged and produce no frame; they never fail the message.
func (a *App) extractFrame(ctx context.Context, signal model.Signal) string {
	var fields = log.Fields{"signal": signal.ID, "kind": signal.Kind}

	var data, err = a.blob.Get(ctx, signal.S3Key)
	if err != nil {
		log.WithFields(fields).WithField("err", err).Warn("fetching signal artifact failed")
		return ""
	}

	text, err := a.registry.Text(ctx, signal.Kind, data)
	if err != nil {
		log.WithFields(fields).WithField("err", err).Warn("signal extraction failed")
		return ""
	}
	if text = strings.TrimSpace(text); text == "" {
		return ""
	}
	text = extract.Truncate(text, maxFrameChars)
	return fmt.Sprintf("--- Signal %s ---\n%s", signal.ID, text)
}
