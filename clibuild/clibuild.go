// Package clibuild implements the CLI-build worker: it wraps a repro's test
// code in a runnable command-line project for a target build ecosystem and
// records the generated tree.
package clibuild

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/reproforge/reproforge/model"
	"github.com/reproforge/reproforge/runtime"
	"github.com/reproforge/reproforge/store"
)

// Spec names this worker on the bus.
var Spec = runtime.Spec{Role: "cli", Subject: model.SubjectCLIRequest}

var cliNamespace = uuid.MustParse("f2a4f6b8-7c1d-4e52-9b63-08f1d42a9f07")

// App is the cli.request message handler.
type App struct {
	store *store.Store
	bus   runtime.Publisher
}

// NewApp builds the handler from connected collaborators.
func NewApp(s *store.Store, bus runtime.Publisher) *App {
	return &App{store: s, bus: bus}
}

var _ runtime.Handler = (*App)(nil)

// Handle processes one cli.request message.
func (a *App) Handle(ctx context.Context, payload []byte) error {
	var msg model.CLIRequestMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.ReproID == "" {
		return runtime.Errorf(runtime.KindMalformedInput, "decoding cli payload: %v", err)
	}

	if _, err := a.store.GetRepro(ctx, msg.ReproID); errors.Is(err, store.ErrNotFound) {
		return runtime.WithKind(runtime.KindArtifactMissing, err)
	} else if err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}

	var ecosystem = msg.Ecosystem
	if ecosystem == "" {
		ecosystem = DetectEcosystem(msg.RepoPath)
	}

	var project, err = GenerateProject(ecosystem, msg.ReproID, msg.TestCode)
	if err != nil {
		return runtime.WithKind(runtime.KindMalformedInput, err)
	}

	var id = uuid.NewSHA1(cliNamespace, []byte(msg.ReproID+"/"+ecosystem)).String()
	var row = model.CLIRepro{
		ID:           id,
		ReproID:      msg.ReproID,
		Ecosystem:    ecosystem,
		TestFile:     project.TestFile,
		BuildCommand: project.BuildCommand,
		Dockerfile:   project.Dockerfile,
		ComposeFile:  project.Compose,
		Status:       "created",
	}
	if err = a.store.InsertCLIRepro(ctx, row); err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}

	var completed = model.CLICompleted{
		CLIReproID: id,
		ReproID:    msg.ReproID,
		Ecosystem:  ecosystem,
		Result: map[string]interface{}{
			"build_command": project.BuildCommand,
			"files":         project.FileNames(),
		},
	}
	if err = a.bus.Publish(ctx, model.SubjectCLICompleted, completed); err != nil {
		return runtime.WithKind(runtime.KindTransientIO, err)
	}

	log.WithFields(log.Fields{
		"repro":     msg.ReproID,
		"ecosystem": ecosystem,
	}).Info("generated cli repro")
	return nil
}

// DetectEcosystem infers the build ecosystem from marker files at the
// repository root.
func DetectEcosystem(repoPath string) string {
	if repoPath == "" {
		return "unknown"
	}
	for _, marker := range []struct{ file, ecosystem string }{
		{"pom.xml", "jvm-maven"},
		{"build.gradle", "jvm-gradle"},
		{"build.gradle.kts", "jvm-gradle"},
		{"go.mod", "go"},
	} {
		if _, err := os.Stat(filepath.Join(repoPath, marker.file)); err == nil {
			return marker.ecosystem
		}
	}
	return "unknown"
}
