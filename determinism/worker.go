package determinism

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/reproforge/reproforge/cache"
	"github.com/reproforge/reproforge/model"
	"github.com/reproforge/reproforge/runtime"
)

// Spec names this worker on the bus.
var Spec = runtime.Spec{Role: "determinism", Subject: model.SubjectDeterminismCtl}

// App is the determinism.control message handler. Each message runs one
// caller-supplied test body under the envelope; the outcome lands in the
// cache under test_result:<test_id>.
type App struct {
	cfg   Config
	exec  Execer
	cache *cache.Cache
}

// NewApp builds the handler from connected collaborators.
func NewApp(cfg Config, exec Execer, kv *cache.Cache) *App {
	return &App{cfg: cfg, exec: exec, cache: kv}
}

var _ runtime.Handler = (*App)(nil)

func (a *App) Handle(ctx context.Context, payload []byte) error {
	var msg model.ControlRequest
	if err := json.Unmarshal(payload, &msg); err != nil || msg.TestConfig.TestID == "" {
		return runtime.Errorf(runtime.KindMalformedInput, "decoding control payload: %v", err)
	}

	// Controllers are single-use: each message gets a fresh resource stack.
	var controller = NewController(a.cfg, a.exec, a.cache)

	var result, err = controller.Run(ctx, msg.TestConfig)
	if err != nil {
		return runtime.WithKind(runtime.KindPolicyViolation, err)
	}

	log.WithFields(log.Fields{
		"test":     msg.TestConfig.TestID,
		"passed":   result.Passed,
		"duration": result.DurationMS,
	}).Info("completed deterministic execution")
	return nil
}
