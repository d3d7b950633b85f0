package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/reproforge/reproforge/clibuild"
	"github.com/reproforge/reproforge/determinism"
	"github.com/reproforge/reproforge/export"
	"github.com/reproforge/reproforge/extract"
	"github.com/reproforge/reproforge/ingest"
	"github.com/reproforge/reproforge/mapping"
	"github.com/reproforge/reproforge/runtime"
	"github.com/reproforge/reproforge/shape"
	"github.com/reproforge/reproforge/signals"
	"github.com/reproforge/reproforge/store"
	"github.com/reproforge/reproforge/synth"
	"github.com/reproforge/reproforge/validate"
	"github.com/reproforge/reproforge/vectors"
)

func main() {
	var parser = flags.NewParser(nil, flags.HelpFlag|flags.PassDoubleDash)

	serve, err := parser.Command.AddCommand("serve", "Serve a pipeline worker", "", &struct{}{})
	must(err, "failed to add command")

	_, _ = serve.AddCommand("ingest", "Serve the ingest worker", `
Consume report.ingest messages: extract text from each raw signal artifact
and append annotated frames to the report description.
`, new(cmdIngest))

	_, _ = serve.AddCommand("signal", "Serve the signal worker", `
Consume report.signals messages: parse captures and logs into error
signatures, cluster them by embedding similarity, and persist one
representative per cluster.
`, new(cmdSignal))

	_, _ = serve.AddCommand("map", "Serve the mapping worker", `
Consume mapping.request messages: detect test frameworks, rank candidate
modules, and probe the project's document chunk index.
`, new(cmdMap))

	_, _ = serve.AddCommand("synth", "Serve the synth worker", `
Consume report.synth messages: derive interactions from captured traffic
and generate a runnable reproduction project.
`, new(cmdSynth))

	_, _ = serve.AddCommand("shape", "Serve the data-shape worker", `
Consume data.shape messages: infer a fixture schema, generate and
anonymize deterministic records, and verify referential integrity.
`, new(cmdShape))

	_, _ = serve.AddCommand("determinism", "Serve the determinism controller", `
Consume determinism.control messages: execute one test under shaped
network, frozen clock, resource caps and container isolation.
`, new(cmdDeterminism))

	_, _ = serve.AddCommand("validate", "Serve the validation worker", `
Consume repro.validate messages: run a repro N times inside the
determinism envelope, score its stability, and minimize flaky scenarios.
`, new(cmdValidate))

	_, _ = serve.AddCommand("cli", "Serve the CLI-build worker", `
Consume cli.request messages: wrap a repro's test code in a runnable
command-line project for a target build ecosystem.
`, new(cmdCLI))

	_, _ = serve.AddCommand("export", "Serve the export worker", `
Consume export.request messages: deliver a validated repro as a Docker
tarball, pull request, online sandbox, or report document.
`, new(cmdExport))

	_, _ = parser.AddCommand("index", "Index a project's text corpus", `
Chunk and embed every indexable file of a repository into the document
chunk index consulted by the mapping worker.
`, new(cmdIndex))

	if _, err = parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func must(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}

// signalCtx is cancelled on SIGINT or SIGTERM.
func signalCtx() context.Context {
	var ctx, cancel = context.WithCancel(context.Background())
	var sig = make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	return ctx
}

type cmdIngest struct {
	runtime.BaseConfig
}

func (c *cmdIngest) Execute(_ []string) error {
	return runtime.NewWorker(c.BaseConfig, ingest.Spec, func(d *runtime.Deps) (runtime.Handler, error) {
		var registry = &extract.Registry{TempDir: d.TempDir}
		return ingest.NewApp(store.New(d.DB), d.Blob, registry, c.Worker.MaxConcurrentTasks), nil
	}).Run(signalCtx())
}

type cmdSignal struct {
	runtime.BaseConfig
	Signals signals.Config `group:"Signals" namespace:"signals"`
}

func (c *cmdSignal) Execute(_ []string) error {
	return runtime.NewWorker(c.BaseConfig, signals.Spec, func(d *runtime.Deps) (runtime.Handler, error) {
		return signals.NewApp(c.Signals, store.New(d.DB), d.Blob, vectors.HashEmbedder{}), nil
	}).Run(signalCtx())
}

type cmdMap struct {
	runtime.BaseConfig
	Mapping mapping.Config `group:"Mapping" namespace:"mapping"`
}

func (c *cmdMap) Execute(_ []string) error {
	return runtime.NewWorker(c.BaseConfig, mapping.Spec, func(d *runtime.Deps) (runtime.Handler, error) {
		return mapping.NewApp(c.Mapping, store.New(d.DB), d.Bus, vectors.HashEmbedder{}), nil
	}).Run(signalCtx())
}

type cmdSynth struct {
	runtime.BaseConfig
}

func (c *cmdSynth) Execute(_ []string) error {
	return runtime.NewWorker(c.BaseConfig, synth.Spec, func(d *runtime.Deps) (runtime.Handler, error) {
		return synth.NewApp(store.New(d.DB), d.Blob), nil
	}).Run(signalCtx())
}

type cmdShape struct {
	runtime.BaseConfig
	Shape shape.Config `group:"Shape" namespace:"shape"`
}

func (c *cmdShape) Execute(_ []string) error {
	return runtime.NewWorker(c.BaseConfig, shape.Spec, func(d *runtime.Deps) (runtime.Handler, error) {
		return shape.NewApp(c.Shape, store.New(d.DB), d.Blob, shape.RegexAnalyzer{}), nil
	}).Run(signalCtx())
}

type cmdDeterminism struct {
	runtime.BaseConfig
	Envelope determinism.Config `group:"Envelope" namespace:"envelope"`
}

func (c *cmdDeterminism) Execute(_ []string) error {
	return runtime.NewWorker(c.BaseConfig, determinism.Spec, func(d *runtime.Deps) (runtime.Handler, error) {
		return determinism.NewApp(c.Envelope, determinism.SystemExecer{}, d.Cache), nil
	}).Run(signalCtx())
}

type cmdValidate struct {
	runtime.BaseConfig
	Validate validate.Config    `group:"Validation" namespace:"validation"`
	Envelope determinism.Config `group:"Envelope" namespace:"envelope"`

	Image string `long:"runner-image" env:"RUNNER_IMAGE" default:"mcr.microsoft.com/playwright:v1.44.0-jammy" description:"Image executing generated tests"`
}

func (c *cmdValidate) Execute(_ []string) error {
	return runtime.NewWorker(c.BaseConfig, validate.Spec, func(d *runtime.Deps) (runtime.Handler, error) {
		var runner = &validate.EnvelopeRunner{
			Config: c.Envelope,
			Exec:   determinism.SystemExecer{},
			Cache:  d.Cache,
			Image:  c.Image,
		}
		return validate.NewApp(c.Validate, store.New(d.DB), d.Blob, d.Cache, d.Bus, runner, d.TempDir), nil
	}).Run(signalCtx())
}

type cmdCLI struct {
	runtime.BaseConfig
}

func (c *cmdCLI) Execute(_ []string) error {
	return runtime.NewWorker(c.BaseConfig, clibuild.Spec, func(d *runtime.Deps) (runtime.Handler, error) {
		return clibuild.NewApp(store.New(d.DB), d.Bus), nil
	}).Run(signalCtx())
}

type cmdExport struct {
	runtime.BaseConfig
}

func (c *cmdExport) Execute(_ []string) error {
	return runtime.NewWorker(c.BaseConfig, export.Spec, func(d *runtime.Deps) (runtime.Handler, error) {
		// Code-host, sandbox and PDF integrations are deployment-specific;
		// requests for those channels fail until one is wired in.
		return export.NewApp(store.New(d.DB), d.Blob, d.Cache, d.Bus, nil, nil, nil), nil
	}).Run(signalCtx())
}

type cmdIndex struct {
	Database runtime.DatabaseConfig `group:"Database" namespace:"db" env-namespace:"DB"`
	Log      runtime.LogConfig      `group:"Logging" namespace:"log" env-namespace:"LOG"`

	ProjectID string `long:"project" required:"true" description:"Project id owning the index"`
	RepoPath  string `long:"repo" required:"true" description:"Repository root to index"`
	ChunkSize int    `long:"chunk-size" default:"1000" description:"Characters per chunk"`
	Overlap   int    `long:"chunk-overlap" default:"200" description:"Characters shared by adjacent chunks"`
}

func (c *cmdIndex) Execute(_ []string) error {
	c.Log.Configure()

	var db, err = sqlx.Open("postgres", c.Database.DSN())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	var indexer = &mapping.Indexer{
		Store:     store.New(db),
		Embedder:  vectors.HashEmbedder{},
		ChunkSize: c.ChunkSize,
		Overlap:   c.Overlap,
	}
	total, err := indexer.IndexProject(signalCtx(), c.ProjectID, c.RepoPath)
	if err != nil {
		return err
	}
	fmt.Printf("indexed %d chunks of %s\n", total, c.RepoPath)
	return nil
}
