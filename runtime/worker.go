// Package runtime is the shared skeleton instantiated by every worker role.
// It owns the connection lifecycle to the four collaborators (message bus,
// relational store, key-value cache, object store), the at-least-once
// dispatch loop, bounded handler concurrency, and graceful shutdown.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/reproforge/reproforge/blob"
	"github.com/reproforge/reproforge/cache"
)

// StreamSubjects are the subject families bound to the pipeline stream.
var StreamSubjects = []string{
	"report.>", "mapping.>", "data.>", "determinism.>", "repro.>", "cli.>", "export.>",
}

// Handler processes one message of the worker's subject. Handlers must be
// idempotent: the bus delivers at least once, and any error causes a
// redelivery.
type Handler interface {
	Handle(ctx context.Context, payload []byte) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload []byte) error

func (f HandlerFunc) Handle(ctx context.Context, payload []byte) error { return f(ctx, payload) }

// Publisher emits JSON-encoded messages to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, v interface{}) error
}

// Deps are the connected collaborators handed to a worker's handler factory.
type Deps struct {
	DB      *sqlx.DB
	Cache   *cache.Cache
	Blob    *blob.Store
	Bus     Publisher
	TempDir string
}

// Spec names a worker role and the subject it consumes. The role doubles as
// the durable consumer group name.
type Spec struct {
	Role    string
	Subject string
}

// Worker runs one role of the pipeline: it dispatches messages of a single
// subject to a Handler under a concurrency cap.
type Worker struct {
	cfg     BaseConfig
	spec    Spec
	factory func(*Deps) (Handler, error)
}

// NewWorker builds a Worker whose Handler is constructed by |factory| once
// connections are up.
func NewWorker(cfg BaseConfig, spec Spec, factory func(*Deps) (Handler, error)) *Worker {
	return &Worker{cfg: cfg, spec: spec, factory: factory}
}

// Run connects, consumes until |ctx| is cancelled, then drains in-flight
// handlers within the configured grace period and closes connections in
// reverse order of acquisition.
func (w *Worker) Run(ctx context.Context) error {
	w.cfg.Log.Configure()

	var logger = log.WithField("role", w.spec.Role)

	if err := os.MkdirAll(w.cfg.Worker.TempDir, 0o755); err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}

	nc, err := nats.Connect(w.cfg.Bus.URL,
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.WithField("err", err).Warn("bus disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			busReconnects.Inc()
			logger.WithField("url", nc.ConnectedUrl()).Info("bus reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("opening jetstream: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     w.cfg.Bus.Stream,
		Subjects: StreamSubjects,
	})
	if err != nil {
		return fmt.Errorf("ensuring stream %s: %w", w.cfg.Bus.Stream, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       w.spec.Role,
		FilterSubject: w.spec.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       w.cfg.Worker.AckWait,
		MaxDeliver:    -1,
	})
	if err != nil {
		return fmt.Errorf("ensuring consumer %s: %w", w.spec.Role, err)
	}

	db, err := sqlx.Open("postgres", w.cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err = db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	kv, err := cache.New(ctx, w.cfg.Cache)
	if err != nil {
		return fmt.Errorf("connecting to cache: %w", err)
	}
	defer kv.Close()

	store, err := blob.NewStore(ctx, w.cfg.Store)
	if err != nil {
		return fmt.Errorf("connecting to object store: %w", err)
	}

	handler, err := w.factory(&Deps{
		DB:      db,
		Cache:   kv,
		Blob:    store,
		Bus:     &jsPublisher{js: js},
		TempDir: w.cfg.Worker.TempDir,
	})
	if err != nil {
		return fmt.Errorf("building handler: %w", err)
	}

	if w.cfg.Worker.MetricsAddr != "" {
		var mux = http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(w.cfg.Worker.MetricsAddr, mux); err != nil {
				logger.WithField("err", err).Warn("metrics listener exited")
			}
		}()
	}

	logger.WithFields(log.Fields{
		"subject": w.spec.Subject,
		"stream":  w.cfg.Bus.Stream,
	}).Info("worker started")

	var sem = semaphore.NewWeighted(w.cfg.Worker.MaxConcurrentTasks)

	// Handlers run on a context decoupled from the consume loop: shutdown
	// must stop intake without failing in-flight work mid-write. The handler
	// context is cancelled only once the grace period expires.
	handlerCtx, cancelHandlers := context.WithCancel(context.Background())
	defer cancelHandlers()

	w.consume(ctx, handlerCtx, logger, consumer, js, handler, sem)
	w.drain(logger, sem, cancelHandlers)

	logger.Info("worker stopped")
	return nil
}

// fetcher is the slice of jetstream.Consumer the dispatch loop requires.
type fetcher interface {
	Fetch(batch int, opts ...jetstream.FetchOpt) (jetstream.MessageBatch, error)
}

// rawPublisher is the slice of jetstream.JetStream the quarantine path
// requires.
type rawPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// consume fetches and dispatches messages until |loopCtx| is cancelled.
// Handlers are run under |handlerCtx| so that stopping the loop does not
// interrupt work already in flight.
func (w *Worker) consume(loopCtx, handlerCtx context.Context, logger *log.Entry, consumer fetcher, js rawPublisher, handler Handler, sem *semaphore.Weighted) {
	for loopCtx.Err() == nil {
		batch, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			logger.WithField("err", err).Warn("fetch failed")
			select {
			case <-time.After(5 * time.Second):
			case <-loopCtx.Done():
			}
			continue
		}
		for msg := range batch.Messages() {
			if err = sem.Acquire(loopCtx, 1); err != nil {
				_ = msg.Nak()
				break
			}
			go func(msg jetstream.Msg) {
				defer sem.Release(1)
				w.process(handlerCtx, logger, js, handler, msg)
			}(msg)
		}
	}
}

// drain waits for in-flight handlers, bounded by the grace period, then
// cancels any that remain so their messages are redelivered.
func (w *Worker) drain(logger *log.Entry, sem *semaphore.Weighted, cancelHandlers context.CancelFunc) {
	drainCtx, cancel := context.WithTimeout(context.Background(), w.cfg.Worker.ShutdownGrace)
	defer cancel()

	if err := sem.Acquire(drainCtx, w.cfg.Worker.MaxConcurrentTasks); err != nil {
		logger.Warn("shutdown grace period expired with handlers in flight")
		cancelHandlers()
	}
}

func (w *Worker) process(ctx context.Context, logger *log.Entry, js rawPublisher, handler Handler, msg jetstream.Msg) {
	var role = w.spec.Role

	if meta, err := msg.Metadata(); err == nil &&
		int(meta.NumDelivered) > w.cfg.Worker.PoisonRedeliveries {
		// Quarantine: the message has exhausted its redeliveries.
		if _, err = js.Publish(ctx, msg.Subject()+".dlq", msg.Data()); err != nil {
			logger.WithField("err", err).Error("publishing to quarantine subject")
			_ = msg.Nak()
			return
		}
		logger.WithFields(log.Fields{
			"subject":   msg.Subject(),
			"delivered": meta.NumDelivered,
		}).Error("quarantined poison message")

		messagesProcessed.WithLabelValues(role, "poison").Inc()
		_ = msg.Ack()
		return
	}

	handlersInFlight.WithLabelValues(role).Inc()
	var began = time.Now()

	var err = handler.Handle(ctx, msg.Data())

	handlerSeconds.WithLabelValues(role).Observe(time.Since(began).Seconds())
	handlersInFlight.WithLabelValues(role).Dec()

	if err == nil {
		messagesProcessed.WithLabelValues(role, "ack").Inc()
		_ = msg.Ack()
		return
	}

	var fields = log.Fields{
		"subject": msg.Subject(),
		"kind":    KindOf(err).String(),
		"err":     err,
	}
	if Terminal(err) {
		// The message can never succeed; acknowledge to prevent loops.
		logger.WithFields(fields).Error("dropping message after terminal handler error")
		messagesProcessed.WithLabelValues(role, "terminal").Inc()
		_ = msg.Ack()
	} else {
		logger.WithFields(fields).Warn("handler failed (message will be redelivered)")
		messagesProcessed.WithLabelValues(role, "nack").Inc()
		_ = msg.Nak()
	}
}

type jsPublisher struct {
	js jetstream.JetStream
}

func (p *jsPublisher) Publish(ctx context.Context, subject string, v interface{}) error {
	var data, err = json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", subject, err)
	}
	if _, err = p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
