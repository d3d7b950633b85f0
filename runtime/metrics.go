package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_messages_processed_total",
		Help: "Messages handled, by worker role and outcome (ack, nack, terminal, poison).",
	}, []string{"role", "outcome"})

	handlersInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_handlers_in_flight",
		Help: "Handlers currently executing, by worker role.",
	}, []string{"role"})

	handlerSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_handler_duration_seconds",
		Help:    "Handler execution time, by worker role.",
		Buckets: prometheus.ExponentialBuckets(0.01, 3, 10),
	}, []string{"role"})

	busReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_bus_reconnects_total",
		Help: "Bus reconnection attempts.",
	})
)
