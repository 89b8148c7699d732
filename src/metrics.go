package main

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"worker-host/src/shim"
)

type Metrics struct {
	registry      *prometheus.Registry
	invocations   *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	queueMessages *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_invocations_total",
			Help: "Entrypoint calls by entrypoint and outcome.",
		}, []string{"entrypoint", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "worker_invocation_duration_seconds",
			Help:    "Entrypoint call latency, including initialization.",
			Buckets: prometheus.DefBuckets,
		}, []string{"entrypoint"}),
		queueMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_queue_messages_total",
			Help: "Queue messages by queue and how they were settled.",
		}, []string{"queue", "outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.invocations,
		m.duration,
		m.queueMessages,
	)
	return m
}

// Observe records a shim event.
func (m *Metrics) Observe(ev shim.Event) {
	entrypoint := string(ev.Entrypoint)
	m.invocations.WithLabelValues(entrypoint, outcome(ev.Err)).Inc()
	m.duration.WithLabelValues(entrypoint).Observe(ev.Duration.Seconds())
}

func (m *Metrics) QueueSettled(queue, outcome string, n int) {
	if n == 0 {
		return
	}
	m.queueMessages.WithLabelValues(queue, outcome).Add(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	var initErr *shim.InitError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, shim.ErrMissingCapability):
		return "missing_capability"
	case errors.As(err, &initErr):
		return "init_failed"
	default:
		return "error"
	}
}
