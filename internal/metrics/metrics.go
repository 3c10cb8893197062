// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics carries every collector on its own registry so tests can run
// multiple instances without duplicate registration panics.
type Metrics struct {
	registry *prometheus.Registry

	StreamsStarted   prometheus.Counter
	StreamsCompleted prometheus.Counter
	StreamFailures   prometheus.Counter
	Failovers        prometheus.Counter
	BytesSent        prometheus.Counter
	WorkLoad         *prometheus.GaugeVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		StreamsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_streams_started_total",
			Help: "Streaming responses that began sending a body.",
		}),
		StreamsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_streams_completed_total",
			Help: "Streaming responses that delivered their full byte window.",
		}),
		StreamFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_stream_failures_total",
			Help: "Streams aborted before the full byte window was delivered.",
		}),
		Failovers: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_failovers_total",
			Help: "Mid-stream session replacements.",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamgate_bytes_sent_total",
			Help: "Payload bytes written to clients.",
		}),
		WorkLoad: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streamgate_session_work_load",
			Help: "In-flight streaming operations per upstream session.",
		}, []string{"session_id"}),
	}
}

// ObserveLoads mirrors the work-load table into the per-session gauge.
func (m *Metrics) ObserveLoads(loads map[int]int) {
	for id, load := range loads {
		m.WorkLoad.WithLabelValues(strconv.Itoa(id)).Set(float64(load))
	}
}

// Handler serves the scrape endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
