package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the pipeline.
type Metrics struct {
	registry *prometheus.Registry

	SegmentsFetched    prometheus.Counter
	BatchesCreated     prometheus.Counter
	FragmentsPublished prometheus.Counter
	BytesPublished     prometheus.Counter
	PublisherReplays   prometheus.Counter
	Reconnects         prometheus.Counter
	PipelinePhase      prometheus.Gauge
}

// NewMetrics creates and registers Prometheus metrics for the pipeline.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SegmentsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livesub_segments_fetched_total",
			Help: "Total number of source segments fetched",
		}),
		BatchesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livesub_batches_created_total",
			Help: "Total number of batches created by the segment buffer",
		}),
		FragmentsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livesub_fragments_published_total",
			Help: "Total number of fragments written to the ingest endpoint",
		}),
		BytesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livesub_bytes_published_total",
			Help: "Total bytes written to the publisher subprocess",
		}),
		PublisherReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livesub_publisher_replayed_fragments_total",
			Help: "Total number of fragments re-sent from the replay buffer",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livesub_publisher_reconnects_total",
			Help: "Total number of publisher reconnect attempts",
		}),
		PipelinePhase: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livesub_pipeline_phase",
			Help: "Current pipeline phase (0=idle 1=fetching 2=processing 3=publishing 4=error)",
		}),
	}

	registry.MustRegister(
		m.SegmentsFetched,
		m.BatchesCreated,
		m.FragmentsPublished,
		m.BytesPublished,
		m.PublisherReplays,
		m.Reconnects,
		m.PipelinePhase,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
