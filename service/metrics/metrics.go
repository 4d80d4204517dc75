package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the indexer.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Stream metrics
	streamUpdatesTotal    *prometheus.CounterVec
	streamReconnectsTotal prometheus.Counter
	streamBufferDepth     prometheus.Gauge

	// Decode metrics
	decodeFailuresTotal prometheus.Counter
	recordsDecodedTotal *prometheus.CounterVec

	// Classification metrics
	arbLabelsTotal    *prometheus.CounterVec
	failureTypesTotal *prometheus.CounterVec

	// Enrichment metrics
	enrichCallsTotal   *prometheus.CounterVec
	enrichCallDuration prometheus.Histogram
	enrichRetriesTotal prometheus.Counter

	// Write metrics
	recordsWrittenTotal *prometheus.CounterVec
	writeDuration       prometheus.Histogram

	// NATS metrics
	eventsPublishedTotal *prometheus.CounterVec
}

// New creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		streamUpdatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_updates_total",
				Help: "Total number of transaction updates received from the stream",
			},
			[]string{"status"},
		),
		streamReconnectsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "stream_reconnects_total",
				Help: "Total number of stream reconnect attempts",
			},
		),
		streamBufferDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "stream_buffer_depth",
				Help: "Current number of updates buffered between subscriber and pipeline",
			},
		),
		decodeFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "decode_failures_total",
				Help: "Total number of stream updates dropped due to decode failure",
			},
		),
		recordsDecodedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "records_decoded_total",
				Help: "Total number of transaction records decoded, by runtime outcome",
			},
			[]string{"outcome"},
		),
		arbLabelsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbitrage_labels_total",
				Help: "Total number of heuristic arbitrage labels assigned",
			},
			[]string{"label"},
		),
		failureTypesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "failure_types_total",
				Help: "Total number of failed transactions by normalized error type",
			},
			[]string{"error_type"},
		),
		enrichCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrich_calls_total",
				Help: "Total number of block time lookups by status",
			},
			[]string{"status"},
		),
		enrichCallDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "enrich_call_duration_seconds",
				Help:    "Duration of block time lookups in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
		),
		enrichRetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "enrich_retries_total",
				Help: "Total number of block time lookup retry attempts",
			},
		),
		recordsWrittenTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "records_written_total",
				Help: "Total number of record persistence attempts by status",
			},
			[]string{"status"},
		),
		writeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "write_duration_seconds",
				Help:    "Duration of record persistence in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),
		eventsPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_published_total",
				Help: "Total number of burn events published to NATS by status",
			},
			[]string{"status"},
		),
	}
}

// RecordStreamUpdate records a received stream update.
func (m *Metrics) RecordStreamUpdate(status string) {
	if m == nil {
		return
	}
	m.streamUpdatesTotal.WithLabelValues(status).Inc()
}

// RecordStreamReconnect records a stream reconnect attempt.
func (m *Metrics) RecordStreamReconnect() {
	if m == nil {
		return
	}
	m.streamReconnectsTotal.Inc()
}

// SetStreamBufferDepth records the current subscriber buffer depth.
func (m *Metrics) SetStreamBufferDepth(depth int) {
	if m == nil {
		return
	}
	m.streamBufferDepth.Set(float64(depth))
}

// RecordDecodeFailure records a dropped, undecodable update.
func (m *Metrics) RecordDecodeFailure() {
	if m == nil {
		return
	}
	m.decodeFailuresTotal.Inc()
}

// RecordRecordDecoded records a decoded record by outcome ("success"/"failed"/"skipped").
func (m *Metrics) RecordRecordDecoded(outcome string) {
	if m == nil {
		return
	}
	m.recordsDecodedTotal.WithLabelValues(outcome).Inc()
}

// RecordArbLabel records an assigned arbitrage label ("true"/"false"/"unset").
func (m *Metrics) RecordArbLabel(label string) {
	if m == nil {
		return
	}
	m.arbLabelsTotal.WithLabelValues(label).Inc()
}

// RecordFailureType records a normalized failure classification.
func (m *Metrics) RecordFailureType(errorType string) {
	if m == nil {
		return
	}
	m.failureTypesTotal.WithLabelValues(errorType).Inc()
}

// RecordEnrichCall records a block time lookup and its duration.
func (m *Metrics) RecordEnrichCall(status string, seconds float64) {
	if m == nil {
		return
	}
	m.enrichCallsTotal.WithLabelValues(status).Inc()
	m.enrichCallDuration.Observe(seconds)
}

// RecordEnrichRetry records a block time lookup retry attempt.
func (m *Metrics) RecordEnrichRetry() {
	if m == nil {
		return
	}
	m.enrichRetriesTotal.Inc()
}

// RecordWrite records a persistence attempt and its duration.
func (m *Metrics) RecordWrite(status string, seconds float64) {
	if m == nil {
		return
	}
	m.recordsWrittenTotal.WithLabelValues(status).Inc()
	m.writeDuration.Observe(seconds)
}

// RecordEventPublished records a NATS publish attempt.
func (m *Metrics) RecordEventPublished(status string) {
	if m == nil {
		return
	}
	m.eventsPublishedTotal.WithLabelValues(status).Inc()
}
