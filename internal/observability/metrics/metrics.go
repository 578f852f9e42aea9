// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_voice_session"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Call metrics
	CallsStarted      prometheus.Counter
	CallsActive       prometheus.Gauge
	CallsEnded        *prometheus.CounterVec
	CallStartFailures prometheus.Counter
	CallDuration      prometheus.Histogram

	// Transport metrics
	TransportEvents *prometheus.CounterVec

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter
	FragmentsDropped   prometheus.Counter

	// Analysis poll metrics
	PollAttempts     prometheus.Counter
	PollOutcomes     *prometheus.CounterVec
	PollDuration     prometheus.Histogram
	FetchLatency     *prometheus.HistogramVec
	PollsCancelled   prometheus.Counter
	UpstreamRequests *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Archive metrics
	ArchiveErrors *prometheus.CounterVec

	// gRPC metrics
	GRPCRequests *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Call metrics
		CallsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_started_total",
			Help:      "Total number of calls accepted by the transport",
		}),
		CallsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls currently connecting or active",
		}),
		CallsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_ended_total",
			Help:      "Total number of calls ended",
		}, []string{"reason"}),
		CallStartFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_start_failures_total",
			Help:      "Total number of calls the transport refused to start",
		}),
		CallDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Duration of calls from start request to end in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}),

		// Transport metrics
		TransportEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_events_total",
			Help:      "Total number of call transport events received",
		}, []string{"event"}),

		// Transcript metrics
		TranscriptsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of partial transcript fragments received",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcript fragments folded into the log",
		}),
		FragmentsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_fragments_dropped_total",
			Help:      "Total number of unparseable transcript fragments dropped",
		}),

		// Analysis poll metrics
		PollAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_poll_attempts_total",
			Help:      "Total number of analysis store requests issued",
		}),
		PollOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_poll_outcomes_total",
			Help:      "Total number of terminated poll loops by status",
		}, []string{"status"}),
		PollDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_poll_duration_seconds",
			Help:      "Wall-clock time from poll start to termination",
			Buckets:   []float64{1, 10, 30, 60, 90, 120, 150, 180, 300},
		}),
		FetchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_fetch_latency_seconds",
			Help:      "Analysis store request latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"result"}),
		PollsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_polls_cancelled_total",
			Help:      "Total number of poll loops cancelled by a newer call",
		}),
		UpstreamRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_upstream_requests_total",
			Help:      "Total number of provider call-detail requests made by the analysis store",
		}, []string{"code"}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// Archive metrics
		ArchiveErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_errors_total",
			Help:      "Total number of call archive write errors",
		}, []string{"operation"}),

		// gRPC metrics
		GRPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC requests served",
		}, []string{"method", "code"}),
	}
}

// RecordCallStarted records a call accepted by the transport.
func (m *Metrics) RecordCallStarted() {
	m.CallsStarted.Inc()
	m.CallsActive.Inc()
}

// RecordCallStartFailed records a call the transport rejected.
func (m *Metrics) RecordCallStartFailed() {
	m.CallStartFailures.Inc()
}

// RecordCallEnded records a call ending.
func (m *Metrics) RecordCallEnded(reason string, durationSeconds float64) {
	m.CallsActive.Dec()
	m.CallsEnded.WithLabelValues(reason).Inc()
	m.CallDuration.Observe(durationSeconds)
}

// RecordTransportEvent records an event delivered by the call transport.
func (m *Metrics) RecordTransportEvent(event string) {
	m.TransportEvents.WithLabelValues(event).Inc()
}

// RecordPartialTranscript records a partial fragment.
func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

// RecordFinalTranscript records a final fragment.
func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordFragmentDropped records an unparseable fragment.
func (m *Metrics) RecordFragmentDropped() {
	m.FragmentsDropped.Inc()
}

// RecordPollAttempt records one analysis store request.
func (m *Metrics) RecordPollAttempt(result string, latencySeconds float64) {
	m.PollAttempts.Inc()
	m.FetchLatency.WithLabelValues(result).Observe(latencySeconds)
}

// RecordPollOutcome records a terminated poll loop.
func (m *Metrics) RecordPollOutcome(status string, durationSeconds float64) {
	m.PollOutcomes.WithLabelValues(status).Inc()
	m.PollDuration.Observe(durationSeconds)
}

// RecordPollCancelled records a poll loop superseded by a newer call.
func (m *Metrics) RecordPollCancelled() {
	m.PollsCancelled.Inc()
}

// RecordUpstreamRequest records a provider call-detail request.
func (m *Metrics) RecordUpstreamRequest(code string) {
	m.UpstreamRequests.WithLabelValues(code).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordArchiveError records a failed archive write.
func (m *Metrics) RecordArchiveError(operation string) {
	m.ArchiveErrors.WithLabelValues(operation).Inc()
}

// RecordGRPCRequest records a served gRPC request.
func (m *Metrics) RecordGRPCRequest(method, code string) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
}
