package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "attendance_"

var (
	registerOnce sync.Once

	eventsReceived   *prometheus.CounterVec
	eventsProcessed  *prometheus.CounterVec
	recordLatency    *prometheus.HistogramVec
	parseErrors      *prometheus.CounterVec
	webhookRequests  *prometheus.CounterVec
	connectionStates *prometheus.GaugeVec
	reconnects       *prometheus.CounterVec
	pipelineDepth    prometheus.Gauge
)

// Init registers the ingestion metrics with the default registry. Helpers
// are no-ops until Init has run.
func Init() {
	registerOnce.Do(func() {
		eventsReceived = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_received_total",
				Help: "Canonical events handed to the pipeline by vendor",
			},
			[]string{"vendor"},
		)
		eventsProcessed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_processed_total",
				Help: "Processed events by outcome",
			},
			[]string{"outcome"},
		)
		recordLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "record_latency_seconds",
				Help:    "Time spent recording one event",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		)
		parseErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "parse_errors_total",
				Help: "Malformed vendor payloads by vendor",
			},
			[]string{"vendor"},
		)
		webhookRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "webhook_requests_total",
				Help: "Inbound vendor deliveries by endpoint and result",
			},
			[]string{"endpoint", "result"},
		)
		connectionStates = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "connections",
				Help: "Tracked streaming connections by state",
			},
			[]string{"state"},
		)
		reconnects = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconnects_total",
				Help: "Forced reconnects by reason",
			},
			[]string{"reason"},
		)
		pipelineDepth = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "pipeline_queue_depth",
				Help: "Events waiting for the writer",
			},
		)

		prometheus.MustRegister(
			eventsReceived,
			eventsProcessed,
			recordLatency,
			parseErrors,
			webhookRequests,
			connectionStates,
			reconnects,
			pipelineDepth,
		)
	})
}

func IncEventReceived(vendor string) {
	if vendor == "" {
		vendor = "unknown"
	}
	if eventsReceived != nil {
		eventsReceived.WithLabelValues(vendor).Inc()
	}
}

func ObserveRecord(outcome string, duration time.Duration) {
	if eventsProcessed != nil {
		eventsProcessed.WithLabelValues(outcome).Inc()
	}
	if recordLatency != nil {
		recordLatency.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

func IncParseError(vendor string) {
	if vendor == "" {
		vendor = "unknown"
	}
	if parseErrors != nil {
		parseErrors.WithLabelValues(vendor).Inc()
	}
}

func IncWebhook(endpoint, result string) {
	if webhookRequests != nil {
		webhookRequests.WithLabelValues(endpoint, result).Inc()
	}
}

func SetConnectionStates(counts map[string]int) {
	if connectionStates == nil {
		return
	}
	connectionStates.Reset()
	for state, n := range counts {
		connectionStates.WithLabelValues(state).Set(float64(n))
	}
}

func IncReconnect(reason string) {
	if reconnects != nil {
		reconnects.WithLabelValues(reason).Inc()
	}
}

func SetPipelineDepth(n int) {
	if pipelineDepth != nil {
		pipelineDepth.Set(float64(n))
	}
}
