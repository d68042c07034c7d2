package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks the health/metrics HTTP server's own request
// latency.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "ash",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

var MessagesProcessedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ash",
		Name:      "messages_processed_total",
		Help:      "Total number of messages accepted by the ingress filter.",
	},
)

var MessagesAnalyzedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ash",
		Name:      "messages_analyzed_total",
		Help:      "Total number of messages run through the classifier pipeline, by resulting severity.",
	},
	[]string{"severity"},
)

var AlertsSentTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ash",
		Name:      "alerts_sent_total",
		Help:      "Total number of alerts dispatched, by severity and destination channel.",
	},
	[]string{"severity", "channel"},
)

var AlertsSuppressedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ash",
		Name:      "alerts_suppressed_total",
		Help:      "Total number of alerts suppressed, by reason.",
	},
	[]string{"reason"},
)

var AutoInitiatesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ash",
		Name:      "auto_initiates_total",
		Help:      "Total number of auto-initiate sweeper outcomes, by outcome.",
	},
	[]string{"outcome"},
)

var SessionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ash",
		Name:      "sessions_total",
		Help:      "Total number of Ash support sessions started.",
	},
)

var SessionsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "ash",
		Name:      "sessions_active",
		Help:      "Number of currently active Ash support sessions.",
	},
)

var NLPRequestDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "ash",
		Subsystem: "nlp",
		Name:      "request_duration_seconds",
		Help:      "NLP classifier request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
	},
)

var NLPErrorsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ash",
		Subsystem: "nlp",
		Name:      "errors_total",
		Help:      "Total number of NLP classifier call failures.",
	},
)

var LLMErrorsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ash",
		Subsystem: "llm",
		Name:      "errors_total",
		Help:      "Total number of conversational LLM call failures.",
	},
)

var SensitivityAdjustmentsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ash",
		Name:      "sensitivity_adjustments_total",
		Help:      "Total number of scores rescaled by a non-default channel sensitivity, by channel.",
	},
	[]string{"channel"},
)

// All returns every Ash-specific metric for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		MessagesProcessedTotal,
		MessagesAnalyzedTotal,
		AlertsSentTotal,
		AlertsSuppressedTotal,
		AutoInitiatesTotal,
		SessionsTotal,
		SessionsActive,
		NLPRequestDuration,
		NLPErrorsTotal,
		LLMErrorsTotal,
		SensitivityAdjustmentsTotal,
	}
}

// NewRegistry creates a Prometheus registry with Go/process collectors, the
// shared HTTPRequestDuration metric, and every Ash-specific collector.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range All() {
		reg.MustRegister(c)
	}
	return reg
}

// Snapshotter exposes a flattened view of the Ash counters for /ash stats,
// gathered from the live registry rather than cached locally.
type Snapshotter struct {
	registry *prometheus.Registry
}

// NewSnapshotter wraps a registry for counter snapshots.
func NewSnapshotter(registry *prometheus.Registry) *Snapshotter {
	return &Snapshotter{registry: registry}
}

// Snapshot returns the current value of every counter/gauge metric, keyed by
// its fully-qualified metric name (e.g. "ash_alerts_sent_total"). Vector
// metrics are summed across label combinations.
func (s *Snapshotter) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	families, err := s.registry.Gather()
	if err != nil {
		return out
	}
	for _, fam := range families {
		var total float64
		for _, m := range fam.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
		out[fam.GetName()] = total
	}
	return out
}
