package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "spaceplaces"

// Registry is the process-wide registry served on /metrics.
var Registry = prometheus.NewRegistry()

// AppInfo exposes build information as labels; the value is always 1.
var AppInfo = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "app_info",
		Help:      "Application version information (always 1, version info in labels)",
	},
	[]string{"version", "commit", "build_date"},
)

// ExploreQueryDuration records exploration query latency by projection.
var ExploreQueryDuration = promauto.With(Registry).NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "explore_query_duration_seconds",
		Help:      "Exploration query latency in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	},
	[]string{"projection"}, // coordinates|places
)

// ModerationTransitionsTotal counts moderation actions by outcome.
var ModerationTransitionsTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "moderation_transitions_total",
		Help:      "Moderation transitions attempted on place and edit requests",
	},
	[]string{"kind", "transition", "result"}, // result: success|forbidden|error
)

// RequestsSubmittedTotal counts citizen submissions.
var RequestsSubmittedTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_submitted_total",
		Help:      "Place and edit requests submitted by visitors",
	},
	[]string{"kind", "result"}, // result: accepted|captcha_failed|invalid|error
)

// UpstreamRequestsTotal counts calls to outbound providers.
var UpstreamRequestsTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_requests_total",
		Help:      "Outbound provider calls",
	},
	[]string{"service", "operation", "status"}, // status: success|error|rejected
)

// UpstreamLatency records outbound provider latency.
var UpstreamLatency = promauto.With(Registry).NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_latency_seconds",
		Help:      "Outbound provider latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"service", "operation"},
)

// GeocodingCacheTotal counts geocoding cache lookups.
var GeocodingCacheTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "geocoding_cache_total",
		Help:      "Geocoding cache lookups",
	},
	[]string{"type", "result"}, // type: forward|reverse, result: hit|miss|error
)

// PhotosRejectedTotal counts uploads refused by validation.
var PhotosRejectedTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "photos_rejected_total",
		Help:      "Uploaded photos rejected before storage",
	},
	[]string{"reason"}, // extension|mime|size|count|processing
)

// EmailsSentTotal counts transactional emails by template.
var EmailsSentTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "emails_sent_total",
		Help:      "Transactional emails by template and result",
	},
	[]string{"template", "result"},
)

// Init registers runtime collectors and sets build info.
func Init(version, commit, buildDate string) {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	AppInfo.WithLabelValues(version, commit, buildDate).Set(1)
}
