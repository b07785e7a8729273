package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var queriesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "smoosense_queries_total",
	Help: "Total number of query executions by outcome",
}, []string{"status"})

var queryDurationHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "smoosense_query_duration_seconds",
	Help:    "Query page execution duration in seconds",
	Buckets: prometheus.DefBuckets,
})

var schemaCacheCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "smoosense_schema_cache_lookups_total",
	Help: "Schema cache lookups by result",
}, []string{"result"})

var schemaInspectionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "smoosense_schema_inspections_total",
	Help: "Schema inspections by outcome",
}, []string{"status"})

var activeSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "smoosense_sessions_active",
	Help: "Number of live query sessions",
})

var sessionsRejectedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "smoosense_session_rejections_total",
	Help: "Queries rejected or displaced by the per-session busy policy",
}, []string{"policy"})

var sessionsExpiredCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "smoosense_sessions_expired_total",
	Help: "Sessions expired by the reaper",
})

var rateLimitRejectsCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "smoosense_rate_limit_rejects_total",
	Help: "Requests rejected by the per-client rate limiter",
})

// Query outcomes.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusTimeout   = "timeout"
	StatusCancelled = "cancelled"
	StatusBusy      = "busy"
)

// ObserveQuery records one execution.
func ObserveQuery(status string, d time.Duration) {
	queriesCounter.WithLabelValues(status).Inc()
	if status == StatusOK {
		queryDurationHistogram.Observe(d.Seconds())
	}
}

// ObserveSchemaLookup records a schema cache hit or miss.
func ObserveSchemaLookup(hit bool) {
	if hit {
		schemaCacheCounter.WithLabelValues("hit").Inc()
		return
	}
	schemaCacheCounter.WithLabelValues("miss").Inc()
}

// ObserveInspection records a schema inspection.
func ObserveInspection(err error) {
	if err != nil {
		schemaInspectionsCounter.WithLabelValues(StatusError).Inc()
		return
	}
	schemaInspectionsCounter.WithLabelValues(StatusOK).Inc()
}

// ObserveActiveSessions sets the live session gauge.
func ObserveActiveSessions(count int) {
	if count < 0 {
		count = 0
	}
	activeSessionsGauge.Set(float64(count))
}

// ObserveBusy records a busy-policy decision.
func ObserveBusy(policy string) {
	sessionsRejectedCounter.WithLabelValues(policy).Inc()
}

// ObserveExpired records sessions expired by one reaper pass.
func ObserveExpired(count int) {
	if count <= 0 {
		return
	}
	sessionsExpiredCounter.Add(float64(count))
}

// ObserveRateLimited records a rejected request.
func ObserveRateLimited() {
	rateLimitRejectsCounter.Inc()
}
