// Package metrics holds the Prometheus collectors of the cartable service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application collectors plus Go runtime metrics.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cartable",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cartable",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	guardDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cartable",
			Subsystem: "guard",
			Name:      "decisions_total",
			Help:      "Route guard decisions by verdict.",
		},
		[]string{"verdict"},
	)

	upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cartable",
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Duration of backend calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"operation", "outcome"},
	)

	sessionRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cartable",
			Subsystem: "session",
			Name:      "refreshes_total",
			Help:      "Access token refreshes by outcome.",
		},
		[]string{"outcome"},
	)

	queryLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cartable",
			Subsystem: "query",
			Name:      "lookups_total",
			Help:      "Query cache lookups by category and result.",
		},
		[]string{"category", "result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests,
		httpDuration,
		guardDecisions,
		upstreamDuration,
		sessionRefreshes,
		queryLookups,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one handled request.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveGuard records one route guard verdict.
func ObserveGuard(verdict string) {
	guardDecisions.WithLabelValues(verdict).Inc()
}

// ObserveUpstream records one backend call. status is 0 on transport errors.
func ObserveUpstream(operation string, status int, d time.Duration, err error) {
	outcome := "ok"
	switch {
	case status == 0 && err != nil:
		outcome = "transport_error"
	case status >= 500:
		outcome = "server_error"
	case status >= 400:
		outcome = "client_error"
	case err != nil:
		outcome = "decode_error"
	}
	upstreamDuration.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

// ObserveRefresh records an access token refresh attempt.
func ObserveRefresh(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	sessionRefreshes.WithLabelValues(outcome).Inc()
}

// ObserveQuery records a query cache lookup; result is hit, miss or shared.
func ObserveQuery(category, result string) {
	queryLookups.WithLabelValues(category, result).Inc()
}
