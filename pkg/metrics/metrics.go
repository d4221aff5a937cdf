package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Upstream API metrics
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techbridge_upstream_requests_total",
		Help: "The total number of requests sent to the eModul API.",
	}, []string{"method", "status"})

	// Cache metrics
	CacheRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techbridge_cache_refreshes_total",
		Help: "The total number of module cache refresh checks by result (fetched, fresh, error).",
	}, []string{"result"})

	// Coordinator metrics
	CoordinatorUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techbridge_coordinator_updates_total",
		Help: "The total number of scheduled module refreshes by result (ok, failed, reauth).",
	}, []string{"udid", "result"})
	CoordinatorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "techbridge_coordinator_update_seconds",
		Help:    "Duration of scheduled module refreshes.",
		Buckets: prometheus.DefBuckets,
	}, []string{"udid"})
	Subscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "techbridge_coordinator_subscribers",
		Help: "The current number of consumers subscribed to a module.",
	}, []string{"udid"})

	// Command metrics
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techbridge_commands_total",
		Help: "The total number of write commands by name and result.",
	}, []string{"command", "result"})
)

// ObserveUpstream records one upstream request. A zero status means the
// request failed before a response was received.
func ObserveUpstream(method string, status int) {
	s := "error"
	if status > 0 {
		s = strconv.Itoa(status)
	}
	UpstreamRequests.WithLabelValues(method, s).Inc()
}

// Result returns "ok" for a nil error and "error" otherwise.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler returns the HTTP handler that exposes the registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
