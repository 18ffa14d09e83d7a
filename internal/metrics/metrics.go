// Package metrics exposes Prometheus counters for the embed pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ResolvesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grabby_resolves_total",
			Help: "Media resolution attempts by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grabby_dispatches_total",
			Help: "Embed dispatches by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	ResizesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grabby_resizes_total",
			Help: "Size-compliance resize attempts by outcome",
		},
		[]string{"outcome"},
	)

	DeletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grabby_deletions_total",
			Help: "Delivery record removals by reason",
		},
		[]string{"reason"},
	)
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
