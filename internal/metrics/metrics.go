// Package metrics exposes Prometheus collectors for refresh runs.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	refreshRunsTotal       *prometheus.CounterVec
	refreshDurationSeconds prometheus.Histogram
	fetchItemsTotal        *prometheus.CounterVec
	fetchErrorsTotal       *prometheus.CounterVec
	timelineItems          prometheus.Gauge

	once sync.Once
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	once.Do(func() {
		refreshRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elvcal_refresh_runs_total",
				Help: "Total number of refresh runs, labeled by status.",
			},
			[]string{"status"},
		)

		refreshDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "elvcal_refresh_duration_seconds",
				Help:    "Histogram of refresh run durations.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		fetchItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elvcal_fetch_items_total",
				Help: "Total number of upstream records fetched, labeled by resource.",
			},
			[]string{"resource"},
		)

		fetchErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elvcal_fetch_errors_total",
				Help: "Total number of failed upstream fetches, labeled by resource and kind.",
			},
			[]string{"resource", "kind"},
		)

		timelineItems = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "elvcal_timeline_items",
				Help: "Number of items in the latest merged timeline.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRefresh records one finished run.
func ObserveRefresh(status string, duration time.Duration, items int) {
	Init()
	refreshRunsTotal.WithLabelValues(status).Inc()
	refreshDurationSeconds.Observe(duration.Seconds())
	timelineItems.Set(float64(items))
}

// ObserveFetch records the outcome of one upstream call. An empty kind
// means success.
func ObserveFetch(resource string, count int, kind string) {
	Init()
	if kind != "" {
		fetchErrorsTotal.WithLabelValues(resource, kind).Inc()
		return
	}
	fetchItemsTotal.WithLabelValues(resource).Add(float64(count))
}
