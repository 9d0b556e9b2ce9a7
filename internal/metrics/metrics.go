// Package metrics exposes Prometheus collectors for the scraping service.
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
	portalRequestsTotal    *prometheus.CounterVec
	keywordSearchesTotal   *prometheus.CounterVec
	applicationsFoundTotal *prometheus.CounterVec
	sessionsTotal          *prometheus.CounterVec
	activeBoroughWorkers   prometheus.Gauge
	pacingDelaySeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		portalRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planwatch_portal_requests_total",
				Help: "Portal HTTP exchanges, labeled by borough and outcome.",
			},
			[]string{"borough", "outcome"},
		)

		keywordSearchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planwatch_keyword_searches_total",
				Help: "Keyword searches issued, labeled by borough and listing outcome.",
			},
			[]string{"borough", "outcome"},
		)

		applicationsFoundTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planwatch_applications_found_total",
				Help: "Applications with detected keywords, labeled by borough.",
			},
			[]string{"borough"},
		)

		sessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planwatch_scrape_sessions_total",
				Help: "Finished borough scrape sessions, labeled by status.",
			},
			[]string{"status"},
		)

		activeBoroughWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "planwatch_active_borough_workers",
				Help: "Borough scrapes currently in flight.",
			},
		)

		pacingDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "planwatch_pacing_delay_seconds",
				Help:    "Histogram of politeness pacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"key"},
		)
	})
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePortalRequest counts one portal exchange.
func ObservePortalRequest(borough, outcome string) {
	if portalRequestsTotal == nil {
		return
	}
	portalRequestsTotal.WithLabelValues(borough, outcome).Inc()
}

// ObserveKeywordSearch counts one keyword search with its listing outcome.
func ObserveKeywordSearch(borough, outcome string) {
	if keywordSearchesTotal == nil {
		return
	}
	keywordSearchesTotal.WithLabelValues(borough, outcome).Inc()
}

// ObserveApplicationsFound adds matched applications for a borough.
func ObserveApplicationsFound(borough string, n int) {
	if applicationsFoundTotal == nil || n <= 0 {
		return
	}
	applicationsFoundTotal.WithLabelValues(borough).Add(float64(n))
}

// ObserveSession counts a finished session by status.
func ObserveSession(status string) {
	if sessionsTotal == nil {
		return
	}
	sessionsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the in-flight borough gauge.
func IncActiveWorkers() {
	if activeBoroughWorkers == nil {
		return
	}
	activeBoroughWorkers.Inc()
}

// DecActiveWorkers decrements the in-flight borough gauge.
func DecActiveWorkers() {
	if activeBoroughWorkers == nil {
		return
	}
	activeBoroughWorkers.Dec()
}

// ObservePacingDelay records a politeness wait duration.
func ObservePacingDelay(key string, d time.Duration) {
	if pacingDelaySeconds == nil {
		return
	}
	pacingDelaySeconds.WithLabelValues(key).Observe(d.Seconds())
}
