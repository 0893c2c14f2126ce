// Package metrics exposes Prometheus collectors for the collector service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	listingsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listings_processed_total",
			Help: "Total number of listings reconciled, labeled by source.",
		},
		[]string{"source"},
	)

	listingsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listings_skipped_total",
			Help: "Total number of unchanged (duplicate) listings skipped, labeled by source.",
		},
		[]string{"source"},
	)

	scrapingErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraping_errors_total",
			Help: "Total number of scraping errors, labeled by source.",
		},
		[]string{"source"},
	)

	dbConnectionErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_connection_errors_total",
			Help: "Total number of database connection errors.",
		},
	)

	activeScrapers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_scrapers",
			Help: "Number of source jobs currently running.",
		},
	)

	scrapeCycleDurationSecs = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scrape_cycle_duration_seconds",
			Help:    "Histogram of full cycle durations per source.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"source"},
	)

	notificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total notifications delivered, labeled by event type.",
		},
		[]string{"type"},
	)

	notificationErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_errors_total",
			Help: "Total notification delivery failures.",
		},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveProcessed increments the reconciled-listing counter.
func ObserveProcessed(source string) {
	listingsProcessedTotal.WithLabelValues(source).Inc()
}

// ObserveSkipped increments the duplicate-listing counter.
func ObserveSkipped(source string) {
	listingsSkippedTotal.WithLabelValues(source).Inc()
}

// ObserveScrapeError increments the scraping error counter.
func ObserveScrapeError(source string) {
	scrapingErrorsTotal.WithLabelValues(source).Inc()
}

// ObserveDBError increments the database connection error counter.
func ObserveDBError() {
	dbConnectionErrorsTotal.Inc()
}

// IncActiveScrapers increments the active scraper gauge.
func IncActiveScrapers() {
	activeScrapers.Inc()
}

// DecActiveScrapers decrements the active scraper gauge.
func DecActiveScrapers() {
	activeScrapers.Dec()
}

// ObserveCycle records the duration of one completed cycle.
func ObserveCycle(source string, d time.Duration) {
	scrapeCycleDurationSecs.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveNotification increments the sent counter for the event type.
func ObserveNotification(eventType string) {
	notificationsSentTotal.WithLabelValues(eventType).Inc()
}

// ObserveNotificationError increments the delivery failure counter.
func ObserveNotificationError() {
	notificationErrorsTotal.Inc()
}
