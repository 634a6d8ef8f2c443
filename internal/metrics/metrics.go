// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerFetchesTotal           *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerCrawlsTotal            *prometheus.CounterVec
	crawlerRecordsTotal           *prometheus.CounterVec
	crawlerCrawlDurationSeconds   *prometheus.HistogramVec
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	crawlerLockSkipsTotal         prometheus.Counter
	crawlerSourcesPausedTotal     prometheus.Counter
	crawlerRobotsFailuresTotal    prometheus.Counter
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetches_total",
				Help: "Total number of upstream HTTP fetches, labeled by site and status code.",
			},
			[]string{"site", "code"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerCrawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_crawls_total",
				Help: "Total number of source crawls, labeled by protocol kind and outcome status.",
			},
			[]string{"kind", "status"},
		)

		crawlerRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_records_total",
				Help: "Records seen by the executor, labeled by result (found, inserted, updated, skipped).",
			},
			[]string{"result"},
		)

		crawlerCrawlDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_crawl_duration_seconds",
				Help:    "Histogram of end-to-end source crawl durations.",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently crawling a source.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		crawlerLockSkipsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_lock_skips_total",
				Help: "Due sources skipped because another crawler held their lock.",
			},
		)

		crawlerSourcesPausedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_sources_paused_total",
				Help: "Sources paused by the circuit breaker.",
			},
		)

		crawlerRobotsFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_robots_fetch_failures_total",
				Help: "robots.txt fetches that failed and were treated as allow-all.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one upstream HTTP response.
func ObserveFetch(site string, code int, bytesFetched int) {
	if crawlerFetchesTotal == nil {
		return
	}
	sanitizedSite := SanitizeSite(site)
	crawlerFetchesTotal.WithLabelValues(sanitizedSite, strconv.Itoa(code)).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveCrawl records a finished source crawl and its record counters.
func ObserveCrawl(kind, status string, found, inserted, updated, skipped int, duration time.Duration) {
	if crawlerCrawlsTotal == nil {
		return
	}
	crawlerCrawlsTotal.WithLabelValues(kind, status).Inc()
	crawlerCrawlDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
	crawlerRecordsTotal.WithLabelValues("found").Add(float64(found))
	crawlerRecordsTotal.WithLabelValues("inserted").Add(float64(inserted))
	crawlerRecordsTotal.WithLabelValues("updated").Add(float64(updated))
	crawlerRecordsTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if crawlerActiveWorkers != nil {
		crawlerActiveWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if crawlerActiveWorkers != nil {
		crawlerActiveWorkers.Dec()
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if crawlerRateLimitDelaysSeconds != nil {
		crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
	}
}

// ObserveLockSkip counts a due source skipped because its lock was held.
func ObserveLockSkip() {
	if crawlerLockSkipsTotal != nil {
		crawlerLockSkipsTotal.Inc()
	}
}

// ObserveSourcePaused counts a circuit-breaker trip.
func ObserveSourcePaused() {
	if crawlerSourcesPausedTotal != nil {
		crawlerSourcesPausedTotal.Inc()
	}
}

// ObserveRobotsFailure counts a robots.txt fetch that failed open.
func ObserveRobotsFailure() {
	if crawlerRobotsFailuresTotal != nil {
		crawlerRobotsFailuresTotal.Inc()
	}
}
