// Package metrics содержит Prometheus-метрики сервиса.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry хранит коллекторы приложения.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escobar",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "escobar",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	ledgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escobar",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger protocol operations by outcome.",
		},
		[]string{"operation", "result"},
	)

	activeFeeds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "escobar",
			Subsystem: "feeds",
			Name:      "active",
			Help:      "Currently open live feed connections.",
		},
	)

	reconcileDrift = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "escobar",
			Subsystem: "ledger",
			Name:      "reconcile_drifted_members",
			Help:      "Members whose balance differed from their log sum at the last reconciliation.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		ledgerOperations,
		activeFeeds,
		reconcileDrift,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler возвращает HTTP-обработчик с метриками.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveHTTP учитывает обработанный HTTP-запрос.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveOperation учитывает операцию протокола учёта.
func ObserveOperation(operation, result string) {
	ledgerOperations.WithLabelValues(operation, result).Inc()
}

// FeedOpened увеличивает число открытых лент.
func FeedOpened() { activeFeeds.Inc() }

// FeedClosed уменьшает число открытых лент.
func FeedClosed() { activeFeeds.Dec() }

// SetDrift фиксирует результат последней сверки.
func SetDrift(n int) { reconcileDrift.Set(float64(n)) }

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
