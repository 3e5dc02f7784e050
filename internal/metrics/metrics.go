// Package metrics provides Prometheus instrumentation for the Swapyard platform.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swapyard",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "swapyard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TradesProposedTotal counts proposed trades.
	TradesProposedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swapyard",
		Name:      "trades_proposed_total",
		Help:      "Total trades proposed.",
	})

	// TradesResolvedTotal counts trades leaving pending, by outcome.
	TradesResolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swapyard",
		Name:      "trades_resolved_total",
		Help:      "Total trades resolved by outcome (accepted, rejected, cancelled, expired).",
	}, []string{"outcome"})

	// AcceptConflictsTotal counts acceptances that lost the resource race.
	AcceptConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swapyard",
		Name:      "accept_conflicts_total",
		Help:      "Total trade acceptances refused because a resource was already committed elsewhere.",
	})

	// TradeResolutionSeconds observes time from proposal to resolution.
	TradeResolutionSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "swapyard",
		Name:      "trade_resolution_seconds",
		Help:      "Seconds from trade proposal to resolution.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	})

	// ExpiryJobsProcessedTotal counts expiry job deliveries by result.
	ExpiryJobsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swapyard",
		Name:      "expiry_jobs_processed_total",
		Help:      "Total expiry job deliveries by result (expired, noop, retried).",
	}, []string{"result"})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "swapyard",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swapyard",
		Name:      "db_open_connections",
		Help:      "Open database connections.",
	})

	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swapyard",
		Name:      "db_idle_connections",
		Help:      "Idle database connections.",
	})

	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swapyard",
		Name:      "db_in_use_connections",
		Help:      "In-use database connections.",
	})

	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swapyard",
		Name:      "goroutines",
		Help:      "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TradesProposedTotal,
		TradesResolvedTotal,
		AcceptConflictsTotal,
		TradeResolutionSeconds,
		ExpiryJobsProcessedTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
