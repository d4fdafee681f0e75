// Package metrics provides Prometheus instrumentation for the TrustGrid oracle.
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
			Namespace: "trustgrid",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustgrid",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ScoresComputedTotal counts scoring engine runs.
	ScoresComputedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "trustgrid",
		Name:      "scores_computed_total",
		Help:      "Total trust scores computed.",
	})

	// ScoreDistribution observes computed score values.
	ScoreDistribution = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trustgrid",
		Name:      "score_distribution",
		Help:      "Distribution of computed trust scores.",
		Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	// AttestationsIssuedTotal counts successfully signed attestations.
	AttestationsIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "trustgrid",
		Name:      "attestations_issued_total",
		Help:      "Total attestations signed by the oracle key.",
	})

	// OracleUpdatesTotal counts score update submissions by result.
	OracleUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustgrid",
			Name:      "oracle_updates_total",
			Help:      "Total oracle score update submissions by result.",
		},
		[]string{"result"},
	)

	// TrustThreshold tracks the current global trust threshold.
	TrustThreshold = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustgrid",
		Name:      "trust_threshold",
		Help:      "Current global trust threshold.",
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trustgrid",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

)

// Connection pool and runtime gauges, sampled by StartDBStatsCollector.
var (
	DBOpenConnections  = poolGauge("db_open_connections", "Number of open database connections.")
	DBIdleConnections  = poolGauge("db_idle_connections", "Number of idle database connections.")
	DBInUseConnections = poolGauge("db_in_use_connections", "Number of in-use database connections.")
	DBWaitCount        = poolGauge("db_wait_count_total", "Total number of connections waited for.")
	DBWaitDuration     = poolGauge("db_wait_duration_seconds_total", "Total time waited for connections in seconds.")
	GoroutineCount     = poolGauge("goroutines", "Current number of goroutines.")
)

func poolGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trustgrid",
		Name:      name,
		Help:      help,
	})
}

// Update result labels for OracleUpdatesTotal.
const (
	ResultApplied          = "applied"
	ResultInvalidScore     = "invalid_score"
	ResultStaleTimestamp   = "stale_timestamp"
	ResultInvalidSignature = "invalid_signature"
	ResultStoreError       = "store_error"
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ScoresComputedTotal,
		ScoreDistribution,
		AttestationsIssuedTotal,
		OracleUpdatesTotal,
		TrustThreshold,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector samples the connection pool and goroutine count
// into gauges every interval until ctx is cancelled. Run it in its own
// goroutine.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample(db)
		}
	}
}

func sample(db *sql.DB) {
	stats := db.Stats()
	DBOpenConnections.Set(float64(stats.OpenConnections))
	DBIdleConnections.Set(float64(stats.Idle))
	DBInUseConnections.Set(float64(stats.InUse))
	DBWaitCount.Set(float64(stats.WaitCount))
	DBWaitDuration.Set(stats.WaitDuration.Seconds())
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// Middleware records request count and latency per route. Labels use
// the route pattern, not the raw path, so address parameters do not
// explode cardinality.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
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

// Handler adapts the Prometheus exposition handler for the gin router.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket collapses status codes into their class (2xx, 4xx, ...).
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
