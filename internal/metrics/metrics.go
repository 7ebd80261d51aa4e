// Package metrics provides Prometheus instrumentation for the escrow
// settlement services.
package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "escrow"

var (
	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status class.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SettlementOpsTotal counts orchestrator operations by result kind.
	SettlementOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "operations_total",
			Help:      "Settlement operations by operation and result.",
		},
		[]string{"operation", "result"},
	)

	// EscrowTransitionsTotal counts applied status changes by target status.
	EscrowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "status_transitions_total",
			Help:      "Escrow status transitions by target status.",
		},
		[]string{"status"},
	)

	// LedgerOpsTotal counts ledger calls by operation and result.
	LedgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger calls by operation and result.",
		},
		[]string{"operation", "result"},
	)

	// LedgerOpDuration observes ledger call latency by operation.
	LedgerOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Ledger call duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	// WebhookEventsTotal counts provider deliveries by event and outcome.
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Provider webhook deliveries by event and outcome.",
		},
		[]string{"event", "outcome"},
	)

	// ReaperExpiredTotal counts escrows moved to expired by the sweep.
	ReaperExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reaper",
		Name:      "expired_total",
		Help:      "Escrows expired by the sweep.",
	})

	// ReaperRunDuration observes the duration of each sweep.
	ReaperRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reaper",
		Name:      "run_duration_seconds",
		Help:      "Duration of expiry sweeps in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	})

	// OutboxRedrivesTotal counts re-driven settlement intents by kind and result.
	OutboxRedrivesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "redrives_total",
			Help:      "Re-driven settlement intents by kind and result.",
		},
		[]string{"kind", "result"},
	)

	// NotificationsTotal counts notification publishes by result.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications published by result.",
		},
		[]string{"result"},
	)

	DBAcquiredConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_acquired_connections",
		Help: "Number of connections currently acquired from the pool.",
	})
	DBIdleConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_idle_connections",
		Help: "Number of idle connections in the pool.",
	})
	DBTotalConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_total_connections",
		Help: "Total number of connections in the pool.",
	})
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SettlementOpsTotal,
		EscrowTransitionsTotal,
		LedgerOpsTotal,
		LedgerOpDuration,
		WebhookEventsTotal,
		ReaperExpiredTotal,
		ReaperRunDuration,
		OutboxRedrivesTotal,
		NotificationsTotal,
		DBAcquiredConns,
		DBIdleConns,
		DBTotalConns,
		GoroutineCount,
	)
}

// StartPoolStatsCollector samples pgxpool statistics into gauges until ctx is done.
func StartPoolStatsCollector(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := pool.Stat()
			DBAcquiredConns.Set(float64(stat.AcquiredConns()))
			DBIdleConns.Set(float64(stat.IdleConns()))
			DBTotalConns.Set(float64(stat.TotalConns()))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
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

// Handler returns the Prometheus metrics HTTP handler for the /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// ObserveLedger records one ledger call.
func ObserveLedger(operation string, started time.Time, err error) {
	LedgerOpDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	LedgerOpsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
}

// ObserveSettlement counts one orchestrator operation.
func ObserveSettlement(operation string, err error) {
	SettlementOpsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// statusBucket groups HTTP status codes into 1xx..5xx.
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
