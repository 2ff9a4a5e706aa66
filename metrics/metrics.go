package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestCounter counts HTTP requests by status code, method, and path
	RequestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrar_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"status", "method", "path"},
	)

	// RequestDuration measures HTTP request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registrar_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status", "method", "path"},
	)

	// RequestInProgress counts HTTP requests currently being processed
	RequestInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registrar_http_requests_in_progress",
			Help: "Number of HTTP requests currently being processed",
		},
		[]string{"method", "path"},
	)

	// RateLimiterRejections counts rejected requests due to rate limiting
	RateLimiterRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registrar_rate_limiter_rejections_total",
			Help: "Total number of requests rejected by rate limiter",
		},
	)

	// SeatOperations counts seat ledger calls, op is reserve or release
	SeatOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrar_seat_operations_total",
			Help: "Seat ledger operations by outcome",
		},
		[]string{"op", "result"},
	)

	// Invitations counts invitation transitions by target state
	Invitations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrar_invitations_total",
			Help: "Invitation transitions by state",
		},
		[]string{"state"},
	)

	// Emails counts best-effort deliveries by kind and outcome
	Emails = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrar_emails_total",
			Help: "Email deliveries by kind and result",
		},
		[]string{"kind", "result"},
	)

	// Completions counts registration completion attempts by outcome
	Completions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrar_completions_total",
			Help: "Registration completion attempts by result",
		},
		[]string{"result"},
	)

	// SweeperExpired counts invitations expired by the sweeper
	SweeperExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registrar_sweeper_expired_total",
			Help: "Invitations expired by the sweeper",
		},
	)

	// DatabaseOperationDuration measures store operation duration
	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registrar_db_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	// MemoryStats tracks memory usage stats
	MemoryStats = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registrar_memory_stats_bytes",
			Help: "Memory statistics in bytes",
		},
		[]string{"type"},
	)

	// GoroutineCount tracks the number of goroutines
	GoroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registrar_goroutine_count",
			Help: "Number of goroutines",
		},
	)

	// CacheHits counts the number of status cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registrar_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	// CacheMisses counts the number of status cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registrar_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// SystemCPUUsage tracks CPU usage percentage
	SystemCPUUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registrar_system_cpu_usage_percent",
			Help: "Overall CPU usage percentage",
		},
	)

	// SystemLoadAverage tracks system load averages
	SystemLoadAverage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registrar_system_load_average",
			Help: "System load average",
		},
		[]string{"period"}, // "1min", "5min", "15min"
	)
)

// RecordDBOperation records the duration of a store operation
func RecordDBOperation(operation string, table string, startTime time.Time) {
	duration := time.Since(startTime).Seconds()
	DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration)
}

// Result turns an error into the "ok"/"error" label used by the counters above
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
