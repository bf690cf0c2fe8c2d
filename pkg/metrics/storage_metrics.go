package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store metrics for Cassandra, CockroachDB and Redis
var (
	CassandraQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cassandra_query_duration_seconds",
		Help:    "Cassandra query latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"operation", "table"})

	CassandraQueryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cassandra_query_total",
		Help: "Total number of Cassandra queries executed",
	}, []string{"operation", "table", "status"})

	// Conditional updates that lost the compare (already at or past the target)
	CassandraLWTNotAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cassandra_lwt_not_applied_total",
		Help: "Lightweight transactions whose condition did not hold",
	}, []string{"operation"})

	DBConnectionsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_connections_in_use",
		Help: "Current number of database connections in use",
	})

	DBConnectionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_connections_idle",
		Help: "Current number of idle database connections",
	})

	DBTransactionRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "db_transaction_retries_total",
		Help: "CockroachDB transactions restarted after a serialization conflict",
	}, []string{"operation"})

	RedisDegradedMode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redis_degraded_mode",
		Help: "Whether Redis is unavailable (1) or healthy (0)",
	})

	RedisHealthCheckTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redis_health_check_total",
		Help: "Redis health checks",
	}, []string{"result"})

	RequestTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "request_timeout_total",
		Help: "Total number of request timeouts",
	})
)

// RecordCassandraQuery records the outcome and latency of one statement
func RecordCassandraQuery(operation, table string, started time.Time, err error) {
	CassandraQueryDuration.WithLabelValues(operation, table).Observe(time.Since(started).Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	CassandraQueryTotal.WithLabelValues(operation, table, status).Inc()
}

// SetDBPoolStats publishes pgx pool usage
func SetDBPoolStats(inUse, idle int32) {
	DBConnectionsInUse.Set(float64(inUse))
	DBConnectionsIdle.Set(float64(idle))
}

// SetRedisDegraded flips the degraded-mode gauge
func SetRedisDegraded(degraded bool) {
	if degraded {
		RedisDegradedMode.Set(1)
		return
	}
	RedisDegradedMode.Set(0)
}
