package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsEnqueued  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "farmjobs_enqueued_total", Help: "Jobs enqueued"}, []string{"type"})
	JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "farmjobs_completed_total", Help: "Jobs completed successfully"}, []string{"type"})
	JobsRetried   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "farmjobs_retried_total", Help: "Failed attempts sent back to PENDING"}, []string{"type"})
	JobsFailed    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "farmjobs_failed_total", Help: "Jobs that reached FAILED"}, []string{"type"})
	ClaimsLost    = prometheus.NewCounter(prometheus.CounterOpts{Name: "farmjobs_claims_lost_total", Help: "Claim attempts lost to another worker"})
	TicksSkipped  = prometheus.NewCounter(prometheus.CounterOpts{Name: "farmjobs_ticks_skipped_total", Help: "Poll ticks dropped because the previous tick was still running"})
	RowsDeleted   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "farmjobs_rows_deleted_total", Help: "Rows removed by batch deletion"}, []string{"entity"})
	JobDuration   = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "farmjobs_job_duration_seconds", Help: "Handler wall time", Buckets: prometheus.ExponentialBuckets(0.05, 2, 14)}, []string{"type"})
)

// Handler exposes /metrics with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued,
			JobsCompleted,
			JobsRetried,
			JobsFailed,
			ClaimsLost,
			TicksSkipped,
			RowsDeleted,
			JobDuration,
		)
	})
	return promhttp.Handler()
}
