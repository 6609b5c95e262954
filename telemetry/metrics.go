package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SubmissionsAccepted = prometheus.NewCounter(prometheus.CounterOpts{Name: "authq_submissions_accepted_total", Help: "Queue entries created"})
	SubmissionsRejected = prometheus.NewCounter(prometheus.CounterOpts{Name: "authq_submissions_rejected_total", Help: "Submissions rejected before queueing"})
	AutoApprovals       = prometheus.NewCounter(prometheus.CounterOpts{Name: "authq_auto_approvals_total", Help: "Entries auto-approved by threshold policy"})
	DecisionsApproved   = prometheus.NewCounter(prometheus.CounterOpts{Name: "authq_decisions_approved_total", Help: "Supervisor approvals"})
	DecisionsRejected   = prometheus.NewCounter(prometheus.CounterOpts{Name: "authq_decisions_rejected_total", Help: "Supervisor rejections"})
	ExecutionsSucceeded = prometheus.NewCounter(prometheus.CounterOpts{Name: "authq_executions_succeeded_total", Help: "Entries executed against the ledger"})
	ExecutionsFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "authq_executions_failed_total", Help: "Entries marked EXECUTION_FAILED"})
	RateLimitRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "authq_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SubmissionsAccepted,
			SubmissionsRejected,
			AutoApprovals,
			DecisionsApproved,
			DecisionsRejected,
			ExecutionsSucceeded,
			ExecutionsFailed,
			RateLimitRejects,
		)
	})
	return promhttp.Handler()
}
