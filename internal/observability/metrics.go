package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	apiRequestsTotal      *prometheus.CounterVec
	apiLatencySeconds     *prometheus.HistogramVec
	apiErrorsTotal        *prometheus.CounterVec
	actionsCreatedTotal   *prometheus.CounterVec
	actionExecutionsTotal *prometheus.CounterVec
	actionExecutionTime   *prometheus.HistogramVec
	policyDecisionsTotal  *prometheus.CounterVec
	rateLimitFailOpen     prometheus.Counter
	approvalNotifications *prometheus.CounterVec
	rollbacksTotal        *prometheus.CounterVec
	queueDepth            *prometheus.GaugeVec
	eventStreamClients    prometheus.Gauge
	stuckTransitions      *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API and the execution engine.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served, by route group.",
		}, []string{"method", "group", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "group", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by the API, by route group.",
		}, []string{"method", "group", "route", "status"})

		actionsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "actions_created_total",
			Help: "Actions accepted by the engine, by initial status.",
		}, []string{"action_type", "status"})

		actionExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "action_executions_total",
			Help: "Execution attempts by outcome (completed, retried, failed, skipped).",
		}, []string{"action_type", "outcome"})

		actionExecutionTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "action_execution_seconds",
			Help:    "Duration of handler execution attempts.",
			Buckets: prometheus.DefBuckets,
		}, []string{"action_type"})

		policyDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "policy_decisions_total",
			Help: "Safety policy evaluations by decision.",
		}, []string{"action_type", "decision"})

		rateLimitFailOpen = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rate_limit_fail_open_total",
			Help: "Rate limit checks allowed because the counter store was unreachable.",
		})

		approvalNotifications = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approval_notifications_total",
			Help: "Approval request notifications by delivery outcome.",
		}, []string{"outcome"})

		rollbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "action_rollbacks_total",
			Help: "Rollback attempts by outcome.",
		}, []string{"action_type", "outcome"})

		queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "action_queue_jobs",
			Help: "Jobs per queue partition.",
		}, []string{"partition"})

		eventStreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "action_event_stream_clients",
			Help: "Connected lifecycle event stream clients.",
		})

		stuckTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "action_stuck_transitions_total",
			Help: "Status updates that failed after the side effect ran, leaving the action for an operator.",
		}, []string{"action_type", "from", "to"})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			actionsCreatedTotal, actionExecutionsTotal, actionExecutionTime,
			policyDecisionsTotal, rateLimitFailOpen, approvalNotifications,
			rollbacksTotal, queueDepth, eventStreamClients, stuckTransitions,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

func ActionsCreated() *prometheus.CounterVec {
	RegisterMetrics()
	return actionsCreatedTotal
}

func ActionExecutions() *prometheus.CounterVec {
	RegisterMetrics()
	return actionExecutionsTotal
}

func ActionExecutionDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return actionExecutionTime
}

func PolicyDecisions() *prometheus.CounterVec {
	RegisterMetrics()
	return policyDecisionsTotal
}

func RateLimitFailOpen() prometheus.Counter {
	RegisterMetrics()
	return rateLimitFailOpen
}

func ApprovalNotifications() *prometheus.CounterVec {
	RegisterMetrics()
	return approvalNotifications
}

func Rollbacks() *prometheus.CounterVec {
	RegisterMetrics()
	return rollbacksTotal
}

// QueueDepth exposes the gauge refreshed by the engine from queue statistics.
func QueueDepth() *prometheus.GaugeVec {
	RegisterMetrics()
	return queueDepth
}

// EventStreamClients tracks open lifecycle event streams.
func EventStreamClients() prometheus.Gauge {
	RegisterMetrics()
	return eventStreamClients
}

// StuckTransitions counts lifecycle updates that could not be persisted. Any increase
// needs an operator: the affected action will not be picked up again on its own.
func StuckTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return stuckTransitions
}
