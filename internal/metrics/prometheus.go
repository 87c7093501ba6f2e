package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tenant cycle metrics
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_cycles_total",
			Help: "Total number of tenant cycles by outcome",
		},
		[]string{"tenant_id", "outcome"}, // outcome: worked, idle, inactive, budget_exhausted, failed, cancelled
	)

	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenant_cycle_duration_seconds",
			Help:    "Duration of a single tenant cycle",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"tenant_id"},
	)

	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_actions_total",
			Help: "Total number of funnel actions executed",
		},
		[]string{"tenant_id", "action", "result"}, // result: success, failed
	)

	FollowupPromotionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "followup_promotions_total",
			Help: "Total number of sent records promoted for a follow-up",
		},
		[]string{"tenant_id"},
	)

	// Budget metrics
	EffectiveLimit = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tenant_effective_daily_limit",
			Help: "Effective daily delivery limit after warm-up",
		},
		[]string{"tenant_id"},
	)

	DailyProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tenant_daily_progress",
			Help: "Deliveries made today",
		},
		[]string{"tenant_id"},
	)

	// Dispatcher metrics
	TrackedRunners = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatcher_tracked_runners",
			Help: "Current number of per-tenant runners tracked by the dispatcher",
		},
	)

	InFlightCycles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatcher_in_flight_cycles",
			Help: "Tenant cycles currently holding a concurrency slot",
		},
	)

	RunnerCrashesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_runner_crashes_total",
			Help: "Runners reaped after ending with an error",
		},
	)

	SupervisorRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_restarts_total",
			Help: "Number of times the supervisor restarted the dispatcher",
		},
	)

	// Event publishing
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_events_published_total",
			Help: "Pipeline events published to the broker",
		},
		[]string{"type", "status"}, // status: success, failed
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// IncrementCycles increments the cycle counter for a tenant and outcome
func IncrementCycles(tenantID, outcome string) {
	CyclesTotal.WithLabelValues(tenantID, outcome).Inc()
}

// RecordCycleDuration records how long a cycle took
func RecordCycleDuration(tenantID string, duration float64) {
	CycleDuration.WithLabelValues(tenantID).Observe(duration)
}

// IncrementActions increments the funnel action counter
func IncrementActions(tenantID, action, result string) {
	ActionsTotal.WithLabelValues(tenantID, action, result).Inc()
}

// IncrementFollowupPromotions increments the follow-up promotion counter
func IncrementFollowupPromotions(tenantID string) {
	FollowupPromotionsTotal.WithLabelValues(tenantID).Inc()
}

// UpdateBudget updates the effective limit and today's progress for a tenant
func UpdateBudget(tenantID string, limit, progress float64) {
	EffectiveLimit.WithLabelValues(tenantID).Set(limit)
	DailyProgress.WithLabelValues(tenantID).Set(progress)
}

// UpdateTrackedRunners updates the number of tracked runners
func UpdateTrackedRunners(count float64) {
	TrackedRunners.Set(count)
}

// IncrementEventsPublished increments the published events counter
func IncrementEventsPublished(eventType, status string) {
	EventsPublishedTotal.WithLabelValues(eventType, status).Inc()
}

// IncrementAPIRequests increments API request counter
func IncrementAPIRequests(method, endpoint, statusCode string) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
}

// RecordAPIRequestDuration records API request duration
func RecordAPIRequestDuration(method, endpoint string, duration float64) {
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}
