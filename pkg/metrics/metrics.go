// Package metrics exposes the daemon's Prometheus vector set (cycle,
// scheduler, dispatcher, state-machine, event and control-surface
// counters) and the HTTP health/readiness handlers internal/daemon's
// metrics server mounts alongside them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Rule graph / cycle metrics
	ServicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_services_total",
			Help: "Total number of services by monitor state",
		},
		[]string{"state"},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_cycle_duration_seconds",
			Help:    "Time taken to walk the rule graph for one cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_cycles_total",
			Help: "Total number of completed cycles",
		},
	)

	// Scheduler metrics
	SchedulerDispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_scheduler_dispatch_latency_seconds",
			Help:    "Time between a task's timer firing and its worker starting",
			Buckets: prometheus.DefBuckets,
		},
	)

	SchedulerTasksSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_scheduler_tasks_skipped_total",
			Help: "Total number of timer firings skipped because the task was already in progress",
		},
	)

	SchedulerTasksActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_scheduler_tasks_active",
			Help: "Number of scheduled tasks currently allocated",
		},
	)

	// Dispatcher metrics
	DispatcherQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_dispatcher_queue_depth",
			Help: "Number of work items waiting in the dispatcher queue",
		},
	)

	DispatcherActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_dispatcher_active_workers",
			Help: "Number of live dispatcher worker goroutines",
		},
	)

	DispatcherWorkItemsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_dispatcher_work_items_total",
			Help: "Total number of work items executed by the dispatcher",
		},
	)

	// State machine / event metrics
	StateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_state_transitions_total",
			Help: "Total number of state-machine transitions by rule kind and outcome",
		},
		[]string{"rule_kind", "outcome"},
	)

	EventQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_event_queue_depth",
			Help: "Number of event files currently in the on-disk retry queue",
		},
	)

	EventDeliveryFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_event_delivery_failures_total",
			Help: "Total number of failed out-of-band event deliveries by handler",
		},
		[]string{"handler"},
	)

	// Action engine metrics
	ActionExecDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_action_exec_duration_seconds",
			Help:    "Time taken to execute an action by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_actions_total",
			Help: "Total number of actions invoked by kind and result",
		},
		[]string{"kind", "result"},
	)

	// Control surface metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_http_requests_total",
			Help: "Total number of control-surface HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_http_request_duration_seconds",
			Help:    "Control-surface HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		ServicesTotal,
		CycleDuration,
		CyclesTotal,
		SchedulerDispatchLatency,
		SchedulerTasksSkipped,
		SchedulerTasksActive,
		DispatcherQueueDepth,
		DispatcherActiveWorkers,
		DispatcherWorkItemsTotal,
		StateTransitionsTotal,
		EventQueueDepth,
		EventDeliveryFailuresTotal,
		ActionExecDuration,
		ActionsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
