// Package metrics exposes Prometheus collectors for the worker pool.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolReadyWorkers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hostbridge",
		Subsystem: "pool",
		Name:      "ready_workers",
		Help:      "Number of occupied pool slots holding a ready worker",
	}, []string{"app"})

	poolWorkersStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostbridge",
		Subsystem: "pool",
		Name:      "workers_started_total",
		Help:      "Workers successfully started and installed into a slot",
	}, []string{"app"})

	poolStartFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostbridge",
		Subsystem: "pool",
		Name:      "start_failures_total",
		Help:      "Worker start attempts that failed or never became ready",
	}, []string{"app"})

	poolRapidFailRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostbridge",
		Subsystem: "pool",
		Name:      "rapid_fail_rejections_total",
		Help:      "Worker creations refused because the rapid-fail circuit was open",
	}, []string{"app"})

	poolDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostbridge",
		Subsystem: "pool",
		Name:      "dispatch_total",
		Help:      "GetProcess calls by outcome (ready, created, exiting, disabled, failed)",
	}, []string{"app", "outcome"})
)

// SetReadyWorkers sets the ready-worker gauge for an application.
func SetReadyWorkers(app string, n int) {
	poolReadyWorkers.WithLabelValues(app).Set(float64(n))
}

// IncWorkersStarted records a successful worker start.
func IncWorkersStarted(app string) {
	poolWorkersStarted.WithLabelValues(app).Inc()
}

// IncStartFailures records a failed worker start attempt.
func IncStartFailures(app string) {
	poolStartFailures.WithLabelValues(app).Inc()
}

// IncRapidFailRejections records a creation refused by the circuit breaker.
func IncRapidFailRejections(app string) {
	poolRapidFailRejections.WithLabelValues(app).Inc()
}

// IncDispatch records a GetProcess outcome.
func IncDispatch(app, outcome string) {
	poolDispatches.WithLabelValues(app, outcome).Inc()
}

// DeletePoolMetrics removes all metrics for an application.
func DeletePoolMetrics(app string) {
	poolReadyWorkers.DeleteLabelValues(app)
	poolWorkersStarted.DeleteLabelValues(app)
	poolStartFailures.DeleteLabelValues(app)
	poolRapidFailRejections.DeleteLabelValues(app)
	poolDispatches.DeletePartialMatch(prometheus.Labels{"app": app})
}
