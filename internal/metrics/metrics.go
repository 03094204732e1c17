// Package metrics exposes Prometheus collectors for worker lifecycle
// events and state, registered lazily so embedding callers opt in.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	regOK atomic.Bool

	workerStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zuzpm",
			Subsystem: "worker",
			Name:      "starts_total",
			Help:      "Number of successful worker spawns.",
		}, []string{"name"},
	)
	workerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zuzpm",
			Subsystem: "worker",
			Name:      "restarts_total",
			Help:      "Number of backoff-driven or operator-driven restarts.",
		}, []string{"name"},
	)
	workerStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zuzpm",
			Subsystem: "worker",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or forced).",
		}, []string{"name"},
	)
	workerCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zuzpm",
			Subsystem: "worker",
			Name:      "crashes_total",
			Help:      "Number of unintentional child exits with non-zero status.",
		}, []string{"name"},
	)
	backoffSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zuzpm",
			Subsystem: "worker",
			Name:      "backoff_seconds",
			Help:      "Current restart backoff duration per worker.",
		}, []string{"name"},
	)
	runningInstances = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zuzpm",
			Subsystem: "worker",
			Name:      "running_instances",
			Help:      "Current running child count per worker.",
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zuzpm",
			Subsystem: "worker",
			Name:      "state_transitions_total",
			Help:      "Number of FSM transitions between states.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zuzpm",
			Subsystem: "worker",
			Name:      "current_state",
			Help:      "Current state of a worker (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
)

// Register registers all collectors with r. Safe to call multiple times;
// calls after the first success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		workerStarts, workerRestarts, workerStops, workerCrashes,
		backoffSeconds, runningInstances, stateTransitions, currentStates,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves Prometheus metrics for the default gatherer. The caller
// wires it onto the optional observability sidecar's /metrics route.
func Handler() http.Handler { return promhttp.Handler() }

func IncStart(name string) {
	if regOK.Load() {
		workerStarts.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		workerRestarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		workerStops.WithLabelValues(name).Inc()
	}
}

func IncCrash(name string) {
	if regOK.Load() {
		workerCrashes.WithLabelValues(name).Inc()
	}
}

func SetBackoff(name string, seconds float64) {
	if regOK.Load() {
		backoffSeconds.WithLabelValues(name).Set(seconds)
	}
}

func SetRunningInstances(name string, n int) {
	if regOK.Load() {
		runningInstances.WithLabelValues(name).Set(float64(n))
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(name, state).Set(value)
	}
}
