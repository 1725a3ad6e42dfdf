// Package metrics exposes Prometheus instrumentation for the automation engine.
//
// Metrics are registered on the default registry via promauto and served by
// the API's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EngineTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "butler_engine_ticks_total",
		Help: "Total number of engine scheduler ticks.",
	})

	TriggersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "butler_triggers_fired_total",
		Help: "Total number of trigger fires, labelled by trigger type.",
	}, []string{"trigger_type"})

	ActionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "butler_actions_executed_total",
		Help: "Total number of actions executed, labelled by type and status.",
	}, []string{"action_type", "status"})

	ExecutionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "butler_executions_started_total",
		Help: "Total number of automation executions admitted, labelled by mode.",
	}, []string{"mode"})

	ExecutionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "butler_executions_rejected_total",
		Help: "Total number of executions rejected by mode admission, labelled by mode.",
	}, []string{"mode"})

	ExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "butler_execution_duration_ms",
		Help:    "Automation execution latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000},
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "butler_events_dropped_total",
		Help: "Total number of pending events dropped due to a full queue.",
	})

	ActiveExecutions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "butler_active_executions",
		Help: "Number of automation executions currently in flight.",
	})
)
