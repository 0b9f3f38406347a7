// Package metrics holds the process's Prometheus gauges/counters, grounded
// on the teacher's pkg/syshealth/metrics.go promauto convention (package-
// level vars registered at import time, no constructor needed).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventBusSubscribers is the current subscriber count per project's
	// topic (§4.A).
	EventBusSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orchestrator_eventbus_subscribers",
		Help: "Current subscriber count for a project's event topic",
	}, []string{"project_id"})

	// EventBusDroppedTotal counts subscriber-lag drops (§4.A drop-oldest
	// overflow) per project.
	EventBusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_eventbus_dropped_total",
		Help: "Total events dropped from a subscriber's queue on overflow",
	}, []string{"project_id"})

	// SchedulerRunningTasks is the current in-flight worker count per
	// project (§4.F maxConcurrent).
	SchedulerRunningTasks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orchestrator_scheduler_running_tasks",
		Help: "Current number of in-flight AgentRunner workers for a project",
	}, []string{"project_id"})
)
