// Package metrics holds Prometheus collectors of plugin instance processing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "plinst"

var (
	Gather = prometheus.NewRegistry()

	Promotions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "gate",
			Name:      "promotions_total",
			Help:      "Counter of instances promoted from waiting to scheduled.",
		})

	UnrunnableCancels = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "gate",
			Name:      "unrunnable_cancels_total",
			Help:      "Counter of waiting instances cancelled since their dependencies have failed.",
		})

	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "jobs_total",
			Help:      "Counter of dispatch attempts by result.",
		}, []string{"result"})

	Polls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "reconcile",
			Name:      "polls_total",
			Help:      "Counter of job status polls by outcome.",
		}, []string{"outcome"})

	RegisteredFiles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "outputs",
			Name:      "registered_files_total",
			Help:      "Counter of output files newly registered.",
		})

	StuckCancels = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "reconcile",
			Name:      "stuck_cancels_total",
			Help:      "Counter of instances cancelled by stuck-lock recovery.",
		})

	TaskCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "reconcile",
			Name:      "task_crashes_total",
			Help:      "Counter of tasks crashed while processing an instance.",
		}, []string{"task"})

	RemoteDeletes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "reconcile",
			Name:      "remote_deletes_total",
			Help:      "Counter of remote job deletions by result.",
		}, []string{"result"})

	PickLatency = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "loop",
			Name:      "pick_latency_seconds",
			Help:      "Seconds from when the picked instance entered its status to when it is picked.",
		}, []string{"loop"})

	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Counter of API requests.",
		}, []string{"method", "route", "code"})
)

// result labels
const (
	Ok     = "ok"
	Failed = "failed"
)

func init() {
	Gather.MustRegister(Promotions)
	Gather.MustRegister(UnrunnableCancels)
	Gather.MustRegister(Dispatches)
	Gather.MustRegister(Polls)
	Gather.MustRegister(RegisteredFiles)
	Gather.MustRegister(StuckCancels)
	Gather.MustRegister(TaskCrashes)
	Gather.MustRegister(RemoteDeletes)
	Gather.MustRegister(PickLatency)
	Gather.MustRegister(APIRequests)
	Gather.MustRegister(collectors.NewGoCollector())
	Gather.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler serves collected metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gather, promhttp.HandlerOpts{})
}
