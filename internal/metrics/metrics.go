package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every collector, including the echo HTTP metrics registered in app
const Namespace = "httpjobs"

var (
	// JobsSubmittedCounter counts accepted submissions per strategy ("async", "bg")
	JobsSubmittedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "jobs_submitted_total",
		Help:      "Total number of jobs accepted by the dispatcher",
	}, []string{"strategy"})

	// JobsRejectedCounter counts refused submissions by reason: invalid, capacity, shutdown
	JobsRejectedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "jobs_rejected_total",
		Help:      "Total number of submissions refused by the dispatcher",
	}, []string{"strategy", "reason"})

	// JobsCompletedCounter counts finished jobs by outcome: done, failed, cancelled
	JobsCompletedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "jobs_completed_total",
		Help:      "Total number of jobs that reached a terminal state",
	}, []string{"strategy", "outcome"})

	// JobsRunningGauge tracks jobs whose transport call is in progress
	JobsRunningGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "jobs_running",
		Help:      "Current number of jobs executing an HTTP request",
	}, []string{"strategy"})

	// JobsOutstandingGauge tracks submitted jobs not yet collected by a poll
	JobsOutstandingGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "jobs_outstanding",
		Help:      "Current number of submitted jobs whose result has not been collected",
	}, []string{"strategy"})

	// TransportDurationHistogram observes wall time of each job's HTTP exchange
	TransportDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "transport_duration_seconds",
		Help:      "Duration of HTTP requests executed for jobs",
		Buckets:   prometheus.DefBuckets,
	}, []string{"strategy"})

	// QueueDepthGauge tracks the current depth of the worker pool task queue
	QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "worker_pool_queue_depth",
		Help:      "Current number of tasks waiting in the worker pool queue",
	})

	// ActiveWorkersGauge tracks the number of workers currently running a task
	ActiveWorkersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "worker_pool_active_workers",
		Help:      "Current number of workers actively running a task",
	})

	// WorkerPanicsCounter counts tasks that panicked inside a worker
	WorkerPanicsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "worker_pool_panics_total",
		Help:      "Total number of recovered panics in worker pool tasks",
	})
)
