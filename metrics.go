package reentry

import "github.com/prometheus/client_golang/prometheus"

var (
	tasksSpawned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reentry_tasks_spawned_total",
			Help: "Total number of tasks registered in the task table.",
		},
	)

	tasksCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reentry_tasks_completed_total",
			Help: "Total number of tasks that completed successfully.",
		},
	)

	tasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reentry_tasks_failed_total",
			Help: "Total number of tasks that reached the failed state.",
		},
	)

	eventsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reentry_events_delivered_total",
			Help: "Total number of reactor events delivered directly to their target task.",
		},
	)

	eventsDeferred = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reentry_events_deferred_total",
			Help: "Total number of reactor events buffered because their target task was frozen.",
		},
	)

	eventsReplayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reentry_events_replayed_total",
			Help: "Total number of buffered events replayed after their target task unfroze.",
		},
	)

	nestedDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reentry_nested_frames_active",
			Help: "Number of scheduler frames currently active, outer run included.",
		},
	)
)

func init() {
	prometheus.MustRegister(tasksSpawned)
	prometheus.MustRegister(tasksCompleted)
	prometheus.MustRegister(tasksFailed)
	prometheus.MustRegister(eventsDelivered)
	prometheus.MustRegister(eventsDeferred)
	prometheus.MustRegister(eventsReplayed)
	prometheus.MustRegister(nestedDepth)
}
