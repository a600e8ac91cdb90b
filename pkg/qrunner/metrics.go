package qrunner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qci",
		Name:      "runs_total",
		Help:      "Finished runs by final status.",
	}, []string{"status"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "qci",
		Name:      "run_duration_seconds",
		Help:      "Wall time from start to finish of a run.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"status"})

	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qci",
		Name:      "tasks_total",
		Help:      "Tasks that ran to completion, by result.",
	}, []string{"result"})

	taskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "qci",
		Name:      "task_duration_seconds",
		Help:      "Wall time of a single task.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	})

	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "qci",
		Name:      "active_runs",
		Help:      "Runs currently executing in this process.",
	})
)
