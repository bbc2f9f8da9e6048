package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jobsTotal counts job transitions by the state entered
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheet_jobs_total",
			Help: "Total number of job transitions by resulting state",
		},
		[]string{"state"}, // "pending", "ready", "failed"
	)

	jobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sheet_jobs_in_flight",
			Help: "Jobs accepted but not yet finished",
		},
	)

	jobsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sheet_jobs_evicted_total",
			Help: "Finished jobs evicted after their TTL",
		},
	)
)
