package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Coordinator client metrics
var (
	HeartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelyard_agent_heartbeats_total",
			Help: "Total number of heartbeats sent to the coordinator",
		},
		[]string{"result"}, // success, failure
	)

	RegistrationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "modelyard_agent_registrations_total",
			Help: "Total number of registration attempts against the coordinator",
		},
	)
)

// Executor metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelyard_agent_jobs_total",
			Help: "Total number of jobs executed by terminal status",
		},
		[]string{"status"}, // completed, failed, cancelled
	)

	RunningJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelyard_agent_running_jobs",
			Help: "Number of jobs currently running on this node",
		},
	)

	JobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelyard_agent_job_duration_seconds",
			Help:    "Wall-clock duration of job executions in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		},
		[]string{"environment"}, // system, container, conda, venv
	)
)

// Dataset scanner metrics
var (
	DatasetScansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "modelyard_agent_dataset_scans_total",
			Help: "Total number of dataset scan cycles",
		},
	)

	DatasetsReported = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelyard_agent_datasets_reported",
			Help: "Number of datasets found in the most recent scan",
		},
	)
)

// Local operation server metrics
var (
	ProjectOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelyard_agent_project_operations_total",
			Help: "Total number of project operations handled by kind and result",
		},
		[]string{"operation", "result"}, // clone/pull/status/delete, success/failure/rejected
	)
)
