// Package agent ties the node components together under a single scheduling
// loop.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelyard/modelyard/pkg/api"
	"github.com/modelyard/modelyard/pkg/client"
	"github.com/modelyard/modelyard/pkg/config"
	"github.com/modelyard/modelyard/pkg/executor"
	"github.com/modelyard/modelyard/pkg/observability"
	"go.uber.org/zap"
)

const (
	// registration retry policy; exhausting it is fatal to startup.
	maxRegisterAttempts = 5
	registerBackoff     = 5 * time.Second
)

// Coordinator is the slice of the coordinator client the loop drives.
type Coordinator interface {
	Register(ctx context.Context) error
	Heartbeat(ctx context.Context) error
	FetchPendingJobs(ctx context.Context) ([]api.Job, error)
	UpdateJobStatus(ctx context.Context, jobID int, status string, exitCode *int, errorMsg *string) error
	ReportDatasets(ctx context.Context, datasets []api.DatasetInfo) error
	Token() string
	NodeID() string
}

// JobRunner executes jobs and supports shutdown cancellation.
type JobRunner interface {
	Execute(ctx context.Context, job api.Job) executor.Result
	CancelAll()
}

// DatasetScanner produces the dataset inventory.
type DatasetScanner interface {
	Scan(basePath string) []api.DatasetInfo
}

// Agent drives the periodic heartbeat, job poll and dataset scan actions.
// Each tick runs synchronously in the loop; slow actions delay later ticks
// but never overlap with themselves.
type Agent struct {
	cfg     *config.Config
	coord   Coordinator
	runner  JobRunner
	scanner DatasetScanner
	logger  *zap.Logger
}

// New creates an agent loop over the given components.
func New(cfg *config.Config, coord Coordinator, runner JobRunner, scanner DatasetScanner, logger *zap.Logger) *Agent {
	return &Agent{
		cfg:     cfg,
		coord:   coord,
		runner:  runner,
		scanner: scanner,
		logger:  logger,
	}
}

// EnsureRegistered registers with the coordinator when no token is present,
// retrying with a fixed backoff. Exhausting the attempts is fatal to startup.
func (a *Agent) EnsureRegistered(ctx context.Context) error {
	if a.coord.Token() != "" {
		a.logger.Info("Using persisted agent token", zap.String("node_id", a.coord.NodeID()))
		return nil
	}

	a.logger.Info("No token found, registering with coordinator")

	for attempt := 1; attempt <= maxRegisterAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		observability.RegistrationsTotal.Inc()
		err := a.coord.Register(ctx)
		if err == nil {
			a.logger.Info("Registered successfully", zap.String("node_id", a.coord.NodeID()))
			return nil
		}

		a.logger.Warn("Registration attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxRegisterAttempts),
			zap.Error(err),
		)

		if attempt < maxRegisterAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(registerBackoff):
			}
		}
	}

	return fmt.Errorf("failed to register after %d attempts", maxRegisterAttempts)
}

// Run executes the main loop until the context is cancelled, then cancels
// all running jobs.
func (a *Agent) Run(ctx context.Context) error {
	heartbeatTicker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	jobPollTicker := time.NewTicker(a.cfg.JobPollInterval)
	defer jobPollTicker.Stop()

	datasetScanTicker := time.NewTicker(a.cfg.DatasetScanInterval)
	defer datasetScanTicker.Stop()

	a.sendHeartbeat(ctx)
	a.scanDatasets(ctx)

	a.logger.Info("Agent started, entering main loop")

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Cancelling running jobs")
			a.runner.CancelAll()
			return ctx.Err()

		case <-heartbeatTicker.C:
			a.sendHeartbeat(ctx)

		case <-jobPollTicker.C:
			a.processJobs(ctx)

		case <-datasetScanTicker.C:
			a.scanDatasets(ctx)
		}
	}
}

// sendHeartbeat reports liveness. A 401 means the token was revoked or
// rotated; one re-registration attempt is made before the next tick.
func (a *Agent) sendHeartbeat(ctx context.Context) {
	err := a.coord.Heartbeat(ctx)
	if err == nil {
		observability.HeartbeatsTotal.WithLabelValues("success").Inc()
		a.logger.Debug("Heartbeat sent")
		return
	}

	observability.HeartbeatsTotal.WithLabelValues("failure").Inc()
	a.logger.Error("Heartbeat failed", zap.Error(err))

	if errors.Is(err, client.ErrUnauthorized) {
		a.logger.Warn("Token rejected, attempting re-registration")
		observability.RegistrationsTotal.Inc()
		if regErr := a.coord.Register(ctx); regErr != nil {
			a.logger.Error("Re-registration failed", zap.Error(regErr))
		}
	}
}

// processJobs fetches the pending queue and executes each job to completion,
// reporting its terminal status. Jobs run sequentially inside the poll tick:
// a long job delays heartbeats and further polls until it finishes, and the
// coordinator sees at most one running job per node at a time. A job failure
// never terminates the agent.
func (a *Agent) processJobs(ctx context.Context) {
	jobs, err := a.coord.FetchPendingJobs(ctx)
	if err != nil {
		a.logger.Error("Failed to fetch jobs", zap.Error(err))
		return
	}

	for _, job := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		a.logger.Info("Executing job",
			zap.Int("job_id", job.ID),
			zap.String("name", job.Name),
			zap.String("environment", job.Environment),
		)

		result := a.runner.Execute(ctx, job)
		a.reportJobResult(ctx, job, result)
	}
}

func (a *Agent) reportJobResult(ctx context.Context, job api.Job, result executor.Result) {
	var status string
	switch {
	case result.Cancelled:
		status = api.JobStatusCancelled
	case result.ExitCode == 0:
		status = api.JobStatusCompleted
	default:
		status = api.JobStatusFailed
	}

	exitCode := result.ExitCode
	var errMsg *string
	if result.ErrorMessage != "" {
		errMsg = &result.ErrorMessage
	}

	if err := a.coord.UpdateJobStatus(ctx, job.ID, status, &exitCode, errMsg); err != nil {
		// A lost status update must not crash the agent; the coordinator
		// reconciles on its side.
		a.logger.Error("Failed to update job status",
			zap.Int("job_id", job.ID),
			zap.String("status", status),
			zap.Error(err),
		)
	}

	if status == api.JobStatusCompleted {
		a.logger.Info("Job completed", zap.Int("job_id", job.ID))
	} else {
		a.logger.Error("Job did not complete",
			zap.Int("job_id", job.ID),
			zap.String("status", status),
			zap.Int("exit_code", result.ExitCode),
			zap.String("error", result.ErrorMessage),
		)
	}
}

// scanDatasets rebuilds and reports the dataset inventory. An empty
// inventory is skipped by the client without a network call.
func (a *Agent) scanDatasets(ctx context.Context) {
	a.logger.Info("Scanning datasets", zap.String("path", a.cfg.DatasetsPath))

	datasets := a.scanner.Scan(a.cfg.DatasetsPath)
	observability.DatasetScansTotal.Inc()
	observability.DatasetsReported.Set(float64(len(datasets)))

	if len(datasets) == 0 {
		a.logger.Info("No datasets found")
		return
	}

	if err := a.coord.ReportDatasets(ctx, datasets); err != nil {
		a.logger.Error("Failed to report datasets", zap.Error(err))
		return
	}

	a.logger.Info("Reported datasets", zap.Int("count", len(datasets)))
}
