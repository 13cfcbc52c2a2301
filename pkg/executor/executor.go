// Package executor runs jobs across the supported environment backends and
// owns their process lifecycle.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/modelyard/modelyard/pkg/api"
	"github.com/modelyard/modelyard/pkg/observability"
	"go.uber.org/zap"
)

const (
	// defaultTimeout caps jobs that declare no timeout.
	defaultTimeout = time.Hour
	// killGracePeriod is how long a cancelled process gets to exit after
	// SIGTERM before it is force-killed.
	killGracePeriod = 10 * time.Second
	// maxErrorLength bounds the diagnostic text reported to the
	// coordinator; full logs are not preserved here.
	maxErrorLength = 1000
)

// StatusReporter is the slice of the coordinator client the executor needs.
type StatusReporter interface {
	UpdateJobStatus(ctx context.Context, jobID int, status string, exitCode *int, errorMsg *string) error
}

// Result is the terminal outcome of one job execution.
type Result struct {
	ExitCode     int
	ErrorMessage string
	Cancelled    bool
}

// Executor dispatches jobs to environment backends and tracks their
// processes in an injected registry.
type Executor struct {
	workspace string
	registry  *Registry
	reporter  StatusReporter
	logger    *zap.Logger
}

// New creates a job executor. workspace is the root for derived working
// directories.
func New(workspace string, registry *Registry, reporter StatusReporter, logger *zap.Logger) *Executor {
	return &Executor{
		workspace: workspace,
		registry:  registry,
		reporter:  reporter,
		logger:    logger,
	}
}

// Execute runs a job to completion and returns its result. A backend failure
// terminates only this job, never the agent.
func (e *Executor) Execute(ctx context.Context, job api.Job) Result {
	if err := e.reporter.UpdateJobStatus(ctx, job.ID, api.JobStatusRunning, nil, nil); err != nil {
		e.logger.Warn("Failed to report job as running",
			zap.Int("job_id", job.ID),
			zap.Error(err),
		)
	}

	workDir := job.WorkingDirectory
	if workDir == "" {
		workDir = filepath.Join(e.workspace, fmt.Sprintf("job_%d", job.ID))
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return Result{
			ExitCode:     -1,
			ErrorMessage: fmt.Sprintf("failed to create work directory: %v", err),
		}
	}

	timeout := time.Duration(job.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result := e.run(ctx, job, buildCommand(job, workDir))
	observability.JobDurationSeconds.WithLabelValues(environmentLabel(job.Environment)).
		Observe(time.Since(start).Seconds())

	switch {
	case result.Cancelled:
		observability.JobsTotal.WithLabelValues(api.JobStatusCancelled).Inc()
	case result.ExitCode == 0:
		observability.JobsTotal.WithLabelValues(api.JobStatusCompleted).Inc()
	default:
		observability.JobsTotal.WithLabelValues(api.JobStatusFailed).Inc()
	}

	return result
}

// run spawns the resolved command, registers its handle for cancellation and
// blocks until exit. The registry entry is removed on the way out so
// cancellation always sees a consistent view.
func (e *Executor) run(ctx context.Context, job api.Job, command Command) Result {
	cmd := exec.CommandContext(ctx, command.Name, command.Args...)
	cmd.Dir = command.Dir
	cmd.Env = buildEnv(job.EnvironmentVars)

	// Run the job in its own process group and kill the whole group on
	// context expiry. Killing only the shell would leave its children alive
	// holding the output pipes, and Wait would block until they exit on
	// their own. WaitDelay is the backstop for children that survive the
	// group kill.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = killGracePeriod
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	// exec collapses identical Stdout/Stderr writers onto one pipe, so a
	// plain buffer is safe here.
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Start(); err != nil {
		// A command that cannot start is reported like a non-zero exit.
		return Result{ExitCode: -1, ErrorMessage: err.Error()}
	}

	h := &handle{
		process: cmd.Process,
		done:    make(chan struct{}),
	}
	e.registry.add(job.ID, h)
	observability.RunningJobs.Inc()

	defer func() {
		close(h.done)
		e.registry.remove(job.ID)
		observability.RunningJobs.Dec()
	}()

	err := cmd.Wait()
	if err != nil {
		exitCode := -1
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
		}
		errMsg := truncate(output.String(), maxErrorLength)
		if errMsg == "" {
			errMsg = err.Error()
		}
		return Result{
			ExitCode:     exitCode,
			ErrorMessage: errMsg,
			Cancelled:    h.wasCancelled(),
		}
	}

	return Result{ExitCode: 0}
}

// Cancel terminates a running job: SIGTERM first, then SIGKILL after the
// grace period. Returns false if the job is not currently tracked.
func (e *Executor) Cancel(jobID int) bool {
	h, ok := e.registry.get(jobID)
	if !ok || h.process == nil {
		return false
	}

	h.markCancelled()
	e.logger.Info("Cancelling job", zap.Int("job_id", jobID))

	// Signal the process group so the shell's children terminate too.
	pgid := h.process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		syscall.Kill(-pgid, syscall.SIGKILL)
	}

	select {
	case <-h.done:
	case <-time.After(killGracePeriod):
		e.logger.Warn("Job ignored SIGTERM, force killing",
			zap.Int("job_id", jobID),
		)
		syscall.Kill(-pgid, syscall.SIGKILL)
		<-h.done
	}

	return true
}

// CancelAll cancels every tracked job. Used only at agent shutdown.
func (e *Executor) CancelAll() {
	for _, id := range e.registry.IDs() {
		e.Cancel(id)
	}
}

// buildEnv extends the process environment with the job's variables.
func buildEnv(envVars map[string]string) []string {
	env := os.Environ()
	return append(env, sortedEnv(envVars)...)
}

// sortedEnv renders KEY=VALUE pairs in key order so command construction is
// deterministic.
func sortedEnv(envVars map[string]string) []string {
	keys := make([]string, 0, len(envVars))
	for k := range envVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, envVars[k]))
	}
	return pairs
}

func environmentLabel(env string) string {
	switch env {
	case api.EnvContainer, api.EnvConda, api.EnvVenv:
		return env
	default:
		return api.EnvSystem
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
