package agent_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/modelyard/modelyard/pkg/agent"
	"github.com/modelyard/modelyard/pkg/api"
	"github.com/modelyard/modelyard/pkg/client"
	"github.com/modelyard/modelyard/pkg/config"
	"github.com/modelyard/modelyard/pkg/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockCoordinator implements the Coordinator interface with scripted
// responses and call counting.
type mockCoordinator struct {
	mu sync.Mutex

	token        string
	registerErr  error
	heartbeatErr error
	pendingJobs  []api.Job

	registerCalls  int
	heartbeatCalls int
	statusUpdates  []string
	reported       [][]api.DatasetInfo
}

func (m *mockCoordinator) Register(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerCalls++
	if m.registerErr != nil {
		return m.registerErr
	}
	m.token = "issued-token"
	return nil
}

func (m *mockCoordinator) Heartbeat(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeatCalls++
	return m.heartbeatErr
}

func (m *mockCoordinator) FetchPendingJobs(_ context.Context) ([]api.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := m.pendingJobs
	m.pendingJobs = nil
	return jobs, nil
}

func (m *mockCoordinator) UpdateJobStatus(_ context.Context, _ int, status string, _ *int, _ *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusUpdates = append(m.statusUpdates, status)
	return nil
}

func (m *mockCoordinator) ReportDatasets(_ context.Context, datasets []api.DatasetInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reported = append(m.reported, datasets)
	return nil
}

func (m *mockCoordinator) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *mockCoordinator) NodeID() string { return "worker-001" }

func (m *mockCoordinator) counts() (registers, heartbeats int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registerCalls, m.heartbeatCalls
}

func (m *mockCoordinator) updates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statusUpdates...)
}

// mockRunner returns a fixed result for every job.
type mockRunner struct {
	mu        sync.Mutex
	result    executor.Result
	executed  []int
	cancelled bool
}

func (m *mockRunner) Execute(_ context.Context, job api.Job) executor.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executed = append(m.executed, job.ID)
	return m.result
}

func (m *mockRunner) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = true
}

func (m *mockRunner) wasCancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

// mockScanner returns a fixed inventory.
type mockScanner struct {
	datasets []api.DatasetInfo
}

func (m *mockScanner) Scan(_ string) []api.DatasetInfo { return m.datasets }

func testLoopConfig() *config.Config {
	return &config.Config{
		HeartbeatInterval:   time.Hour,
		JobPollInterval:     10 * time.Millisecond,
		DatasetScanInterval: time.Hour,
		DatasetsPath:        "/data/datasets",
	}
}

func TestEnsureRegistered_SkipsWithPersistedToken(t *testing.T) {
	coord := &mockCoordinator{token: "persisted"}
	a := agent.New(testLoopConfig(), coord, &mockRunner{}, &mockScanner{}, zap.NewNop())

	require.NoError(t, a.EnsureRegistered(context.Background()))

	registers, _ := coord.counts()
	assert.Zero(t, registers)
}

func TestEnsureRegistered_RegistersWhenNoToken(t *testing.T) {
	coord := &mockCoordinator{}
	a := agent.New(testLoopConfig(), coord, &mockRunner{}, &mockScanner{}, zap.NewNop())

	require.NoError(t, a.EnsureRegistered(context.Background()))

	registers, _ := coord.counts()
	assert.Equal(t, 1, registers)
	assert.Equal(t, "issued-token", coord.Token())
}

func TestEnsureRegistered_CancelledContextStopsRetrying(t *testing.T) {
	coord := &mockCoordinator{registerErr: errors.New("connection refused")}
	a := agent.New(testLoopConfig(), coord, &mockRunner{}, &mockScanner{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.EnsureRegistered(ctx)
	require.ErrorIs(t, err, context.Canceled)

	registers, _ := coord.counts()
	assert.Zero(t, registers)
}

func TestRun_HeartbeatUnauthorizedTriggersReRegistration(t *testing.T) {
	coord := &mockCoordinator{
		token:        "revoked",
		heartbeatErr: client.ErrUnauthorized,
	}
	runner := &mockRunner{}
	cfg := testLoopConfig()
	cfg.JobPollInterval = time.Hour

	a := agent.New(cfg, coord, runner, &mockScanner{}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := a.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Only the initial heartbeat fires within the window; it fails with 401
	// and triggers exactly one re-registration.
	registers, heartbeats := coord.counts()
	assert.Equal(t, 1, heartbeats)
	assert.Equal(t, 1, registers)
	assert.True(t, runner.wasCancelled(), "shutdown should cancel running jobs")
}

func TestRun_ExecutesPendingJobsAndReportsResults(t *testing.T) {
	coord := &mockCoordinator{
		token:       "t",
		pendingJobs: []api.Job{{ID: 7, Name: "train", Command: "true"}},
	}
	runner := &mockRunner{result: executor.Result{ExitCode: 0}}

	a := agent.New(testLoopConfig(), coord, runner, &mockScanner{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		assert.Eventually(t, func() bool {
			return len(coord.updates()) > 0
		}, 5*time.Second, 10*time.Millisecond, "job result was never reported")
	}()

	a.Run(ctx)

	assert.Equal(t, []string{api.JobStatusCompleted}, coord.updates())
}

func TestRun_ReportsCancelledAndFailedJobs(t *testing.T) {
	tests := []struct {
		name   string
		result executor.Result
		want   string
	}{
		{"cancelled", executor.Result{ExitCode: -1, Cancelled: true}, api.JobStatusCancelled},
		{"failed", executor.Result{ExitCode: 3, ErrorMessage: "boom"}, api.JobStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord := &mockCoordinator{
				token:       "t",
				pendingJobs: []api.Job{{ID: 9, Name: "train"}},
			}
			runner := &mockRunner{result: tt.result}
			a := agent.New(testLoopConfig(), coord, runner, &mockScanner{}, zap.NewNop())

			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				defer cancel()
				assert.Eventually(t, func() bool {
					return len(coord.updates()) > 0
				}, 5*time.Second, 10*time.Millisecond)
			}()

			a.Run(ctx)
			assert.Equal(t, []string{tt.want}, coord.updates())
		})
	}
}

func TestRun_ReportsScannedDatasets(t *testing.T) {
	size := int64(100)
	coord := &mockCoordinator{token: "t"}
	scanner := &mockScanner{datasets: []api.DatasetInfo{
		{Name: "mnist", LocalPath: "/data/datasets/mnist", SizeBytes: &size},
	}}

	cfg := testLoopConfig()
	cfg.JobPollInterval = time.Hour

	a := agent.New(cfg, coord, &mockRunner{}, scanner, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	a.Run(ctx)

	coord.mu.Lock()
	defer coord.mu.Unlock()
	require.Len(t, coord.reported, 1)
	assert.Equal(t, "mnist", coord.reported[0][0].Name)
}
