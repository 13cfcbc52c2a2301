// Package client implements the outbound agent-to-coordinator protocol.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/modelyard/modelyard/pkg/api"
	"github.com/modelyard/modelyard/pkg/config"
	"github.com/modelyard/modelyard/pkg/sysinfo"
	"go.uber.org/zap"
)

// ErrUnauthorized is returned when the coordinator rejects the agent token.
// Callers react by re-registering, not by crashing.
var ErrUnauthorized = errors.New("unauthorized: agent token rejected")

// tokenHeader is the custom header carrying the per-agent token.
const tokenHeader = "X-Agent-Token"

// requestTimeout bounds every coordinator request so a network partition
// cannot hang a loop tick indefinitely.
const requestTimeout = 30 * time.Second

// CoordinatorClient communicates with the coordinator over JSON/HTTP.
type CoordinatorClient struct {
	cfg        *config.Config
	collector  *sysinfo.Collector
	logger     *zap.Logger
	httpClient *http.Client

	token  string
	nodeID string
}

// New creates a coordinator client, loading any previously persisted token.
func New(cfg *config.Config, collector *sysinfo.Collector, logger *zap.Logger) *CoordinatorClient {
	c := &CoordinatorClient{
		cfg:       cfg,
		collector: collector,
		logger:    logger,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		token: cfg.LoadToken(),
	}
	// A saved token implies a completed registration under this node name.
	if c.token != "" {
		c.nodeID = cfg.NodeName
	}
	return c
}

// NodeID returns the registered node identifier.
func (c *CoordinatorClient) NodeID() string {
	return c.nodeID
}

// Token returns the current agent token.
func (c *CoordinatorClient) Token() string {
	return c.token
}

// Register enrolls this node with the coordinator and persists the returned
// token. Registration is the only request allowed to run without a token.
func (c *CoordinatorClient) Register(ctx context.Context) error {
	snapshot := c.collector.Collect(c.cfg.StoragePath)

	// In dev mode the coordinator reaches this node via localhost.
	hostname := c.cfg.NodeHostname
	if c.cfg.DevMode {
		hostname = "localhost"
	}

	storagePath := c.cfg.StoragePath
	req := api.RegisterRequest{
		NodeID:         c.cfg.NodeName,
		Name:           c.cfg.NodeName,
		Host:           c.cfg.NodeHostname,
		Hostname:       hostname,
		Port:           8001,
		AgentPort:      c.cfg.APIPort,
		StoragePath:    &storagePath,
		CPUCount:       snapshot.CPUCount,
		MemoryTotalGB:  snapshot.MemoryTotalGB,
		GPUCount:       snapshot.GPUCount,
		GPUInfo:        snapshot.GPUInfo,
		StorageTotalGB: snapshot.StorageTotalGB,
		StorageUsedGB:  snapshot.StorageUsedGB,
	}

	var resp api.RegisterResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/nodes/register", req, &resp, false); err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	c.token = resp.Token
	c.nodeID = c.cfg.NodeName

	if err := c.cfg.SaveToken(c.token); err != nil {
		// The in-memory token still works; losing the file only costs a
		// re-registration after restart.
		c.logger.Warn("Failed to persist agent token", zap.Error(err))
	}

	return nil
}

// Heartbeat reports liveness and the current resource snapshot.
func (c *CoordinatorClient) Heartbeat(ctx context.Context) error {
	if c.nodeID == "" {
		return fmt.Errorf("not registered")
	}

	snapshot := c.collector.Collect(c.cfg.StoragePath)
	req := api.HeartbeatRequest{
		Status:         "online",
		CPUCount:       snapshot.CPUCount,
		MemoryTotalGB:  snapshot.MemoryTotalGB,
		GPUCount:       snapshot.GPUCount,
		GPUInfo:        snapshot.GPUInfo,
		StorageTotalGB: snapshot.StorageTotalGB,
		StorageUsedGB:  snapshot.StorageUsedGB,
	}

	path := fmt.Sprintf("/api/v1/nodes/%s/heartbeat", c.nodeID)
	return c.doRequest(ctx, http.MethodPost, path, req, nil, true)
}

// FetchPendingJobs retrieves the job queue for this node. An empty queue is
// not an error.
func (c *CoordinatorClient) FetchPendingJobs(ctx context.Context) ([]api.Job, error) {
	var jobs []api.Job
	path := fmt.Sprintf("/api/v1/jobs/queue/%s", c.nodeID)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &jobs, true); err != nil {
		return nil, err
	}
	return jobs, nil
}

// UpdateJobStatus reports a job transition or terminal status. Best-effort:
// the caller logs failures and moves on.
func (c *CoordinatorClient) UpdateJobStatus(ctx context.Context, jobID int, status string, exitCode *int, errorMsg *string) error {
	req := api.JobStatusUpdate{
		Status:       status,
		ExitCode:     exitCode,
		ErrorMessage: errorMsg,
	}

	path := fmt.Sprintf("/api/v1/jobs/%d/status", jobID)
	return c.doRequest(ctx, http.MethodPost, path, req, nil, true)
}

// ReportDatasets uploads the full dataset inventory. An empty inventory
// performs no network call.
func (c *CoordinatorClient) ReportDatasets(ctx context.Context, datasets []api.DatasetInfo) error {
	if len(datasets) == 0 {
		return nil
	}

	req := api.ReportDatasetsRequest{Datasets: datasets}
	return c.doRequest(ctx, http.MethodPost, "/api/v1/datasets/batch", req, nil, true)
}

// UpdateProjectStatus reports the outcome of a delegated file operation.
func (c *CoordinatorClient) UpdateProjectStatus(ctx context.Context, projectID int64, status, message, localPath string) error {
	req := api.ProjectStatusUpdate{
		Status:    status,
		Message:   message,
		LocalPath: localPath,
	}
	path := fmt.Sprintf("/api/v1/internal/projects/%d/status", projectID)
	return c.doRequest(ctx, http.MethodPost, path, req, nil, true)
}

// doRequest performs one JSON request against the coordinator.
func (c *CoordinatorClient) doRequest(ctx context.Context, method, path string, body, result any, useToken bool) error {
	url := c.cfg.CoordinatorURL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if useToken && c.token != "" {
		req.Header.Set(tokenHeader, c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
