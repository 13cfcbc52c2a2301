// Package api defines the wire types shared between the agent, the
// coordinator client, and the local operation server.
package api

// Environment kinds a job can request.
const (
	EnvSystem    = "system"
	EnvContainer = "container"
	EnvConda     = "conda"
	EnvVenv      = "venv"
)

// Job statuses reported to the coordinator.
const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Job is a unit of executable work assigned to this node.
type Job struct {
	ID               int               `json:"id"`
	Name             string            `json:"name"`
	Command          string            `json:"command"`
	Environment      string            `json:"environment"`
	EnvConfig        map[string]any    `json:"env_config"`
	EnvironmentVars  map[string]string `json:"environment_vars"`
	WorkingDirectory string            `json:"working_directory"`
	TimeoutSeconds   int               `json:"timeout_seconds"`
}

// JobStatusUpdate is the payload for a job status transition.
type JobStatusUpdate struct {
	Status       string  `json:"status"`
	ExitCode     *int    `json:"exit_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

// DatasetInfo describes one scanned dataset directory.
type DatasetInfo struct {
	Name        string  `json:"name"`
	LocalPath   string  `json:"local_path"`
	SizeBytes   *int64  `json:"size_bytes,omitempty"`
	FileCount   *int    `json:"file_count,omitempty"`
	Format      *string `json:"format,omitempty"`
	Description *string `json:"description,omitempty"`
}

// RegisterRequest is the payload for node registration.
type RegisterRequest struct {
	NodeID         string  `json:"node_id"`
	Name           string  `json:"name"`
	Host           string  `json:"host"`
	Hostname       string  `json:"hostname,omitempty"`
	Port           int     `json:"port"`
	AgentPort      int     `json:"agent_port"`
	StoragePath    *string `json:"storage_path,omitempty"`
	CPUCount       int     `json:"cpu_count"`
	MemoryTotalGB  *int    `json:"memory_total_gb"`
	GPUCount       int     `json:"gpu_count"`
	GPUInfo        *string `json:"gpu_info"`
	StorageTotalGB *int    `json:"storage_total_gb"`
	StorageUsedGB  *int    `json:"storage_used_gb"`
}

// RegisterResponse is the coordinator's answer to a registration.
type RegisterResponse struct {
	Node    map[string]any `json:"node"`
	Token   string         `json:"token"`
	Message string         `json:"message"`
}

// HeartbeatRequest is the payload for a liveness report.
type HeartbeatRequest struct {
	Status         string  `json:"status"`
	CPUCount       int     `json:"cpu_count"`
	MemoryTotalGB  *int    `json:"memory_total_gb"`
	GPUCount       int     `json:"gpu_count"`
	GPUInfo        *string `json:"gpu_info"`
	StorageTotalGB *int    `json:"storage_total_gb"`
	StorageUsedGB  *int    `json:"storage_used_gb"`
}

// ReportDatasetsRequest is the payload for a dataset inventory report.
type ReportDatasetsRequest struct {
	Datasets []DatasetInfo `json:"datasets"`
}

// ProjectStatusUpdate is the callback payload for delegated file operations.
type ProjectStatusUpdate struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LocalPath string `json:"local_path,omitempty"`
}

// CloneRequest asks this node to clone a project repository.
type CloneRequest struct {
	ProjectID int64  `json:"project_id"`
	GitURL    string `json:"git_url"`
	Branch    string `json:"branch"`
	// TargetPath is relative to the node's projects root.
	TargetPath string `json:"target_path"`
}

// CloneAccepted is returned when an async clone has been started.
type CloneAccepted struct {
	ProjectID   int64  `json:"project_id"`
	OperationID string `json:"operation_id"`
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	LocalPath   string `json:"local_path,omitempty"`
}

// PullRequest asks this node to pull a project working tree.
type PullRequest struct {
	ProjectPath string `json:"project_path"`
	Branch      string `json:"branch"`
}

// DeleteRequest asks this node to delete a project working tree.
type DeleteRequest struct {
	ProjectPath string `json:"project_path"`
}

// OperationResult is the generic synchronous operation outcome.
type OperationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
