// Package config holds the agent configuration and the persisted token.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the agent configuration
type Config struct {
	// Coordinator connection
	CoordinatorURL string

	// Node identification
	NodeName     string
	NodeHostname string

	// Timing
	HeartbeatInterval   time.Duration
	JobPollInterval     time.Duration
	DatasetScanInterval time.Duration

	// Paths
	StoragePath   string
	DatasetsPath  string
	JobsWorkspace string
	ProjectsPath  string
	LogPath       string

	// Token management
	AgentToken string
	TokenFile  string

	// Local API and metrics
	APIPort     int
	MetricsAddr string

	// Logging
	LogLevel string

	// Development mode: advertise localhost as the reachable host
	DevMode bool
}

// FromViper builds a Config from the bound viper keys.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		CoordinatorURL:      v.GetString("coordinator_url"),
		NodeName:            v.GetString("node_name"),
		NodeHostname:        v.GetString("node_hostname"),
		HeartbeatInterval:   time.Duration(v.GetInt("heartbeat_interval")) * time.Second,
		JobPollInterval:     time.Duration(v.GetInt("job_poll_interval")) * time.Second,
		DatasetScanInterval: time.Duration(v.GetInt("dataset_scan_interval")) * time.Second,
		StoragePath:         v.GetString("storage_path"),
		DatasetsPath:        v.GetString("datasets_path"),
		JobsWorkspace:       v.GetString("jobs_workspace"),
		ProjectsPath:        v.GetString("projects_path"),
		LogPath:             v.GetString("log_path"),
		AgentToken:          v.GetString("token"),
		TokenFile:           v.GetString("token_file"),
		APIPort:             v.GetInt("api_port"),
		MetricsAddr:         v.GetString("metrics_addr"),
		LogLevel:            v.GetString("log_level"),
		DevMode:             v.GetBool("dev_mode"),
	}
}

// Validate validates the configuration and fills defaults
func (c *Config) Validate() error {
	if c.CoordinatorURL == "" {
		return fmt.Errorf("coordinator URL is required")
	}
	c.CoordinatorURL = strings.TrimSuffix(c.CoordinatorURL, "/")

	if c.NodeName == "" {
		return fmt.Errorf("node name is required")
	}
	if c.NodeHostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("node hostname not set and could not be detected: %w", err)
		}
		c.NodeHostname = hostname
	}

	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.JobPollInterval <= 0 {
		c.JobPollInterval = 10 * time.Second
	}
	if c.DatasetScanInterval <= 0 {
		c.DatasetScanInterval = 5 * time.Minute
	}

	if c.StoragePath == "" {
		c.StoragePath = "/data"
	}
	if c.DatasetsPath == "" {
		c.DatasetsPath = filepath.Join(c.StoragePath, "datasets")
	}
	if c.JobsWorkspace == "" {
		c.JobsWorkspace = filepath.Join(c.StoragePath, "jobs")
	}
	if c.ProjectsPath == "" {
		c.ProjectsPath = filepath.Join(c.StoragePath, "projects")
	}

	if c.TokenFile == "" {
		c.TokenFile = "/etc/modelyard/token"
	}
	if c.APIPort <= 0 {
		c.APIPort = 8001
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	return nil
}

// LoadToken returns the agent token, preferring the environment-provided value
// over the token file. Returns an empty string when neither is available.
func (c *Config) LoadToken() string {
	if c.AgentToken != "" {
		return c.AgentToken
	}

	data, err := os.ReadFile(c.TokenFile)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

// SaveToken persists the agent token to the token file with owner-only
// permissions. The token file is the only on-disk agent state.
func (c *Config) SaveToken(token string) error {
	dir := filepath.Dir(c.TokenFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	if err := os.WriteFile(c.TokenFile, []byte(token), 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}

	return nil
}
