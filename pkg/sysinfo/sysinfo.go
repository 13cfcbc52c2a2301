// Package sysinfo samples node resource capacity for registration and
// heartbeat reports.
package sysinfo

import (
	"bytes"
	"os/exec"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

const bytesPerGB = 1024 * 1024 * 1024

// Snapshot represents a point-in-time view of node resources.
// Pointer fields stay nil when the underlying probe is unavailable.
type Snapshot struct {
	CPUCount       int     `json:"cpu_count"`
	MemoryTotalGB  *int    `json:"memory_total_gb"`
	GPUCount       int     `json:"gpu_count"`
	GPUInfo        *string `json:"gpu_info"`
	StorageTotalGB *int    `json:"storage_total_gb"`
	StorageUsedGB  *int    `json:"storage_used_gb"`
}

// Collector samples system resources.
type Collector struct {
	logger *zap.Logger
}

// NewCollector creates a new resource collector.
func NewCollector(logger *zap.Logger) *Collector {
	return &Collector{logger: logger}
}

// Collect gathers a resource snapshot. Probe failures degrade to nil fields,
// never to an error; a node with no GPU is a normal node.
func (c *Collector) Collect(storagePath string) *Snapshot {
	snapshot := &Snapshot{
		CPUCount: runtime.NumCPU(),
	}

	if vmStat, err := mem.VirtualMemory(); err == nil {
		memGB := int(vmStat.Total / bytesPerGB)
		snapshot.MemoryTotalGB = &memGB
	} else {
		c.logger.Debug("Memory probe failed", zap.Error(err))
	}

	if gpuInfo, gpuCount := c.detectNVIDIA(); gpuCount > 0 {
		snapshot.GPUCount = gpuCount
		snapshot.GPUInfo = &gpuInfo
	}

	if usage, err := disk.Usage(storagePath); err == nil {
		totalGB := int(usage.Total / bytesPerGB)
		usedGB := int(usage.Used / bytesPerGB)
		snapshot.StorageTotalGB = &totalGB
		snapshot.StorageUsedGB = &usedGB
	} else {
		c.logger.Debug("Disk probe failed",
			zap.String("path", storagePath),
			zap.Error(err),
		)
	}

	return snapshot
}

// CPUUsagePercent returns the instantaneous CPU usage across all cores.
func (c *Collector) CPUUsagePercent() (float64, error) {
	percentages, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percentages) > 0 {
		return percentages[0], nil
	}
	return 0, nil
}

// detectNVIDIA queries nvidia-smi for installed GPUs. A missing or failing
// nvidia-smi means zero GPUs.
func (c *Collector) detectNVIDIA() (string, int) {
	cmd := exec.Command("nvidia-smi", "--query-gpu=name,memory.total", "--format=csv,noheader")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = nil

	if err := cmd.Run(); err != nil {
		c.logger.Debug("nvidia-smi not available", zap.Error(err))
		return "", 0
	}

	output := strings.TrimSpace(out.String())
	if output == "" {
		return "", 0
	}

	count := 0
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}

	c.logger.Info("Detected NVIDIA GPUs", zap.Int("count", count))
	return output, count
}
