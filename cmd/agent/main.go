package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/modelyard/modelyard/pkg/agent"
	"github.com/modelyard/modelyard/pkg/client"
	"github.com/modelyard/modelyard/pkg/config"
	"github.com/modelyard/modelyard/pkg/executor"
	"github.com/modelyard/modelyard/pkg/fileops"
	"github.com/modelyard/modelyard/pkg/observability"
	"github.com/modelyard/modelyard/pkg/opserver"
	"github.com/modelyard/modelyard/pkg/scanner"
	"github.com/modelyard/modelyard/pkg/sysinfo"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	// Build information (set via ldflags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	rootCmd = &cobra.Command{
		Use:   "agent",
		Short: "Modelyard Agent - node agent for the ML workspace manager",
		Long: `The Modelyard Agent runs on each compute node, registers with the
coordinator, executes submitted jobs across execution backends, reports
heartbeats and dataset inventories, and performs delegated project
operations.`,
		RunE: run,
	}
)

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file path")
	rootCmd.PersistentFlags().String("coordinator-url", "http://localhost:8000", "Coordinator base URL")
	rootCmd.PersistentFlags().String("node-name", "worker-001", "Node name (used as node ID)")
	rootCmd.PersistentFlags().String("node-hostname", "", "Node hostname (auto-detected if empty)")
	rootCmd.PersistentFlags().Int("heartbeat-interval", 30, "Heartbeat interval in seconds")
	rootCmd.PersistentFlags().Int("job-poll-interval", 10, "Job poll interval in seconds")
	rootCmd.PersistentFlags().Int("dataset-scan-interval", 300, "Dataset scan interval in seconds")
	rootCmd.PersistentFlags().String("storage-path", "/data", "Storage root path")
	rootCmd.PersistentFlags().String("datasets-path", "", "Datasets root (default <storage>/datasets)")
	rootCmd.PersistentFlags().String("jobs-workspace", "", "Jobs workspace (default <storage>/jobs)")
	rootCmd.PersistentFlags().String("projects-path", "", "Projects root (default <storage>/projects)")
	rootCmd.PersistentFlags().String("log-path", "", "Log directory")
	rootCmd.PersistentFlags().String("token", "", "Agent token (overrides token file)")
	rootCmd.PersistentFlags().String("token-file", "/etc/modelyard/token", "Agent token file")
	rootCmd.PersistentFlags().Int("api-port", 8001, "Local operation API port")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Metrics server bind address (disabled if empty)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("dev-mode", false, "Advertise localhost as the reachable host")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("coordinator_url", rootCmd.PersistentFlags().Lookup("coordinator-url"))
	viper.BindPFlag("node_name", rootCmd.PersistentFlags().Lookup("node-name"))
	viper.BindPFlag("node_hostname", rootCmd.PersistentFlags().Lookup("node-hostname"))
	viper.BindPFlag("heartbeat_interval", rootCmd.PersistentFlags().Lookup("heartbeat-interval"))
	viper.BindPFlag("job_poll_interval", rootCmd.PersistentFlags().Lookup("job-poll-interval"))
	viper.BindPFlag("dataset_scan_interval", rootCmd.PersistentFlags().Lookup("dataset-scan-interval"))
	viper.BindPFlag("storage_path", rootCmd.PersistentFlags().Lookup("storage-path"))
	viper.BindPFlag("datasets_path", rootCmd.PersistentFlags().Lookup("datasets-path"))
	viper.BindPFlag("jobs_workspace", rootCmd.PersistentFlags().Lookup("jobs-workspace"))
	viper.BindPFlag("projects_path", rootCmd.PersistentFlags().Lookup("projects-path"))
	viper.BindPFlag("log_path", rootCmd.PersistentFlags().Lookup("log-path"))
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	viper.BindPFlag("token_file", rootCmd.PersistentFlags().Lookup("token-file"))
	viper.BindPFlag("api_port", rootCmd.PersistentFlags().Lookup("api-port"))
	viper.BindPFlag("metrics_addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("dev_mode", rootCmd.PersistentFlags().Lookup("dev-mode"))

	viper.SetEnvPrefix("MODELYARD")
	viper.AutomaticEnv()

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Modelyard Agent\n")
			fmt.Printf("  Version:    %s\n", Version)
			fmt.Printf("  Build Time: %s\n", BuildTime)
			fmt.Printf("  Git Commit: %s\n", GitCommit)
			fmt.Printf("  Go Version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "inspect",
		Short: "Inspect node resources as the coordinator would see them",
		RunE:  inspect,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	logger, err := observability.NewLogger(viper.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	cfg := config.FromViper(viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info("Starting Modelyard Agent",
		zap.String("version", Version),
		zap.String("node_name", cfg.NodeName),
		zap.String("hostname", cfg.NodeHostname),
		zap.String("coordinator_url", cfg.CoordinatorURL),
		zap.String("storage_path", cfg.StoragePath),
		zap.Bool("dev_mode", cfg.DevMode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	// Components
	collector := sysinfo.NewCollector(logger)
	coordClient := client.New(cfg, collector, logger)
	registry := executor.NewRegistry()
	exec := executor.New(cfg.JobsWorkspace, registry, coordClient, logger.Named("executor"))
	scan := scanner.New(logger.Named("scanner"))
	git := fileops.NewGit(nil, logger.Named("fileops"))
	opServer := opserver.New(cfg, git, coordClient, logger.Named("opserver"))

	loop := agent.New(cfg, coordClient, exec, scan, logger)

	if err := loop.EnsureRegistered(ctx); err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	var metricsServer *observability.MetricsServer
	if cfg.MetricsAddr != "" {
		metricsServer = observability.NewMetricsServer(cfg.MetricsAddr, logger)
		metricsServer.Start()
	}

	go func() {
		if err := opServer.Start(); err != nil {
			logger.Error("Operation server error", zap.Error(err))
			cancel()
		}
	}()

	if err := loop.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("Main loop error", zap.Error(err))
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := opServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping operation server", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping metrics server", zap.Error(err))
		}
	}

	logger.Info("Agent stopped gracefully")
	return nil
}

func inspect(cmd *cobra.Command, args []string) error {
	logger, err := observability.NewLogger(viper.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	cfg := config.FromViper(viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	collector := sysinfo.NewCollector(logger)
	snapshot := collector.Collect(cfg.StoragePath)

	fmt.Println("Node Inspection Report")
	fmt.Printf("Node: %s (%s)\n\n", cfg.NodeName, cfg.NodeHostname)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Resource", "Value")
	table.Append("CPU cores", fmt.Sprintf("%d", snapshot.CPUCount))
	table.Append("Memory total (GB)", formatGB(snapshot.MemoryTotalGB))
	table.Append("GPU count", fmt.Sprintf("%d", snapshot.GPUCount))
	if snapshot.GPUInfo != nil {
		table.Append("GPU info", *snapshot.GPUInfo)
	}
	table.Append("Storage total (GB)", formatGB(snapshot.StorageTotalGB))
	table.Append("Storage used (GB)", formatGB(snapshot.StorageUsedGB))
	table.Render()

	return nil
}

func formatGB(v *int) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *v)
}
