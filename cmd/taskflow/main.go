// @title TaskFlow API
// @version 1.0.0
// @description TaskFlow schedules prioritized tasks across a pool of LLM agents and runs multi-stage pipelines.
// @description
// @description ## Features
// @description - Priority task queue with retries and cancellation
// @description - Sequential pipelines with per-stage capability routing
// @description - Multi-agent fan-out and autonomous goal loops
// @description - Live event stream over WebSocket

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key for authentication

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow"
	"github.com/BaSui01/taskflow/config"
	"github.com/BaSui01/taskflow/internal/telemetry"
)

// 构建时通过 -ldflags 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	healthAddr string
)

var rootCmd = &cobra.Command{
	Use:           "taskflow",
	Short:         "TaskFlow - LLM task orchestration server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API and metrics servers",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "TaskFlow %s\n  Build Time: %s\n  Git Commit: %s\n", Version, BuildTime, GitCommit)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check a running server's health endpoint",
	RunE:  runHealthCheck,
}

var pipelinesCmd = &cobra.Command{
	Use:   "pipelines",
	Short: "List registered pipelines, including definition files from config",
	RunE:  runPipelines,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to config file (YAML)")
	pipelinesCmd.Flags().StringVar(&configPath, "config", "", "Path to config file (YAML)")
	healthCmd.Flags().StringVar(&healthAddr, "addr", "http://localhost:8080", "Server address")

	rootCmd.AddCommand(serveCmd, versionCmd, healthCmd, pipelinesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting taskflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger, telemetry.WithServiceVersion(Version))
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	app, err := taskflow.New(cfg, taskflow.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	srv := NewServer(cfg, app, logger, otelProviders)
	if err := srv.Start(ctx); err != nil {
		srv.Shutdown(context.Background())
		return err
	}

	srv.WaitForShutdown(ctx)
	logger.Info("taskflow stopped")
	return nil
}

func runHealthCheck(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(healthAddr + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "OK")
	return nil
}

// runPipelines 组装运行时但不启动调度，用于校验 DSL 定义文件
func runPipelines(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// 只列出本地定义，不需要连接外部依赖
	cfg.Redis.Enabled = false
	cfg.Database.Enabled = false

	app, err := taskflow.New(cfg, taskflow.WithMetricsNamespace("taskflow_cli"))
	if err != nil {
		return err
	}
	defer app.Shutdown(context.Background())

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMODE\tSTAGES")
	for _, p := range app.Orchestrator.ListPipelines() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", p.ID, p.Name, p.Mode, len(p.Stages))
	}
	return tw.Flush()
}
