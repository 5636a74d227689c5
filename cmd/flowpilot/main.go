// =============================================================================
// FlowPilot 命令行入口
// =============================================================================
// 运行、暂停、恢复 YAML 工作流，管理持久化执行状态，执行任务流水线
//
// 使用方法:
//
//	flowpilot run workflows/review.yml --input target=src
//	flowpilot resume <execution-id>
//	flowpilot pause <execution-id>
//	flowpilot status [execution-id]
//	flowpilot delete <execution-id>
//	flowpilot cleanup --max-age 168h
//	flowpilot validate workflows/*.yml
//	flowpilot pipeline run tasks.yml --out result.json
//	flowpilot pipeline resume result.json
//	flowpilot version
//
// =============================================================================
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/flowpilot"
	"github.com/BaSui01/flowpilot/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

type globalFlags struct {
	configPath string
	logLevel   string
	jsonOutput bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "flowpilot",
		Short:         "Run multi-step AI coding workflows with session chaining, pause and resume",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to config file (YAML)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "Print machine-readable JSON")

	root.AddCommand(
		newRunCmd(flags),
		newResumeCmd(flags),
		newPauseCmd(flags),
		newStatusCmd(flags),
		newDeleteCmd(flags),
		newCleanupCmd(flags),
		newValidateCmd(flags),
		newPipelineCmd(flags),
		newVersionCmd(),
	)
	return root
}

// =============================================================================
// 🔧 运行时初始化
// =============================================================================

// app 是单次命令使用的运行时
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	rt     *flowpilot.Runtime
}

func loadConfig(flags *globalFlags) (*config.Config, error) {
	loader := config.NewLoader().WithEnvPrefix("FLOWPILOT")
	if flags.configPath != "" {
		loader = loader.WithConfigPath(flags.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	return cfg, nil
}

func newApp(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := initLogger(cfg.Log)
	rt, err := flowpilot.New(ctx, cfg, flowpilot.WithLogger(logger))
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, rt: rt}, nil
}

func (a *app) close() {
	if err := a.rt.Close(context.Background()); err != nil {
		a.logger.Warn("shutdown incomplete", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// =============================================================================
// 📋 版本
// =============================================================================

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "FlowPilot %s\n", Version)
			fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		},
	}
}
