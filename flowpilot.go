// Package flowpilot wires configuration into a ready-to-use runtime: the
// task executor, the workflow state service over the configured store, the
// execution engine, metrics and tracing.
//
// Usage:
//
//	cfg, _ := config.NewLoader().WithConfigPath("flowpilot.yaml").Load()
//	rt, err := flowpilot.New(ctx, cfg, flowpilot.WithLogger(logger))
//	defer rt.Close(ctx)
//
//	doc, _ := rt.LoadWorkflow("workflows/review.yml")
//	exec, _ := workflow.NewExecution(doc, inputs)
//	run, _ := rt.Engine.Start(ctx, exec, rt.RunOptions("workflows/review.yml"))
package flowpilot

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/flowpilot/config"
	"github.com/BaSui01/flowpilot/executor"
	"github.com/BaSui01/flowpilot/internal/database"
	"github.com/BaSui01/flowpilot/internal/metrics"
	"github.com/BaSui01/flowpilot/internal/telemetry"
	"github.com/BaSui01/flowpilot/workflow"
	"github.com/BaSui01/flowpilot/workflow/dsl"
	"github.com/BaSui01/flowpilot/workflow/state"
	"go.uber.org/zap"
)

// Runtime holds the components built from one configuration.
type Runtime struct {
	Config    *config.Config
	Logger    *zap.Logger
	Executor  *executor.Executor
	States    *state.Service
	Engine    *workflow.Engine
	Metrics   *metrics.Collector
	Telemetry *telemetry.Providers

	store state.Store
}

// Option configures New.
type Option func(*options)

type options struct {
	logger *zap.Logger
	store  state.Store
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStore uses a ready store instead of building one from config.
func WithStore(store state.Store) Option {
	return func(o *options) { o.store = store }
}

// New validates cfg and builds a Runtime.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rt := &Runtime{Config: cfg, Logger: logger}

	if cfg.Metrics.Enabled {
		rt.Metrics = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}

	tel, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		tel = &telemetry.Providers{}
	}
	rt.Telemetry = tel

	store := o.store
	if store == nil {
		store, err = state.NewStore(ctx, StoreConfig(cfg.State), logger)
		if err != nil {
			_ = tel.Shutdown(ctx)
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
	}
	rt.store = store

	rt.Executor = executor.New(ExecutorConfig(cfg.Executor),
		executor.WithLogger(logger),
		executor.WithMetrics(rt.Metrics))

	rt.States = state.NewService(store,
		state.WithLogger(logger),
		state.WithNamespace(cfg.State.Namespace),
		state.WithMaxEntries(cfg.State.MaxEntries),
		state.WithMetrics(rt.Metrics))

	rt.Engine = workflow.NewEngine(rt.Executor,
		workflow.WithStateService(rt.States),
		workflow.WithEngineLogger(logger),
		workflow.WithEngineMetrics(rt.Metrics),
		workflow.WithTracerProvider(tel.TracerProvider()),
		workflow.WithProgressLogDir(cfg.Engine.ProgressLogDir))

	logger.Debug("runtime ready",
		zap.String("state_store", string(store.Type())),
		zap.Bool("metrics", rt.Metrics != nil),
		zap.Bool("telemetry", cfg.Telemetry.Enabled))
	return rt, nil
}

// LoadWorkflow parses and validates a workflow file.
func (r *Runtime) LoadWorkflow(path string) (*dsl.Document, error) {
	return dsl.NewParser().ParseFile(path)
}

// RunOptions returns engine options seeded from the executor config.
func (r *Runtime) RunOptions(workflowPath string) workflow.RunOptions {
	return workflow.RunOptions{
		WorkflowPath:     workflowPath,
		Model:            r.Config.Executor.DefaultModel,
		WorkingDirectory: r.Config.Engine.WorkingDirectory,
		TaskDefaults:     TaskDefaults(r.Config.Executor),
	}
}

// PipelineOptions returns pipeline options seeded from the executor config.
func (r *Runtime) PipelineOptions() executor.PipelineOptions {
	return executor.PipelineOptions{
		Model:            r.Config.Executor.DefaultModel,
		WorkingDirectory: r.Config.Engine.WorkingDirectory,
		Defaults:         TaskDefaults(r.Config.Executor),
	}
}

// Close flushes metrics, shuts tracing down and closes the store.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if path := r.Config.Metrics.TextfilePath; path != "" && r.Metrics != nil {
		if err := r.Metrics.WriteTextfile(path); err != nil {
			errs = append(errs, fmt.Errorf("write metrics textfile: %w", err))
		}
	}
	if r.Telemetry != nil {
		if err := r.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close state store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// 配置映射
// =============================================================================

// ExecutorConfig maps the executor section onto executor.Config.
func ExecutorConfig(cfg config.ExecutorConfig) executor.Config {
	out := executor.DefaultConfig()
	if cfg.Binary != "" {
		out.Binary = cfg.Binary
	}
	out.Shell = cfg.Shell
	out.Retry = executor.RetryPolicy{
		MaxRetries:       cfg.Retry.MaxRetries,
		WaitBudget:       cfg.Retry.WaitBudget,
		MaxSingleWait:    cfg.Retry.MaxSingleWait,
		ProgressInterval: cfg.Retry.ProgressInterval,
		TimeoutThreshold: cfg.Retry.TimeoutThreshold,
	}
	return out
}

// TaskDefaults maps the executor section onto per-task CLI flags.
func TaskDefaults(cfg config.ExecutorConfig) executor.TaskOptions {
	return executor.TaskOptions{
		OutputFormat:         cfg.OutputFormat,
		MaxTurns:             cfg.MaxTurns,
		BypassPermissions:    cfg.BypassPermissions,
		AllowedTools:         cfg.AllowedTools,
		DisallowedTools:      cfg.DisallowedTools,
		MCPConfig:            cfg.MCPConfig,
		PermissionPromptTool: cfg.PermissionPromptTool,
	}
}

// StoreConfig maps the state section onto state.StoreConfig.
func StoreConfig(cfg config.StateConfig) state.StoreConfig {
	pool := database.DefaultPoolConfig()
	if cfg.Database.MaxOpenConns > 0 {
		pool.MaxOpenConns = cfg.Database.MaxOpenConns
	}
	if cfg.Database.MaxIdleConns > 0 {
		pool.MaxIdleConns = cfg.Database.MaxIdleConns
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	}

	return state.StoreConfig{
		Type:    state.StoreType(cfg.Type),
		BaseDir: cfg.BaseDir,
		Redis: state.RedisOptions{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,

			TLS:                   cfg.Redis.TLS,
			TLSInsecureSkipVerify: cfg.Redis.TLSInsecureSkipVerify,
		},
		Database: state.DatabaseOptions{
			Driver: cfg.Database.Driver,
			DSN:    cfg.Database.DSN(),
			Pool:   pool,
		},
		Mongo: state.MongoOptions{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
			Timeout:    cfg.Mongo.Timeout,
		},
	}
}
