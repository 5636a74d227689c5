package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/flowpilot/internal/ctxkeys"
	"github.com/BaSui01/flowpilot/internal/metrics"
	"github.com/BaSui01/flowpilot/types"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Executor runs one task subprocess at a time.
type Executor struct {
	cfg     Config
	runner  commandRunner
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Collector

	mu       sync.Mutex
	inflight *inflightTask
}

// inflightTask is the tracked subprocess handle.
type inflightTask struct {
	terminate func() error
	cancelled bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock sets the clock used for timing and rate-limit waits.
func WithClock(c clock.Clock) Option {
	return func(e *Executor) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithMetrics records task metrics into c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Executor) { e.metrics = c }
}

// New creates an Executor.
func New(cfg Config, opts ...Option) *Executor {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	cfg.Retry = cfg.Retry.normalized()

	e := &Executor{
		cfg:    cfg,
		runner: execRunner{},
		clock:  clock.New(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "executor"))
	return e
}

// Config returns the executor configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// taskLogger tags log lines with the execution and step carried by ctx.
func (e *Executor) taskLogger(ctx context.Context) *zap.Logger {
	logger := e.logger
	if id, ok := ctxkeys.ExecutionID(ctx); ok {
		logger = logger.With(zap.String("execution_id", id))
	}
	if id, ok := ctxkeys.StepID(ctx); ok {
		logger = logger.With(zap.String("step_id", id))
	}
	return logger
}

// ExecuteTask runs one task. Subprocess failures are reported in the
// result; the error is reserved for invocations that never ran, such as a
// busy executor or a process that could not be started.
func (e *Executor) ExecuteTask(ctx context.Context, req TaskRequest) (*TaskResult, error) {
	task, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer e.release(task)

	cmd := BuildCommand(e.cfg.Binary, req)
	start := e.clock.Now()

	logger := e.taskLogger(ctx)
	logger.Debug("starting task",
		zap.String("command", cmd.String()),
		zap.String("dir", req.WorkingDirectory),
		zap.Bool("resume", req.Options.ResumeSessionID != ""),
	)

	out, runErr := e.runner.Run(ctx, cmd, runSpec{
		Dir:   req.WorkingDirectory,
		Env:   req.Options.Env,
		Shell: e.cfg.Shell,
	}, func(terminate func() error) {
		e.track(task, terminate)
	})

	elapsed := e.clock.Since(start)
	if runErr != nil {
		e.metrics.RecordTask("error", elapsed)
		return nil, types.NewError(types.ErrExecution, "failed to start task").WithCause(runErr)
	}

	result := e.buildResult(req, out)
	result.ExecutionTimeMs = elapsed.Milliseconds()

	if e.wasCancelled(task) && !result.Success {
		result.Error = "task cancelled"
	}

	status := "success"
	switch {
	case result.RateLimited:
		status = "rate_limited"
	case !result.Success:
		status = "failed"
	}
	e.metrics.RecordTask(status, elapsed)

	logger.Info("task finished",
		zap.String("status", status),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", elapsed),
		zap.String("session_id", result.SessionID),
	)
	return result, nil
}

// buildResult maps subprocess output to a TaskResult.
func (e *Executor) buildResult(req TaskRequest, out runOutput) *TaskResult {
	result := &TaskResult{ExitCode: out.ExitCode}

	text, sessionID := extractOutput(req.Options.OutputFormat, out.Stdout)
	result.SessionID = sessionID

	if reset, ok := DetectRateLimit(out.Stdout + "\n" + out.Stderr); ok {
		wait := reset.Sub(e.clock.Now())
		result.RateLimited = true
		result.ResetTime = reset
		result.IsTimeout = wait > e.cfg.Retry.TimeoutThreshold
		result.Error = fmt.Sprintf("usage limit reached, resets at %s", reset.UTC().Format(time.RFC3339))
		return result
	}

	if out.ExitCode == 0 {
		result.Success = true
		result.Output = text
		return result
	}

	result.Error = e.failureMessage(out)
	return result
}

// failureMessage prefers stderr, then stdout, then the exit code.
func (e *Executor) failureMessage(out runOutput) string {
	if out.ExitCode == exitCodeNotFound {
		return fmt.Sprintf("%s not found in PATH (exit code %d)", e.cfg.Binary, exitCodeNotFound)
	}
	if s := strings.TrimSpace(out.Stderr); s != "" {
		return s
	}
	if s := strings.TrimSpace(out.Stdout); s != "" {
		return s
	}
	return fmt.Sprintf("process exited with code %d", out.ExitCode)
}

// CancelCurrentTask signals the tracked subprocess and clears the handle.
// It returns false when nothing was running.
func (e *Executor) CancelCurrentTask() bool {
	e.mu.Lock()
	task := e.inflight
	e.inflight = nil
	if task != nil {
		task.cancelled = true
	}
	e.mu.Unlock()

	if task == nil {
		return false
	}
	if task.terminate != nil {
		if err := task.terminate(); err != nil {
			e.logger.Warn("failed to signal task", zap.Error(err))
		}
	}
	e.logger.Info("task cancelled")
	return true
}

// IsTaskRunning reports whether a subprocess handle is tracked.
func (e *Executor) IsTaskRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight != nil
}

func (e *Executor) acquire() (*inflightTask, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight != nil {
		return nil, types.NewError(types.ErrExecutorBusy, "another task is already running")
	}
	e.inflight = &inflightTask{}
	return e.inflight, nil
}

// track records the terminate handle. A task cancelled before its process
// started is terminated right away.
func (e *Executor) track(task *inflightTask, terminate func() error) {
	e.mu.Lock()
	task.terminate = terminate
	cancelled := task.cancelled
	e.mu.Unlock()

	if cancelled {
		_ = terminate()
	}
}

func (e *Executor) release(task *inflightTask) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight == task {
		e.inflight = nil
	}
}

func (e *Executor) wasCancelled(task *inflightTask) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return task.cancelled
}

// RunCheck runs a step check command through the shell and reports
// whether it exited 0. It does not occupy the task slot.
func (e *Executor) RunCheck(ctx context.Context, command, dir string) (bool, error) {
	shell := e.cfg.Shell
	if shell == "" {
		shell = DefaultShell
	}
	out, err := e.runner.Run(ctx, Command{Binary: shell, Args: []string{"-c", command}}, runSpec{Dir: dir}, func(func() error) {})
	if err != nil {
		return false, types.NewError(types.ErrExecution, "failed to run check").WithCause(err)
	}
	e.logger.Debug("check finished", zap.String("check", command), zap.Int("exit_code", out.ExitCode))
	return out.ExitCode == 0, nil
}
