package workflow

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/flowpilot/executor"
	"github.com/BaSui01/flowpilot/internal/ctxkeys"
	"github.com/BaSui01/flowpilot/internal/metrics"
	"github.com/BaSui01/flowpilot/types"
	"github.com/BaSui01/flowpilot/workflow/dsl"
	"github.com/BaSui01/flowpilot/workflow/state"
	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/BaSui01/flowpilot/workflow"

// TaskRunner invokes one task step. *executor.Executor implements it.
type TaskRunner interface {
	ExecuteTaskWithRetry(ctx context.Context, req executor.TaskRequest) (*executor.TaskResult, error)
}

var (
	_ TaskRunner       = (*executor.Executor)(nil)
	_ ConditionChecker = (*executor.Executor)(nil)
)

// Engine drives workflow executions one step at a time.
type Engine struct {
	runner         TaskRunner
	checker        ConditionChecker
	states         *state.Service
	parser         *dsl.Parser
	logger         *zap.Logger
	metrics        *metrics.Collector
	tracer         trace.Tracer
	clock          clock.Clock
	progressLogDir string

	mu   sync.Mutex
	runs map[string]*Run
}

// EngineOption 配置 Engine
type EngineOption func(*Engine)

// WithStateService persists executions so they can be paused and resumed.
func WithStateService(s *state.Service) EngineOption {
	return func(e *Engine) { e.states = s }
}

// WithConditionChecker evaluates step checks. Defaults to the runner when
// it implements ConditionChecker.
func WithConditionChecker(c ConditionChecker) EngineOption {
	return func(e *Engine) { e.checker = c }
}

// WithEngineLogger sets the logger.
func WithEngineLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEngineMetrics records step and workflow counters.
func WithEngineMetrics(m *metrics.Collector) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithTracerProvider sets the provider for run and step spans.
func WithTracerProvider(tp trace.TracerProvider) EngineOption {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithEngineClock sets the clock used for timing.
func WithEngineClock(c clock.Clock) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithProgressLogDir writes a JSON line progress log per persisted execution.
func WithProgressLogDir(dir string) EngineOption {
	return func(e *Engine) { e.progressLogDir = dir }
}

// NewEngine creates an engine around a task runner.
func NewEngine(runner TaskRunner, opts ...EngineOption) *Engine {
	e := &Engine{
		runner: runner,
		parser: dsl.NewParser(),
		logger: zap.NewNop(),
		tracer: otel.GetTracerProvider().Tracer(tracerName),
		clock:  clock.New(),
		runs:   make(map[string]*Run),
	}
	if c, ok := runner.(ConditionChecker); ok {
		e.checker = c
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "workflow_engine"))
	return e
}

// StateService returns the configured state service, or nil.
func (e *Engine) StateService() *state.Service { return e.states }

// =============================================================================
// Run handle
// =============================================================================

// Run is the handle of one in-flight execution.
type Run struct {
	engine    *Engine
	exec      *Execution
	opts      RunOptions
	events    *eventLog
	done      chan struct{}
	result    *WorkflowResult
	persisted bool
	resume    *state.WorkflowState
	progress  *progressLog

	pauseRequested atomic.Bool
}

// ExecutionID returns the id of the execution.
func (r *Run) ExecutionID() string { return r.exec.ID() }

// Execution returns the execution the run drives.
func (r *Run) Execution() *Execution { return r.exec }

// Persisted reports whether the run checkpoints to the state service.
func (r *Run) Persisted() bool { return r.persisted }

// Events streams every event of the run from the beginning, ending when the
// run finishes. Each call yields an independent replay.
func (r *Run) Events() iter.Seq[Event] { return r.events.all() }

// Done is closed when the run reaches a final or paused state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run stops and returns its result.
func (r *Run) Wait() *WorkflowResult {
	<-r.done
	return r.result
}

func (r *Run) emit(ev Event) {
	r.progress.record(ev)
	r.events.append(ev)
}

func (r *Run) meta() EventMeta {
	return EventMeta{ExecutionID: r.exec.ID(), Timestamp: r.engine.clock.Now()}
}

// =============================================================================
// Start / Execute / Resume / Pause
// =============================================================================

// Start launches an execution in the background and returns its handle.
// When a state service is configured and opts.WorkflowPath is set the run is
// persisted; a persistence failure only downgrades it to an unpersisted run.
func (e *Engine) Start(ctx context.Context, exec *Execution, opts RunOptions) (*Run, error) {
	if exec == nil {
		return nil, types.NewError(types.ErrValidation, "execution is nil")
	}
	if !exec.start(e.clock.Now()) {
		return nil, types.Errorf(types.ErrInvalidTransition, "execution %s already started", exec.ID())
	}

	run := e.newRun(exec, opts)
	if e.states != nil && opts.WorkflowPath != "" {
		_, err := e.states.CreateWorkflowState(ctx, state.CreateParams{
			ExecutionID:  exec.ID(),
			WorkflowPath: opts.WorkflowPath,
			WorkflowName: exec.Document().Name,
			TotalSteps:   len(dsl.ExtractTaskSteps(exec.Document())),
			Inputs:       exec.Inputs(),
		})
		if err != nil {
			e.logger.Warn("failed to persist workflow state, continuing without checkpoints",
				zap.String("execution_id", exec.ID()), zap.Error(err))
		} else {
			run.persisted = true
		}
	}

	e.launch(ctx, run)
	return run, nil
}

// ExecuteWorkflow runs an execution to completion. A paused run returns
// its result with a nil error.
func (e *Engine) ExecuteWorkflow(ctx context.Context, exec *Execution, opts RunOptions) (*WorkflowResult, error) {
	run, err := e.Start(ctx, exec, opts)
	if err != nil {
		return nil, err
	}
	res := run.Wait()
	if !res.Success && !res.Paused {
		return res, res.Err
	}
	return res, nil
}

// Resume continues a persisted execution. Steps whose checkpoint is
// completed or skipped are not run again; their outputs are restored from
// the checkpoints and session mappings.
func (e *Engine) Resume(ctx context.Context, executionID string, opts RunOptions) (*Run, error) {
	if e.states == nil {
		return nil, types.NewError(types.ErrNotResumable, "no state service configured")
	}

	ws, err := e.states.GetWorkflowState(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if !ws.Resumable() {
		return nil, types.Errorf(types.ErrNotResumable, "workflow %s is %s and cannot be resumed", executionID, ws.Status)
	}

	doc, err := e.parser.ParseFile(ws.WorkflowPath)
	if err != nil {
		return nil, err
	}
	exec, err := newExecution(ws.ExecutionID, doc, ws.Inputs)
	if err != nil {
		return nil, err
	}

	steps := dsl.ExtractTaskSteps(doc)
	if len(steps) != ws.TotalSteps {
		e.logger.Warn("workflow changed since the execution started",
			zap.String("execution_id", executionID),
			zap.Int("stored_steps", ws.TotalSteps),
			zap.Int("current_steps", len(steps)))
	}

	switch ws.Status {
	case state.StatusPaused:
		if ws, err = e.states.ResumeWorkflow(ctx, executionID); err != nil {
			return nil, err
		}
	case state.StatusRunning:
		e.logger.Warn("resuming an execution still marked running", zap.String("execution_id", executionID))
	}

	rehydrate(exec, ws)
	if !exec.start(e.clock.Now()) {
		return nil, types.Errorf(types.ErrInvalidTransition, "execution %s already started", executionID)
	}

	if opts.WorkflowPath == "" {
		opts.WorkflowPath = ws.WorkflowPath
	}
	run := e.newRun(exec, opts)
	run.persisted = true
	run.resume = ws

	e.logger.Info("resuming workflow",
		zap.String("execution_id", executionID),
		zap.Int("current_step", ws.CurrentStep),
		zap.Int("completed", len(exec.Outputs())))

	e.launch(ctx, run)
	return run, nil
}

// rehydrate restores outputs of finished steps so later steps can resolve
// ${{ steps.X.outputs.* }} against them.
func rehydrate(exec *Execution, ws *state.WorkflowState) {
	for stepID, sessionID := range ws.SessionMappings {
		exec.setOutput(stepID, dsl.StepOutput{SessionID: sessionID})
	}
	for _, cp := range ws.CompletedSteps {
		if cp.Status != state.StepCompleted || cp.StepID == "" {
			continue
		}
		out := dsl.StepOutput{SessionID: cp.SessionID, Result: cp.Output}
		if out.SessionID == "" {
			out.SessionID = ws.SessionMappings[cp.StepID]
		}
		exec.setOutput(cp.StepID, out)
	}
}

// Pause asks a run to stop before its next step. The persisted state is
// flagged paused right away; an in-flight task is not interrupted. It
// returns the execution id, or "" when the run is not active.
func (e *Engine) Pause(ctx context.Context, run *Run) (string, error) {
	if run == nil {
		return "", nil
	}
	select {
	case <-run.done:
		return "", nil
	default:
	}

	run.pauseRequested.Store(true)
	if run.persisted {
		if _, err := e.states.PauseWorkflow(ctx, run.ExecutionID(), state.PauseManual, ""); err != nil &&
			!types.IsCode(err, types.ErrInvalidTransition) {
			return run.ExecutionID(), err
		}
	}
	e.logger.Info("pause requested", zap.String("execution_id", run.ExecutionID()))
	return run.ExecutionID(), nil
}

// PauseExecution pauses an active run by id.
func (e *Engine) PauseExecution(ctx context.Context, executionID string) (string, error) {
	return e.Pause(ctx, e.ActiveRun(executionID))
}

// ActiveRun returns the in-flight run with the id, or nil.
func (e *Engine) ActiveRun(executionID string) *Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs[executionID]
}

// ActiveRuns returns the ids of all in-flight runs.
func (e *Engine) ActiveRuns() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) newRun(exec *Execution, opts RunOptions) *Run {
	return &Run{
		engine: e,
		exec:   exec,
		opts:   opts,
		events: newEventLog(),
		done:   make(chan struct{}),
	}
}

func (e *Engine) launch(ctx context.Context, run *Run) {
	e.mu.Lock()
	e.runs[run.ExecutionID()] = run
	e.mu.Unlock()

	if run.persisted {
		run.progress = openProgressLog(e.progressLogDir, run.ExecutionID(), e.logger)
	}

	go func() {
		defer func() {
			run.progress.Close()
			run.events.close()
			e.mu.Lock()
			delete(e.runs, run.ExecutionID())
			e.mu.Unlock()
			close(run.done)
		}()
		run.result = e.execute(ctx, run)
	}()
}

// =============================================================================
// Step loop
// =============================================================================

func (e *Engine) execute(ctx context.Context, run *Run) *WorkflowResult {
	exec := run.exec
	doc := exec.Document()
	start := e.clock.Now()
	log := e.logger.With(zap.String("execution_id", exec.ID()), zap.String("workflow", doc.Name))

	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.name", doc.Name),
		attribute.String("workflow.execution_id", exec.ID()),
		attribute.Bool("workflow.resumed", run.resume != nil),
	))
	defer span.End()

	steps := dsl.ExtractTaskSteps(doc)
	referenced := dsl.ReferencedSessionSteps(doc)
	executed := 0

	result := func() *WorkflowResult {
		return &WorkflowResult{
			ExecutionID:     exec.ID(),
			Outputs:         exec.Outputs(),
			ExecutionTimeMs: e.clock.Since(start).Milliseconds(),
			StepsExecuted:   executed,
		}
	}

	log.Info("workflow started", zap.Int("steps", len(steps)), zap.Bool("persisted", run.persisted))

	for _, ts := range steps {
		ref := StepRef{StepID: ts.ID(), StepIndex: ts.Index, Total: len(steps), Job: ts.JobName, Name: ts.Step.Name}

		if run.resume != nil {
			if cp, ok := run.resume.Step(ts.Index); ok && cp.Status.Done() {
				log.Debug("step already done, skipping", zap.String("step_id", ref.StepID))
				continue
			}
		}

		if err := ctx.Err(); err != nil {
			return e.fail(ctx, run, span, result, types.NewError(types.ErrCancelled, "workflow cancelled").WithCause(err))
		}
		if e.pauseRequested(ctx, run) {
			return e.pause(ctx, run, span, result, state.PauseManual, ts.Index, nil)
		}

		err := e.runStep(ctx, run, ts, ref, referenced[ref.StepID], &executed)
		if err == nil {
			continue
		}
		// 未持久化的运行无法恢复，限流按失败处理
		if types.IsRateLimitClass(err) && run.persisted {
			return e.pause(ctx, run, span, result, state.PauseError, ts.Index, err)
		}
		return e.fail(ctx, run, span, result, err)
	}

	exec.finish(ExecutionCompleted, nil, e.clock.Now())
	if run.persisted {
		sctx := context.WithoutCancel(ctx)
		if ws, err := e.states.GetWorkflowState(sctx, exec.ID()); err == nil && ws.Status != state.StatusCompleted {
			if _, err := e.states.MarkCompleted(sctx, exec.ID()); err != nil {
				log.Warn("failed to mark workflow completed", zap.Error(err))
			}
		}
	}

	res := result()
	res.Success = true
	run.emit(WorkflowCompleted{EventMeta: run.meta(), Result: res})
	e.metrics.RecordWorkflow(string(ExecutionCompleted))
	span.SetStatus(codes.Ok, "")
	log.Info("workflow completed",
		zap.Int("steps_executed", executed),
		zap.Int64("execution_time_ms", res.ExecutionTimeMs))
	return res
}

// pauseRequested reports a pause asked through the handle or through the
// persisted state by another process.
func (e *Engine) pauseRequested(ctx context.Context, run *Run) bool {
	if run.pauseRequested.Load() {
		return true
	}
	if !run.persisted {
		return false
	}
	ws, err := e.states.GetWorkflowState(ctx, run.ExecutionID())
	if err != nil {
		e.logger.Warn("failed to poll workflow state", zap.String("execution_id", run.ExecutionID()), zap.Error(err))
		return false
	}
	return ws.Status == state.StatusPaused
}

func (e *Engine) pause(ctx context.Context, run *Run, span trace.Span, result func() *WorkflowResult,
	reason state.PauseReason, next int, cause error) *WorkflowResult {
	exec := run.exec
	status := haltStatus(cause, ExecutionPaused)
	exec.finish(status, cause, e.clock.Now())

	if run.persisted {
		lastErr := ""
		if cause != nil {
			lastErr = cause.Error()
		}
		_, err := e.states.PauseWorkflow(context.WithoutCancel(ctx), exec.ID(), reason, lastErr)
		if err != nil && !types.IsCode(err, types.ErrInvalidTransition) {
			e.logger.Warn("failed to persist pause", zap.String("execution_id", exec.ID()), zap.Error(err))
		}
	}

	res := result()
	res.Paused = true
	res.Err = cause
	if cause != nil {
		res.Error = cause.Error()
	}
	run.emit(WorkflowPaused{EventMeta: run.meta(), Reason: reason, NextStep: next, Err: cause})
	e.metrics.RecordWorkflow(string(status))
	span.AddEvent("workflow.paused", trace.WithAttributes(
		attribute.String("pause.reason", string(reason)),
		attribute.Int("pause.next_step", next)))
	e.logger.Info("workflow paused",
		zap.String("execution_id", exec.ID()),
		zap.String("reason", string(reason)),
		zap.Int("next_step", next))
	return res
}

func (e *Engine) fail(ctx context.Context, run *Run, span trace.Span, result func() *WorkflowResult, cause error) *WorkflowResult {
	exec := run.exec
	status := haltStatus(cause, ExecutionFailed)
	exec.finish(status, cause, e.clock.Now())

	if run.persisted {
		// a failed step checkpoint has already failed the state
		sctx := context.WithoutCancel(ctx)
		if ws, err := e.states.GetWorkflowState(sctx, exec.ID()); err == nil && ws.Status != state.StatusFailed {
			if _, err := e.states.MarkFailed(sctx, exec.ID(), cause.Error()); err != nil {
				e.logger.Warn("failed to mark workflow failed", zap.Error(err))
			}
		}
	}

	res := result()
	res.Err = cause
	res.Error = cause.Error()
	run.emit(WorkflowFailed{EventMeta: run.meta(), Err: cause, StepsExecuted: res.StepsExecuted})
	e.metrics.RecordWorkflow(string(status))
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	e.logger.Error("workflow failed",
		zap.String("execution_id", exec.ID()),
		zap.Int("steps_executed", res.StepsExecuted),
		zap.Error(cause))
	return res
}

// haltStatus maps a stopping cause to the execution status; an exhausted
// rate-limit wait is reported as timeout.
func haltStatus(cause error, fallback ExecutionStatus) ExecutionStatus {
	if types.IsCode(cause, types.ErrRateLimitTimeout) {
		return ExecutionTimeout
	}
	return fallback
}

// runStep executes one task step, checkpointing before and after.
func (e *Engine) runStep(ctx context.Context, run *Run, ts dsl.TaskStep, ref StepRef, referenced bool, executed *int) error {
	exec := run.exec
	with := ts.Step.With
	if with == nil {
		with = &dsl.With{}
	}
	started := e.clock.Now()

	ctx, span := e.tracer.Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.String("step.id", ref.StepID),
		attribute.Int("step.index", ref.StepIndex),
		attribute.String("step.job", ref.Job),
	))
	defer span.End()
	ctx = ctxkeys.WithStepID(ctxkeys.WithExecutionID(ctx, exec.ID()), ref.StepID)

	rctx := exec.resolveContext(exec.Document().StepEnv(ts))
	req := e.buildRequest(run.opts, with, rctx)
	if with.ResumeSession != "" && req.Options.ResumeSessionID == "" {
		e.logger.Warn("resume_session resolved to no session, starting fresh",
			zap.String("execution_id", exec.ID()),
			zap.String("step", ref.StepID),
			zap.String("resume_session", with.ResumeSession),
		)
	}

	run.emit(StepStarted{EventMeta: run.meta(), StepRef: ref, ResumeSessionID: req.Options.ResumeSessionID})
	e.checkpoint(ctx, run, state.StepResult{
		StepIndex: ts.Index,
		StepID:    ref.StepID,
		Status:    state.StepRunning,
		StartTime: started,
	})

	runIt, reason, err := e.evaluateCheck(ctx, with, rctx, req.WorkingDirectory)
	if err != nil {
		err = types.NewError(types.ErrExecution, fmt.Sprintf("step %s check failed", ref.StepID)).WithCause(err)
		return e.stepFailed(ctx, run, span, ts, ref, started, err)
	}
	if !runIt {
		end := e.clock.Now()
		e.checkpoint(ctx, run, state.StepResult{
			StepIndex: ts.Index,
			StepID:    ref.StepID,
			Status:    state.StepSkipped,
			StartTime: started,
			EndTime:   &end,
		})
		run.emit(StepSkipped{EventMeta: run.meta(), StepRef: ref, Reason: reason})
		e.metrics.RecordStep(string(state.StepSkipped), end.Sub(started))
		span.SetAttributes(attribute.Bool("step.skipped", true))
		return nil
	}

	res, err := e.runner.ExecuteTaskWithRetry(ctx, req)
	if err == nil && (res == nil || !res.Success) {
		msg := "task failed"
		if res != nil && res.Error != "" {
			msg = res.Error
		}
		err = types.NewError(types.ErrExecution, msg)
	}
	if err != nil {
		return e.stepFailed(ctx, run, span, ts, ref, started, err)
	}

	out := dsl.StepOutput{SessionID: res.SessionID, Result: res.Output}
	exec.setOutput(ref.StepID, out)
	*executed++

	if referenced && out.SessionID == "" {
		e.logger.Warn("step is referenced by resume_session but returned no session",
			zap.String("step_id", ref.StepID))
	}

	end := e.clock.Now()
	e.checkpoint(ctx, run, state.StepResult{
		StepIndex:     ts.Index,
		StepID:        ref.StepID,
		SessionID:     out.SessionID,
		OutputSession: with.OutputSession || referenced,
		Status:        state.StepCompleted,
		StartTime:     started,
		EndTime:       &end,
		Output:        out.Result,
	})
	run.emit(StepCompleted{EventMeta: run.meta(), StepRef: ref, Output: out, Duration: end.Sub(started)})
	e.metrics.RecordStep(string(state.StepCompleted), end.Sub(started))
	span.SetAttributes(attribute.Int("step.attempts", res.Attempts))
	return nil
}

func (e *Engine) stepFailed(ctx context.Context, run *Run, span trace.Span, ts dsl.TaskStep, ref StepRef, started time.Time, err error) error {
	end := e.clock.Now()
	// rate-limit failures stay resumable; the running checkpoint makes the
	// step run again on resume
	if !types.IsRateLimitClass(err) {
		e.checkpoint(ctx, run, state.StepResult{
			StepIndex: ts.Index,
			StepID:    ref.StepID,
			Status:    state.StepFailed,
			StartTime: started,
			EndTime:   &end,
			Error:     err.Error(),
		})
	}
	run.emit(StepFailed{EventMeta: run.meta(), StepRef: ref, Err: err, Duration: end.Sub(started)})
	e.metrics.RecordStep(string(state.StepFailed), end.Sub(started))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// checkpoint persists a step result. Failures are logged only.
func (e *Engine) checkpoint(ctx context.Context, run *Run, step state.StepResult) {
	if !run.persisted {
		return
	}
	if _, err := e.states.UpdateWorkflowProgress(context.WithoutCancel(ctx), run.ExecutionID(), step); err != nil {
		e.logger.Warn("failed to checkpoint step",
			zap.String("execution_id", run.ExecutionID()),
			zap.String("step_id", step.StepID),
			zap.String("status", string(step.Status)),
			zap.Error(err))
	}
}

// buildRequest resolves a step's with block into a task request. The
// session to continue comes from resume_session only.
func (e *Engine) buildRequest(opts RunOptions, with *dsl.With, rctx dsl.ResolveContext) executor.TaskRequest {
	taskOpts := opts.TaskDefaults
	taskOpts.ResumeSessionID = dsl.ResolveSession(with.ResumeSession, rctx)
	taskOpts.Continue = false
	taskOpts.AllowAllTools = taskOpts.AllowAllTools || with.AllowAllTools
	taskOpts.BypassPermissions = taskOpts.BypassPermissions || with.BypassPermissions

	if len(rctx.Env) > 0 {
		env := maps.Clone(taskOpts.Env)
		if env == nil {
			env = make(map[string]string, len(rctx.Env))
		}
		for k, v := range rctx.Env {
			env[k] = dsl.Resolve(v, rctx)
		}
		taskOpts.Env = env
	}

	model := dsl.Resolve(with.Model, rctx)
	if model == "" || model == executor.ModelAuto {
		model = opts.Model
	}
	dir := dsl.Resolve(with.WorkingDirectory, rctx)
	if dir == "" {
		dir = opts.WorkingDirectory
	}

	return executor.TaskRequest{
		Prompt:           dsl.Resolve(with.Prompt, rctx),
		Model:            model,
		WorkingDirectory: dir,
		Options:          taskOpts,
	}
}
