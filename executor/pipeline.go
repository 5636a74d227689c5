package executor

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/flowpilot/internal/ctxkeys"
	"github.com/BaSui01/flowpilot/types"
	"go.uber.org/zap"
)

// PausedMessage marks a task halted by a pause request.
const PausedMessage = "MANUALLY PAUSED"

// TaskStatus is the lifecycle of a pipeline task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskError     TaskStatus = "error"
	TaskPaused    TaskStatus = "paused"
)

// Task is one entry of a pipeline.
type Task struct {
	ID               string      `json:"id" yaml:"id"`
	Name             string      `json:"name,omitempty" yaml:"name,omitempty"`
	Prompt           string      `json:"prompt" yaml:"prompt"`
	Model            string      `json:"model,omitempty" yaml:"model,omitempty"`
	WorkingDirectory string      `json:"working_directory,omitempty" yaml:"working_directory,omitempty"`
	ResumeFromTaskID string      `json:"resume_from_task_id,omitempty" yaml:"resume_from,omitempty"`
	Options          TaskOptions `json:"options,omitempty" yaml:"options,omitempty"`

	Status      TaskStatus `json:"status" yaml:"status,omitempty"`
	SessionID   string     `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Result      string     `json:"result,omitempty" yaml:"result,omitempty"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// PipelineStatus is the outcome of a pipeline run.
type PipelineStatus string

const (
	PipelineCompleted PipelineStatus = "completed"
	PipelinePaused    PipelineStatus = "paused"
	PipelineError     PipelineStatus = "error"
)

// PipelineResult is the state a pipeline run leaves behind. Pass it to
// ResumePipeline to continue.
type PipelineResult struct {
	Status        PipelineStatus `json:"status"`
	Tasks         []*Task        `json:"tasks"`
	PausedAtIndex int            `json:"paused_at_index"`
	ResetTime     time.Time      `json:"reset_time,omitempty"`
	Message       string         `json:"message,omitempty"`
}

// PipelineOptions controls a pipeline run.
type PipelineOptions struct {
	// Model and WorkingDirectory apply to tasks that leave them empty.
	Model            string
	WorkingDirectory string
	// Defaults are the base flags for every task.
	Defaults TaskOptions

	// ShouldPause is polled before each task.
	ShouldPause func() bool

	OnTaskStart    func(task *Task)
	OnTaskComplete func(task *Task)
	OnPaused       func(result *PipelineResult)
	OnError        func(err error, tasks []*Task)
}

// ExecutePipeline runs tasks in order. Every task starts pending.
func (e *Executor) ExecutePipeline(ctx context.Context, tasks []*Task, opts PipelineOptions) (*PipelineResult, error) {
	for _, t := range tasks {
		t.Status = TaskPending
		t.SessionID = ""
		t.Result = ""
		t.Error = ""
		t.StartedAt = nil
		t.CompletedAt = nil
	}
	return e.runPipeline(ctx, &PipelineResult{Tasks: tasks, PausedAtIndex: -1}, 0, opts)
}

// ResumePipeline continues at the first paused or pending task.
func (e *Executor) ResumePipeline(ctx context.Context, prev *PipelineResult, opts PipelineOptions) (*PipelineResult, error) {
	if prev == nil {
		return nil, types.NewError(types.ErrNotResumable, "no pipeline to resume")
	}

	start := -1
	for i, t := range prev.Tasks {
		if t.Status == TaskPaused || t.Status == TaskPending {
			start = i
			break
		}
	}
	if start < 0 {
		prev.Status = PipelineCompleted
		return prev, nil
	}

	prev.PausedAtIndex = -1
	prev.ResetTime = time.Time{}
	prev.Message = ""
	if t := prev.Tasks[start]; t.Status == TaskPaused {
		t.Status = TaskPending
		t.Error = ""
	}

	e.logger.Info("resuming pipeline", zap.Int("index", start), zap.String("task", prev.Tasks[start].ID))
	return e.runPipeline(ctx, prev, start, opts)
}

func (e *Executor) runPipeline(ctx context.Context, res *PipelineResult, start int, opts PipelineOptions) (*PipelineResult, error) {
	for i := start; i < len(res.Tasks); i++ {
		task := res.Tasks[i]
		if task.Status == TaskCompleted {
			continue
		}

		if opts.ShouldPause != nil && opts.ShouldPause() {
			if !hasPending(res.Tasks[i:]) {
				break
			}
			task.Status = TaskPaused
			task.Error = PausedMessage
			res.Status = PipelinePaused
			res.PausedAtIndex = i
			res.Message = PausedMessage
			e.logger.Info("pipeline paused", zap.Int("index", i), zap.String("task", task.ID))
			if opts.OnPaused != nil {
				opts.OnPaused(res)
			}
			return res, nil
		}

		req := e.pipelineRequest(res.Tasks, task, opts)

		now := e.clock.Now()
		task.Status = TaskRunning
		task.StartedAt = &now
		if opts.OnTaskStart != nil {
			opts.OnTaskStart(task)
		}

		result, err := e.ExecuteTask(ctxkeys.WithStepID(ctx, task.ID), req)
		done := e.clock.Now()
		task.CompletedAt = &done

		if err != nil {
			return e.failPipeline(res, i, err, opts)
		}

		// 只记录本任务自己产生的会话
		task.SessionID = result.SessionID

		if result.RateLimited {
			task.Status = TaskPaused
			task.Error = result.Error
			res.Status = PipelinePaused
			res.PausedAtIndex = i
			res.ResetTime = result.ResetTime
			res.Message = result.Error
			e.logger.Warn("pipeline paused by usage limit",
				zap.Int("index", i),
				zap.Time("reset_time", result.ResetTime),
			)
			if opts.OnPaused != nil {
				opts.OnPaused(res)
			}
			return res, nil
		}

		if !result.Success {
			return e.failPipeline(res, i, types.NewError(types.ErrExecution, result.Error), opts)
		}

		task.Status = TaskCompleted
		task.Result = result.Output
		task.Error = ""
		if opts.OnTaskComplete != nil {
			opts.OnTaskComplete(task)
		}
	}

	res.Status = PipelineCompleted
	res.PausedAtIndex = -1
	return res, nil
}

// pipelineRequest builds the invocation for a task. Session continuity
// comes from ResumeFromTaskID and nothing else.
func (e *Executor) pipelineRequest(tasks []*Task, task *Task, opts PipelineOptions) TaskRequest {
	taskOpts := mergeTaskOptions(opts.Defaults, task.Options)
	taskOpts.ResumeSessionID = ""
	taskOpts.Continue = false

	if task.ResumeFromTaskID != "" {
		var source *Task
		for _, t := range tasks {
			if t.ID == task.ResumeFromTaskID {
				source = t
				break
			}
		}
		switch {
		case source == nil:
			e.logger.Warn("resume source task not found", zap.String("task", task.ID), zap.String("resume_from", task.ResumeFromTaskID))
		case source.SessionID == "":
			e.logger.Warn("resume source task has no session", zap.String("task", task.ID), zap.String("resume_from", source.ID))
		default:
			taskOpts.ResumeSessionID = source.SessionID
		}
	}

	req := TaskRequest{
		Prompt:           task.Prompt,
		Model:            task.Model,
		WorkingDirectory: task.WorkingDirectory,
		Options:          taskOpts,
	}
	if req.Model == "" || req.Model == ModelAuto {
		req.Model = opts.Model
	}
	if req.WorkingDirectory == "" {
		req.WorkingDirectory = opts.WorkingDirectory
	}
	return req
}

func (e *Executor) failPipeline(res *PipelineResult, i int, err error, opts PipelineOptions) (*PipelineResult, error) {
	task := res.Tasks[i]
	task.Status = TaskError
	task.Error = err.Error()
	var te *types.Error
	if errors.As(err, &te) {
		task.Error = te.Message
	}
	res.Status = PipelineError
	res.Message = task.Error

	e.logger.Error("pipeline task failed", zap.Int("index", i), zap.String("task", task.ID), zap.Error(err))
	if opts.OnError != nil {
		opts.OnError(err, res.Tasks)
	}
	return res, err
}

func hasPending(tasks []*Task) bool {
	for _, t := range tasks {
		if t.Status == TaskPending || t.Status == TaskPaused {
			return true
		}
	}
	return false
}

// mergeTaskOptions overlays task-level flags on the defaults.
func mergeTaskOptions(base, over TaskOptions) TaskOptions {
	out := base
	if over.OutputFormat != "" {
		out.OutputFormat = over.OutputFormat
	}
	if over.MaxTurns > 0 {
		out.MaxTurns = over.MaxTurns
	}
	out.BypassPermissions = base.BypassPermissions || over.BypassPermissions
	out.AllowAllTools = base.AllowAllTools || over.AllowAllTools
	if len(over.AllowedTools) > 0 {
		out.AllowedTools = over.AllowedTools
	}
	if len(over.DisallowedTools) > 0 {
		out.DisallowedTools = over.DisallowedTools
	}
	if over.MCPConfig != "" {
		out.MCPConfig = over.MCPConfig
	}
	if over.PermissionPromptTool != "" {
		out.PermissionPromptTool = over.PermissionPromptTool
	}
	if len(over.Env) > 0 {
		env := make(map[string]string, len(base.Env)+len(over.Env))
		for k, v := range base.Env {
			env[k] = v
		}
		for k, v := range over.Env {
			env[k] = v
		}
		out.Env = env
	}
	return out
}
