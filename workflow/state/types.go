package state

import "time"

// Status 持久化执行状态
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StepStatus 步骤检查点状态
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Done reports whether a resumed run may skip the step.
func (s StepStatus) Done() bool {
	return s == StepCompleted || s == StepSkipped
}

// PauseReason 暂停原因
type PauseReason string

const (
	PauseManual PauseReason = "manual"
	PauseError  PauseReason = "error"
)

// StepResult 单个步骤的检查点
type StepResult struct {
	StepIndex     int        `json:"stepIndex"`
	StepID        string     `json:"stepId"`
	SessionID     string     `json:"sessionId,omitempty"`
	OutputSession bool       `json:"outputSession"`
	Status        StepStatus `json:"status"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	Output        string     `json:"output,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// WorkflowState 一次工作流执行的持久化记录
type WorkflowState struct {
	ExecutionID     string            `json:"executionId"`
	WorkflowPath    string            `json:"workflowPath"`
	WorkflowName    string            `json:"workflowName"`
	StartTime       time.Time         `json:"startTime"`
	UpdatedAt       time.Time         `json:"updatedAt,omitempty"`
	CurrentStep     int               `json:"currentStep"`
	TotalSteps      int               `json:"totalSteps"`
	Status          Status            `json:"status"`
	SessionMappings map[string]string `json:"sessionMappings"`
	CompletedSteps  []StepResult      `json:"completedSteps"`
	CanResume       bool              `json:"canResume"`
	PausedAt        *time.Time        `json:"pausedAt,omitempty"`
	ResumedAt       *time.Time        `json:"resumedAt,omitempty"`
	PauseReason     PauseReason       `json:"pauseReason,omitempty"`
	Inputs          map[string]string `json:"inputs,omitempty"`
	LastError       string            `json:"lastError,omitempty"`
}

// Step returns the checkpoint recorded for a step index.
func (s *WorkflowState) Step(index int) (StepResult, bool) {
	for _, r := range s.CompletedSteps {
		if r.StepIndex == index {
			return r, true
		}
	}
	return StepResult{}, false
}

// Resumable reports whether the engine may continue this execution.
func (s *WorkflowState) Resumable() bool {
	return s.CanResume && s.Status != StatusCompleted && s.Status != StatusFailed
}

// CreateParams 创建执行记录的参数
type CreateParams struct {
	ExecutionID  string
	WorkflowPath string
	WorkflowName string
	TotalSteps   int
	Inputs       map[string]string
}
