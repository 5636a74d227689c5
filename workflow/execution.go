package workflow

import (
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/flowpilot/executor"
	"github.com/BaSui01/flowpilot/types"
	"github.com/BaSui01/flowpilot/workflow/dsl"
	"github.com/google/uuid"
)

// ExecutionStatus 执行状态
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionTimeout   ExecutionStatus = "timeout"
)

// Execution is one run of a workflow document. It is safe to read while
// the engine drives it.
type Execution struct {
	id       string
	document *dsl.Document
	inputs   map[string]string

	mu          sync.RWMutex
	status      ExecutionStatus
	outputs     map[string]dsl.StepOutput
	err         error
	startedAt   time.Time
	completedAt time.Time
}

// NewExecution prepares an execution with a fresh id. Declared input
// defaults are filled in; a missing required input or a value outside the
// declared options is a VALIDATION error.
func NewExecution(doc *dsl.Document, inputs map[string]string) (*Execution, error) {
	return newExecution(uuid.NewString(), doc, inputs)
}

func newExecution(id string, doc *dsl.Document, inputs map[string]string) (*Execution, error) {
	if doc == nil {
		return nil, types.NewError(types.ErrValidation, "workflow document is nil")
	}
	resolved, err := resolveInputs(doc, inputs)
	if err != nil {
		return nil, err
	}
	return &Execution{
		id:       id,
		document: doc,
		inputs:   resolved,
		status:   ExecutionPending,
		outputs:  make(map[string]dsl.StepOutput),
	}, nil
}

func resolveInputs(doc *dsl.Document, given map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(doc.Inputs)+len(given))
	maps.Copy(out, given)

	names := make([]string, 0, len(doc.Inputs))
	for name := range doc.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	var problems []string
	for _, name := range names {
		in := doc.Inputs[name]
		v, ok := out[name]
		if !ok || v == "" {
			if in.Default != "" {
				out[name] = in.Default
				continue
			}
			if in.Required {
				problems = append(problems, "missing required input "+name)
			}
			continue
		}
		if len(in.Options) > 0 && !slices.Contains(in.Options, v) {
			problems = append(problems, "input "+name+" must be one of the declared options")
		}
	}
	if len(problems) > 0 {
		return nil, types.NewError(types.ErrValidation, strings.Join(problems, "; "))
	}
	return out, nil
}

// ID returns the execution id.
func (e *Execution) ID() string { return e.id }

// Document returns the workflow being executed.
func (e *Execution) Document() *dsl.Document { return e.document }

// Inputs returns a copy of the resolved inputs.
func (e *Execution) Inputs() map[string]string { return maps.Clone(e.inputs) }

// Status returns the current status.
func (e *Execution) Status() ExecutionStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Err returns the error that failed or paused the execution.
func (e *Execution) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.err
}

// Output returns the recorded output of a step.
func (e *Execution) Output(stepID string) (dsl.StepOutput, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out, ok := e.outputs[stepID]
	return out, ok
}

// Outputs returns a copy of all recorded step outputs.
func (e *Execution) Outputs() map[string]dsl.StepOutput {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.outputs)
}

// StartedAt returns when the engine started the execution.
func (e *Execution) StartedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.startedAt
}

// CompletedAt returns when the execution reached a final or paused state.
func (e *Execution) CompletedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.completedAt
}

func (e *Execution) start(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != ExecutionPending {
		return false
	}
	e.status = ExecutionRunning
	e.startedAt = now
	return true
}

func (e *Execution) setOutput(stepID string, out dsl.StepOutput) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outputs[stepID] = out
}

func (e *Execution) finish(status ExecutionStatus, err error, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = status
	e.err = err
	e.completedAt = now
}

func (e *Execution) resolveContext(env map[string]string) dsl.ResolveContext {
	return dsl.ResolveContext{
		Inputs: e.inputs,
		Env:    env,
		Steps:  e.Outputs(),
	}
}

// RunOptions 单次运行参数
type RunOptions struct {
	// WorkflowPath enables persisted state when a state service is configured.
	WorkflowPath string
	// Model is used when a step leaves model empty or "auto".
	Model string
	// WorkingDirectory is used when a step sets none.
	WorkingDirectory string
	// TaskDefaults seeds every task invocation. Session fields are ignored.
	TaskDefaults executor.TaskOptions
}

// WorkflowResult 工作流运行结果
type WorkflowResult struct {
	ExecutionID     string                    `json:"execution_id"`
	Success         bool                      `json:"success"`
	Paused          bool                      `json:"paused,omitempty"`
	Outputs         map[string]dsl.StepOutput `json:"outputs"`
	ExecutionTimeMs int64                     `json:"execution_time_ms"`
	StepsExecuted   int                       `json:"steps_executed"`
	Error           string                    `json:"error,omitempty"`

	// Err is the underlying error, nil on success.
	Err error `json:"-"`
}
