package workflow

import (
	"iter"
	"sync"
	"time"

	"github.com/BaSui01/flowpilot/workflow/dsl"
	"github.com/BaSui01/flowpilot/workflow/state"
)

// EventType 事件类型
type EventType string

const (
	EventStepStarted       EventType = "step_started"
	EventStepCompleted     EventType = "step_completed"
	EventStepFailed        EventType = "step_failed"
	EventStepSkipped       EventType = "step_skipped"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventWorkflowPaused    EventType = "workflow_paused"
)

// Event is one entry of a run's event stream. The set of implementations
// is closed; switch on the concrete type.
type Event interface {
	Type() EventType
	Meta() EventMeta
	sealed()
}

// EventMeta 所有事件共有的字段
type EventMeta struct {
	ExecutionID string    `json:"execution_id"`
	Timestamp   time.Time `json:"timestamp"`
}

func (m EventMeta) Meta() EventMeta { return m }
func (EventMeta) sealed()           {}

// StepRef identifies a task step within the run.
type StepRef struct {
	StepID    string `json:"step_id"`
	StepIndex int    `json:"step_index"`
	Total     int    `json:"total"`
	Job       string `json:"job"`
	Name      string `json:"name,omitempty"`
}

// StepStarted 步骤开始
type StepStarted struct {
	EventMeta
	StepRef
	// ResumeSessionID is the session the step continues, if any.
	ResumeSessionID string `json:"resume_session_id,omitempty"`
}

// StepCompleted 步骤成功
type StepCompleted struct {
	EventMeta
	StepRef
	Output   dsl.StepOutput `json:"output"`
	Duration time.Duration  `json:"duration"`
}

// StepFailed 步骤失败
type StepFailed struct {
	EventMeta
	StepRef
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// StepSkipped 步骤因条件未满足被跳过
type StepSkipped struct {
	EventMeta
	StepRef
	Reason string `json:"reason"`
}

// WorkflowCompleted 工作流成功结束
type WorkflowCompleted struct {
	EventMeta
	Result *WorkflowResult `json:"result"`
}

// WorkflowFailed 工作流失败
type WorkflowFailed struct {
	EventMeta
	Err           error `json:"-"`
	StepsExecuted int   `json:"steps_executed"`
}

// WorkflowPaused 工作流暂停，可恢复
type WorkflowPaused struct {
	EventMeta
	Reason state.PauseReason `json:"reason"`
	// NextStep is the index the resumed run starts from.
	NextStep int   `json:"next_step"`
	Err      error `json:"-"`
}

func (StepStarted) Type() EventType       { return EventStepStarted }
func (StepCompleted) Type() EventType     { return EventStepCompleted }
func (StepFailed) Type() EventType        { return EventStepFailed }
func (StepSkipped) Type() EventType       { return EventStepSkipped }
func (WorkflowCompleted) Type() EventType { return EventWorkflowCompleted }
func (WorkflowFailed) Type() EventType    { return EventWorkflowFailed }
func (WorkflowPaused) Type() EventType    { return EventWorkflowPaused }

var (
	_ Event = StepStarted{}
	_ Event = StepCompleted{}
	_ Event = StepFailed{}
	_ Event = StepSkipped{}
	_ Event = WorkflowCompleted{}
	_ Event = WorkflowFailed{}
	_ Event = WorkflowPaused{}
)

// eventLog is an append-only event buffer. Every reader replays it from
// the start and blocks for more until it is closed.
type eventLog struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []Event
	closed bool
}

func newEventLog() *eventLog {
	l := &eventLog{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *eventLog) append(e Event) {
	l.mu.Lock()
	if !l.closed {
		l.events = append(l.events, e)
	}
	l.mu.Unlock()
	l.cond.Broadcast()
}

func (l *eventLog) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cond.Broadcast()
}

func (l *eventLog) all() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for i := 0; ; i++ {
			l.mu.Lock()
			for i >= len(l.events) && !l.closed {
				l.cond.Wait()
			}
			if i >= len(l.events) {
				l.mu.Unlock()
				return
			}
			e := l.events[i]
			l.mu.Unlock()

			if !yield(e) {
				return
			}
		}
	}
}
