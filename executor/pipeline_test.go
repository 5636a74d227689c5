package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sessionScript answers every call with a fresh session id.
func sessionScript(call int) runOutput {
	return runOutput{Stdout: fmt.Sprintf(`{"type":"result","result":"out-%d","session_id":"sess-%d"}`, call, call)}
}

func jsonDefaults() PipelineOptions {
	return PipelineOptions{Defaults: TaskOptions{OutputFormat: OutputFormatJSON}}
}

func TestExecutePipeline_TasksAreIndependent(t *testing.T) {
	r := &fakeRunner{script: sessionScript}
	e := newTestExecutor(r)

	tasks := []*Task{
		{ID: "a", Prompt: "one"},
		{ID: "b", Prompt: "two", Options: TaskOptions{Continue: true, ResumeSessionID: "leaked"}},
		{ID: "c", Prompt: "three"},
	}
	res, err := e.ExecutePipeline(context.Background(), tasks, jsonDefaults())
	require.NoError(t, err)
	assert.Equal(t, PipelineCompleted, res.Status)

	for i, call := range r.calls() {
		assert.False(t, hasArg(call, "-r"), "task %d resumed a session", i)
		assert.False(t, hasArg(call, "--continue"), "task %d continued a session", i)
	}
	for i, task := range tasks {
		assert.Equal(t, TaskCompleted, task.Status)
		assert.Equal(t, fmt.Sprintf("sess-%d", i+1), task.SessionID)
		assert.Equal(t, fmt.Sprintf("out-%d", i+1), task.Result)
	}
}

func TestExecutePipeline_ExplicitChaining(t *testing.T) {
	r := &fakeRunner{script: sessionScript}
	e := newTestExecutor(r)

	tasks := []*Task{
		{ID: "a", Prompt: "one"},
		{ID: "b", Prompt: "two"},
		{ID: "c", Prompt: "three", ResumeFromTaskID: "a"},
		{ID: "d", Prompt: "four", ResumeFromTaskID: "missing"},
	}
	_, err := e.ExecutePipeline(context.Background(), tasks, jsonDefaults())
	require.NoError(t, err)

	calls := r.calls()
	require.Len(t, calls, 4)
	sid, ok := argValue(calls[2], "-r")
	require.True(t, ok)
	assert.Equal(t, "sess-1", sid)
	assert.False(t, hasArg(calls[3], "-r"), "unknown source starts fresh")
}

func TestExecutePipeline_DefaultsFillTask(t *testing.T) {
	r := &fakeRunner{script: sessionScript}
	e := newTestExecutor(r)

	opts := jsonDefaults()
	opts.Model = "sonnet"
	tasks := []*Task{
		{ID: "a", Prompt: "one", Model: "auto"},
		{ID: "b", Prompt: "two", Model: "opus"},
	}
	_, err := e.ExecutePipeline(context.Background(), tasks, opts)
	require.NoError(t, err)

	calls := r.calls()
	m, _ := argValue(calls[0], "--model")
	assert.Equal(t, "sonnet", m)
	m, _ = argValue(calls[1], "--model")
	assert.Equal(t, "opus", m)
}

func TestExecutePipeline_PauseAndResume(t *testing.T) {
	r := &fakeRunner{script: sessionScript}
	e := newTestExecutor(r)

	tasks := []*Task{
		{ID: "a", Prompt: "one"},
		{ID: "b", Prompt: "two", ResumeFromTaskID: "a"},
		{ID: "c", Prompt: "three"},
	}

	opts := jsonDefaults()
	var started int
	opts.OnTaskStart = func(*Task) { started++ }
	opts.ShouldPause = func() bool { return started == 1 }

	var paused *PipelineResult
	opts.OnPaused = func(res *PipelineResult) { paused = res }

	res, err := e.ExecutePipeline(context.Background(), tasks, opts)
	require.NoError(t, err)
	assert.Equal(t, PipelinePaused, res.Status)
	assert.Equal(t, 1, res.PausedAtIndex)
	assert.Same(t, res, paused)
	assert.Equal(t, TaskCompleted, tasks[0].Status)
	assert.Equal(t, TaskPaused, tasks[1].Status)
	assert.Equal(t, PausedMessage, tasks[1].Error)
	assert.Equal(t, TaskPending, tasks[2].Status)

	opts.ShouldPause = nil
	res, err = e.ResumePipeline(context.Background(), res, opts)
	require.NoError(t, err)
	assert.Equal(t, PipelineCompleted, res.Status)
	assert.Equal(t, -1, res.PausedAtIndex)
	assert.Empty(t, tasks[1].Error)

	calls := r.calls()
	require.Len(t, calls, 3, "completed task is not rerun")
	sid, _ := argValue(calls[1], "-r")
	assert.Equal(t, "sess-1", sid)
}

func TestExecutePipeline_PauseAfterLastTaskCompletes(t *testing.T) {
	r := &fakeRunner{script: sessionScript}
	e := newTestExecutor(r)

	tasks := []*Task{{ID: "a", Prompt: "one"}}
	opts := jsonDefaults()
	done := false
	opts.OnTaskComplete = func(*Task) { done = true }
	opts.ShouldPause = func() bool { return done }

	res, err := e.ExecutePipeline(context.Background(), tasks, opts)
	require.NoError(t, err)
	assert.Equal(t, PipelineCompleted, res.Status)
}

func TestExecutePipeline_RateLimitPauses(t *testing.T) {
	mock := clock.NewMock()
	reset := mock.Now().Add(30 * time.Minute)

	r := &fakeRunner{}
	r.script = func(call int) runOutput {
		if call == 2 {
			return runOutput{Stdout: limitLine(reset), ExitCode: 1}
		}
		return sessionScript(call)
	}
	e := newTestExecutor(r, WithClock(mock))

	tasks := []*Task{{ID: "a", Prompt: "one"}, {ID: "b", Prompt: "two"}, {ID: "c", Prompt: "three"}}
	res, err := e.ExecutePipeline(context.Background(), tasks, jsonDefaults())
	require.NoError(t, err)
	assert.Equal(t, PipelinePaused, res.Status)
	assert.Equal(t, 1, res.PausedAtIndex)
	assert.Equal(t, reset, res.ResetTime)
	assert.Equal(t, TaskPaused, tasks[1].Status)
	assert.Len(t, r.calls(), 2, "single attempt, no waiting")

	res, err = e.ResumePipeline(context.Background(), res, jsonDefaults())
	require.NoError(t, err)
	assert.Equal(t, PipelineCompleted, res.Status)
	assert.True(t, res.ResetTime.IsZero())
	assert.Equal(t, "sess-3", tasks[1].SessionID)
}

func TestExecutePipeline_FailureStops(t *testing.T) {
	r := &fakeRunner{}
	r.script = func(call int) runOutput {
		if call == 2 {
			return runOutput{Stderr: "boom", ExitCode: 1}
		}
		return sessionScript(call)
	}
	e := newTestExecutor(r)

	var reported error
	opts := jsonDefaults()
	opts.OnError = func(err error, _ []*Task) { reported = err }

	tasks := []*Task{{ID: "a", Prompt: "one"}, {ID: "b", Prompt: "two"}, {ID: "c", Prompt: "three"}}
	res, err := e.ExecutePipeline(context.Background(), tasks, opts)
	require.Error(t, err)
	assert.Equal(t, reported, err)
	assert.Equal(t, PipelineError, res.Status)
	assert.Equal(t, TaskError, tasks[1].Status)
	assert.Equal(t, "boom", tasks[1].Error)
	assert.Equal(t, TaskPending, tasks[2].Status)
	assert.Len(t, r.calls(), 2)
}

func TestResumePipeline_NothingLeft(t *testing.T) {
	e := newTestExecutor(&fakeRunner{})
	prev := &PipelineResult{Tasks: []*Task{{ID: "a", Status: TaskCompleted}}}
	res, err := e.ResumePipeline(context.Background(), prev, PipelineOptions{})
	require.NoError(t, err)
	assert.Equal(t, PipelineCompleted, res.Status)

	_, err = e.ResumePipeline(context.Background(), nil, PipelineOptions{})
	assert.Error(t, err)
}
