package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowpilot/executor"
	"github.com/BaSui01/flowpilot/testutil"
	"github.com/BaSui01/flowpilot/testutil/fixtures"
	"github.com/BaSui01/flowpilot/types"
	"github.com/BaSui01/flowpilot/workflow/state"
)

// writeEnv 生成配置文件和一个按序编号会话的假 CLI
func writeEnv(t *testing.T) (configPath, dir string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	dir = t.TempDir()
	counter := filepath.Join(dir, "count")
	script := `#!/bin/sh
n=$(cat "` + counter + `" 2>/dev/null || echo 0)
n=$((n+1))
echo $n > "` + counter + `"
echo "{\"type\":\"result\",\"result\":\"ok $n\",\"session_id\":\"s-$n\"}"
`
	bin := filepath.Join(dir, "fake-claude")
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	cfg := `executor:
  binary: ` + bin + `
engine:
  progress_log_dir: ` + filepath.Join(dir, "logs") + `
state:
  type: file
  base_dir: ` + filepath.Join(dir, "state") + `
log:
  level: error
`
	configPath = filepath.Join(dir, "flowpilot.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))
	return configPath, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(testutil.TestContext(t))
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "FlowPilot dev")
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := testutil.WriteWorkflow(t, dir, "good.yml", fixtures.ChainedWorkflowYAML)
	bad := testutil.WriteWorkflow(t, dir, "bad.yml", "jobs: {}\n")

	out, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "3 task step(s)")
	assert.Contains(t, out, "review/step2")

	out, err = execute(t, "validate", good, bad)
	require.Error(t, err)
	assert.Contains(t, out, "✘ "+bad)
}

func TestValidateCommand_Directory(t *testing.T) {
	dir := t.TempDir()
	good := testutil.WriteWorkflow(t, dir, "review.yml", fixtures.ChainedWorkflowYAML)
	other := testutil.WriteWorkflow(t, dir, "batch.yaml", fixtures.IndependentWorkflowYAML)
	testutil.WriteWorkflow(t, dir, "notes.txt", "not a workflow")

	out, err := execute(t, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✔ "+good)
	assert.Contains(t, out, "✔ "+other)
	assert.NotContains(t, out, "notes.txt")

	bad := testutil.WriteWorkflow(t, dir, "broken.yml", "jobs: {}\n")
	out, err = execute(t, "validate", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✘ "+bad)
	assert.Contains(t, out, "✔ "+good)

	_, err = execute(t, "validate", t.TempDir())
	assert.ErrorContains(t, err, "no workflow files")
}

func TestRunStatusDelete(t *testing.T) {
	configPath, dir := writeEnv(t)
	wf := testutil.WriteWorkflow(t, dir, "review.yml", fixtures.ChainedWorkflowYAML)

	out, err := execute(t, "-c", configPath, "run", wf, "--input", "target=pkg")
	require.NoError(t, err)
	assert.Contains(t, out, "workflow completed: 3 step(s)")

	out, err = execute(t, "-c", configPath, "--json", "status")
	require.NoError(t, err)
	var states []*state.WorkflowState
	require.NoError(t, json.Unmarshal([]byte(out), &states))
	require.Len(t, states, 1)
	assert.Equal(t, state.StatusCompleted, states[0].Status)
	assert.Equal(t, "pkg", states[0].Inputs["target"])

	id := states[0].ExecutionID
	out, err = execute(t, "-c", configPath, "status", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Status:    completed")

	_, err = execute(t, "-c", configPath, "resume", id)
	testutil.AssertErrorCode(t, err, types.ErrNotResumable)

	out, err = execute(t, "-c", configPath, "delete", id)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted "+id)

	_, err = execute(t, "-c", configPath, "delete", id)
	assert.Error(t, err)
}

func TestRunRejectsBadInput(t *testing.T) {
	configPath, dir := writeEnv(t)
	wf := testutil.WriteWorkflow(t, dir, "review.yml", fixtures.ChainedWorkflowYAML)

	_, err := execute(t, "-c", configPath, "run", wf, "--input", "novalue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected key=value")
}

func TestPipelineRun(t *testing.T) {
	configPath, dir := writeEnv(t)
	tasksPath := filepath.Join(dir, "tasks.yml")
	require.NoError(t, os.WriteFile(tasksPath, []byte(`tasks:
  - id: a
    prompt: first
  - id: b
    prompt: second
    resume_from: a
`), 0o644))
	resultPath := filepath.Join(dir, "result.json")

	out, err := execute(t, "-c", configPath, "pipeline", "run", tasksPath, "--out", resultPath)
	require.NoError(t, err)
	assert.Contains(t, out, "pipeline completed")

	data, err := os.ReadFile(resultPath)
	require.NoError(t, err)
	var res executor.PipelineResult
	require.NoError(t, json.Unmarshal(data, &res))
	require.Len(t, res.Tasks, 2)
	assert.Equal(t, "s-1", res.Tasks[0].SessionID)
	assert.Equal(t, executor.TaskCompleted, res.Tasks[1].Status)

	// 已完成的流水线恢复后保持完成
	out, err = execute(t, "-c", configPath, "pipeline", "resume", resultPath)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "pipeline completed"))
}

func TestLoadTasks(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "list.yml")
	require.NoError(t, os.WriteFile(list, []byte("- prompt: one\n- prompt: two\n"), 0o644))
	tasks, err := loadTasks(list)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "task-1", tasks[0].ID)

	dup := filepath.Join(dir, "dup.yml")
	require.NoError(t, os.WriteFile(dup, []byte("- id: x\n  prompt: one\n- id: x\n  prompt: two\n"), 0o644))
	_, err = loadTasks(dup)
	assert.ErrorContains(t, err, "duplicate task id")
}
