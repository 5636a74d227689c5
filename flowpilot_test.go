package flowpilot

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/BaSui01/flowpilot/config"
	"github.com/BaSui01/flowpilot/testutil"
	"github.com/BaSui01/flowpilot/testutil/fixtures"
	"github.com/BaSui01/flowpilot/workflow"
	"github.com/BaSui01/flowpilot/workflow/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeCLI writes a task CLI that numbers its sessions and echoes the
// session it resumed.
func fakeCLI(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	dir := t.TempDir()
	counter := filepath.Join(dir, "count")
	script := `#!/bin/sh
n=$(cat "` + counter + `" 2>/dev/null || echo 0)
n=$((n+1))
echo $n > "` + counter + `"
if [ "$1" = "-r" ]; then
  echo "{\"type\":\"result\",\"result\":\"resumed $2\",\"session_id\":\"s-$n\"}"
else
  echo "{\"type\":\"result\",\"result\":\"fresh\",\"session_id\":\"s-$n\"}"
fi
`
	path := filepath.Join(dir, "fake-claude")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Executor.Binary = fakeCLI(t)
	cfg.State.Type = "file"
	cfg.State.BaseDir = filepath.Join(dir, "state")
	cfg.Engine.ProgressLogDir = filepath.Join(dir, "logs")
	cfg.Metrics.Enabled = true
	cfg.Metrics.TextfilePath = filepath.Join(dir, "flowpilot.prom")
	return cfg
}

func TestRuntime_RunsWorkflowEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	ctx := testutil.TestContext(t)

	rt, err := New(ctx, cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	path := testutil.WriteWorkflow(t, t.TempDir(), "review.yml", fixtures.ChainedWorkflowYAML)
	doc, err := rt.LoadWorkflow(path)
	require.NoError(t, err)
	exec, err := workflow.NewExecution(doc, nil)
	require.NoError(t, err)

	res, err := rt.Engine.ExecuteWorkflow(ctx, exec, rt.RunOptions(path))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.StepsExecuted)
	assert.Equal(t, "s-1", res.Outputs["step1"].SessionID)
	assert.Equal(t, "resumed s-1", res.Outputs["step2"].Result)
	assert.Equal(t, "resumed s-2", res.Outputs["step3"].Result)

	ws, err := rt.States.GetWorkflowState(ctx, exec.ID())
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, ws.Status)

	_, err = os.Stat(filepath.Join(cfg.Engine.ProgressLogDir, exec.ID()+".jsonl"))
	assert.NoError(t, err)

	require.NoError(t, rt.Close(context.Background()))
	prom, err := os.ReadFile(cfg.Metrics.TextfilePath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "flowpilot_workflow_steps_total")
}

func TestRuntime_WithStore(t *testing.T) {
	cfg := config.DefaultConfig()
	store := state.NewMemoryStore()

	rt, err := New(context.Background(), cfg, WithStore(store))
	require.NoError(t, err)
	assert.Same(t, store, rt.States.Store())
	assert.Nil(t, rt.Metrics)
	require.NoError(t, rt.Close(context.Background()))
}

func TestRuntime_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.State.Type = "etcd"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestConfigMapping(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Executor.MaxTurns = 7
	cfg.Executor.AllowedTools = []string{"Read"}
	cfg.Executor.Retry.MaxRetries = 5
	cfg.State.Type = "sql"
	cfg.State.Database.Driver = "sqlite"
	cfg.State.Database.Name = "/tmp/x.db"
	cfg.State.Database.MaxOpenConns = 9

	ec := ExecutorConfig(cfg.Executor)
	assert.Equal(t, "claude", ec.Binary)
	assert.Equal(t, 5, ec.Retry.MaxRetries)
	assert.Equal(t, 90*time.Minute, ec.Retry.WaitBudget)

	td := TaskDefaults(cfg.Executor)
	assert.Equal(t, 7, td.MaxTurns)
	assert.Equal(t, []string{"Read"}, td.AllowedTools)
	assert.Empty(t, td.ResumeSessionID)

	sc := StoreConfig(cfg.State)
	assert.Equal(t, state.StoreTypeSQL, sc.Type)
	assert.Equal(t, "/tmp/x.db", sc.Database.DSN)
	assert.Equal(t, 9, sc.Database.Pool.MaxOpenConns)
}
