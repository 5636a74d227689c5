package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.Registry())
	assert.NotNil(t, collector.tasksTotal)
	assert.NotNil(t, collector.stepsTotal)
	assert.NotNil(t, collector.workflowsTotal)
}

func TestNewCollector_IndependentRegistries(t *testing.T) {
	// 同名 namespace 不会冲突
	a := NewCollector("flowpilot", nil)
	b := NewCollector("flowpilot", nil)

	a.RecordWorkflow("completed")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.workflowsTotal.WithLabelValues("completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.workflowsTotal.WithLabelValues("completed")))
}

func TestCollector_RecordTask(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	collector.RecordTask("success", 2*time.Second)
	collector.RecordTask("success", time.Second)
	collector.RecordTask("rate_limited", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.tasksTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.tasksTotal.WithLabelValues("rate_limited")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.taskDuration))
}

func TestCollector_RecordRetry(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	collector.RecordRetry("rate_limit")
	collector.RecordRetry("rate_limit")
	collector.RecordRateLimitWait(10 * time.Minute)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.retriesTotal.WithLabelValues("rate_limit")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.rateLimitWaited))
}

func TestCollector_RecordStepAndWorkflow(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	collector.RecordStep("completed", time.Second)
	collector.RecordStep("skipped", 0)
	collector.RecordWorkflow("paused")

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.stepsTotal.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.workflowsTotal.WithLabelValues("paused")))
}

func TestCollector_RecordStateOp(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	collector.RecordStateOp("redis", "set", nil, time.Millisecond)
	collector.RecordStateOp("redis", "set", errors.New("boom"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.stateOpsTotal.WithLabelValues("redis", "set", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.stateOpsTotal.WithLabelValues("redis", "set", "error")))
}

func TestCollector_NilSafe(t *testing.T) {
	var collector *Collector

	assert.NotPanics(t, func() {
		collector.RecordTask("success", time.Second)
		collector.RecordRetry("rate_limit")
		collector.RecordRateLimitWait(time.Second)
		collector.RecordStep("completed", time.Second)
		collector.RecordWorkflow("completed")
		collector.RecordStateOp("file", "get", nil, time.Second)
	})
	assert.Nil(t, collector.Registry())
	assert.NoError(t, collector.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector("test", zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordTask("success", 100*time.Millisecond)
			collector.RecordStep("completed", 100*time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.tasksTotal.WithLabelValues("success")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.stepsTotal.WithLabelValues("completed")))
}

func TestCollector_WriteTextfile(t *testing.T) {
	collector := NewCollector("flowpilot", zap.NewNop())
	collector.RecordWorkflow("completed")

	path := filepath.Join(t.TempDir(), "flowpilot.prom")
	require.NoError(t, collector.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `flowpilot_workflows_total{status="completed"} 1`))
}
