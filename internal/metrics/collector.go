// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。nil 的 *Collector 可以安全调用所有 Record 方法。
type Collector struct {
	registry *prometheus.Registry

	// 任务指标
	tasksTotal      *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	rateLimitWaited prometheus.Histogram

	// 工作流指标
	stepsTotal     *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	workflowsTotal *prometheus.CounterVec

	// 状态存储指标
	stateOpsTotal   *prometheus.CounterVec
	stateOpDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。每个 Collector 拥有独立的 Registry，
// 同一进程可以创建多个实例。
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	// 任务指标
	c.tasksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of task invocations",
		},
		[]string{"status"}, // success, failed, rate_limited, error
	)

	c.taskDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task invocation duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"},
	)

	c.retriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_retries_total",
			Help:      "Total number of task retries",
		},
		[]string{"reason"},
	)

	c.rateLimitWaited = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for usage limit resets",
			Buckets:   []float64{60, 300, 600, 1200, 1800, 3600, 5400},
		},
	)

	// 工作流指标
	c.stepsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_steps_total",
			Help:      "Total number of workflow steps by outcome",
		},
		[]string{"status"},
	)

	c.stepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_step_duration_seconds",
			Help:      "Workflow step duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"},
	)

	c.workflowsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_total",
			Help:      "Total number of finished workflow runs",
		},
		[]string{"status"}, // completed, failed, paused
	)

	// 状态存储指标
	c.stateOpsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_operations_total",
			Help:      "Total number of state store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	c.stateOpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "state_operation_duration_seconds",
			Help:      "State store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// Registry 返回收集器使用的 Registry
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// =============================================================================
// 🚀 任务指标记录
// =============================================================================

// RecordTask 记录一次任务调用
func (c *Collector) RecordTask(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.tasksTotal.WithLabelValues(status).Inc()
	c.taskDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordRetry 记录一次重试
func (c *Collector) RecordRetry(reason string) {
	if c == nil {
		return
	}
	c.retriesTotal.WithLabelValues(reason).Inc()
}

// RecordRateLimitWait 记录一次限流等待时长
func (c *Collector) RecordRateLimitWait(d time.Duration) {
	if c == nil {
		return
	}
	c.rateLimitWaited.Observe(d.Seconds())
}

// =============================================================================
// 🔀 工作流指标记录
// =============================================================================

// RecordStep 记录步骤结果
func (c *Collector) RecordStep(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.stepsTotal.WithLabelValues(status).Inc()
	c.stepDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordWorkflow 记录工作流结束状态
func (c *Collector) RecordWorkflow(status string) {
	if c == nil {
		return
	}
	c.workflowsTotal.WithLabelValues(status).Inc()
}

// =============================================================================
// 💾 状态存储指标记录
// =============================================================================

// RecordStateOp 记录状态存储操作
func (c *Collector) RecordStateOp(backend, operation string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.stateOpsTotal.WithLabelValues(backend, operation, status).Inc()
	c.stateOpDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// =============================================================================
// 📤 导出
// =============================================================================

// WriteTextfile 以 Prometheus 文本格式写出全部指标，供 node_exporter
// textfile collector 采集。CLI 进程生命周期短，不提供 HTTP 端点。
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		c.logger.Warn("failed to write metrics textfile", zap.String("path", path), zap.Error(err))
		return err
	}
	return nil
}
