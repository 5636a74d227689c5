package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultExecutorConfig(), cfg.Executor)
	assert.Equal(t, DefaultEngineConfig(), cfg.Engine)
	assert.Equal(t, DefaultStateConfig(), cfg.State)
	assert.Equal(t, DefaultLogConfig(), cfg.Log)
	assert.Equal(t, DefaultTelemetryConfig(), cfg.Telemetry)
	assert.Equal(t, DefaultMetricsConfig(), cfg.Metrics)
}

func TestDefaultExecutorConfig(t *testing.T) {
	cfg := DefaultExecutorConfig()

	assert.Equal(t, "claude", cfg.Binary)
	assert.Equal(t, "/bin/sh", cfg.Shell)
	assert.Equal(t, "json", cfg.OutputFormat)
	assert.False(t, cfg.BypassPermissions)
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 90*time.Minute, cfg.WaitBudget)
	assert.Equal(t, 30*time.Minute, cfg.MaxSingleWait)
	assert.Equal(t, 30*time.Second, cfg.ProgressInterval)
	assert.Equal(t, 6*time.Hour, cfg.TimeoutThreshold)
}

func TestDefaultStateConfig(t *testing.T) {
	cfg := DefaultStateConfig()

	assert.Equal(t, "file", cfg.Type)
	assert.Equal(t, ".flowpilot", cfg.BaseDir)
	assert.Equal(t, "flowpilot", cfg.Namespace)
	assert.Equal(t, 50, cfg.MaxEntries)
	assert.Equal(t, 168*time.Hour, cfg.Retention)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, []string{"stderr"}, cfg.OutputPaths)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "flowpilot", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
}
