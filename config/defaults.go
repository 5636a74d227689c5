// =============================================================================
// 📦 FlowPilot 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Executor:  DefaultExecutorConfig(),
		Engine:    DefaultEngineConfig(),
		State:     DefaultStateConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultExecutorConfig 返回默认执行器配置
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Binary:       "claude",
		Shell:        "/bin/sh",
		DefaultModel: "",
		OutputFormat: "json",
		MaxTurns:     0,
		Retry:        DefaultRetryConfig(),
	}
}

// DefaultRetryConfig 返回默认重试配置：3 次尝试，90 分钟总预算
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:       3,
		WaitBudget:       90 * time.Minute,
		MaxSingleWait:    30 * time.Minute,
		ProgressInterval: 30 * time.Second,
		TimeoutThreshold: 6 * time.Hour,
	}
}

// DefaultEngineConfig 返回默认引擎配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ProgressLogDir: ".flowpilot/logs",
	}
}

// DefaultStateConfig 返回默认状态存储配置
func DefaultStateConfig() StateConfig {
	return StateConfig{
		Type:       "file",
		BaseDir:    ".flowpilot",
		Namespace:  "flowpilot",
		MaxEntries: 50,
		Retention:  7 * 24 * time.Hour,
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		Mongo:      DefaultMongoConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "flowpilot",
		Password:        "",
		Name:            ".flowpilot/state.db",
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:        "",
		Database:   "flowpilot",
		Collection: "kv",
		Timeout:    10 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     false,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "flowpilot",
		SampleRate:   1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "flowpilot",
	}
}
