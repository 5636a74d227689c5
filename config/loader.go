// =============================================================================
// 📦 FlowPilot 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("flowpilot.yaml").
//	    WithEnvPrefix("FLOWPILOT").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 FlowPilot 的完整配置结构
type Config struct {
	// Executor 任务执行器配置
	Executor ExecutorConfig `yaml:"executor" env:"EXECUTOR"`

	// Engine 工作流引擎配置
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// State 工作流状态存储配置
	State StateConfig `yaml:"state" env:"STATE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// ExecutorConfig 任务执行器配置
type ExecutorConfig struct {
	// 任务 CLI 可执行文件
	Binary string `yaml:"binary" env:"BINARY" validate:"required"`
	// 执行命令行的 shell，为空时直接执行 Binary
	Shell string `yaml:"shell" env:"SHELL"`
	// 默认模型，步骤未指定或为 auto 时使用
	DefaultModel string `yaml:"default_model" env:"DEFAULT_MODEL"`
	// 输出格式: json, stream-json, text
	OutputFormat string `yaml:"output_format" env:"OUTPUT_FORMAT" validate:"omitempty,oneof=json stream-json text"`
	// 最大轮数
	MaxTurns int `yaml:"max_turns" env:"MAX_TURNS" validate:"gte=0"`
	// MCP 配置文件
	MCPConfig string `yaml:"mcp_config" env:"MCP_CONFIG"`
	// 权限确认工具
	PermissionPromptTool string `yaml:"permission_prompt_tool" env:"PERMISSION_PROMPT_TOOL"`
	// 允许的工具
	AllowedTools []string `yaml:"allowed_tools" env:"ALLOWED_TOOLS"`
	// 禁用的工具
	DisallowedTools []string `yaml:"disallowed_tools" env:"DISALLOWED_TOOLS"`
	// 跳过权限确认
	BypassPermissions bool `yaml:"bypass_permissions" env:"BYPASS_PERMISSIONS"`
	// 重试配置
	Retry RetryConfig `yaml:"retry" env:"RETRY"`
}

// RetryConfig 限流重试配置
type RetryConfig struct {
	// 总尝试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES" validate:"gte=1"`
	// 累计等待预算
	WaitBudget time.Duration `yaml:"wait_budget" env:"WAIT_BUDGET" validate:"gt=0"`
	// 单次等待上限
	MaxSingleWait time.Duration `yaml:"max_single_wait" env:"MAX_SINGLE_WAIT" validate:"gt=0"`
	// 等待进度上报间隔
	ProgressInterval time.Duration `yaml:"progress_interval" env:"PROGRESS_INTERVAL" validate:"gt=0"`
	// 超过该时长的重置时间视为超时
	TimeoutThreshold time.Duration `yaml:"timeout_threshold" env:"TIMEOUT_THRESHOLD" validate:"gt=0"`
}

// EngineConfig 工作流引擎配置
type EngineConfig struct {
	// 进度日志目录，为空时不写
	ProgressLogDir string `yaml:"progress_log_dir" env:"PROGRESS_LOG_DIR"`
	// 默认工作目录
	WorkingDirectory string `yaml:"working_directory" env:"WORKING_DIRECTORY"`
}

// StateConfig 工作流状态存储配置
type StateConfig struct {
	// 存储类型: memory, file, redis, sql, mongo
	Type string `yaml:"type" env:"TYPE" validate:"required,oneof=memory file redis sql mongo"`
	// 文件存储目录
	BaseDir string `yaml:"base_dir" env:"BASE_DIR" validate:"required_if=Type file"`
	// 键命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE" validate:"required"`
	// 保留的最大执行记录数
	MaxEntries int `yaml:"max_entries" env:"MAX_ENTRIES" validate:"gte=1"`
	// cleanup 默认保留时长
	Retention time.Duration `yaml:"retention" env:"RETENTION" validate:"gt=0"`
	// Redis 配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
	// Mongo 配置
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB" validate:"gte=0"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE" validate:"gte=0"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS" validate:"gte=0"`
	// 启用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
	// 跳过证书校验（仅限自签名开发环境）
	TLSInsecureSkipVerify bool `yaml:"tls_insecure_skip_verify" env:"TLS_INSECURE_SKIP_VERIFY"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER" validate:"omitempty,oneof=postgres mysql sqlite"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT" validate:"gte=0,lte=65535"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	// 连接 URI
	URI string `yaml:"uri" env:"URI"`
	// 数据库名
	Database string `yaml:"database" env:"DATABASE"`
	// 集合名
	Collection string `yaml:"collection" env:"COLLECTION"`
	// 连接超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL" validate:"omitempty,oneof=debug info warn error"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT" validate:"omitempty,oneof=json console"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT" validate:"required_if=Enabled true"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE" validate:"gte=0,lte=1"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// 退出时写出的 textfile 路径，为空时不写
	TextfilePath string `yaml:"textfile_path" env:"TEXTFILE_PATH"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "FLOWPILOT",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 验证配置：先校验结构体标签，再做跨字段检查
func (c *Config) Validate() error {
	var errs []string

	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				errs = append(errs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	switch c.State.Type {
	case "redis":
		if c.State.Redis.Addr == "" {
			errs = append(errs, "state.redis.addr is required for the redis store")
		}
	case "sql":
		if c.State.Database.Driver == "" {
			errs = append(errs, "state.database.driver is required for the sql store")
		}
	case "mongo":
		if c.State.Mongo.URI == "" {
			errs = append(errs, "state.mongo.uri is required for the mongo store")
		}
	}

	if c.Executor.Retry.MaxSingleWait > c.Executor.Retry.WaitBudget {
		errs = append(errs, "executor.retry.max_single_wait must not exceed wait_budget")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
