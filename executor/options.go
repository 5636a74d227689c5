package executor

import (
	"time"
)

// Defaults
const (
	DefaultBinary      = "claude"
	DefaultShell       = "/bin/sh"
	DefaultMaxTurns    = 10
	OutputFormatJSON   = "json"
	OutputFormatStream = "stream-json"
	OutputFormatText   = "text"
	ModelAuto          = "auto"
	exitCodeNotFound   = 127
)

// TaskOptions carries the CLI flags for one invocation.
type TaskOptions struct {
	// ResumeSessionID continues an existing session (-r <id>).
	ResumeSessionID string `json:"resume_session_id,omitempty" yaml:"resume_session_id,omitempty"`
	// Continue resumes the most recent session (--continue).
	Continue bool `json:"continue,omitempty" yaml:"continue,omitempty"`

	OutputFormat string `json:"output_format,omitempty" yaml:"output_format,omitempty"`
	MaxTurns     int    `json:"max_turns,omitempty" yaml:"max_turns,omitempty"`

	BypassPermissions bool     `json:"bypass_permissions,omitempty" yaml:"bypass_permissions,omitempty"`
	AllowAllTools     bool     `json:"allow_all_tools,omitempty" yaml:"allow_all_tools,omitempty"`
	AllowedTools      []string `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
	DisallowedTools   []string `json:"disallowed_tools,omitempty" yaml:"disallowed_tools,omitempty"`

	MCPConfig            string `json:"mcp_config,omitempty" yaml:"mcp_config,omitempty"`
	PermissionPromptTool string `json:"permission_prompt_tool,omitempty" yaml:"permission_prompt_tool,omitempty"`

	// Env is appended to the subprocess environment.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// IsContinuation reports whether the invocation continues a session.
func (o TaskOptions) IsContinuation() bool {
	return o.Continue || o.ResumeSessionID != ""
}

// TaskRequest is one task invocation.
type TaskRequest struct {
	Prompt           string
	Model            string
	WorkingDirectory string
	Options          TaskOptions
}

// TaskResult is the outcome of one invocation.
type TaskResult struct {
	Success         bool      `json:"success"`
	Output          string    `json:"output,omitempty"`
	SessionID       string    `json:"session_id,omitempty"`
	Error           string    `json:"error,omitempty"`
	ExitCode        int       `json:"exit_code"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	RateLimited     bool      `json:"rate_limited,omitempty"`
	ResetTime       time.Time `json:"reset_time,omitempty"`
	IsTimeout       bool      `json:"is_timeout,omitempty"`
	Attempts        int       `json:"attempts,omitempty"`
}

// RetryPolicy bounds ExecuteTaskWithRetry.
type RetryPolicy struct {
	// MaxRetries is the total number of attempts.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
	// WaitBudget caps the sum of all rate-limit waits.
	WaitBudget time.Duration `json:"wait_budget" yaml:"wait_budget"`
	// MaxSingleWait caps one wait.
	MaxSingleWait time.Duration `json:"max_single_wait" yaml:"max_single_wait"`
	// ProgressInterval is how often a running wait reports progress.
	ProgressInterval time.Duration `json:"progress_interval" yaml:"progress_interval"`
	// TimeoutThreshold classifies resets further out as timeouts.
	TimeoutThreshold time.Duration `json:"timeout_threshold" yaml:"timeout_threshold"`
	// OnWaitProgress is called every ProgressInterval while waiting.
	OnWaitProgress func(attempt int, remaining time.Duration) `json:"-" yaml:"-"`
}

// DefaultRetryPolicy returns 3 attempts within a 90 minute budget
// (90% of a two hour ceiling) and 30 minute single waits.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:       3,
		WaitBudget:       90 * time.Minute,
		MaxSingleWait:    30 * time.Minute,
		ProgressInterval: 30 * time.Second,
		TimeoutThreshold: 6 * time.Hour,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxRetries <= 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.WaitBudget <= 0 {
		p.WaitBudget = def.WaitBudget
	}
	if p.MaxSingleWait <= 0 {
		p.MaxSingleWait = def.MaxSingleWait
	}
	if p.ProgressInterval <= 0 {
		p.ProgressInterval = def.ProgressInterval
	}
	if p.TimeoutThreshold <= 0 {
		p.TimeoutThreshold = def.TimeoutThreshold
	}
	return p
}

// Config configures an Executor.
type Config struct {
	// Binary is the task CLI.
	Binary string `json:"binary" yaml:"binary"`
	// Shell runs the escaped command line. Empty runs Binary directly.
	Shell string `json:"shell" yaml:"shell"`
	// Retry bounds ExecuteTaskWithRetry.
	Retry RetryPolicy `json:"retry" yaml:"retry"`
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		Binary: DefaultBinary,
		Shell:  DefaultShell,
		Retry:  DefaultRetryPolicy(),
	}
}
