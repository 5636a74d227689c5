// ScriptedRunner 的任务执行器测试模拟实现。
//
// 按调用序号或提示词返回预置结果，记录每次请求，并支持条件检查结果注入。
package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/BaSui01/flowpilot/executor"
)

// --- ScriptedRunner 结构 ---

// Response 单次调用的预置响应
type Response struct {
	Result *executor.TaskResult
	Err    error
}

// ScriptedRunner 实现 workflow.TaskRunner 与 workflow.ConditionChecker
type ScriptedRunner struct {
	mu sync.Mutex

	// 默认响应：会话 ID 自增
	sessionPrefix string

	// 按调用序号（从 1 开始）的响应
	byCall map[int]Response
	// 按提示词子串的响应
	byPrompt []promptResponse

	// 条件检查结果，未配置的命令视为通过
	checks     map[string]bool
	checkCalls []string

	hook  func(call int, req executor.TaskRequest)
	calls []executor.TaskRequest
}

type promptResponse struct {
	substr string
	resp   Response
}

// NewScriptedRunner 创建默认全部成功的执行器
func NewScriptedRunner() *ScriptedRunner {
	return &ScriptedRunner{
		sessionPrefix: "session",
		byCall:        make(map[int]Response),
		checks:        make(map[string]bool),
	}
}

// --- Builder 方法 ---

// WithIncrementingSessions 默认响应返回 <prefix>-<n> 会话 ID
func (r *ScriptedRunner) WithIncrementingSessions(prefix string) *ScriptedRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionPrefix = prefix
	return r
}

// OnCall 为第 n 次调用设置响应
func (r *ScriptedRunner) OnCall(n int, result *executor.TaskResult, err error) *ScriptedRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCall[n] = Response{Result: result, Err: err}
	return r
}

// FailCall 让第 n 次调用以 err 失败
func (r *ScriptedRunner) FailCall(n int, err error) *ScriptedRunner {
	return r.OnCall(n, &executor.TaskResult{Success: false, Error: err.Error(), ExitCode: 1}, err)
}

// OnPrompt 为包含 substr 的提示词设置响应
func (r *ScriptedRunner) OnPrompt(substr string, result *executor.TaskResult, err error) *ScriptedRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPrompt = append(r.byPrompt, promptResponse{substr: substr, resp: Response{Result: result, Err: err}})
	return r
}

// WithCheck 设置条件检查命令的结果
func (r *ScriptedRunner) WithCheck(command string, passed bool) *ScriptedRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[command] = passed
	return r
}

// WithHook 每次调用返回前执行 fn
func (r *ScriptedRunner) WithHook(fn func(call int, req executor.TaskRequest)) *ScriptedRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = fn
	return r
}

// --- 接口实现 ---

// ExecuteTaskWithRetry 返回预置响应
func (r *ScriptedRunner) ExecuteTaskWithRetry(ctx context.Context, req executor.TaskRequest) (*executor.TaskResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	n := len(r.calls)
	resp, ok := r.byCall[n]
	if !ok {
		for _, pr := range r.byPrompt {
			if strings.Contains(req.Prompt, pr.substr) {
				resp, ok = pr.resp, true
				break
			}
		}
	}
	prefix := r.sessionPrefix
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		hook(n, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ok {
		return resp.Result, resp.Err
	}
	return &executor.TaskResult{
		Success:   true,
		Output:    fmt.Sprintf("result-%d", n),
		SessionID: fmt.Sprintf("%s-%d", prefix, n),
		Attempts:  1,
	}, nil
}

// RunCheck 返回预置检查结果
func (r *ScriptedRunner) RunCheck(ctx context.Context, command, dir string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkCalls = append(r.checkCalls, command)
	passed, ok := r.checks[command]
	if !ok {
		return true, nil
	}
	return passed, nil
}

// --- 调用记录 ---

// Calls 返回全部任务请求的副本
func (r *ScriptedRunner) Calls() []executor.TaskRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]executor.TaskRequest(nil), r.calls...)
}

// CallCount 返回任务调用次数
func (r *ScriptedRunner) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Prompts 返回每次调用的提示词
func (r *ScriptedRunner) Prompts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Prompt
	}
	return out
}

// CheckCalls 返回执行过的检查命令
func (r *ScriptedRunner) CheckCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.checkCalls...)
}
