// Package ctxkeys 定义跨包传递的 context 键，
// 引擎写入执行与步骤标识，执行器在日志中读取。
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	executionIDKey contextKey = "execution_id"
	stepIDKey      contextKey = "step_id"
)

// WithExecutionID 设置 ExecutionID
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, executionIDKey, executionID)
}

// ExecutionID 获取 ExecutionID
func ExecutionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(executionIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithStepID 设置当前步骤或流水线任务 ID
func WithStepID(ctx context.Context, stepID string) context.Context {
	return context.WithValue(ctx, stepIDKey, stepID)
}

// StepID 获取当前步骤 ID
func StepID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(stepIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
