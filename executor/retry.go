package executor

import (
	"context"
	"time"

	"github.com/BaSui01/flowpilot/types"
	"go.uber.org/zap"
)

// ExecuteTaskWithRetry runs a task and waits out usage limits.
//
// Each rate-limited attempt that is not the last adds its wait to a
// running total. A total over the budget fails at once without waiting.
// Otherwise the executor sleeps until the reset (at most MaxSingleWait)
// and retries with the session id the failed attempt reported. Other
// failures are returned immediately.
func (e *Executor) ExecuteTaskWithRetry(ctx context.Context, req TaskRequest) (*TaskResult, error) {
	policy := e.cfg.Retry
	var totalWait time.Duration
	var last *TaskResult

	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		result, err := e.ExecuteTask(ctx, req)
		if err != nil {
			return nil, err
		}
		result.Attempts = attempt
		last = result

		if result.Success {
			if attempt > 1 {
				e.logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		if !result.RateLimited {
			return result, types.NewError(types.ErrExecution, result.Error)
		}
		if result.IsTimeout {
			return result, types.Errorf(types.ErrRateLimitTimeout,
				"usage limit resets at %s, beyond the %s retry window",
				result.ResetTime.UTC().Format(time.RFC3339), policy.TimeoutThreshold)
		}

		// 保留会话，下次尝试续接同一会话
		if result.SessionID != "" {
			req.Options.ResumeSessionID = result.SessionID
			req.Options.Continue = false
		}

		if attempt == policy.MaxRetries {
			break
		}

		wait := result.ResetTime.Sub(e.clock.Now())
		if wait < 0 {
			wait = 0
		}
		if totalWait+wait > policy.WaitBudget {
			e.metrics.RecordRetry("budget_exceeded")
			return result, types.Errorf(types.ErrBudgetExceeded,
				"waiting %s would exceed the %s retry budget (already waited %s)",
				wait.Round(time.Second), policy.WaitBudget, totalWait.Round(time.Second))
		}
		totalWait += wait
		if wait > policy.MaxSingleWait {
			wait = policy.MaxSingleWait
		}

		e.logger.Warn("重试中",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", policy.MaxRetries),
			zap.Duration("wait", wait),
			zap.Duration("total_wait", totalWait),
			zap.Time("reset_time", result.ResetTime),
		)
		e.metrics.RecordRetry("rate_limit")

		if err := e.waitForReset(ctx, wait, attempt); err != nil {
			return result, types.NewError(types.ErrCancelled, "rate limit wait cancelled").WithCause(err)
		}
	}

	e.logger.Warn("重试次数耗尽", zap.Int("attempts", policy.MaxRetries))
	return last, types.Errorf(types.ErrRateLimit, "usage limit still reached after %d attempts", policy.MaxRetries).
		WithRetryable(true)
}

// waitForReset sleeps for wait, reporting progress every ProgressInterval.
func (e *Executor) waitForReset(ctx context.Context, wait time.Duration, attempt int) error {
	if wait <= 0 {
		return nil
	}
	policy := e.cfg.Retry
	deadline := e.clock.Now().Add(wait)

	timer := e.clock.Timer(wait)
	defer timer.Stop()
	ticker := e.clock.Ticker(policy.ProgressInterval)
	defer ticker.Stop()

	started := e.clock.Now()
	defer func() {
		e.metrics.RecordRateLimitWait(e.clock.Since(started))
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-ticker.C:
			remaining := deadline.Sub(e.clock.Now())
			if remaining < 0 {
				remaining = 0
			}
			e.logger.Info("waiting for usage limit reset",
				zap.Int("attempt", attempt),
				zap.Duration("remaining", remaining.Round(time.Second)),
			)
			if policy.OnWaitProgress != nil {
				policy.OnWaitProgress(attempt, remaining)
			}
		}
	}
}
