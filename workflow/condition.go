package workflow

import (
	"context"
	"fmt"

	"github.com/BaSui01/flowpilot/workflow/dsl"
)

// ConditionChecker runs a step check command and reports whether it passed.
type ConditionChecker interface {
	RunCheck(ctx context.Context, command, dir string) (bool, error)
}

// shouldRun decides whether a step with a check runs. Without a condition
// the step runs when the check passes.
func shouldRun(passed bool, cond dsl.Condition) (bool, string) {
	switch cond {
	case dsl.ConditionAlways:
		return true, ""
	case dsl.ConditionOnFailure:
		if passed {
			return false, "check passed, step runs on failure only"
		}
		return true, ""
	default:
		if !passed {
			return false, "check failed"
		}
		return true, ""
	}
}

func (e *Engine) evaluateCheck(ctx context.Context, with *dsl.With, rctx dsl.ResolveContext, dir string) (bool, string, error) {
	if with == nil || with.Check == "" {
		return true, "", nil
	}
	if e.checker == nil {
		return false, "", fmt.Errorf("step declares a check but no condition checker is configured")
	}

	command := dsl.Resolve(with.Check, rctx)
	passed, err := e.checker.RunCheck(ctx, command, dir)
	if err != nil {
		return false, "", err
	}
	run, reason := shouldRun(passed, with.Condition)
	return run, reason, nil
}
