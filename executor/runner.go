package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sort"
	"syscall"
)

// runOutput is what a finished subprocess left behind.
type runOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner starts a command and waits for it. started is called once
// the process exists, with a function that terminates it. A non-nil error
// means the process could not be run at all.
type commandRunner interface {
	Run(ctx context.Context, cmd Command, spec runSpec, started func(terminate func() error)) (runOutput, error)
}

type runSpec struct {
	Dir   string
	Env   map[string]string
	Shell string
}

// execRunner runs commands with os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, cmd Command, spec runSpec, started func(terminate func() error)) (runOutput, error) {
	var c *exec.Cmd
	if spec.Shell != "" {
		c = exec.CommandContext(ctx, spec.Shell, "-c", cmd.String())
	} else {
		c = exec.CommandContext(ctx, cmd.Binary, cmd.Args...)
	}
	c.Dir = spec.Dir
	if len(spec.Env) > 0 {
		c.Env = mergeEnv(os.Environ(), spec.Env)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return runOutput{Stderr: err.Error(), ExitCode: exitCodeNotFound}, nil
		}
		return runOutput{}, err
	}
	started(func() error {
		return c.Process.Signal(syscall.SIGTERM)
	})

	err := c.Wait()
	out := runOutput{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	return out, err
}

func mergeEnv(base []string, extra map[string]string) []string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := append([]string{}, base...)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
