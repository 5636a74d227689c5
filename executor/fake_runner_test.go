package executor

import (
	"context"
	"strconv"
	"sync"
)

// fakeRunner replays scripted outputs and records every command.
type fakeRunner struct {
	mu       sync.Mutex
	outputs  []runOutput
	err      error
	commands []Command
	block    chan struct{}
	// script, when set, produces the output for each call (1-based).
	script func(call int) runOutput
}

func (f *fakeRunner) Run(ctx context.Context, cmd Command, spec runSpec, started func(terminate func() error)) (runOutput, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	var out runOutput
	if len(f.outputs) > 0 {
		out = f.outputs[0]
		if len(f.outputs) > 1 {
			f.outputs = f.outputs[1:]
		}
	}
	if f.script != nil {
		out = f.script(len(f.commands))
	}
	block := f.block
	err := f.err
	f.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	started(func() error {
		once.Do(func() { close(done) })
		return nil
	})

	if block != nil {
		select {
		case <-block:
		case <-done:
			return runOutput{ExitCode: 143}, nil
		case <-ctx.Done():
			return runOutput{ExitCode: -1}, nil
		}
	}
	return out, err
}

func (f *fakeRunner) calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Command(nil), f.commands...)
}

func newTestExecutor(r *fakeRunner, opts ...Option) *Executor {
	e := New(DefaultConfig(), opts...)
	e.runner = r
	return e
}

func argValue(cmd Command, flag string) (string, bool) {
	for i, a := range cmd.Args {
		if a == flag && i+1 < len(cmd.Args) {
			return cmd.Args[i+1], true
		}
	}
	return "", false
}

func hasArg(cmd Command, flag string) bool {
	for _, a := range cmd.Args {
		if a == flag {
			return true
		}
	}
	return false
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
