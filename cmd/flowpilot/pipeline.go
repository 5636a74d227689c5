package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/flowpilot/executor"
)

func newPipelineCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run an ordered list of tasks with explicit session chaining",
	}
	cmd.AddCommand(newPipelineRunCmd(flags), newPipelineResumeCmd(flags))
	return cmd
}

func newPipelineRunCmd(flags *globalFlags) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "run <tasks.yml>",
		Short: "Run a task pipeline and save its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := loadTasks(args[0])
			if err != nil {
				return err
			}
			return runPipeline(cmd, flags, outPath, func(ctx context.Context, exec *executor.Executor, opts executor.PipelineOptions) (*executor.PipelineResult, error) {
				return exec.ExecutePipeline(ctx, tasks, opts)
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "pipeline-result.json", "Where to write the pipeline result")
	return cmd
}

func newPipelineResumeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <result.json>",
		Short: "Continue a paused pipeline from its saved result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var prev executor.PipelineResult
			if err := json.Unmarshal(data, &prev); err != nil {
				return fmt.Errorf("decode pipeline result: %w", err)
			}
			return runPipeline(cmd, flags, args[0], func(ctx context.Context, exec *executor.Executor, opts executor.PipelineOptions) (*executor.PipelineResult, error) {
				return exec.ResumePipeline(ctx, &prev, opts)
			})
		},
	}
}

type pipelineFunc func(ctx context.Context, exec *executor.Executor, opts executor.PipelineOptions) (*executor.PipelineResult, error)

func runPipeline(cmd *cobra.Command, flags *globalFlags, outPath string, fn pipelineFunc) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, flags)
	if err != nil {
		return err
	}
	defer a.close()

	var pauseRequested atomic.Bool
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if pauseRequested.CompareAndSwap(false, true) {
				fmt.Fprintln(os.Stderr, "pausing before the next task, press Ctrl-C again to cancel")
				continue
			}
			cancel()
			return
		}
	}()

	out := cmd.OutOrStdout()
	opts := a.rt.PipelineOptions()
	opts.ShouldPause = pauseRequested.Load
	opts.OnTaskStart = func(t *executor.Task) {
		fmt.Fprintf(out, "▶ %s\n", t.ID)
	}
	opts.OnTaskComplete = func(t *executor.Task) {
		fmt.Fprintf(out, "✔ %s session=%s\n", t.ID, t.SessionID)
	}

	res, runErr := fn(ctx, a.rt.Executor, opts)
	if res != nil {
		if err := writeResult(outPath, res); err != nil {
			return err
		}
		if flags.jsonOutput {
			if err := json.NewEncoder(out).Encode(res); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(out, "pipeline %s, result saved to %s\n", res.Status, outPath)
			if res.Status == executor.PipelinePaused {
				if !res.ResetTime.IsZero() {
					fmt.Fprintf(out, "  rate limit resets at %s\n", res.ResetTime.Local().Format("15:04:05"))
				}
				fmt.Fprintf(out, "  continue with: flowpilot pipeline resume %s\n", outPath)
			}
		}
	}
	return runErr
}

// loadTasks 支持顶层任务列表或 {tasks: [...]}
func loadTasks(path string) ([]*executor.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tasks []*executor.Task
	if err := yaml.Unmarshal(data, &tasks); err != nil {
		var wrapped struct {
			Tasks []*executor.Task `yaml:"tasks"`
		}
		if err2 := yaml.Unmarshal(data, &wrapped); err2 != nil {
			return nil, fmt.Errorf("decode tasks: %w", err)
		}
		tasks = wrapped.Tasks
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%s contains no tasks", path)
	}
	seen := make(map[string]bool, len(tasks))
	for i, t := range tasks {
		if t.ID == "" {
			t.ID = fmt.Sprintf("task-%d", i+1)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
	}
	return tasks, nil
}

func writeResult(path string, res *executor.PipelineResult) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
