package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/flowpilot/workflow"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var inputs []string
	cmd := &cobra.Command{
		Use:   "run <workflow.yml>",
		Short: "Run a workflow",
		Long: `Run a workflow file step by step.

The first Ctrl-C pauses the workflow before its next step; the execution can
be continued later with "flowpilot resume". A second Ctrl-C cancels the
running task.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseInputs(inputs)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			path := args[0]
			doc, err := a.rt.LoadWorkflow(path)
			if err != nil {
				return err
			}
			exec, err := workflow.NewExecution(doc, values)
			if err != nil {
				return err
			}

			run, err := a.rt.Engine.Start(ctx, exec, a.rt.RunOptions(path))
			if err != nil {
				return err
			}
			return watchRun(ctx, cancel, a, run, cmd.OutOrStdout(), flags.jsonOutput)
		},
	}
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "Workflow input as key=value (repeatable)")
	return cmd
}

func newResumeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <execution-id>",
		Short: "Resume a paused workflow execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			run, err := a.rt.Engine.Resume(ctx, args[0], a.rt.RunOptions(""))
			if err != nil {
				return err
			}
			return watchRun(ctx, cancel, a, run, cmd.OutOrStdout(), flags.jsonOutput)
		},
	}
}

func parseInputs(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid input %q, expected key=value", kv)
		}
		out[k] = v
	}
	return out, nil
}

// watchRun prints the run's events and turns SIGINT/SIGTERM into a pause,
// then a cancel on the second signal.
func watchRun(ctx context.Context, cancel context.CancelFunc, a *app, run *workflow.Run, out io.Writer, asJSON bool) error {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g := new(errgroup.Group)
	g.Go(func() error {
		for ev := range run.Events() {
			if err := printEvent(out, ev, asJSON); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		signals := 0
		for {
			select {
			case <-run.Done():
				return nil
			case <-sigCh:
				signals++
				if signals == 1 {
					if _, err := a.rt.Engine.Pause(ctx, run); err != nil {
						a.logger.Warn("pause failed", zap.Error(err))
					}
					fmt.Fprintln(os.Stderr, "pausing before the next step, press Ctrl-C again to cancel")
					continue
				}
				cancel()
				return nil
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}

	res := run.Wait()
	if asJSON {
		if err := json.NewEncoder(out).Encode(res); err != nil {
			return err
		}
	} else {
		printResult(out, res)
	}
	if !res.Success && !res.Paused {
		return fmt.Errorf("workflow failed after %d step(s): %s", res.StepsExecuted, res.Error)
	}
	return nil
}

func printEvent(w io.Writer, ev workflow.Event, asJSON bool) error {
	if asJSON {
		var errMsg string
		switch e := ev.(type) {
		case workflow.StepFailed:
			errMsg = errString(e.Err)
		case workflow.WorkflowFailed:
			errMsg = errString(e.Err)
		case workflow.WorkflowPaused:
			errMsg = errString(e.Err)
		}
		return json.NewEncoder(w).Encode(struct {
			Type  workflow.EventType `json:"type"`
			Event workflow.Event     `json:"event"`
			Error string             `json:"error,omitempty"`
		}{ev.Type(), ev, errMsg})
	}

	switch e := ev.(type) {
	case workflow.StepStarted:
		suffix := ""
		if e.ResumeSessionID != "" {
			suffix = " (resuming " + e.ResumeSessionID + ")"
		}
		fmt.Fprintf(w, "▶ [%d/%d] %s%s\n", e.StepIndex+1, e.Total, stepLabel(e.StepRef), suffix)
	case workflow.StepCompleted:
		fmt.Fprintf(w, "✔ [%d/%d] %s in %s\n", e.StepIndex+1, e.Total, stepLabel(e.StepRef), e.Duration.Round(1e6))
	case workflow.StepFailed:
		fmt.Fprintf(w, "✘ [%d/%d] %s: %v\n", e.StepIndex+1, e.Total, stepLabel(e.StepRef), e.Err)
	case workflow.StepSkipped:
		fmt.Fprintf(w, "↷ [%d/%d] %s skipped: %s\n", e.StepIndex+1, e.Total, stepLabel(e.StepRef), e.Reason)
	case workflow.WorkflowPaused:
		fmt.Fprintf(w, "⏸ paused (%s) before step %d\n", e.Reason, e.NextStep+1)
	case workflow.WorkflowFailed, workflow.WorkflowCompleted:
		// reported by printResult
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func stepLabel(ref workflow.StepRef) string {
	if ref.Name != "" {
		return ref.StepID + " " + ref.Name
	}
	return ref.StepID
}

func printResult(w io.Writer, res *workflow.WorkflowResult) {
	switch {
	case res.Success:
		fmt.Fprintf(w, "workflow completed: %d step(s) in %dms\n", res.StepsExecuted, res.ExecutionTimeMs)
	case res.Paused:
		fmt.Fprintf(w, "workflow paused after %d step(s); continue with: flowpilot resume %s\n",
			res.StepsExecuted, res.ExecutionID)
		if res.Error != "" {
			fmt.Fprintf(w, "  reason: %s\n", res.Error)
		}
	default:
		fmt.Fprintf(w, "workflow failed after %d step(s)\n", res.StepsExecuted)
	}
	for id, out := range res.Outputs {
		if out.SessionID != "" {
			fmt.Fprintf(w, "  %s session=%s\n", id, out.SessionID)
		}
	}
}
