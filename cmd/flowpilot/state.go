package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/BaSui01/flowpilot/workflow/state"
)

func newPauseCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <execution-id>",
		Short: "Request a running execution to pause before its next step",
		Long: `Mark a persisted execution as paused. A run in another process notices the
request before it starts its next step and stops there.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()

			ws, err := a.rt.States.PauseWorkflow(cmd.Context(), args[0], state.PauseManual, "")
			if err != nil {
				return err
			}
			if flags.jsonOutput {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(ws)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pause requested for %s (step %d/%d)\n",
				ws.ExecutionID, ws.CurrentStep+1, ws.TotalSteps)
			return nil
		},
	}
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var resumableOnly bool
	cmd := &cobra.Command{
		Use:   "status [execution-id]",
		Short: "Show persisted executions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				ws, err := a.rt.States.GetWorkflowState(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return json.NewEncoder(out).Encode(ws)
				}
				printState(out, ws)
				return nil
			}

			var states []*state.WorkflowState
			if resumableOnly {
				states, err = a.rt.States.ListResumable(cmd.Context())
			} else {
				states, err = a.rt.States.ListWorkflowStates(cmd.Context())
			}
			if err != nil {
				return err
			}
			if flags.jsonOutput {
				return json.NewEncoder(out).Encode(states)
			}
			printStateTable(out, states)
			return nil
		},
	}
	cmd.Flags().BoolVar(&resumableOnly, "resumable", false, "Only list executions that can be resumed")
	return cmd
}

func newDeleteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <execution-id>",
		Short: "Delete a persisted execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()

			removed, err := a.rt.States.DeleteWorkflowState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("execution %s not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newCleanupCmd(flags *globalFlags) *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove executions older than --max-age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()

			if maxAge <= 0 {
				maxAge = a.cfg.State.Retention
			}
			n, err := a.rt.States.CleanupOldWorkflows(cmd.Context(), maxAge)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d execution(s) older than %s\n", n, maxAge)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Maximum age to keep (defaults to state.retention)")
	return cmd
}

func printStateTable(w io.Writer, states []*state.WorkflowState) {
	if len(states) == 0 {
		fmt.Fprintln(w, "no executions")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWORKFLOW\tSTATUS\tSTEP\tSTARTED")
	for _, ws := range states {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\n",
			ws.ExecutionID, ws.WorkflowName, ws.Status,
			ws.CurrentStep+1, ws.TotalSteps, ws.StartTime.Local().Format(time.DateTime))
	}
	_ = tw.Flush()
}

func printState(w io.Writer, ws *state.WorkflowState) {
	fmt.Fprintf(w, "Execution: %s\n", ws.ExecutionID)
	fmt.Fprintf(w, "Workflow:  %s (%s)\n", ws.WorkflowName, ws.WorkflowPath)
	fmt.Fprintf(w, "Status:    %s", ws.Status)
	if ws.PauseReason != "" && ws.Status == state.StatusPaused {
		fmt.Fprintf(w, " (%s)", ws.PauseReason)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Progress:  %d/%d, resumable=%t\n", len(ws.CompletedSteps), ws.TotalSteps, ws.Resumable())
	if ws.LastError != "" {
		fmt.Fprintf(w, "Error:     %s\n", ws.LastError)
	}
	for _, step := range ws.CompletedSteps {
		fmt.Fprintf(w, "  [%d] %-20s %-10s %s\n", step.StepIndex+1, step.StepID, step.Status, step.SessionID)
	}
}
