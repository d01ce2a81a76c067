package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/modal-labs/conveyor/runtime/execution"
	"github.com/modal-labs/conveyor/service/dao"
)

// Inspecting past runs only makes sense against a persistent run store, so
// both subcommands take the same --config flag as run; with the default
// in-memory store every invocation starts empty.
func newRunsCmd() *cobra.Command {
	var configLocation string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored workflow runs",
	}
	cmd.PersistentFlags().StringVarP(&configLocation, "config", "c", "", "engine config file (TOML, YAML or JSON)")
	cmd.AddCommand(newRunsListCmd(&configLocation))
	cmd.AddCommand(newRunsShowCmd(&configLocation))
	return cmd
}

func newRunsListCmd(configLocation *string) *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return listRuns(c.Context(), c.OutOrStdout(), *configLocation, state)
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "filter by run state (pending, running, completed, failed)")
	return cmd
}

func listRuns(ctx context.Context, out io.Writer, configLocation, state string) error {
	svc, err := newEngine(ctx, configLocation)
	if err != nil {
		return err
	}
	var parameters []*dao.Parameter
	if state != "" {
		parameters = append(parameters, dao.NewParameter("State", state))
	}
	runs, err := svc.Runtime().Runs(ctx, parameters...)
	if err != nil {
		return err
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })

	tw := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tWORKFLOW\tSTATE\tCREATED\tTOOK")
	for _, run := range runs {
		took := "-"
		if run.FinishedAt != nil {
			took = run.FinishedAt.Sub(run.CreatedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			run.ID, run.Name, run.GetState(), run.CreatedAt.Format(time.RFC3339), took)
	}
	return tw.Flush()
}

func newRunsShowCmd(configLocation *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show jobs and steps of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return showRun(c.Context(), c.OutOrStdout(), *configLocation, args[0])
		},
	}
	return cmd
}

func showRun(ctx context.Context, out io.Writer, configLocation, id string) error {
	svc, err := newEngine(ctx, configLocation)
	if err != nil {
		return err
	}
	run, err := svc.Runtime().Run(ctx, id)
	if err != nil {
		return err
	}
	renderRun(out, run)
	return nil
}

func renderRun(out io.Writer, run *execution.Run) {
	fmt.Fprintf(out, "run %s\n", run.ID)
	fmt.Fprintf(out, "workflow: %s\n", run.Name)
	fmt.Fprintf(out, "state:    %s\n", run.GetState())
	if run.Event != nil {
		fmt.Fprintf(out, "event:    %s\n", run.Event)
	}
	fmt.Fprintf(out, "created:  %s\n", run.CreatedAt.Format(time.RFC3339))
	if run.FinishedAt != nil {
		fmt.Fprintf(out, "took:     %s\n", run.FinishedAt.Sub(run.CreatedAt).Round(time.Millisecond))
	}

	for _, job := range jobsInOrder(run) {
		fmt.Fprintf(out, "\njob %s: %s", job.Name, job.GetState())
		if job.SkipReason != "" {
			fmt.Fprintf(out, " (%s)", job.SkipReason)
		}
		fmt.Fprintln(out)
		if job.Error != "" {
			fmt.Fprintf(out, "  error: %s\n", job.Error)
		}
		tw := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
		for _, step := range job.Steps {
			fmt.Fprintf(tw, "  %s\t%s", step.Label(), step.State)
			switch {
			case step.State == execution.StateSkipped:
				fmt.Fprintf(tw, "\t%s", step.SkipReason)
			case step.Error != "":
				fmt.Fprintf(tw, "\texit %d: %s", step.ExitCode, step.Error)
			case step.StartedAt != nil:
				fmt.Fprintf(tw, "\t%s", step.Elapsed().Round(time.Millisecond))
			}
			if step.Attempts > 1 {
				fmt.Fprintf(tw, "\t(%d attempts)", step.Attempts)
			}
			fmt.Fprintln(tw)
		}
		_ = tw.Flush()
	}
}

// jobsInOrder returns job runs in workflow declaration order, falling back
// to name order for jobs no longer present in the workflow document.
func jobsInOrder(run *execution.Run) []*execution.JobRun {
	seen := map[string]bool{}
	var ret []*execution.JobRun
	if run.Workflow != nil {
		for _, job := range run.Workflow.AllJobs() {
			if jobRun := run.Job(job.Name); jobRun != nil {
				ret = append(ret, jobRun)
				seen[job.Name] = true
			}
		}
	}
	rest := run.JobRuns()
	sort.Slice(rest, func(i, j int) bool { return rest[i].Name < rest[j].Name })
	for _, jobRun := range rest {
		if !seen[jobRun.Name] {
			ret = append(ret, jobRun)
		}
	}
	return ret
}
