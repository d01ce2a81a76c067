package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/modal-labs/conveyor/service/planner"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <workflow.yaml>",
		Short: "Print the execution stages of a workflow",
		Long: `Plan resolves the needs graph and prints the order in which jobs become
eligible to run. Jobs listed in the same stage have no dependencies on each
other and execute in parallel.`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return planWorkflow(c.Context(), c.OutOrStdout(), args[0])
		},
	}
	return cmd
}

func planWorkflow(ctx context.Context, out io.Writer, location string) error {
	svc, err := newEngine(ctx, "")
	if err != nil {
		return err
	}
	workflow, err := svc.Runtime().LoadWorkflow(ctx, location)
	if err != nil {
		return err
	}
	plan, err := planner.New().Plan(workflow)
	if err != nil {
		return err
	}
	renderPlan(out, plan)
	return nil
}

func renderPlan(out io.Writer, plan *planner.Plan) {
	jobs := 0
	for _, stage := range plan.Stages {
		jobs += len(stage)
	}
	fmt.Fprintf(out, "%s: %d jobs in %d stages\n", plan.Workflow, jobs, len(plan.Stages))
	for i, stage := range plan.Stages {
		fmt.Fprintf(out, "  stage %d: %s\n", i+1, strings.Join(stage, ", "))
	}
}
