package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/modal-labs/conveyor/service/planner"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workflow.yaml> [workflow.yaml...]",
		Short: "Validate workflow documents without running them",
		Long: `Validate checks each document for structural problems: jobs without
steps, steps declaring both uses and run, unknown or cyclic needs, bad
timeout or retry specs. The first problem found in each document is
reported. Nothing is executed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return validateWorkflows(c.Context(), c.OutOrStdout(), args)
		},
	}
	return cmd
}

func validateWorkflows(ctx context.Context, out io.Writer, locations []string) error {
	svc, err := newEngine(ctx, "")
	if err != nil {
		return err
	}
	rt := svc.Runtime()
	stager := planner.New()

	invalid := 0
	for _, location := range locations {
		workflow, err := rt.LoadWorkflow(ctx, location)
		if err != nil {
			invalid++
			fmt.Fprintf(out, "%s: %v\n", location, err)
			continue
		}
		plan, err := stager.Plan(workflow)
		if err != nil {
			invalid++
			fmt.Fprintf(out, "%s: %v\n", location, err)
			continue
		}
		fmt.Fprintf(out, "%s: ok (%d jobs, %d stages)\n", location, len(workflow.Jobs), len(plan.Stages))
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d workflows invalid", invalid, len(locations))
	}
	return nil
}
