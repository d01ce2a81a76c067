package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/modal-labs/conveyor"
	"github.com/modal-labs/conveyor/model"
	"github.com/modal-labs/conveyor/policy"
	"github.com/modal-labs/conveyor/progress"
	"github.com/modal-labs/conveyor/runtime/execution"
	"github.com/modal-labs/conveyor/service/approval"
	approvalmemory "github.com/modal-labs/conveyor/service/approval/memory"
)

// runOpts holds the command-line flags for the run command.
type runOpts struct {
	config  string
	branch  string
	tag     string
	ref     string
	commit  string
	timeout time.Duration
	workers int
	policy  string
}

// event builds the push event the run is attributed to. An explicit --ref
// wins over --tag, which wins over --branch.
func (o *runOpts) event() *model.Event {
	switch {
	case o.ref != "":
		return model.NewPushEvent(o.ref, o.commit)
	case o.tag != "":
		return model.NewPushEvent("refs/tags/"+o.tag, o.commit)
	default:
		return model.NewPushEvent(o.branch, o.commit)
	}
}

// engineOptions translates the flags into engine options. In ask mode it
// also starts a decider goroutine that relays approval requests to the
// terminal; the returned stop function tears it down.
func (o *runOpts) engineOptions(ctx context.Context, logger *log.Logger) ([]conveyor.Option, func(), error) {
	options := []conveyor.Option{conveyor.WithLogger(logger)}
	stop := func() {}
	if o.workers > 0 {
		options = append(options, conveyor.WithProcessorWorkers(o.workers))
	}
	switch o.policy {
	case "", policy.ModeAuto:
	case policy.ModeAsk:
		svc := approvalmemory.New()
		stop = approval.AutoDecider(ctx, svc, approval.PromptDecider(nil, nil), 0)
		options = append(options,
			conveyor.WithPolicy(&policy.Policy{Mode: policy.ModeAsk}),
			conveyor.WithApprovalService(svc))
	case policy.ModeDeny:
		options = append(options, conveyor.WithPolicy(&policy.Policy{Mode: policy.ModeDeny}))
	default:
		return nil, nil, fmt.Errorf("unknown policy mode %q (expected auto, ask or deny)", o.policy)
	}
	return options, stop, nil
}

// newEngine builds an engine service from an optional config file location
// plus command-level options.
func newEngine(ctx context.Context, location string, options ...conveyor.Option) (*conveyor.Service, error) {
	config := conveyor.DefaultConfig()
	if location != "" {
		loaded, err := conveyor.LoadConfig(ctx, location)
		if err != nil {
			return nil, err
		}
		config = loaded
	}
	return conveyor.New(append([]conveyor.Option{conveyor.WithConfig(config)}, options...)...), nil
}

func newRunCmd() *cobra.Command {
	opts := runOpts{branch: "main", timeout: 30 * time.Minute}

	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Run a workflow and wait for it to finish",
		Long: `Run a workflow document against a push event built from the flags.

The command starts an embedded engine, executes the run to completion and
prints the per-job outcome. It exits non-zero when the run fails or does not
finish within --timeout.

Examples:
  conveyor run ci.yaml
  conveyor run ci.yaml --branch feature/cache --commit 4f2a9cc
  conveyor run release.yaml --tag v1.2.3
  conveyor run deploy.yaml --policy ask`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runWorkflow(c.Context(), &opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.config, "config", "c", "", "engine config file (TOML, YAML or JSON)")
	cmd.Flags().StringVarP(&opts.branch, "branch", "b", opts.branch, "branch of the push event")
	cmd.Flags().StringVar(&opts.tag, "tag", "", "tag of the push event (overrides --branch)")
	cmd.Flags().StringVar(&opts.ref, "ref", "", "full git ref of the push event (overrides --branch and --tag)")
	cmd.Flags().StringVar(&opts.commit, "commit", "", "commit SHA of the push event")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", opts.timeout, "how long to wait for the run to finish")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "job worker count (0 uses the engine default)")
	cmd.Flags().StringVar(&opts.policy, "policy", "", "execution policy: auto, ask or deny")
	return cmd
}

func runWorkflow(ctx context.Context, opts *runOpts, location string) error {
	logger := loggerFromContext(ctx)
	engineOptions, stopDecider, err := opts.engineOptions(ctx, logger)
	if err != nil {
		return err
	}
	defer stopDecider()

	svc, err := newEngine(ctx, opts.config, engineOptions...)
	if err != nil {
		return err
	}
	rt := svc.Runtime()
	rt.OnProgress(func(p progress.Progress) {
		logger.Debugf("jobs %d/%d done (%d running), steps %d/%d done",
			p.CompletedJobs+p.SkippedJobs+p.FailedJobs, p.TotalJobs, p.RunningJobs,
			p.CompletedSteps+p.SkippedSteps+p.FailedSteps, p.TotalSteps)
	})

	if err := rt.Start(ctx); err != nil {
		return err
	}
	// Shutdown with a fresh context so draining survives Ctrl-C.
	defer func() { _ = rt.Shutdown(context.Background()) }()

	workflow, err := rt.LoadWorkflow(ctx, location)
	if err != nil {
		return err
	}
	run, err := rt.StartRun(ctx, workflow, opts.event())
	if err != nil {
		return err
	}
	output, err := rt.WaitForRun(ctx, run.ID, opts.timeout)
	if err != nil {
		return err
	}
	printRunOutput(os.Stdout, workflow.Name, output)
	if output.Timeout {
		return fmt.Errorf("run %v still executing after %v", run.ID, opts.timeout)
	}
	if output.State == execution.StateFailed {
		return fmt.Errorf("run %v failed", run.ID)
	}
	return nil
}

// printRunOutput renders the run verdict and a per-job outcome table.
func printRunOutput(w io.Writer, workflow string, output *execution.RunOutput) {
	fmt.Fprintf(w, "%s %s (run %s, took %s)\n",
		workflow, output.State, output.RunID, output.TimeTaken.Round(time.Millisecond))

	names := make([]string, 0, len(output.Jobs))
	for name := range output.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(tw, "  %s\t%s", name, output.Jobs[name])
		if message := output.Errors[name]; message != "" {
			fmt.Fprintf(tw, "\t%s", message)
		}
		fmt.Fprintln(tw)
	}
	_ = tw.Flush()
}
