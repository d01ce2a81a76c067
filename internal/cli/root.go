package cli

import (
	"context"
	"fmt"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	version = "dev"     // semantic version
	commit  = "none"    // git commit SHA
	date    = "unknown" // build timestamp
)

// SetVersion records the build metadata shown by the version command and the
// --version flag. The main package calls it with values injected via ldflags.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// Execute runs the conveyor CLI until the selected command finishes or ctx
// is cancelled.
//
// Logging goes to stderr at info level, or debug level with --verbose (-v).
// The logger is attached to the command context and retrieved by subcommands
// via loggerFromContext.
func Execute(ctx context.Context) error {
	var verbose bool

	root := &cobra.Command{
		Use:   "conveyor",
		Short: "Conveyor runs CI workflows defined in YAML",
		Long: `Conveyor is a workflow engine for CI-style pipelines.

A workflow document declares jobs with needs dependencies and sequential
steps. Independent jobs execute in parallel on a worker pool; steps within a
job run one after another and the first failure fails the job.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := charmlog.InfoLevel
			if verbose {
				level = charmlog.DebugLevel
			}
			cmd.SetContext(withLogger(cmd.Context(), newLogger(os.Stderr, level)))
		},
	}

	root.SetVersionTemplate(versionString())
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newPlanCmd())
	root.AddCommand(newRunsCmd())
	root.AddCommand(newVersionCmd())

	return root.ExecuteContext(ctx)
}

func versionString() string {
	return fmt.Sprintf("conveyor %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), versionString())
		},
	}
}
