// Package cli implements the conveyor command-line interface.
//
// The CLI drives the embeddable engine from the terminal: `run` executes a
// workflow document and waits for the outcome, `validate` checks documents
// without running them, `plan` prints the topological job stages, and
// `runs` inspects stored run records. All commands share a --verbose flag;
// loggers travel through context.Context so subcommands never construct
// their own.
package cli

import (
	"context"
	"io"

	"github.com/charmbracelet/log"
)

// newLogger creates the CLI logger writing to w at the given level.
// Timestamps render as "HH:MM:SS.ms".
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// ctxKey is a private context key type so other packages cannot collide.
type ctxKey int

const loggerKey ctxKey = 0

func withLogger(ctx context.Context, l *log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// loggerFromContext retrieves the logger installed by the root command.
// It falls back to log.Default() so callers always get a usable logger.
func loggerFromContext(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(loggerKey).(*log.Logger); ok {
		return l
	}
	return log.Default()
}
