package execution

import (
	"context"
	"os"
)

// Workdir resolves the directory a job's relative paths are based on: the
// working copy path exposed by an earlier step output, falling back to the
// engine working directory.
func Workdir(ctx context.Context) string {
	if job := ContextValue[*JobRun](ctx); job != nil {
		for _, step := range job.Steps {
			if !step.State.Succeeded() || step.Output == nil {
				continue
			}
			if path, ok := step.Output["path"].(string); ok && path != "" {
				return path
			}
		}
	}
	cwd, _ := os.Getwd()
	return cwd
}
