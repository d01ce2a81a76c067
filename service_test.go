package conveyor_test

import (
	"context"
	"embed"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "github.com/viant/afs/embed"

	"github.com/modal-labs/conveyor"
	"github.com/modal-labs/conveyor/model"
	"github.com/modal-labs/conveyor/runtime/execution"
)

//go:embed testdata/*
var embedFS embed.FS

func newService(options ...conveyor.Option) *conveyor.Service {
	options = append([]conveyor.Option{
		conveyor.WithMetaFsOptions(&embedFS),
		conveyor.WithMetaBaseURL("embed:///testdata"),
	}, options...)
	return conveyor.New(options...)
}

func TestService_RunWorkflow(t *testing.T) {
	srv := newService()
	runtime := srv.Runtime()
	ctx := context.Background()
	require.NoError(t, runtime.Start(ctx))
	defer runtime.Shutdown(ctx)

	workflow, err := runtime.LoadWorkflow(ctx, "greeter.yaml")
	require.NoError(t, err)
	require.NotNil(t, workflow)

	run, err := runtime.StartRun(ctx, workflow, model.NewPushEvent("main", "abc1234"))
	require.NoError(t, err)

	output, err := runtime.WaitForRun(ctx, run.ID, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, output.Timeout)
	assert.Equal(t, execution.StateCompleted, output.State)
	assert.Equal(t, execution.StateCompleted, output.Jobs["greet"])
	assert.Equal(t, execution.StateCompleted, output.Jobs["farewell"])
	assert.Empty(t, output.Errors)

	record, err := runtime.Run(ctx, run.ID)
	require.NoError(t, err)
	greet := record.Job("greet")
	require.NotNil(t, greet)
	for _, stepRun := range greet.Steps {
		assert.Equal(t, execution.StateCompleted, stepRun.State)
	}
}

func TestService_CanonicalPipeline(t *testing.T) {
	srv := newService()
	runtime := srv.Runtime()
	ctx := context.Background()

	workflow, err := runtime.LoadWorkflow(ctx, "ci.yaml")
	require.NoError(t, err)

	assert.True(t, workflow.On.Matches(model.NewPushEvent("any-branch", "")))

	rust := workflow.Job("rust")
	require.NotNil(t, rust)
	assert.Empty(t, rust.Needs)
	var kinds []string
	for _, step := range rust.Steps {
		if step.Uses != "" {
			kinds = append(kinds, step.Uses)
			continue
		}
		kinds = append(kinds, step.Run)
	}
	assert.Equal(t, []string{
		"checkout",
		"toolchain",
		"cache",
		"cargo build --all-targets",
		"cargo test --all-targets",
		"cargo clippy --all-targets -- -D warnings",
	}, kinds)

	rustfmt := workflow.Job("rustfmt")
	require.NotNil(t, rustfmt)
	assert.Empty(t, rustfmt.Needs)
	require.Len(t, rustfmt.Steps, 3)
	assert.Equal(t, "toolchain", rustfmt.Steps[1].Uses)
	assert.Equal(t, "nightly", rustfmt.Steps[1].With["toolchain"])
}

func TestRuntime_Trigger(t *testing.T) {
	srv := newService()
	runtime := srv.Runtime()
	ctx := context.Background()

	for _, location := range []string{"greeter.yaml", "ci.yaml"} {
		_, err := runtime.LoadWorkflow(ctx, location)
		require.NoError(t, err)
	}

	// greeter restricts pushes to main; ci accepts any push
	runs, err := runtime.Trigger(ctx, model.NewPushEvent("refs/heads/feature/x", ""))
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "ci", runs[0].Name)

	runs, err = runtime.Trigger(ctx, model.NewPushEvent("main", ""))
	require.NoError(t, err)
	var names []string
	for _, run := range runs {
		names = append(names, run.Name)
	}
	assert.ElementsMatch(t, []string{"ci", "greeter"}, names)
}

func TestRuntime_UpsertDefinition(t *testing.T) {
	srv := newService()
	runtime := srv.Runtime()
	ctx := context.Background()

	original, err := runtime.LoadWorkflow(ctx, "greeter.yaml")
	require.NoError(t, err)
	require.NotNil(t, original.Job("farewell"))

	swapped := []byte(`
name: greeter
on: [push]
jobs:
  greet:
    runs-on: bash://localhost/
    steps:
      - name: say hello
        uses: printer
        with:
          message: hi
`)
	require.NoError(t, runtime.UpsertDefinition("greeter.yaml", swapped))

	current, err := runtime.LoadWorkflow(ctx, "greeter.yaml")
	require.NoError(t, err)
	assert.Nil(t, current.Job("farewell"))
	assert.Equal(t, "greeter.yaml", current.Source.URL)

	require.NoError(t, runtime.RefreshWorkflow("greeter.yaml"))
	reloaded, err := runtime.LoadWorkflow(ctx, "greeter.yaml")
	require.NoError(t, err)
	assert.NotNil(t, reloaded.Job("farewell"))
}
