package execution

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/modal-labs/conveyor/model"
)

func testWorkflow() *model.Workflow {
	workflow := model.NewWorkflow("ci")
	build := workflow.NewJob("build")
	build.NewStep("checkout").WithUses("checkout")
	build.NewStep("build").WithRun("cargo build --all-targets")
	test := workflow.NewJob("test").WithNeeds("build")
	test.NewStep("test").WithRun("cargo test --all-targets")
	lint := workflow.NewJob("lint")
	lint.NewStep("fmt").WithRun("cargo +nightly fmt -- --check")
	return workflow
}

func TestNewRun(t *testing.T) {
	workflow := testWorkflow()
	event := model.NewPushEvent("refs/heads/main", "4f2d9c1")
	run := NewRun("run-1", workflow, event, WithEnv(map[string]string{"CI": "true"}))

	assert.Equal(t, StatePending, run.GetState())
	assert.Len(t, run.Jobs, 3)

	build := run.Job("build")
	if assert.NotNil(t, build) {
		assert.Equal(t, "run-1", build.RunID)
		assert.Equal(t, StatePending, build.State)
		assert.Len(t, build.Steps, 2)
		assert.Equal(t, "cargo build --all-targets", build.Steps[1].Command)
	}

	test := run.Job("test")
	if assert.NotNil(t, test) {
		state, ok := test.Need("build")
		assert.True(t, ok)
		assert.Equal(t, StatePending, state)
	}

	// declaration order is preserved
	var names []string
	for _, jobRun := range run.JobRuns() {
		names = append(names, jobRun.Name)
	}
	assert.Equal(t, []string{"build", "test", "lint"}, names)
}

func TestRunLifecycle(t *testing.T) {
	workflow := testWorkflow()
	run := NewRun("run-2", workflow, model.NewPushEvent("main", ""))

	build := run.Job("build")
	build.Start()
	build.Steps[0].Start()
	build.Steps[0].Complete()
	build.Steps[1].Start()
	build.Steps[1].Fail(errors.New("exit status 101"))
	build.SkipRemainingSteps(1, "previous step failed")
	build.Fail(errors.New("step build failed"))
	run.RecordError("build", build.Error)

	test := run.Job("test")
	test.SetNeed("build", StateFailed)
	test.Skip("needed job build failed")

	lint := run.Job("lint")
	lint.Start()
	lint.Steps[0].Start()
	lint.Steps[0].Complete()
	lint.Complete()

	assert.True(t, run.AllJobsTerminal())
	assert.True(t, run.Failed())
	run.SetState(StateFailed)
	assert.NotNil(t, run.FinishedAt)

	output := run.Output()
	assert.Equal(t, StateFailed, output.State)
	assert.Equal(t, StateSkipped, output.Jobs["test"])
	assert.Equal(t, StateCompleted, output.Jobs["lint"])
	assert.Contains(t, output.Errors["build"], "step build failed")

	// skip cascades to pending steps with the recorded reason
	assert.Equal(t, StateSkipped, test.Steps[0].State)
	assert.Equal(t, "needed job build failed", test.Steps[0].SkipReason)
}

func TestRunFailedToleratesContinueOnError(t *testing.T) {
	workflow := model.NewWorkflow("ci")
	workflow.NewJob("flaky").WithContinueOnError(true).NewStep("attempt").WithRun("exit 1")
	run := NewRun("run-3", workflow, nil)
	run.Job("flaky").Fail(errors.New("exit status 1"))
	assert.True(t, run.AllJobsTerminal())
	assert.False(t, run.Failed())
}

func TestRunClone(t *testing.T) {
	workflow := testWorkflow()
	run := NewRun("run-4", workflow, nil)
	clone := run.Clone()

	clone.Job("build").Start()
	clone.Job("build").Steps[0].Complete()
	clone.RecordError("build", "boom")

	assert.Equal(t, StatePending, run.Job("build").GetState())
	assert.Equal(t, StatePending, run.Job("build").Steps[0].State)
	assert.Empty(t, run.Errors)
}

func TestJobRunMerge(t *testing.T) {
	workflow := testWorkflow()
	run := NewRun("run-5", workflow, nil)
	stored := run.Job("build")

	worker := stored.Clone()
	worker.Start()
	worker.Steps[0].Start()
	worker.Steps[0].Complete()

	stored.Merge(worker)
	assert.Equal(t, StateRunning, stored.GetState())
	assert.NotNil(t, stored.StartedAt)
	assert.Equal(t, StateCompleted, stored.Steps[0].State)
}

// Workers merge progress into stored job runs while the allocator polls the
// same run, so merges and run-level reads must be safe to interleave.
func TestJobRunConcurrentMergeAndPoll(t *testing.T) {
	workflow := testWorkflow()
	run := NewRun("run-7", workflow, nil)
	stored := run.Job("build")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			worker := stored.Clone()
			switch i % 3 {
			case 0:
				worker.Start()
			case 1:
				worker.Complete()
			default:
				worker.Fail(errors.New("exit status 101"))
			}
			stored.Merge(worker)
		}
	}()

	for i := 0; i < 200; i++ {
		run.AllJobsTerminal()
		run.Failed()
		run.Output()
		stored.GetState()
		NewScope(run, run.Job("test"))
	}
	<-done

	assert.True(t, stored.GetState().IsTerminal())
}

func TestScope(t *testing.T) {
	workflow := testWorkflow()
	workflow.WithEnv("CARGO_TERM_COLOR", "always")
	event := model.NewPushEvent("refs/heads/main", "4f2d9c1")
	run := NewRun("run-6", workflow, event, WithEnv(map[string]string{"CI": "true"}))

	build := run.Job("build")
	build.Steps[0].ID = "checkout"
	build.Steps[0].Complete()
	scope := NewScope(run, build)

	assert.True(t, scope.EvaluateBool("event.branch == 'main'"))
	assert.True(t, scope.EvaluateBool("${{ env.CI == 'true' }}"))
	assert.False(t, scope.EvaluateBool("event.tag != ''"))

	expanded, err := scope.Expand("ref=${{ event.ref }}")
	assert.NoError(t, err)
	assert.Equal(t, "ref=refs/heads/main", expanded)

	env := scope.Env()
	assert.Equal(t, "always", env["CARGO_TERM_COLOR"])
	assert.Equal(t, "true", env["CI"])

	// finished steps surface their outcome to later expressions
	build.Steps[1].ID = "build"
	build.Steps[1].Fail(errors.New("exit status 101"))
	build.Steps[1].ExitCode = 101
	scope.SetStep(build.Steps[1])
	assert.True(t, scope.EvaluateBool("steps.build.exitCode == 101"))
	assert.Equal(t, "failed", scope.ExpandText("${{ steps.build.outcome }}"))
}
