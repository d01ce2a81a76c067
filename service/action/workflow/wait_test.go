package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/modal-labs/conveyor/model"
	"github.com/modal-labs/conveyor/runtime/execution"
	rundao "github.com/modal-labs/conveyor/service/dao/run/memory"
)

// TestWaitForRun verifies that WaitForRun returns as soon as the run reaches
// a terminal state and never blocks indefinitely.
func TestWaitForRun(t *testing.T) {
	ctx := context.Background()

	aWorkflow := model.NewWorkflow("demo")
	aWorkflow.NewJob("build")

	run := execution.NewRun("run-test", aWorkflow, nil)
	run.SetState(execution.StateCompleted)

	runDao := rundao.New()
	_ = runDao.Save(ctx, run)

	svc := New(nil, nil, runDao)

	// Use a generous timeout - the call should return immediately, not after
	// the entire duration.
	out, err := svc.WaitForRun(ctx, run.ID, 1_000 /* 1 second */)

	assert.NoError(t, err)
	assert.EqualValues(t, execution.StateCompleted, out.State)
	assert.False(t, out.Timeout)
}
