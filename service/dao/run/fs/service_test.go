package fs

import (
	"context"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viant/afs"

	"github.com/modal-labs/conveyor/model"
	"github.com/modal-labs/conveyor/runtime/execution"
	"github.com/modal-labs/conveyor/service/dao"
)

func testRun(id string) *execution.Run {
	workflow := model.NewWorkflow("ci")
	build := workflow.NewJob("build")
	build.NewStep("checkout").WithUses("checkout")
	build.NewStep("build").WithRun("cargo build --all-targets")
	workflow.NewJob("test").WithNeeds("build").NewStep("test").WithRun("cargo test")
	return execution.NewRun(id, workflow, model.NewPushEvent("refs/heads/main", "4f2d9c1"))
}

func TestService_SaveLoad(t *testing.T) {
	tempDir, err := os.MkdirTemp("/tmp", "run-store-test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	service, err := New(tempDir)
	assert.NoError(t, err)
	ctx := context.Background()

	run := testRun("run-1")
	assert.NoError(t, service.Save(ctx, run))

	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, path.Join(tempDir, "run-1.json"))
	assert.NoError(t, err)
	// empty collections are stripped from the stored document
	assert.NotContains(t, string(data), `"errors"`)

	loaded, err := service.Load(ctx, "run-1")
	assert.NoError(t, err)
	if assert.NotNil(t, loaded) {
		assert.Equal(t, "run-1", loaded.ID)
		assert.Equal(t, execution.StatePending, loaded.GetState())
		assert.Equal(t, "ci", loaded.Workflow.Name)
		build := loaded.Job("build")
		if assert.NotNil(t, build) {
			assert.Len(t, build.Steps, 2)
			assert.Equal(t, "cargo build --all-targets", build.Steps[1].Command)
		}
	}

	assert.NoError(t, service.Delete(ctx, "run-1"))
	_, err = service.Load(ctx, "run-1")
	assert.ErrorIs(t, err, dao.ErrNotFound)
}

func TestService_ListFiltersByState(t *testing.T) {
	tempDir, err := os.MkdirTemp("/tmp", "run-store-list-test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	service, err := New(tempDir)
	assert.NoError(t, err)
	ctx := context.Background()

	pending := testRun("run-pending")
	assert.NoError(t, service.Save(ctx, pending))

	finished := testRun("run-finished")
	finished.SetState(execution.StateCompleted)
	assert.NoError(t, service.Save(ctx, finished))

	active, err := service.List(ctx, dao.NewParameter("State", string(execution.StatePending), string(execution.StateRunning)))
	assert.NoError(t, err)
	if assert.Len(t, active, 1) {
		assert.Equal(t, "run-pending", active[0].ID)
	}

	all, err := service.List(ctx)
	assert.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestService_RevisionGuardsStaleWrites(t *testing.T) {
	tempDir, err := os.MkdirTemp("/tmp", "run-store-scn-test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	service, err := New(tempDir)
	assert.NoError(t, err)
	ctx := context.Background()

	run := testRun("run-2")
	assert.NoError(t, service.Save(ctx, run))
	assert.Equal(t, 1, run.Revision())

	// the scheduler and a worker both load the run, then save in turn
	scheduler, err := service.Load(ctx, "run-2")
	assert.NoError(t, err)
	worker, err := service.Load(ctx, "run-2")
	assert.NoError(t, err)

	scheduler.SetState(execution.StateRunning)
	assert.NoError(t, service.Save(ctx, scheduler))
	assert.Equal(t, 2, scheduler.Revision())

	// the worker's copy is a revision behind; its write must not clobber
	err = service.Save(ctx, worker)
	assert.ErrorIs(t, err, dao.ErrStale)

	loaded, err := service.Load(ctx, "run-2")
	assert.NoError(t, err)
	assert.Equal(t, execution.StateRunning, loaded.GetState())

	// re-loading picks up the newer revision and the save goes through
	worker, err = service.Load(ctx, "run-2")
	assert.NoError(t, err)
	worker.SetState(execution.StateCompleted)
	assert.NoError(t, service.Save(ctx, worker))
	assert.Equal(t, 3, worker.Revision())
}

func TestService_InvalidInput(t *testing.T) {
	_, err := New("")
	assert.Error(t, err, "Should error with empty base path")

	tempDir, err := os.MkdirTemp("/tmp", "run-store-invalid-test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	service, err := New(tempDir)
	assert.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, service.Save(ctx, nil), dao.ErrNilEntity)
	assert.ErrorIs(t, service.Save(ctx, &execution.Run{}), dao.ErrInvalidID)
	_, err = service.Load(ctx, "")
	assert.ErrorIs(t, err, dao.ErrInvalidID)
	_, err = service.Load(ctx, "missing")
	assert.ErrorIs(t, err, dao.ErrNotFound)
	assert.ErrorIs(t, service.Delete(ctx, ""), dao.ErrInvalidID)
	assert.ErrorIs(t, service.Delete(ctx, "missing"), dao.ErrNotFound)
}
