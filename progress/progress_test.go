package progress

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgress_Update(t *testing.T) {
	var seen []Progress
	ctx, tracker := WithNewTracker(context.Background(), "run-1", "ci", func(p Progress) {
		seen = append(seen, p)
	})

	UpdateCtx(ctx, Delta{TotalJobs: 2, PendingJobs: 2})
	UpdateCtx(ctx, Delta{PendingJobs: -1, RunningJobs: 1, TotalSteps: 6})
	UpdateCtx(ctx, Delta{RunningSteps: 1})
	UpdateCtx(ctx, Delta{RunningSteps: -1, CompletedSteps: 1})

	snapshot := tracker.Snapshot()
	assert.EqualValues(t, "run-1", snapshot.RootRunID)
	assert.EqualValues(t, "ci", snapshot.Workflow)
	assert.EqualValues(t, 2, snapshot.TotalJobs)
	assert.EqualValues(t, 1, snapshot.PendingJobs)
	assert.EqualValues(t, 1, snapshot.RunningJobs)
	assert.EqualValues(t, 6, snapshot.TotalSteps)
	assert.EqualValues(t, 1, snapshot.CompletedSteps)
	assert.EqualValues(t, 0, snapshot.RunningSteps)

	assert.EqualValues(t, 4, len(seen))
	assert.EqualValues(t, 2, seen[0].TotalJobs)
}

func TestProgress_ConcurrentUpdate(t *testing.T) {
	_, tracker := WithNewTracker(context.Background(), "run-2", "ci", nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Update(Delta{CompletedSteps: 1})
			tracker.Snapshot()
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 50, tracker.Snapshot().CompletedSteps)
}

func TestProgress_MissingTracker(t *testing.T) {
	ctx := context.Background()

	_, ok := FromContext(ctx)
	assert.False(t, ok)

	_, ok = GetSnapshot(ctx)
	assert.False(t, ok)

	// No tracker in context is a no-op, not a panic.
	UpdateCtx(ctx, Delta{TotalJobs: 1})

	var nilTracker *Tracker
	nilTracker.Update(Delta{TotalJobs: 1})
	nilTracker.OnChange(nil)
	assert.EqualValues(t, Progress{}, nilTracker.Snapshot())
}
