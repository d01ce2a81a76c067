// Package progress provides a lightweight tracker that keeps aggregated job
// and step counters for a single workflow run.  The tracker instance lives in
// the run context; every component that receives the context can atomically
// update the counters via the Delta helper without requiring a global
// registry.

package progress

import (
	"context"
	"sync"
	"time"
)

// Delta represents an incremental counter change emitted by the allocator,
// executor or processor.  The fields are signed and therefore can be either
// positive (increment) or negative (decrement).
type Delta struct {
	TotalJobs     int
	PendingJobs   int
	RunningJobs   int
	CompletedJobs int
	SkippedJobs   int
	FailedJobs    int

	TotalSteps     int
	RunningSteps   int
	CompletedSteps int
	SkippedSteps   int
	FailedSteps    int
}

// Progress is a plain value holding the aggregated counters of one run.  It
// carries no synchronisation of its own, so it can be freely copied, passed
// to callbacks and compared; concurrent updates go through a Tracker.
type Progress struct {
	// Identification, informative only, filled when the run starts.
	RootRunID string
	Workflow  string
	StartedAt time.Time

	// Counters, modified via Tracker.Update().
	TotalJobs     int
	PendingJobs   int
	RunningJobs   int
	CompletedJobs int
	SkippedJobs   int
	FailedJobs    int

	TotalSteps     int
	RunningSteps   int
	CompletedSteps int
	SkippedSteps   int
	FailedSteps    int
}

// apply folds a delta into the counters.
func (p *Progress) apply(d Delta) {
	p.TotalJobs += d.TotalJobs
	p.PendingJobs += d.PendingJobs
	p.RunningJobs += d.RunningJobs
	p.CompletedJobs += d.CompletedJobs
	p.SkippedJobs += d.SkippedJobs
	p.FailedJobs += d.FailedJobs

	p.TotalSteps += d.TotalSteps
	p.RunningSteps += d.RunningSteps
	p.CompletedSteps += d.CompletedSteps
	p.SkippedSteps += d.SkippedSteps
	p.FailedSteps += d.FailedSteps
}

// Tracker guards a Progress value for concurrent use.  Keeping the mutex on
// the tracker rather than on the value means snapshots are ordinary struct
// copies and never copy a lock.
type Tracker struct {
	mu       sync.Mutex
	current  Progress
	onChange func(Progress)
}

// Update applies the supplied delta to the tracker.  It is safe to call from
// multiple goroutines.  If an onChange callback has been registered it will
// be invoked with a copy of the updated counters outside the critical section
// so that the callback can perform slow operations (e.g. terminal rendering,
// I/O) without blocking engine internals.
func (t *Tracker) Update(d Delta) {
	if t == nil {
		return
	}

	t.mu.Lock()
	t.current.apply(d)
	// Value-copy for the callback while still holding the lock so the
	// callback never sees partially updated counters.
	snapshot := t.current
	cb := t.onChange
	t.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns a copy of the current counters suitable for read-only
// inspection.
func (t *Tracker) Snapshot() Progress {
	if t == nil {
		return Progress{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// OnChange registers a callback that is invoked after every successful
// Update.  Passing nil disables the callback.  Only one callback can be
// active; subsequent calls overwrite the previous value.
func (t *Tracker) OnChange(cb func(Progress)) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.onChange = cb
	t.mu.Unlock()
}

// ----------------------------------------------------------------------------
// Context helpers
// ----------------------------------------------------------------------------

type trackerKeyT struct{}

var trackerKey trackerKeyT

// WithNewTracker creates a new Tracker, embeds it in a derived context and
// returns both.  The caller may optionally pass an onChange callback that
// will be invoked after every counter update.
func WithNewTracker(ctx context.Context, rootRunID, workflow string, onChange func(Progress)) (context.Context, *Tracker) {
	if ctx == nil {
		ctx = context.Background()
	}
	tr := &Tracker{
		current: Progress{
			RootRunID: rootRunID,
			Workflow:  workflow,
			StartedAt: time.Now(),
		},
		onChange: onChange,
	}
	return context.WithValue(ctx, trackerKey, tr), tr
}

// FromContext extracts the Tracker from ctx.  It returns (tracker, ok).  The
// second return value is false when the context carries no tracker.
func FromContext(ctx context.Context) (*Tracker, bool) {
	if ctx == nil {
		return nil, false
	}
	tr, ok := ctx.Value(trackerKey).(*Tracker)
	return tr, ok
}

// GetSnapshot is a convenience wrapper that combines FromContext and
// Snapshot.  The boolean return value is false when the context does not
// carry a tracker.
func GetSnapshot(ctx context.Context) (Progress, bool) {
	if tr, ok := FromContext(ctx); ok {
		return tr.Snapshot(), true
	}
	return Progress{}, false
}

// UpdateCtx is a helper that looks up the tracker in ctx (if any) and applies
// the supplied delta.
func UpdateCtx(ctx context.Context, d Delta) {
	if tr, ok := FromContext(ctx); ok {
		tr.Update(d)
	}
}
