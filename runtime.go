package conveyor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/modal-labs/conveyor/extension"
	"github.com/modal-labs/conveyor/internal/idgen"
	"github.com/modal-labs/conveyor/model"
	"github.com/modal-labs/conveyor/policy"
	"github.com/modal-labs/conveyor/progress"
	"github.com/modal-labs/conveyor/runtime/execution"
	aworkflow "github.com/modal-labs/conveyor/service/action/workflow"
	"github.com/modal-labs/conveyor/service/allocator"
	"github.com/modal-labs/conveyor/service/dao"
	"github.com/modal-labs/conveyor/service/dao/workflow"
	"github.com/modal-labs/conveyor/service/event"
	"github.com/modal-labs/conveyor/service/messaging"
	"github.com/modal-labs/conveyor/service/processor"
	"github.com/modal-labs/conveyor/tracing"
)

// Runtime represents the running engine: workflow loading, run control and
// the background services that schedule and execute jobs.
type Runtime struct {
	workflowService *aworkflow.Service
	workflowDAO     *workflow.Service
	runDAO          dao.Service[string, execution.Run]
	queue           messaging.Queue[execution.JobMessage]
	events          *event.Service
	actions         *extension.Actions
	processor       *processor.Service
	allocator       *allocator.Service
	policy          *policy.Policy
	logger          *log.Logger

	mu       sync.Mutex
	group    *errgroup.Group
	cancel   context.CancelFunc
	tracker  *progress.Tracker
	onChange func(progress.Progress)
}

// NewContext returns a context carrying the engine collaborators consulted
// by actions and background services: the action registry, the event service
// and the engine policy.
func (r *Runtime) NewContext(ctx context.Context) context.Context {
	ret := context.Context(execution.NewContext(ctx, r.actions, r.events))
	if r.policy != nil {
		ret = policy.WithPolicy(ret, r.policy)
	}
	return ret
}

// LoadWorkflow loads a workflow definition, caching it by location.
func (r *Runtime) LoadWorkflow(ctx context.Context, location string) (*model.Workflow, error) {
	return r.workflowDAO.Load(ctx, location)
}

// DecodeYAMLWorkflow parses a workflow definition from YAML bytes.
func (r *Runtime) DecodeYAMLWorkflow(data []byte) (*model.Workflow, error) {
	return r.workflowDAO.DecodeYAML(data)
}

// RefreshWorkflow discards any cached copy of the workflow definition at the
// given location. The next LoadWorkflow call reloads the document through
// the meta service.
func (r *Runtime) RefreshWorkflow(location string) error {
	if r == nil || r.workflowDAO == nil {
		return fmt.Errorf("runtime not fully initialised: workflowDAO missing")
	}
	r.workflowDAO.Refresh(location)
	return nil
}

// UpsertDefinition parses the supplied YAML bytes and stores the resulting
// workflow definition under the specified location. When data is nil the
// call falls back to RefreshWorkflow, causing a lazy reload on next use.
func (r *Runtime) UpsertDefinition(location string, data []byte) error {
	if r == nil || r.workflowDAO == nil {
		return fmt.Errorf("runtime not fully initialised: workflowDAO missing")
	}
	if data == nil {
		return r.RefreshWorkflow(location)
	}
	aWorkflow, err := r.workflowDAO.DecodeYAML(data)
	if err != nil {
		return fmt.Errorf("failed to decode workflow YAML: %w", err)
	}
	// Keep Source in sync with the cache key so later look-ups agree.
	if aWorkflow.Source == nil {
		aWorkflow.Source = &model.Source{URL: location}
	} else {
		aWorkflow.Source.URL = location
	}
	r.workflowDAO.Upsert(location, aWorkflow)
	return nil
}

// StartRun validates the workflow and persists a pending run for it; the
// allocator picks the run up from the store and schedules its jobs. Use
// WaitForRun to block for the outcome.
func (r *Runtime) StartRun(ctx context.Context, aWorkflow *model.Workflow, event *model.Event) (*execution.Run, error) {
	if aWorkflow == nil {
		return nil, fmt.Errorf("workflow is nil")
	}
	if issues := aWorkflow.Validate(); len(issues) > 0 {
		return nil, fmt.Errorf("invalid workflow %v: %w", aWorkflow.Name, issues[0])
	}
	var options []execution.Option
	if pol := policy.FromContext(ctx); pol != nil {
		options = append(options, execution.WithPolicy(policy.ToConfig(pol)))
	} else if r.policy != nil {
		options = append(options, execution.WithPolicy(policy.ToConfig(r.policy)))
	}
	run := execution.NewRun(idgen.New(), aWorkflow, event, options...)
	_, span := tracing.StartSpan(ctx, fmt.Sprintf("workflow.run %s", aWorkflow.Name), "SERVER")
	run.Span = span.WithAttributes(map[string]string{
		"run.id":   run.ID,
		"workflow": aWorkflow.Name,
	})
	if err := r.runDAO.Save(ctx, run); err != nil {
		tracing.EndSpan(span, err)
		return nil, fmt.Errorf("failed to save run %v: %w", run.ID, err)
	}
	r.logger.Info("run started", "run", idgen.Short(run.ID), "workflow", aWorkflow.Name)
	return run, nil
}

// Trigger starts a run for every known workflow whose trigger matches the
// event. Workflows become known once loaded through LoadWorkflow or stored
// with UpsertDefinition.
func (r *Runtime) Trigger(ctx context.Context, event *model.Event) ([]*execution.Run, error) {
	if event == nil {
		return nil, fmt.Errorf("event is nil")
	}
	var runs []*execution.Run
	for _, aWorkflow := range r.workflowDAO.Definitions() {
		if !aWorkflow.On.Matches(event) {
			continue
		}
		run, err := r.StartRun(ctx, aWorkflow, event)
		if err != nil {
			return runs, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// WaitForRun blocks until the run reaches a terminal state or the timeout
// elapses.
func (r *Runtime) WaitForRun(ctx context.Context, id string, timeout time.Duration) (*execution.RunOutput, error) {
	output, err := r.workflowService.WaitForRun(ctx, id, int(timeout.Milliseconds()))
	if err != nil {
		return nil, err
	}
	return (*execution.RunOutput)(output), nil
}

// Run returns a run record by ID.
func (r *Runtime) Run(ctx context.Context, id string) (*execution.Run, error) {
	return r.runDAO.Load(ctx, id)
}

// Runs lists persisted runs, optionally filtered by DAO parameters.
func (r *Runtime) Runs(ctx context.Context, parameters ...*dao.Parameter) ([]*execution.Run, error) {
	return r.runDAO.List(ctx, parameters...)
}

// OnProgress registers a callback observing the aggregated job and step
// counters. A callback registered while the engine is running replaces the
// current one.
func (r *Runtime) OnProgress(callback func(progress.Progress)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = callback
	if r.tracker != nil {
		r.tracker.OnChange(callback)
	}
}

// Progress returns a snapshot of the engine progress counters. The second
// return value is false before Start.
func (r *Runtime) Progress() (progress.Progress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tracker == nil {
		return progress.Progress{}, false
	}
	return r.tracker.Snapshot(), true
}

// Start launches the allocator and the processor workers. The supplied
// context carries the engine collaborators to every worker; cancelling it
// stops the engine.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return fmt.Errorf("runtime already started")
	}
	engineCtx := r.NewContext(ctx)
	engineCtx, tracker := progress.WithNewTracker(engineCtx, "", "", r.onChange)
	r.tracker = tracker
	engineCtx, cancel := context.WithCancel(engineCtx)
	r.cancel = cancel

	group, groupCtx := errgroup.WithContext(engineCtx)
	group.Go(func() error {
		return ignoreCancel(r.processor.Start(groupCtx))
	})
	group.Go(func() error {
		return ignoreCancel(r.allocator.Start(groupCtx))
	})
	r.group = group
	return nil
}

// Shutdown stops the background services and waits for in-flight work to
// drain.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	cancel, group := r.cancel, r.group
	r.cancel, r.group = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	r.allocator.Shutdown()
	r.processor.Shutdown()
	cancel()
	if group != nil {
		return group.Wait()
	}
	return nil
}

func ignoreCancel(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
