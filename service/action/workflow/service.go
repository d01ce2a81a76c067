// Package workflow exposes workflow orchestration as an action so a step can
// start, await or inspect another workflow run.
package workflow

import (
	"context"
	"fmt"
	"reflect"

	"github.com/modal-labs/conveyor/model"
	"github.com/modal-labs/conveyor/model/types"
	"github.com/modal-labs/conveyor/runtime/execution"
	"github.com/modal-labs/conveyor/service/dao"
	"github.com/modal-labs/conveyor/service/dao/workflow"
)

const name = "workflow"

// Starter begins a new workflow run. The engine runtime satisfies this
// interface; the indirection keeps this action free of the engine package.
type Starter interface {
	StartRun(ctx context.Context, workflow *model.Workflow, event *model.Event) (*execution.Run, error)
}

// Service runs nested workflows and reports on their runs
type Service struct {
	starter     Starter
	workflowDao *workflow.Service
	runDao      dao.Service[string, execution.Run]
}

// New creates a new workflow service
func New(starter Starter, workflowDao *workflow.Service, runDao dao.Service[string, execution.Run]) *Service {
	return &Service{
		starter:     starter,
		workflowDao: workflowDao,
		runDao:      runDao,
	}
}

// Name returns the service name
func (s *Service) Name() string {
	return name
}

// Methods returns the service methods
func (s *Service) Methods() types.Signatures {
	return []types.Signature{
		{
			Name:        "run",
			Description: "Starts a workflow run for the given definition, optionally waiting for it to finish.",
			Input:       reflect.TypeOf(&RunInput{}),
			Output:      reflect.TypeOf(&RunOutput{}),
		},
		{
			Name:        "status",
			Description: "Retrieves the current state and per-job outcome of a workflow run by its run ID.",
			Input:       reflect.TypeOf(&StatusInput{}),
			Output:      reflect.TypeOf(&StatusOutput{}),
		},
		{
			Name:        "wait",
			Description: "Polls a workflow run until completion or timeout, returning its final state and errors.",
			Input:       reflect.TypeOf(&WaitInput{}),
			Output:      reflect.TypeOf(&WaitOutput{}),
		},
	}
}

// Method returns the specified method
func (s *Service) Method(name string) (types.Executable, error) {
	switch name {
	case "run":
		return s.run, nil
	case "status":
		return s.status, nil
	case "wait":
		return s.wait, nil
	default:
		return nil, types.NewMethodNotFoundError(name)
	}
}

func (s *Service) ensureWorkflow(ctx context.Context, input *RunInput) error {
	if input.Workflow != nil {
		return nil
	}
	var aWorkflow *model.Workflow
	var err error
	if len(input.Source) > 0 {
		aWorkflow, err = s.workflowDao.DecodeYAML(input.Source)
	} else {
		aWorkflow, err = s.workflowDao.Load(ctx, input.Location)
	}
	if err != nil {
		return err
	}
	if len(aWorkflow.Jobs) == 0 {
		return fmt.Errorf("workflow %v has no jobs", input.Location)
	}
	input.Workflow = aWorkflow
	return nil
}
