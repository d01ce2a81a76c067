package workflow

import (
	"context"
	"fmt"

	"github.com/modal-labs/conveyor/model/types"
	"github.com/modal-labs/conveyor/runtime/execution"
)

type StatusInput struct {
	RunID string `json:"runID,omitempty" yaml:"runID"`
}

func (i *StatusInput) Validate(ctx context.Context) error {
	if i.RunID == "" {
		return fmt.Errorf("runID is required")
	}
	return nil
}

type StatusOutput struct {
	State  execution.State
	Jobs   map[string]execution.State
	Errors map[string]string
}

func (s *Service) status(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*StatusInput)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	if err := input.Validate(ctx); err != nil {
		return err
	}

	run, err := s.runDao.Load(ctx, input.RunID)
	if err != nil {
		return err
	}

	output, ok := out.(*StatusOutput)
	if !ok {
		return types.NewInvalidOutputError(out)
	}
	summary := run.Output()
	output.State = summary.State
	output.Jobs = summary.Jobs
	output.Errors = summary.Errors
	return nil
}
