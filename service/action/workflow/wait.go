package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/modal-labs/conveyor/model/types"
	"github.com/modal-labs/conveyor/runtime/execution"
)

type WaitInput struct {
	RunID             string `json:"runID,omitempty" yaml:"runID"`
	TimeoutInMs       int    `json:"timeoutMs,omitempty" yaml:"timeoutMs"`
	PollFrequencyInMs int    `json:"pollTimeMs,omitempty" yaml:"pollTimeMs"`
}

func (i *WaitInput) Init(ctx context.Context) {
	if i.PollFrequencyInMs == 0 {
		i.PollFrequencyInMs = 200
	}
	if i.TimeoutInMs == 0 {
		i.TimeoutInMs = 300000 //5 min
	}
}

func (i *WaitInput) Validate(ctx context.Context) error {
	if i.RunID == "" {
		return fmt.Errorf("runID is required")
	}
	return nil
}

// WaitOutput represents a wait output
type WaitOutput execution.RunOutput

// WaitForRun waits for a run to complete
func (s *Service) WaitForRun(ctx context.Context, id string, timeoutMs int) (*WaitOutput, error) {
	input := &WaitInput{RunID: id, TimeoutInMs: timeoutMs}
	input.Init(ctx)
	output := &WaitOutput{}
	return output, s.wait(ctx, input, output)
}

func (s *Service) wait(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*WaitInput)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	input.Init(ctx)
	if err := input.Validate(ctx); err != nil {
		return err
	}

	output, ok := out.(*WaitOutput)
	if !ok {
		return types.NewInvalidOutputError(out)
	}

	pollFrequency := time.Millisecond * time.Duration(input.PollFrequencyInMs)
	var expiry time.Time
	if input.TimeoutInMs > 0 {
		expiry = time.Now().Add(time.Millisecond * time.Duration(input.TimeoutInMs))
	}

	//Always populate run ID so that caller can correlate the result even
	//when the workflow finishes with an error or times-out.
	output.RunID = input.RunID

outer:
	for {
		run, err := s.runDao.Load(ctx, input.RunID)
		if err != nil {
			return err
		}
		// Finished only when the allocator sets a final state.
		if run.GetState().IsTerminal() {
			break outer
		}
		if !expiry.IsZero() && time.Now().After(expiry) {
			output.Timeout = true
			break outer
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollFrequency):
		}
	}
	run, err := s.runDao.Load(ctx, input.RunID)
	if err != nil {
		return err
	}

	summary := run.Output()
	output.State = summary.State
	output.Jobs = summary.Jobs
	output.Errors = summary.Errors
	output.TimeTaken = summary.TimeTaken
	if output.TimeTaken == 0 {
		output.TimeTaken = time.Since(run.CreatedAt)
	}
	return nil
}
