package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modal-labs/conveyor/model"
	"github.com/modal-labs/conveyor/model/types"
	"github.com/modal-labs/conveyor/runtime/execution"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

type RunInput struct {
	ParentLocation string          `json:"parentLocation,omitempty" yaml:"parentLocation"`
	Location       string          `json:"location,omitempty" yaml:"location"`
	Source         []byte          `json:"source,omitempty" yaml:"source"`
	Event          *model.Event    `json:"event,omitempty" yaml:"event"`
	Workflow       *model.Workflow `json:"workflow,omitempty"`
	IgnoreError    bool            `json:"ignoreError,omitempty" yaml:"ignoreError"`
	Async          bool            `json:"async,omitempty" yaml:"async"`
	WaitTimeInSec  int             `json:"waitTimeInSec,omitempty" yaml:"waitTimeInSec"`
}

type RunOutput struct {
	RunID  string
	State  execution.State
	Jobs   map[string]execution.State
	Errors map[string]string
}

func (i *RunInput) Init(ctx context.Context) {
	if url.IsRelative(i.Location) && i.ParentLocation != "" { //for relative location try resolve with parent
		parent, _ := url.Split(i.ParentLocation, file.Scheme)
		candidate := url.Join(parent, i.Location)
		fs := afs.New()
		if ok, _ := fs.Exists(ctx, candidate); ok {
			i.Location = candidate
		}
	}
	if i.WaitTimeInSec == 0 && !i.Async {
		i.WaitTimeInSec = 300 //5 min
	}
}

func (i *RunInput) Validate(ctx context.Context) error {
	if i.Workflow != nil {
		return nil
	}
	if i.Location == "" && len(i.Source) == 0 {
		return fmt.Errorf("location is required")
	}
	return nil
}

func (s *Service) run(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*RunInput)
	if !ok {
		return types.NewInvalidInputError(in)
	}

	input.Init(ctx)
	if err := input.Validate(ctx); err != nil {
		return err
	}
	if err := s.ensureWorkflow(ctx, input); err != nil {
		return err
	}

	event := input.Event
	if event == nil {
		// A nested run inherits the event of the run that spawned it.
		if parent := execution.ContextValue[*execution.Run](ctx); parent != nil {
			event = parent.Event
		}
	}

	run, err := s.starter.StartRun(ctx, input.Workflow, event)
	if err != nil {
		return err
	}
	output, ok := out.(*RunOutput)
	if !ok {
		return types.NewInvalidOutputError(out)
	}
	output.RunID = run.ID
	if !input.Async {
		waitInput := &WaitInput{
			RunID:       run.ID,
			TimeoutInMs: input.WaitTimeInSec * 1000,
		}
		waitOutput := &WaitOutput{}
		if err := s.wait(ctx, waitInput, waitOutput); err != nil {
			return err
		}
		if waitOutput.State == execution.StateFailed && !input.IgnoreError {
			errorInfo, _ := json.Marshal(waitOutput.Errors)
			return fmt.Errorf("failed to run workflow %v run %v, due to %s", input.Workflow.Name, run.ID, errorInfo)
		}
		output.State = waitOutput.State
		output.Jobs = waitOutput.Jobs
		output.Errors = waitOutput.Errors
	}
	return nil
}
