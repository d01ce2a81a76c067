package executor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/modal-labs/conveyor/extension"
	"github.com/modal-labs/conveyor/model"
	"github.com/modal-labs/conveyor/model/types"
	"github.com/modal-labs/conveyor/policy"
	"github.com/modal-labs/conveyor/runtime/execution"
)

// greeter is a stub action used to observe input conversion and output
// recording.
type greeterInput struct {
	Name string `json:"name"`
}

type greeterOutput struct {
	Greeting string `json:"greeting"`
}

type greeterService struct {
	calls int
}

func (s *greeterService) Name() string {
	return "greeter"
}

func (s *greeterService) Methods() types.Signatures {
	return []types.Signature{
		{
			Name:   "run",
			Input:  reflect.TypeOf(&greeterInput{}),
			Output: reflect.TypeOf(&greeterOutput{}),
		},
		{
			Name:   "shout",
			Input:  reflect.TypeOf(&greeterInput{}),
			Output: reflect.TypeOf(&greeterOutput{}),
		},
	}
}

func (s *greeterService) Method(name string) (types.Executable, error) {
	switch name {
	case "run":
		return func(ctx context.Context, in, out interface{}) error {
			s.calls++
			input := in.(*greeterInput)
			output := out.(*greeterOutput)
			output.Greeting = fmt.Sprintf("Hello %s", input.Name)
			return nil
		}, nil
	case "shout":
		return func(ctx context.Context, in, out interface{}) error {
			s.calls++
			input := in.(*greeterInput)
			output := out.(*greeterOutput)
			output.Greeting = fmt.Sprintf("HELLO %s!", input.Name)
			return nil
		}, nil
	default:
		return nil, types.NewMethodNotFoundError(name)
	}
}

func newTestRun() (*execution.Run, *execution.JobRun) {
	workflow := model.NewWorkflow("demo").WithEnv("NAME", "world")
	job := workflow.NewJob("greet")
	job.NewStep("say hello").WithUses("greeter").WithInput("name", "${{ env.NAME }}")
	run := execution.NewRun("run-1", workflow, nil)
	return run, run.Job("greet")
}

func TestService_ExecuteUses(t *testing.T) {
	greeter := &greeterService{}
	actions := extension.NewActions()
	actions.Register(greeter)
	executor := NewService(actions)

	run, jobRun := newTestRun()
	step := run.Workflow.Job("greet").Steps[0]
	stepRun := jobRun.Steps[0]
	scope := execution.NewScope(run, jobRun)
	ctx := execution.NewContext(context.Background(), actions, nil).ExecutionContext(run, jobRun, stepRun)

	err := executor.Execute(ctx, step, stepRun, scope)
	assert.NoError(t, err)
	assert.Equal(t, 1, greeter.calls)
	assert.EqualValues(t, "Hello world", stepRun.Output["greeting"])
}

func TestService_ExecuteMethodReference(t *testing.T) {
	greeter := &greeterService{}
	actions := extension.NewActions()
	actions.Register(greeter)
	executor := NewService(actions)

	run, jobRun := newTestRun()
	step := model.NewWorkflow("x").NewJob("greet").NewStep("shout").
		WithUses("greeter/shout").WithInput("name", "world")
	stepRun := jobRun.Steps[0]
	scope := execution.NewScope(run, jobRun)
	ctx := execution.NewContext(context.Background(), actions, nil).ExecutionContext(run, jobRun, stepRun)

	err := executor.Execute(ctx, step, stepRun, scope)
	assert.NoError(t, err)
	assert.EqualValues(t, "HELLO world!", stepRun.Output["greeting"])
}

func TestService_Listener(t *testing.T) {
	greeter := &greeterService{}
	actions := extension.NewActions()
	actions.Register(greeter)

	var observed []*model.Step
	executor := NewService(actions, WithListener(func(step *model.Step, input, output interface{}) {
		observed = append(observed, step)
		assert.IsType(t, &greeterInput{}, input)
		assert.IsType(t, &greeterOutput{}, output)
	}))

	run, jobRun := newTestRun()
	step := run.Workflow.Job("greet").Steps[0]
	stepRun := jobRun.Steps[0]
	scope := execution.NewScope(run, jobRun)
	ctx := execution.NewContext(context.Background(), actions, nil).ExecutionContext(run, jobRun, stepRun)

	assert.NoError(t, executor.Execute(ctx, step, stepRun, scope))
	if assert.Len(t, observed, 1) {
		assert.Same(t, step, observed[0])
	}
}

func TestService_ExecuteUnknownService(t *testing.T) {
	actions := extension.NewActions()
	executor := NewService(actions)

	run, jobRun := newTestRun()
	step := run.Workflow.Job("greet").Steps[0]
	scope := execution.NewScope(run, jobRun)
	ctx := execution.NewContext(context.Background(), actions, nil).ExecutionContext(run, jobRun, jobRun.Steps[0])

	err := executor.Execute(ctx, step, jobRun.Steps[0], scope)
	assert.Error(t, err)
}

func TestService_PolicyGate(t *testing.T) {
	testCases := []struct {
		description string
		policy      *policy.Policy
		expectErr   bool
		expectCalls int
		approved    *bool
	}{
		{
			description: "deny mode blocks execution",
			policy:      &policy.Policy{Mode: policy.ModeDeny},
			expectErr:   true,
		},
		{
			description: "block list rejects the action",
			policy:      &policy.Policy{BlockList: []string{"greeter.run"}},
			expectErr:   true,
		},
		{
			description: "ask mode approved",
			policy: &policy.Policy{Mode: policy.ModeAsk, Ask: func(ctx context.Context, action string, args map[string]interface{}, p *policy.Policy) bool {
				return true
			}},
			expectCalls: 1,
			approved:    boolPtr(true),
		},
		{
			description: "ask mode rejected",
			policy: &policy.Policy{Mode: policy.ModeAsk, Ask: func(ctx context.Context, action string, args map[string]interface{}, p *policy.Policy) bool {
				return false
			}},
			expectErr: true,
			approved:  boolPtr(false),
		},
	}

	for _, testCase := range testCases {
		greeter := &greeterService{}
		actions := extension.NewActions()
		actions.Register(greeter)
		executor := NewService(actions)

		run, jobRun := newTestRun()
		step := run.Workflow.Job("greet").Steps[0]
		stepRun := jobRun.Steps[0]
		scope := execution.NewScope(run, jobRun)
		ctx := execution.NewContext(context.Background(), actions, nil).ExecutionContext(run, jobRun, stepRun)

		err := executor.Execute(policy.WithPolicy(ctx, testCase.policy), step, stepRun, scope)
		if testCase.expectErr {
			assert.Error(t, err, testCase.description)
			assert.True(t, errors.Is(err, ErrDenied), testCase.description)
		} else {
			assert.NoError(t, err, testCase.description)
		}
		assert.Equal(t, testCase.expectCalls, greeter.calls, testCase.description)
		if testCase.approved != nil {
			if assert.NotNil(t, stepRun.Approved, testCase.description) {
				assert.Equal(t, *testCase.approved, *stepRun.Approved, testCase.description)
			}
		}
	}
}

func boolPtr(b bool) *bool { return &b }
