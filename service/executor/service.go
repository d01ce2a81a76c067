package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/viant/structology/conv"

	"github.com/modal-labs/conveyor/extension"
	"github.com/modal-labs/conveyor/model"
	"github.com/modal-labs/conveyor/model/types"
	"github.com/modal-labs/conveyor/policy"
	"github.com/modal-labs/conveyor/runtime/execution"
	"github.com/modal-labs/conveyor/service/action/secret"
	"github.com/modal-labs/conveyor/service/action/system"
	"github.com/modal-labs/conveyor/service/action/system/exec"
	"github.com/modal-labs/conveyor/service/approval"
	"github.com/modal-labs/conveyor/service/dao/workflow/reference"
	"github.com/modal-labs/conveyor/service/event"
)

// Listener is invoked once a step action completes (regardless of whether it
// returned an error or not). Implementations can log, collect metrics or
// perform any other side-effects they require.
//
// For convenience the listener is defined as a function type rather than an
// interface; callers can therefore pass a plain function literal when
// customising the executor.
type Listener func(step *model.Step, input, output interface{})

// StdoutListener serialises the step specification, input and output into
// JSON and prints them to standard output. Errors from json.Marshal are
// ignored on purpose; they indicate non-serialisable values the caller would
// not have had access to either way.
func StdoutListener(step *model.Step, input, output interface{}) {
	if step == nil {
		return
	}
	spec, _ := json.Marshal(step)
	fmt.Println(string(spec))
	if input != nil {
		in, _ := json.Marshal(input)
		fmt.Println(string(in))
	}
	if output != nil {
		out, _ := json.Marshal(output)
		fmt.Println(string(out))
	}
}

// Option is used to customise the executor instance.
type Option func(*service)

// WithListener overrides the listener invoked after every executed step.
// Passing nil disables the callback entirely.
func WithListener(l Listener) Option {
	return func(s *service) {
		s.listener = l
	}
}

// WithApprovalService attaches the approval channel consulted in ask mode
// when the run policy carries no Ask function.
func WithApprovalService(svc approval.Service) Option {
	return func(s *service) {
		s.approval = svc
	}
}

// WithApprovalTimeout bounds how long a step blocks waiting for a decision.
func WithApprovalTimeout(timeout time.Duration) Option {
	return func(s *service) {
		s.approvalTimeout = timeout
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// Service executes a single workflow step against the action registry.
type Service interface {
	Execute(ctx context.Context, step *model.Step, stepRun *execution.StepRun, scope *execution.Scope) error
}

// service is the concrete implementation of Service.
type service struct {
	actions         *extension.Actions
	converter       *conv.Converter
	listener        Listener
	approval        approval.Service
	approvalTimeout time.Duration
	logger          *log.Logger
}

// invocation is a resolved step ready to be dispatched.
type invocation struct {
	token  string // policy token: "service.method" or run command program
	method types.Executable
	input  interface{}
	output interface{}
	args   map[string]interface{}
}

// Execute resolves and runs one step, recording its output and exit code on
// the step run. The policy gate is consulted between resolution and dispatch
// so that denied steps never execute.
func (s *service) Execute(ctx context.Context, step *model.Step, stepRun *execution.StepRun, scope *execution.Scope) error {
	if step == nil {
		return fmt.Errorf("step is required")
	}
	inv, err := s.resolve(ctx, step, scope)
	if err != nil {
		return err
	}
	if err := s.gate(ctx, inv, stepRun); err != nil {
		return err
	}

	invokeErr := inv.method(ctx, inv.input, inv.output)

	if s.listener != nil {
		s.listener(step, inv.input, inv.output)
	}
	s.record(stepRun, inv.output)
	s.publish(ctx, stepRun)

	if invokeErr != nil {
		return invokeErr
	}
	if revealed, ok := inv.output.(*secret.RevealOutput); ok {
		exportSecrets(scope, step, revealed)
	}
	if execOut, ok := inv.output.(*exec.Output); ok && execOut.Status != 0 {
		detail := strings.TrimSpace(execOut.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(execOut.Stdout)
		}
		return fmt.Errorf("command exited with status %d: %s", execOut.Status, detail)
	}
	return nil
}

// resolve translates a step into a concrete action invocation.
func (s *service) resolve(ctx context.Context, step *model.Step, scope *execution.Scope) (*invocation, error) {
	switch step.Kind() {
	case model.StepKindRun:
		return s.resolveCommand(ctx, step, scope)
	case model.StepKindUses:
		return s.resolveAction(ctx, step, scope)
	}
	return nil, fmt.Errorf("step %v declares neither uses nor run", step.Name)
}

// resolveCommand routes a run: step to the exec action on the job's runner.
func (s *service) resolveCommand(ctx context.Context, step *model.Step, scope *execution.Scope) (*invocation, error) {
	command := step.Run
	env := map[string]string{}
	if scope != nil {
		command = scope.ExpandText(command)
		env = scope.Env()
	}
	for k, v := range step.Env {
		if scope != nil {
			v = scope.ExpandText(v)
		}
		env[k] = v
	}
	if step.Shell != "" && step.Shell != "bash" {
		command = fmt.Sprintf("%s -c %q", step.Shell, command)
	}

	input := &exec.Input{
		Commands: []string{command},
		Env:      env,
	}
	if step.WorkingDir != "" {
		input.Workdir = step.WorkingDir
		if scope != nil {
			input.Workdir = scope.ExpandText(step.WorkingDir)
		}
	} else {
		input.Workdir = execution.Workdir(ctx)
	}
	if step.Timeout != "" {
		if duration, err := step.TimeoutDuration(); err == nil {
			input.TimeoutMs = int(duration.Milliseconds())
		}
	}
	if job := execution.ContextValue[*execution.JobRun](ctx); job != nil && job.RunsOn != "" {
		input.Host = system.NewHost(job.RunsOn)
	}

	execService := s.actions.Lookup(exec.Name)
	if execService == nil {
		return nil, types.NewServiceNotFoundError(exec.Name)
	}
	method, err := execService.Method("run")
	if err != nil {
		return nil, err
	}
	return &invocation{
		token:  input.Program(),
		method: method,
		input:  input,
		output: &exec.Output{},
		args:   map[string]interface{}{"commands": input.Commands, "workdir": input.Workdir},
	}, nil
}

// resolveAction routes a uses: step to a registered action. A single-segment
// reference addresses a service with the default "run" method; otherwise the
// trailing segment is tried as a method of the prefixed service.
func (s *service) resolveAction(ctx context.Context, step *model.Step, scope *execution.Scope) (*invocation, error) {
	ref, err := reference.Parse([]byte(step.Uses))
	if err != nil {
		return nil, fmt.Errorf("invalid uses reference %v: %w", step.Uses, err)
	}
	serviceName, methodName := ref.Name, "run"
	actionService := s.actions.Lookup(ref.Name)
	if actionService == nil {
		if prefix, method, ok := ref.Split(); ok {
			if candidate := s.actions.Lookup(prefix); candidate != nil {
				actionService, serviceName, methodName = candidate, prefix, method
			}
		}
	}
	if actionService == nil {
		return nil, types.NewServiceNotFoundError(ref.Name)
	}
	method, err := actionService.Method(methodName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %v: %w", step.Uses, err)
	}
	signature := actionService.Methods().Lookup(methodName)
	if signature == nil {
		signatures := actionService.Methods()
		if len(signatures) == 0 {
			return nil, fmt.Errorf("service %v declares no methods", serviceName)
		}
		signature = &signatures[0]
	}

	with := map[string]interface{}{}
	if len(step.With) > 0 {
		expanded := interface{}(step.With)
		if scope != nil {
			if expanded, err = scope.Expand(step.With); err != nil {
				return nil, fmt.Errorf("failed to expand input of %v: %w", step.Uses, err)
			}
		}
		if asMap, ok := expanded.(map[string]interface{}); ok {
			with = asMap
		}
	}
	if ref.Version != "" {
		if _, ok := with["version"]; !ok {
			with["version"] = ref.Version
		}
	}
	if len(step.Env) > 0 {
		if _, ok := with["env"]; !ok {
			env := map[string]string{}
			for k, v := range step.Env {
				if scope != nil {
					v = scope.ExpandText(v)
				}
				env[k] = v
			}
			with["env"] = env
		}
	}

	input := newInstance(signature.Input)
	if input != nil {
		if err := s.converter.Convert(with, input); err != nil {
			return nil, fmt.Errorf("failed to convert input for %v: %w", step.Uses, err)
		}
	}
	output := newInstance(signature.Output)
	return &invocation{
		token:  serviceName + "." + methodName,
		method: method,
		input:  input,
		output: output,
		args:   with,
	}, nil
}

// gate applies the run policy to a resolved invocation. Deny mode and block
// list rejections fail immediately; ask mode consults the policy Ask function
// or blocks on the approval service until a decision arrives.
func (s *service) gate(ctx context.Context, inv *invocation, stepRun *execution.StepRun) error {
	pol := policy.FromContext(ctx)
	if pol == nil {
		if run := execution.ContextValue[*execution.Run](ctx); run != nil {
			pol = policy.FromConfig(run.Policy)
		}
	}
	if pol == nil {
		return nil
	}
	if !pol.IsAllowed(inv.token) {
		return fmt.Errorf("%w: action %v is blocked", ErrDenied, inv.token)
	}
	switch pol.Mode {
	case policy.ModeDeny:
		return fmt.Errorf("%w: policy mode is deny", ErrDenied)
	case policy.ModeAsk:
		return s.ask(ctx, pol, inv, stepRun)
	}
	return nil
}

func (s *service) ask(ctx context.Context, pol *policy.Policy, inv *invocation, stepRun *execution.StepRun) error {
	if pol.Ask != nil {
		approved := pol.Ask(ctx, inv.token, inv.args, pol)
		if stepRun != nil {
			stepRun.Approved = &approved
		}
		if !approved {
			return fmt.Errorf("%w: rejected by approver", ErrDenied)
		}
		return nil
	}
	if s.approval == nil {
		return ErrNoApprover
	}

	request := &approval.Request{Action: inv.token}
	if run := execution.ContextValue[*execution.Run](ctx); run != nil {
		request.RunID = run.ID
	}
	if job := execution.ContextValue[*execution.JobRun](ctx); job != nil {
		request.Job = job.Name
	}
	if stepRun != nil {
		request.Step = stepRun.Label()
	}
	if len(inv.args) > 0 {
		if data, err := json.Marshal(inv.args); err == nil {
			request.Args = data
		}
	}
	if err := s.approval.RequestApproval(ctx, request); err != nil {
		return err
	}

	var prior execution.State
	if stepRun != nil {
		prior = stepRun.State
		stepRun.State = execution.StateWaitForApproval
	}
	decision, err := approval.WaitForDecision(ctx, s.approval, request.ID, s.approvalTimeout)
	if stepRun != nil {
		stepRun.State = prior
	}
	if err != nil {
		return err
	}
	if stepRun != nil {
		stepRun.Approved = &decision.Approved
		stepRun.ApprovalReason = decision.Reason
	}
	if !decision.Approved {
		reason := decision.Reason
		if reason == "" {
			reason = "rejected"
		}
		return fmt.Errorf("%w: %s", ErrDenied, reason)
	}
	return nil
}

// exportSecrets publishes a revealed secret into the scope so later steps can
// reference it through ${{ secrets.* }} expressions.
func exportSecrets(scope *execution.Scope, step *model.Step, revealed *secret.RevealOutput) {
	if scope == nil || revealed == nil || !revealed.Success {
		return
	}
	secrets := map[string]interface{}{}
	if existing, ok := scope.Get("secrets"); ok {
		if asMap, ok := existing.(map[string]interface{}); ok {
			for k, v := range asMap {
				secrets[k] = v
			}
		}
	}
	for k, v := range revealed.Data {
		secrets[k] = v
	}
	if revealed.PlainText != "" {
		name := step.ID
		if name == "" {
			name = step.Name
		}
		if name != "" {
			secrets[name] = revealed.PlainText
		}
	}
	scope.Set("secrets", secrets)
}

// record captures the action output on the step run.
func (s *service) record(stepRun *execution.StepRun, output interface{}) {
	if stepRun == nil || output == nil {
		return
	}
	if execOut, ok := output.(*exec.Output); ok {
		stepRun.ExitCode = execOut.Status
	}
	if asMap := outputMap(output); len(asMap) > 0 {
		stepRun.Output = asMap
	}
}

// publish emits an executed event when an event service rides the context.
func (s *service) publish(ctx context.Context, stepRun *execution.StepRun) {
	events := execution.ContextValue[*event.Service](ctx)
	if events == nil || stepRun == nil {
		return
	}
	publisher, err := event.PublisherOf[*execution.StepRun](events)
	if err != nil {
		return
	}
	var eventContext *event.Context
	if job := execution.ContextValue[*execution.JobRun](ctx); job != nil {
		eventContext = job.StepContext("executed", stepRun)
	} else {
		eventContext = &event.Context{EventType: "executed", Step: stepRun.Label()}
	}
	if err := publisher.Publish(ctx, event.NewEvent[*execution.StepRun](eventContext, stepRun)); err != nil {
		s.logger.Warn("failed to publish step execution event", "err", err)
	}
}

// outputMap renders an action output as the loose map stored on step runs and
// exposed to ${{ steps.<id>.outputs }} expressions.
func outputMap(value interface{}) map[string]interface{} {
	data, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	ret := map[string]interface{}{}
	if err := json.Unmarshal(data, &ret); err != nil {
		return nil
	}
	return ret
}

// newInstance creates a new instance pointer of the given type.
func newInstance(t reflect.Type) interface{} {
	if t == nil {
		return nil
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return reflect.New(t).Interface()
}

// NewService creates a new executor service instance.
func NewService(actions *extension.Actions, opts ...Option) Service {
	options := conv.DefaultOptions()
	options.ClonePointerData = true
	options.IgnoreUnmapped = true
	options.AccessUnexported = true

	s := &service{
		actions:         actions,
		converter:       conv.NewConverter(options),
		approvalTimeout: 15 * time.Minute,
		logger:          log.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	return s
}
