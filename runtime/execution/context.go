package execution

import (
	"context"
	"reflect"

	"github.com/modal-labs/conveyor/extension"
	"github.com/modal-labs/conveyor/service/event"
)

// Context represents the execution context flowing through job workers and
// action invocations.
type Context struct {
	run     *Run
	job     *JobRun
	step    *StepRun
	actions *extension.Actions
	events  *event.Service
	context.Context
}

var RunKey = KeyOf[*Run]()
var JobKey = KeyOf[*JobRun]()
var StepKey = KeyOf[*StepRun]()
var actionsKey = KeyOf[*extension.Actions]()
var EventKey = KeyOf[*event.Service]()
var ContextKey = KeyOf[*Context]()

// ExecutionContext returns a context bound to the provided run, job and step.
func (c *Context) ExecutionContext(run *Run, job *JobRun, step *StepRun) *Context {
	clone := *c
	clone.run = run
	clone.job = job
	clone.step = step
	return &clone
}

func (c *Context) Value(key any) any {
	switch key {
	case RunKey:
		return c.run
	case JobKey:
		return c.job
	case StepKey:
		return c.step
	case actionsKey:
		return c.actions
	case EventKey:
		return c.events
	case ContextKey:
		return c
	}
	return c.Context.Value(key)
}

// ContextValue returns the value of the provided type from the context
func ContextValue[T any](ctx context.Context) T {
	key := KeyOf[T]()
	if value := ctx.Value(key); value != nil {
		return value.(T)
	}
	var t T
	return t
}

// KeyOf returns the reflect.Type of the provided type
func KeyOf[T any]() reflect.Type {
	var a T
	return reflect.TypeOf(a)
}

func NewContext(ctx context.Context, actions *extension.Actions, service *event.Service) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{
		Context: ctx,
		actions: actions,
		events:  service,
	}
}
