package processor

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/modal-labs/conveyor/extension"
	"github.com/modal-labs/conveyor/model"
	"github.com/modal-labs/conveyor/model/types"
	"github.com/modal-labs/conveyor/runtime/execution"
	rundao "github.com/modal-labs/conveyor/service/dao/run/memory"
	"github.com/modal-labs/conveyor/service/executor"
	"github.com/modal-labs/conveyor/service/messaging"
	qmem "github.com/modal-labs/conveyor/service/messaging/memory"
)

// workService is a stub action whose first failures calls fail, used to
// observe ordering, fail-fast and retry behaviour.
type workInput struct {
	Label string `json:"label"`
}

type workOutput struct {
	Done bool `json:"done"`
}

type workService struct {
	name     string
	failures int
	mu       sync.Mutex
	calls    int
}

func (s *workService) Name() string { return s.name }

func (s *workService) Methods() types.Signatures {
	return []types.Signature{
		{
			Name:   "run",
			Input:  reflect.TypeOf(&workInput{}),
			Output: reflect.TypeOf(&workOutput{}),
		},
	}
}

func (s *workService) Method(name string) (types.Executable, error) {
	if name != "run" {
		return nil, types.NewMethodNotFoundError(name)
	}
	return func(ctx context.Context, in, out interface{}) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.calls++
		if s.calls <= s.failures {
			return fmt.Errorf("induced failure %d", s.calls)
		}
		out.(*workOutput).Done = true
		return nil
	}, nil
}

func (s *workService) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newProcessor(t *testing.T, services ...types.Service) (*Service, *rundao.Service, *qmem.Queue[execution.JobMessage]) {
	actions := extension.NewActions()
	for _, svc := range services {
		actions.Register(svc)
	}
	runDAO := rundao.New()
	queue := qmem.NewQueue[execution.JobMessage](qmem.DefaultConfig())
	srv, err := New(
		WithRunDAO(runDAO),
		WithQueue(queue),
		WithExecutor(executor.NewService(actions)),
		WithWorkers(1),
	)
	assert.NoError(t, err)
	return srv, runDAO, queue
}

// scheduleJob persists the run, marks the named job scheduled and returns the
// corresponding queue message, mirroring what the allocator does.
func scheduleJob(t *testing.T, runDAO *rundao.Service, queue *qmem.Queue[execution.JobMessage], run *execution.Run, job string) messaging.Message[execution.JobMessage] {
	ctx := context.Background()
	jobRun := run.Job(job)
	jobRun.Schedule()
	assert.NoError(t, runDAO.Save(ctx, run))
	assert.NoError(t, queue.Publish(ctx, execution.NewJobMessage(jobRun)))
	msg, err := queue.Consume(ctx)
	assert.NoError(t, err)
	return msg
}

func TestService_RunsStepsInOrder(t *testing.T) {
	work := &workService{name: "work"}
	srv, runDAO, queue := newProcessor(t, work)

	workflow := model.NewWorkflow("ci")
	job := workflow.NewJob("build")
	job.NewStep("first").WithUses("work")
	job.NewStep("second").WithUses("work")
	run := execution.NewRun("run-1", workflow, nil)
	msg := scheduleJob(t, runDAO, queue, run, "build")

	assert.NoError(t, srv.processMessage(context.Background(), msg))

	jobRun := run.Job("build")
	assert.EqualValues(t, execution.StateCompleted, jobRun.GetState())
	assert.NotNil(t, jobRun.StartedAt)
	assert.NotNil(t, jobRun.CompletedAt)
	for _, stepRun := range jobRun.Steps {
		assert.EqualValues(t, execution.StateCompleted, stepRun.State)
		assert.Equal(t, 1, stepRun.Attempts)
	}
	assert.Equal(t, 2, work.callCount())
}

func TestService_FailFastSkipsRemainingSteps(t *testing.T) {
	work := &workService{name: "work"}
	boom := &workService{name: "boom", failures: 100}
	srv, runDAO, queue := newProcessor(t, work, boom)

	workflow := model.NewWorkflow("ci")
	job := workflow.NewJob("build")
	job.NewStep("explode").WithUses("boom")
	job.NewStep("never").WithUses("work")
	run := execution.NewRun("run-1", workflow, nil)
	msg := scheduleJob(t, runDAO, queue, run, "build")

	assert.NoError(t, srv.processMessage(context.Background(), msg))

	jobRun := run.Job("build")
	assert.EqualValues(t, execution.StateFailed, jobRun.GetState())
	assert.EqualValues(t, execution.StateFailed, jobRun.Steps[0].State)
	assert.EqualValues(t, execution.StateSkipped, jobRun.Steps[1].State)
	assert.Contains(t, jobRun.Steps[1].SkipReason, "explode")
	assert.Equal(t, 0, work.callCount())
	assert.Contains(t, run.Errors, "build")
}

func TestService_ContinueOnErrorKeepsJobGoing(t *testing.T) {
	work := &workService{name: "work"}
	boom := &workService{name: "boom", failures: 100}
	srv, runDAO, queue := newProcessor(t, work, boom)

	workflow := model.NewWorkflow("ci")
	job := workflow.NewJob("build")
	job.NewStep("explode").WithUses("boom").WithContinueOnError(true)
	job.NewStep("after").WithUses("work")
	run := execution.NewRun("run-1", workflow, nil)
	msg := scheduleJob(t, runDAO, queue, run, "build")

	assert.NoError(t, srv.processMessage(context.Background(), msg))

	jobRun := run.Job("build")
	assert.EqualValues(t, execution.StateCompleted, jobRun.GetState())
	assert.EqualValues(t, execution.StateFailed, jobRun.Steps[0].State)
	assert.EqualValues(t, execution.StateCompleted, jobRun.Steps[1].State)
	assert.Equal(t, 1, work.callCount())
}

func TestService_RetriesFailingStep(t *testing.T) {
	flaky := &workService{name: "flaky", failures: 2}
	srv, runDAO, queue := newProcessor(t, flaky)

	workflow := model.NewWorkflow("ci")
	job := workflow.NewJob("build")
	job.NewStep("flaky step").WithUses("flaky").WithRetry(&model.Retry{Attempts: 3})
	run := execution.NewRun("run-1", workflow, nil)
	msg := scheduleJob(t, runDAO, queue, run, "build")

	assert.NoError(t, srv.processMessage(context.Background(), msg))

	jobRun := run.Job("build")
	assert.EqualValues(t, execution.StateCompleted, jobRun.GetState())
	assert.EqualValues(t, execution.StateCompleted, jobRun.Steps[0].State)
	assert.Equal(t, 3, jobRun.Steps[0].Attempts)
	assert.Equal(t, 3, flaky.callCount())
}

func TestService_EvaluatesStepConditions(t *testing.T) {
	work := &workService{name: "work"}
	boom := &workService{name: "boom", failures: 100}
	srv, runDAO, queue := newProcessor(t, work, boom)

	workflow := model.NewWorkflow("ci")
	job := workflow.NewJob("build")
	job.NewStep("explode").WithUses("boom").WithContinueOnError(true)
	job.NewStep("cleanup").WithUses("work").WithIf("${{ failure() }}")
	job.NewStep("publish").WithUses("work").WithIf("${{ success() }}")
	run := execution.NewRun("run-1", workflow, nil)
	msg := scheduleJob(t, runDAO, queue, run, "build")

	assert.NoError(t, srv.processMessage(context.Background(), msg))

	jobRun := run.Job("build")
	assert.EqualValues(t, execution.StateCompleted, jobRun.GetState())
	assert.EqualValues(t, execution.StateCompleted, jobRun.Steps[1].State)
	assert.EqualValues(t, execution.StateSkipped, jobRun.Steps[2].State)
	assert.Equal(t, "condition not met", jobRun.Steps[2].SkipReason)
	assert.Equal(t, 1, work.callCount())
}

func TestService_AcksRedeliveredTerminalJob(t *testing.T) {
	work := &workService{name: "work"}
	srv, runDAO, queue := newProcessor(t, work)

	workflow := model.NewWorkflow("ci")
	job := workflow.NewJob("build")
	job.NewStep("first").WithUses("work")
	run := execution.NewRun("run-1", workflow, nil)
	msg := scheduleJob(t, runDAO, queue, run, "build")

	ctx := context.Background()
	assert.NoError(t, srv.processMessage(ctx, msg))
	assert.Equal(t, 1, work.callCount())

	// Redeliver after the outcome was recorded; nothing may re-execute.
	assert.NoError(t, queue.Publish(ctx, execution.NewJobMessage(run.Job("build"))))
	redelivered, err := queue.Consume(ctx)
	assert.NoError(t, err)
	assert.NoError(t, srv.processMessage(ctx, redelivered))
	assert.Equal(t, 1, work.callCount())
}

func TestService_StartAndShutdown(t *testing.T) {
	work := &workService{name: "work"}
	srv, runDAO, queue := newProcessor(t, work)

	workflow := model.NewWorkflow("ci")
	job := workflow.NewJob("build")
	job.NewStep("first").WithUses("work")
	run := execution.NewRun("run-1", workflow, nil)
	ctx := context.Background()
	jobRun := run.Job("build")
	jobRun.Schedule()
	assert.NoError(t, runDAO.Save(ctx, run))
	assert.NoError(t, queue.Publish(ctx, execution.NewJobMessage(jobRun)))

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	assert.NoError(t, srv.Start(workerCtx))

	for deadline := time.Now().Add(2 * time.Second); time.Now().Before(deadline); {
		if run.AllJobsTerminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	srv.Shutdown()

	assert.EqualValues(t, execution.StateCompleted, run.Job("build").GetState())
	assert.Equal(t, 1, work.callCount())
}
