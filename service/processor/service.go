package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/modal-labs/conveyor/model"
	"github.com/modal-labs/conveyor/progress"
	"github.com/modal-labs/conveyor/runtime/evaluator"
	"github.com/modal-labs/conveyor/runtime/execution"
	"github.com/modal-labs/conveyor/service/action/cache"
	"github.com/modal-labs/conveyor/service/dao"
	"github.com/modal-labs/conveyor/service/event"
	"github.com/modal-labs/conveyor/service/executor"
	"github.com/modal-labs/conveyor/service/messaging"
	"github.com/modal-labs/conveyor/tracing"
)

// Config represents processor service configuration
type Config struct {
	// WorkerCount is the number of workers executing job runs
	WorkerCount int
}

// DefaultConfig returns the default processor configuration
func DefaultConfig() Config {
	return Config{
		WorkerCount: 5,
	}
}

// Service runs scheduled job runs to a terminal state.
type Service struct {
	config   Config
	runDAO   dao.Service[string, execution.Run]
	queue    messaging.Queue[execution.JobMessage]
	executor executor.Service
	logger   *log.Logger

	workers  []*worker
	workerWg sync.WaitGroup
}

type worker struct {
	id       int
	service  *Service
	ctx      context.Context
	cancelFn context.CancelFunc
}

// jobWork carries the state a worker threads through one job run. The worker
// mutates the jobRun clone and merges it back into the stored instance on
// every save so that concurrent readers never observe a half-updated job.
type jobWork struct {
	run    *execution.Run
	stored *execution.JobRun
	jobRun *execution.JobRun
	job    *model.Job
	scope  *execution.Scope
}

// New creates a new processor service
func New(options ...Option) (*Service, error) {
	s := &Service{
		config: DefaultConfig(),
		logger: log.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if s.queue == nil {
		return nil, fmt.Errorf("message queue is required")
	}
	if s.runDAO == nil {
		return nil, fmt.Errorf("run store is required")
	}
	return s, nil
}

// Start launches the worker pool
func (s *Service) Start(ctx context.Context) error {
	for i := 0; i < s.config.WorkerCount; i++ {
		workerCtx, cancel := context.WithCancel(ctx)
		worker := &worker{
			id:       i,
			service:  s,
			ctx:      workerCtx,
			cancelFn: cancel,
		}
		s.workers = append(s.workers, worker)
		s.workerWg.Add(1)
		go worker.run()
	}
	return nil
}

// Shutdown stops the workers and waits for in-flight jobs to drain.
func (s *Service) Shutdown() {
	for _, worker := range s.workers {
		worker.cancelFn()
	}
	s.workerWg.Wait()
}

// run consumes job messages until the worker context is cancelled.
func (w *worker) run() {
	defer w.service.workerWg.Done()

	for {
		msg, err := w.service.queue.Consume(w.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			// Transient queue trouble; back off a bit.
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if msg == nil {
			continue
		}
		if err := w.service.processMessage(w.ctx, msg); err != nil {
			w.service.logger.Warn("failed to process job message", "worker", w.id, "err", err)
		}
	}
}

// processMessage handles a single scheduled job message. The message carries
// coordinates only; the run record is loaded fresh so redeliveries observe
// the latest recorded state. Errors are returned for infrastructural trouble
// only - a failing job is a recorded outcome, not a processing error.
func (s *Service) processMessage(ctx context.Context, message messaging.Message[execution.JobMessage]) error {
	msg := message.T()
	run, err := s.runDAO.Load(ctx, msg.RunID)
	if err != nil {
		return message.Nack(fmt.Errorf("failed to load run %v: %w", msg.RunID, err))
	}
	if run == nil {
		return message.Nack(fmt.Errorf("run %v not found", msg.RunID))
	}
	stored := run.Job(msg.Job)
	if stored == nil {
		return message.Nack(fmt.Errorf("run %v has no job %v", msg.RunID, msg.Job))
	}
	if stored.GetState().IsTerminal() {
		// Duplicate delivery; the outcome is already recorded.
		return message.Ack()
	}
	if err := s.processJob(ctx, run, stored); err != nil {
		return message.Nack(err)
	}
	return message.Ack()
}

// processJob drives one job run to a terminal state, executing its steps
// strictly in order.
func (s *Service) processJob(ctx context.Context, run *execution.Run, stored *execution.JobRun) error {
	w := &jobWork{run: run, stored: stored, jobRun: stored.Clone()}
	if run.Workflow != nil {
		w.job = run.Workflow.Job(w.jobRun.Name)
	}
	if w.job == nil {
		w.jobRun.Fail(fmt.Errorf("job %v is not declared by workflow %v", w.jobRun.Name, run.Name))
		s.publishJobEvent(ctx, w.jobRun, "failed")
		return s.save(ctx, w)
	}

	if run.Span != nil {
		ctx = tracing.WithSpan(ctx, run.Span)
	}
	ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("job.run %s", w.jobRun.Name), "INTERNAL")
	span.WithAttributes(map[string]string{"run.id": run.ID, "job.name": w.jobRun.Name})

	w.jobRun.Start()
	progress.UpdateCtx(ctx, progress.Delta{RunningJobs: 1})
	s.publishJobEvent(ctx, w.jobRun, "started")
	if err := s.save(ctx, w); err != nil {
		tracing.EndSpan(span, err)
		return err
	}

	jobCtx := context.WithValue(ctx, execution.RunKey, run)
	jobCtx = context.WithValue(jobCtx, execution.JobKey, w.jobRun)
	w.scope = execution.NewScope(run, w.jobRun)
	w.scope.RegisterFuncs(s.scopeFuncs(jobCtx, w.jobRun))

	jobErr, err := s.runSteps(jobCtx, w)
	if err != nil {
		tracing.EndSpan(span, err)
		return err
	}

	if jobErr != nil {
		w.jobRun.Fail(jobErr)
		run.RecordError(w.jobRun.Name, jobErr.Error())
		progress.UpdateCtx(ctx, progress.Delta{RunningJobs: -1, FailedJobs: 1})
		s.publishJobEvent(ctx, w.jobRun, "failed")
	} else {
		w.jobRun.Complete()
		progress.UpdateCtx(ctx, progress.Delta{RunningJobs: -1, CompletedJobs: 1})
		s.publishJobEvent(ctx, w.jobRun, "completed")
	}
	tracing.EndSpan(span, jobErr)
	return s.save(ctx, w)
}

// runSteps executes the job's declared steps in order. A step failure skips
// every remaining step and fails the job unless the step declares
// continue-on-error. The returned jobErr is the failure that fails the job;
// err reports save trouble that aborts processing so the message is retried.
func (s *Service) runSteps(ctx context.Context, w *jobWork) (jobErr error, err error) {
	for i, step := range w.job.Steps {
		stepRun := w.jobRun.Step(i)
		if stepRun == nil {
			continue
		}
		if stepRun.State.IsTerminal() {
			// Redelivered job; keep recorded outcomes, resume fail-fast.
			if stepRun.State == execution.StateFailed && !step.ContinueOnError {
				jobErr = fmt.Errorf("step %v failed", stepRun.Label())
				if stepRun.Error != "" {
					jobErr = errors.New(stepRun.Error)
				}
				w.jobRun.SkipRemainingSteps(i, fmt.Sprintf("step %v failed", stepRun.Label()))
				break
			}
			continue
		}
		if step.If != "" && !w.scope.EvaluateBool(step.If) {
			stepRun.Skip("condition not met")
			progress.UpdateCtx(ctx, progress.Delta{SkippedSteps: 1})
			s.publishStepEvent(ctx, w.jobRun, stepRun, "skipped")
			w.scope.SetStep(stepRun)
			continue
		}

		stepErr, saveErr := s.runStep(ctx, w, step, stepRun)
		if saveErr != nil {
			return nil, saveErr
		}
		w.scope.SetStep(stepRun)
		if stepErr == nil {
			continue
		}
		if step.ContinueOnError {
			s.logger.Warn("step failed, continuing",
				"run", w.run.ID, "job", w.jobRun.Name, "step", stepRun.Label(), "err", stepErr)
			continue
		}
		jobErr = stepErr
		w.jobRun.SkipRemainingSteps(i, fmt.Sprintf("step %v failed", stepRun.Label()))
		if skipped := len(w.jobRun.Steps) - i - 1; skipped > 0 {
			progress.UpdateCtx(ctx, progress.Delta{SkippedSteps: skipped})
		}
		break
	}
	return jobErr, nil
}

// runStep executes a single step attempt cycle, recording lifecycle state
// around the executor invocation. The run is saved on entry and on the
// terminal transition so the recorded state survives a worker crash.
func (s *Service) runStep(ctx context.Context, w *jobWork, step *model.Step, stepRun *execution.StepRun) (stepErr error, saveErr error) {
	stepRun.Start()
	progress.UpdateCtx(ctx, progress.Delta{RunningSteps: 1})
	s.publishStepEvent(ctx, w.jobRun, stepRun, "started")
	if saveErr = s.save(ctx, w); saveErr != nil {
		return nil, saveErr
	}

	stepCtx := context.WithValue(ctx, execution.StepKey, stepRun)
	stepCtx, span := tracing.StartSpan(stepCtx, fmt.Sprintf("step.run %s", stepRun.Label()), "INTERNAL")
	span.WithAttributes(map[string]string{
		"run.id":   w.run.ID,
		"job.name": w.jobRun.Name,
		"step":     stepRun.Label(),
	})
	stepErr = s.attempt(stepCtx, step, stepRun, w.scope)
	tracing.EndSpan(span, stepErr)

	if stepErr != nil {
		stepRun.Fail(stepErr)
		progress.UpdateCtx(ctx, progress.Delta{RunningSteps: -1, FailedSteps: 1})
		s.publishStepEvent(ctx, w.jobRun, stepRun, "failed")
	} else {
		stepRun.Complete()
		progress.UpdateCtx(ctx, progress.Delta{RunningSteps: -1, CompletedSteps: 1})
		s.publishStepEvent(ctx, w.jobRun, stepRun, "completed")
	}
	return stepErr, s.save(ctx, w)
}

// attempt invokes the step through its retry policy, bounding every attempt
// with the declared timeout. A policy denial is final and never retried.
func (s *Service) attempt(ctx context.Context, step *model.Step, stepRun *execution.StepRun, scope *execution.Scope) error {
	timeout, err := step.TimeoutDuration()
	if err != nil {
		return fmt.Errorf("invalid timeout %v: %w", step.Timeout, err)
	}
	policy, err := step.Retry.Policy(stepRun.Label())
	if err != nil {
		return fmt.Errorf("invalid retry policy: %w", err)
	}
	var denied error
	err = policy.WithLogger(s.logger).Do(ctx, func(ctx context.Context) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		stepRun.Attempts++
		invokeErr := s.executor.Execute(ctx, step, stepRun, scope)
		if invokeErr != nil && errors.Is(invokeErr, executor.ErrDenied) {
			denied = invokeErr
			return nil
		}
		return invokeErr
	})
	if denied != nil {
		return denied
	}
	return err
}

// scopeFuncs builds the step-level expression functions. success() and
// failure() report on the steps of this job executed so far, counting
// failures tolerated by continue-on-error. hashFiles() resolves the working
// copy lazily so it observes the checkout step output.
func (s *Service) scopeFuncs(ctx context.Context, jobRun *execution.JobRun) evaluator.Funcs {
	anyFailed := func() bool {
		for _, step := range jobRun.Steps {
			if step.State == execution.StateFailed {
				return true
			}
		}
		return false
	}
	return evaluator.Funcs{
		"success": func(args ...interface{}) (interface{}, error) { return !anyFailed(), nil },
		"failure": func(args ...interface{}) (interface{}, error) { return anyFailed(), nil },
		"always":  func(args ...interface{}) (interface{}, error) { return true, nil },
		"hashFiles": func(args ...interface{}) (interface{}, error) {
			return cache.HashFilesFunc(execution.Workdir(ctx))(args...)
		},
	}
}

// save merges the worker-side clone into the stored job run and persists the
// whole run aggregate.
func (s *Service) save(ctx context.Context, w *jobWork) error {
	w.stored.Merge(w.jobRun)
	if err := s.runDAO.Save(ctx, w.run); err != nil {
		return fmt.Errorf("failed to save run %v: %w", w.run.ID, err)
	}
	return nil
}

func (s *Service) publishJobEvent(ctx context.Context, jobRun *execution.JobRun, eventType string) {
	events := execution.ContextValue[*event.Service](ctx)
	if events == nil {
		return
	}
	publisher, err := event.PublisherOf[*execution.JobRun](events)
	if err != nil {
		return
	}
	anEvent := event.NewEvent[*execution.JobRun](jobRun.Context(eventType), jobRun)
	if err = publisher.Publish(ctx, anEvent); err != nil {
		s.logger.Warn("failed to publish job run event", "err", err)
	}
}

func (s *Service) publishStepEvent(ctx context.Context, jobRun *execution.JobRun, stepRun *execution.StepRun, eventType string) {
	events := execution.ContextValue[*event.Service](ctx)
	if events == nil {
		return
	}
	publisher, err := event.PublisherOf[*execution.StepRun](events)
	if err != nil {
		return
	}
	anEvent := event.NewEvent[*execution.StepRun](jobRun.StepContext(eventType, stepRun), stepRun)
	if err = publisher.Publish(ctx, anEvent); err != nil {
		s.logger.Warn("failed to publish step run event", "err", err)
	}
}
