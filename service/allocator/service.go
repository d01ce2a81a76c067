package allocator

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/modal-labs/conveyor/progress"
	"github.com/modal-labs/conveyor/runtime/evaluator"
	"github.com/modal-labs/conveyor/runtime/execution"
	"github.com/modal-labs/conveyor/service/dao"
	"github.com/modal-labs/conveyor/service/event"
	"github.com/modal-labs/conveyor/service/messaging"
	"github.com/modal-labs/conveyor/tracing"
)

// Config represents allocator service configuration
type Config struct {
	// PollingInterval is how often the allocator checks runs for schedulable jobs
	PollingInterval time.Duration
}

// DefaultConfig returns the default allocator configuration
func DefaultConfig() Config {
	return Config{
		PollingInterval: 20 * time.Millisecond,
	}
}

// Service schedules job runs onto the job queue
type Service struct {
	config     Config
	runDAO     dao.Service[string, execution.Run]
	queue      messaging.Queue[execution.JobMessage]
	logger     *log.Logger
	shutdownCh chan struct{}
}

// New creates a new allocator service
func New(runDAO dao.Service[string, execution.Run], queue messaging.Queue[execution.JobMessage], config Config) *Service {
	return &Service{
		config:     config,
		runDAO:     runDAO,
		queue:      queue,
		logger:     log.Default(),
		shutdownCh: make(chan struct{}),
	}
}

// SetLogger overrides the default logger.
func (s *Service) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Start begins the job allocation loop
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.config.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.shutdownCh:
			return nil
		case <-ticker.C:
			if err := s.allocateJobs(ctx); err != nil {
				// Log error but continue
				s.logger.Warn("failed to allocate jobs", "err", err)
			}
		}
	}
}

// Shutdown stops the allocator service
func (s *Service) Shutdown() {
	close(s.shutdownCh)
}

// allocateJobs finds active runs and schedules their ready jobs
func (s *Service) allocateJobs(ctx context.Context) error {
	runs, err := s.runDAO.List(ctx, dao.NewParameter("State", string(execution.StatePending), string(execution.StateRunning)))
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	for _, run := range runs {
		if err := s.scheduleJobs(ctx, run); err != nil {
			// Log but continue with other runs
			s.logger.Warn("failed to schedule jobs", "run", run.ID, "err", err)
		}
	}
	return nil
}

// scheduleJobs advances a single run: pending jobs whose needs are met are
// scheduled, jobs behind failed or skipped needs are skipped, and the run is
// finalised once every job is terminal.
func (s *Service) scheduleJobs(ctx context.Context, run *execution.Run) error {
	dirty := false

	if run.GetState() == execution.StatePending {
		run.SetState(execution.StateRunning)
		s.publishRunEvent(ctx, run, "started")
		s.trackRunStart(ctx, run)
		dirty = true
	}

	for _, jobRun := range run.JobRuns() {
		if jobRun.GetState() != execution.StatePending {
			continue
		}
		ready, blockReason := s.needsStatus(run, jobRun)
		if blockReason != "" {
			jobRun.Skip(blockReason)
			s.publishJobEvent(ctx, jobRun, "skipped")
			progress.UpdateCtx(ctx, progress.Delta{
				PendingJobs:  -1,
				SkippedJobs:  1,
				SkippedSteps: len(jobRun.Steps),
			})
			dirty = true
			continue
		}
		if !ready {
			continue
		}

		if job := run.Workflow.Job(jobRun.Name); job != nil && job.If != "" {
			scope := execution.NewScope(run, jobRun)
			scope.RegisterFuncs(conditionFuncs(run, jobRun))
			if !scope.EvaluateBool(job.If) {
				jobRun.Skip("condition not met")
				s.publishJobEvent(ctx, jobRun, "skipped")
				progress.UpdateCtx(ctx, progress.Delta{
					PendingJobs:  -1,
					SkippedJobs:  1,
					SkippedSteps: len(jobRun.Steps),
				})
				dirty = true
				continue
			}
		}

		jobRun.Schedule()
		dirty = true
		progress.UpdateCtx(ctx, progress.Delta{PendingJobs: -1})
		if err := s.publishJobRun(ctx, jobRun); err != nil {
			return fmt.Errorf("failed to publish job %v: %w", jobRun.Name, err)
		}
	}

	if run.AllJobsTerminal() && !run.GetState().IsTerminal() {
		s.finalizeRun(ctx, run)
		dirty = true
	}

	if dirty {
		return s.runDAO.Save(ctx, run)
	}
	return nil
}

// needsStatus inspects the declared needs of a job run. It returns ready=true
// when every dependency succeeded and a non-empty blockReason when a
// dependency terminally prevents the job from ever running.
func (s *Service) needsStatus(run *execution.Run, jobRun *execution.JobRun) (ready bool, blockReason string) {
	for _, need := range jobRun.Needs {
		needed := run.Job(need)
		if needed == nil {
			return false, fmt.Sprintf("dependency %v not found", need)
		}
		state := needed.GetState()
		jobRun.SetNeed(need, state)
		switch state {
		case execution.StateCompleted:
		case execution.StateFailed:
			// A failed continue-on-error dependency does not block dependents.
			if job := run.Workflow.Job(need); job != nil && job.ContinueOnError {
				continue
			}
			return false, fmt.Sprintf("dependency %v failed", need)
		case execution.StateSkipped:
			return false, fmt.Sprintf("dependency %v was skipped", need)
		default:
			return false, ""
		}
	}
	return true, ""
}

// conditionFuncs builds the job-level expression functions. success() and
// failure() report on the job's dependencies; always() is unconditionally
// true.
func conditionFuncs(run *execution.Run, jobRun *execution.JobRun) evaluator.Funcs {
	failed := false
	for _, need := range jobRun.Needs {
		if needed := run.Job(need); needed != nil && needed.GetState() == execution.StateFailed {
			failed = true
			break
		}
	}
	return evaluator.Funcs{
		"success": func(args ...interface{}) (interface{}, error) { return !failed, nil },
		"failure": func(args ...interface{}) (interface{}, error) { return failed, nil },
		"always":  func(args ...interface{}) (interface{}, error) { return true, nil },
	}
}

// finalizeRun records the terminal state of a run whose jobs all finished.
func (s *Service) finalizeRun(ctx context.Context, run *execution.Run) {
	var endErr error
	eventType := "completed"
	if run.Failed() {
		for _, jobRun := range run.JobRuns() {
			if jobRun.GetState() == execution.StateFailed && jobRun.Error != "" {
				run.RecordError(jobRun.Name, jobRun.Error)
			}
		}
		run.SetState(execution.StateFailed)
		eventType = "failed"
		endErr = fmt.Errorf("run %v failed", run.ID)
	} else {
		run.SetState(execution.StateCompleted)
	}
	if run.Span != nil {
		tracing.EndSpan(run.Span, endErr)
		run.Span = nil
	}
	s.publishRunEvent(ctx, run, eventType)
}

// trackRunStart seeds the progress counters with the run totals.
func (s *Service) trackRunStart(ctx context.Context, run *execution.Run) {
	jobRuns := run.JobRuns()
	delta := progress.Delta{
		TotalJobs:   len(jobRuns),
		PendingJobs: len(jobRuns),
	}
	for _, jobRun := range jobRuns {
		delta.TotalSteps += len(jobRun.Steps)
	}
	progress.UpdateCtx(ctx, delta)
}

// publishJobRun emits a scheduled event and hands the job run to the queue.
func (s *Service) publishJobRun(ctx context.Context, jobRun *execution.JobRun) error {
	s.publishJobEvent(ctx, jobRun, "scheduled")
	return s.queue.Publish(ctx, execution.NewJobMessage(jobRun))
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

func (s *Service) publishRunEvent(ctx context.Context, run *execution.Run, eventType string) {
	events := execution.ContextValue[*event.Service](ctx)
	if events == nil {
		return
	}
	publisher, err := event.PublisherOf[*execution.Run](events)
	if err != nil {
		return
	}
	anEvent := event.NewEvent[*execution.Run](&event.Context{EventType: eventType, RunID: run.ID}, run)
	if err = publisher.Publish(ctx, anEvent); err != nil {
		s.logger.Warn("failed to publish run event", "err", err)
	}
}
