package processor

import (
	"github.com/charmbracelet/log"

	"github.com/modal-labs/conveyor/runtime/execution"
	"github.com/modal-labs/conveyor/service/dao"
	"github.com/modal-labs/conveyor/service/executor"
	"github.com/modal-labs/conveyor/service/messaging"
)

// Option customises the processor service.
type Option func(*Service)

// WithRunDAO sets the run store implementation
func WithRunDAO(runDAO dao.Service[string, execution.Run]) Option {
	return func(s *Service) {
		s.runDAO = runDAO
	}
}

// WithQueue sets the job message queue implementation
func WithQueue(queue messaging.Queue[execution.JobMessage]) Option {
	return func(s *Service) {
		s.queue = queue
	}
}

// WithExecutor sets the step executor for the service
func WithExecutor(executor executor.Service) Option {
	return func(s *Service) {
		s.executor = executor
	}
}

// WithWorkers sets the number of worker goroutines
func WithWorkers(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.config.WorkerCount = count
		}
	}
}

// WithConfig sets the configuration for the service
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}
