package conveyor

import (
	"github.com/charmbracelet/log"
	"github.com/viant/afs/storage"
	"github.com/viant/x"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/modal-labs/conveyor/model/types"
	"github.com/modal-labs/conveyor/policy"
	"github.com/modal-labs/conveyor/runtime/execution"
	"github.com/modal-labs/conveyor/service/approval"
	"github.com/modal-labs/conveyor/service/dao"
	"github.com/modal-labs/conveyor/service/event"
	"github.com/modal-labs/conveyor/service/executor"
	"github.com/modal-labs/conveyor/service/messaging"
	"github.com/modal-labs/conveyor/service/meta"
	"github.com/modal-labs/conveyor/tracing"
)

// Option customises the engine service.
type Option func(s *Service)

// WithConfig replaces the default engine configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		if config != nil {
			s.config = config
		}
	}
}

// WithApprovalService sets the approval service consulted by ask-mode
// policies.
func WithApprovalService(svc approval.Service) Option {
	return func(s *Service) { s.approvalService = svc }
}

// WithEventService overrides the queue-backed event service publishing run,
// job and step lifecycle events.
func WithEventService(service *event.Service) Option {
	return func(s *Service) {
		s.eventService = service
	}
}

// WithMetaService sets the meta service used to load workflow documents and
// configuration assets.
func WithMetaService(service *meta.Service) Option {
	return func(s *Service) {
		s.metaService = service
	}
}

// WithExtensionTypes registers Go types resolvable by name in action inputs.
func WithExtensionTypes(types ...*x.Type) Option {
	return func(s *Service) {
		s.extensionTypes = types
	}
}

// WithExtensionServices registers additional action services alongside the
// built-in ones.
func WithExtensionServices(services ...types.Service) Option {
	return func(s *Service) {
		s.extensionServices = services
	}
}

// WithQueue sets the job queue shared by the allocator and the processor.
func WithQueue(queue messaging.Queue[execution.JobMessage]) Option {
	return func(s *Service) {
		s.queue = queue
	}
}

// WithRunDAO sets the run store.
func WithRunDAO(svc dao.Service[string, execution.Run]) Option {
	return func(s *Service) {
		s.runtime.runDAO = svc
	}
}

// WithPolicy sets the command policy applied to runs started through the
// runtime. Unlike Config.Policy it may carry an Ask callback.
func WithPolicy(p *policy.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithLogger replaces the default logger used across engine services.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProcessorWorkers sets the job worker count, overriding the configured
// value.
func WithProcessorWorkers(count int) Option {
	return func(s *Service) {
		s.processorWorkers = count
	}
}

// WithExecutorOptions lets the caller supply additional options passed to
// executor.NewService (e.g. executor.WithListener to observe step I/O).
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(s *Service) {
		s.executorOptions = append(s.executorOptions, opts...)
	}
}

// WithMetaBaseURL sets the base URL workflow locations resolve against.
func WithMetaBaseURL(url string) Option {
	return func(s *Service) {
		s.metaBaseURL = url
	}
}

// WithMetaFsOptions sets file system options for the meta service, for
// example an embed.FS handle.
func WithMetaFsOptions(options ...storage.Option) Option {
	return func(s *Service) {
		s.metaFsOptions = options
	}
}

// WithTracing configures OpenTelemetry tracing for the engine. If outputFile
// is empty the stdout exporter is used; otherwise spans are written to the
// supplied file path. Safe to call multiple times; the first successful
// initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom
// SpanExporter, enabling exporters other than the built-in stdout one, for
// example OTLP. Safe to call multiple times; the first successful
// initialisation wins.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
