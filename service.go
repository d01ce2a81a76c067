package conveyor

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/x"

	"github.com/modal-labs/conveyor/extension"
	"github.com/modal-labs/conveyor/model/types"
	"github.com/modal-labs/conveyor/policy"
	"github.com/modal-labs/conveyor/runtime/execution"
	"github.com/modal-labs/conveyor/service/action/artifact"
	"github.com/modal-labs/conveyor/service/action/cache"
	"github.com/modal-labs/conveyor/service/action/checkout"
	"github.com/modal-labs/conveyor/service/action/nop"
	"github.com/modal-labs/conveyor/service/action/printer"
	"github.com/modal-labs/conveyor/service/action/secret"
	"github.com/modal-labs/conveyor/service/action/system/exec"
	"github.com/modal-labs/conveyor/service/action/toolchain"
	aworkflow "github.com/modal-labs/conveyor/service/action/workflow"
	"github.com/modal-labs/conveyor/service/allocator"
	"github.com/modal-labs/conveyor/service/approval"
	"github.com/modal-labs/conveyor/service/dao"
	rfs "github.com/modal-labs/conveyor/service/dao/run/fs"
	rmemory "github.com/modal-labs/conveyor/service/dao/run/memory"
	"github.com/modal-labs/conveyor/service/dao/workflow"
	"github.com/modal-labs/conveyor/service/event"
	"github.com/modal-labs/conveyor/service/executor"
	"github.com/modal-labs/conveyor/service/messaging"
	qfs "github.com/modal-labs/conveyor/service/messaging/fs"
	qmemory "github.com/modal-labs/conveyor/service/messaging/memory"
	"github.com/modal-labs/conveyor/service/meta"
	"github.com/modal-labs/conveyor/service/processor"
)

// Service is the engine facade. It wires the meta service, workflow and run
// stores, the job queue, the action registry, the executor and the
// background services into a ready Runtime.
type Service struct {
	runtime           *Runtime
	config            *Config
	metaService       *meta.Service
	actions           *extension.Actions
	extensionTypes    []*x.Type
	extensionServices []types.Service
	executor          executor.Service
	executorOptions   []executor.Option
	queue             messaging.Queue[execution.JobMessage]
	eventService      *event.Service
	approvalService   approval.Service
	policy            *policy.Policy
	metaBaseURL       string
	metaFsOptions     []storage.Option
	processorWorkers  int
	logger            *log.Logger
}

// New creates an engine service, applying options over DefaultConfig.
func New(options ...Option) *Service {
	ret := &Service{runtime: &Runtime{}}
	ret.init(options)
	return ret
}

func (s *Service) init(options []Option) {
	for _, option := range options {
		option(s)
	}
	s.ensureBaseSetup()
	s.actions = extension.NewActions(s.extensionTypes...)

	execOptions := s.executorOptions
	if s.approvalService != nil {
		execOptions = append(execOptions, executor.WithApprovalService(s.approvalService))
	}
	execOptions = append(execOptions, executor.WithLogger(s.logger))
	s.executor = executor.NewService(s.actions, execOptions...)

	s.runtime.processor, _ = processor.New(
		processor.WithExecutor(s.executor),
		processor.WithQueue(s.queue),
		processor.WithRunDAO(s.runtime.runDAO),
		processor.WithWorkers(s.processorWorkers),
		processor.WithLogger(s.logger))

	execSvc := exec.New()
	s.actions.Register(execSvc)
	s.actions.Register(checkout.New(execSvc, checkout.WithWorkspaceRoot(s.config.Workspace.Root)))
	s.actions.Register(toolchain.New(execSvc))
	s.actions.Register(cache.New(cache.WithRootURL(s.config.Cache.RootURL)))
	s.actions.Register(artifact.New(artifact.WithRootURL(s.config.Artifacts.RootURL)))
	s.actions.Register(secret.New())
	s.actions.Register(printer.New())
	s.actions.Register(nop.New())
	for _, service := range s.extensionServices {
		s.actions.Register(service)
	}
	s.runtime.workflowService = aworkflow.New(s.runtime, s.runtime.workflowDAO, s.runtime.runDAO)
	s.actions.Register(s.runtime.workflowService)

	allocatorConfig := allocator.DefaultConfig()
	if interval := s.config.Allocator.PollInterval(); interval > 0 {
		allocatorConfig.PollingInterval = interval
	}
	s.runtime.allocator = allocator.New(s.runtime.runDAO, s.queue, allocatorConfig)
	s.runtime.allocator.SetLogger(s.logger)

	s.runtime.queue = s.queue
	s.runtime.events = s.eventService
	s.runtime.actions = s.actions
	s.runtime.policy = s.policy
	s.runtime.logger = s.logger
}

func (s *Service) ensureBaseSetup() {
	if s.config == nil {
		s.config = DefaultConfig()
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.processorWorkers == 0 {
		s.processorWorkers = s.config.Processor.WorkerCount
	}
	if s.metaService == nil {
		s.metaService = meta.New(afs.New(), s.metaBaseURL, s.metaFsOptions...)
	}
	if s.runtime.workflowDAO == nil {
		s.runtime.workflowDAO = workflow.New(workflow.WithMetaService(s.metaService))
	}
	if s.queue == nil {
		s.queue = s.newQueue()
	}
	if s.runtime.runDAO == nil {
		s.runtime.runDAO = s.newRunDAO()
	}
	if s.eventService == nil {
		s.eventService = s.newEventService()
	}
	if s.policy == nil && s.config.Policy != nil {
		s.policy = policy.FromConfig(s.config.Policy)
	}
}

func (s *Service) newQueue() messaging.Queue[execution.JobMessage] {
	if s.config.Queue.Vendor == "fs" {
		config := qfs.DefaultConfig()
		if s.config.Queue.BasePath != "" {
			config.BasePath = s.config.Queue.BasePath
		}
		queue, err := qfs.NewQueue[execution.JobMessage](afs.New(), config)
		if err == nil {
			return queue
		}
		s.logger.Warn("failed to create fs job queue, falling back to memory", "err", err)
	}
	return qmemory.NewQueue[execution.JobMessage](qmemory.DefaultConfig())
}

func (s *Service) newRunDAO() dao.Service[string, execution.Run] {
	if s.config.Runs.BaseURL != "" {
		runDAO, err := rfs.New(s.config.Runs.BaseURL)
		if err == nil {
			return runDAO
		}
		s.logger.Warn("failed to create fs run store, falling back to memory", "err", err)
	}
	return rmemory.New()
}

func (s *Service) newEventService() *event.Service {
	vendor := messaging.Vendor(s.config.Events.Vendor)
	if vendor == "" {
		vendor = "memory"
	}
	events, err := event.New(vendor)
	if err != nil {
		s.logger.Warn("failed to create event service, falling back to memory queues", "err", err)
		events, _ = event.New("memory")
	}
	return events
}

// Runtime returns the engine runtime.
func (s *Service) Runtime() *Runtime {
	return s.runtime
}

// NewContext returns a context carrying the engine collaborators; contexts
// handed to StartRun or direct action invocations should be created through
// it.
func (s *Service) NewContext(ctx context.Context) context.Context {
	return s.runtime.NewContext(ctx)
}

// RegisterExtensionTypes registers Go types resolvable by name in action
// inputs after construction.
func (s *Service) RegisterExtensionTypes(types ...*x.Type) {
	for i := range types {
		s.actions.Types().Register(types[i])
	}
}

// RegisterExtensionServices registers additional action services after
// construction.
func (s *Service) RegisterExtensionServices(services ...types.Service) {
	for i := range services {
		s.actions.Register(services[i])
	}
}
