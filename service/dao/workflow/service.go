package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/modal-labs/conveyor/internal/yml"
	"github.com/modal-labs/conveyor/model"
	"github.com/modal-labs/conveyor/service/dao/workflow/reference"
	"github.com/modal-labs/conveyor/service/meta"
	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// Service loads and parses workflow documents. Parsed workflows are cached
// by location; Refresh and Upsert support hot-swapping definitions without
// restarting the engine.
type Service struct {
	metaService *meta.Service
	cache       map[string]*model.Workflow
	mux         sync.RWMutex
}

// DecodeYAML decodes a workflow from YAML
func (s *Service) DecodeYAML(encoded []byte) (*model.Workflow, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(encoded, &node); err != nil {
		return nil, err
	}
	return s.ParseWorkflow("", &node)
}

// Load loads a workflow from YAML at the specified URL
func (s *Service) Load(ctx context.Context, URL string) (*model.Workflow, error) {
	URL = normalizeLocation(URL)

	s.mux.RLock()
	cached, ok := s.cache[URL]
	s.mux.RUnlock()
	if ok {
		return cached, nil
	}

	var node yaml.Node
	if err := s.metaService.Load(ctx, URL, &node); err != nil {
		return nil, fmt.Errorf("failed to load workflow from %s: %w", URL, err)
	}
	workflow, err := s.ParseWorkflow(URL, &node)
	if err != nil {
		return nil, err
	}

	s.mux.Lock()
	s.cache[URL] = workflow
	s.mux.Unlock()
	return workflow, nil
}

// Refresh discards the cached workflow for a location so that the next Load
// re-reads the underlying document.
func (s *Service) Refresh(location string) {
	s.mux.Lock()
	delete(s.cache, normalizeLocation(location))
	s.mux.Unlock()
}

// Upsert stores a parsed workflow in the cache under the given location.
func (s *Service) Upsert(location string, workflow *model.Workflow) {
	if workflow == nil {
		return
	}
	s.mux.Lock()
	s.cache[normalizeLocation(location)] = workflow
	s.mux.Unlock()
}

// Definitions returns every cached workflow definition.
func (s *Service) Definitions() []*model.Workflow {
	s.mux.RLock()
	defer s.mux.RUnlock()
	ret := make([]*model.Workflow, 0, len(s.cache))
	for _, workflow := range s.cache {
		ret = append(ret, workflow)
	}
	return ret
}

// ParseWorkflow converts a YAML document node into a workflow model.
func (s *Service) ParseWorkflow(URL string, node *yaml.Node) (*model.Workflow, error) {
	workflow := &model.Workflow{
		Source: &model.Source{
			URL: URL,
		},
		Name: getWorkflowNameFromURL(URL),
	}

	if err := s.parseWorkflow((*yml.Node)(node), workflow); err != nil {
		return nil, fmt.Errorf("failed to parse workflow from %s: %w", URL, err)
	}

	if workflow.Name == "" {
		workflow.Name = generateAnonymousName()
	}

	if issues := workflow.Validate(); len(issues) > 0 {
		return nil, issues[0]
	}
	return workflow, nil
}

// parseWorkflow converts a YAML node to the workflow model
func (s *Service) parseWorkflow(node *yml.Node, workflow *model.Workflow) error {
	rootNode := node
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		rootNode = (*yml.Node)(node.Content[0])
	}
	return rootNode.Pairs(func(key string, valueNode *yml.Node) error {
		switch strings.ToLower(key) {
		case "name":
			if valueNode.Kind == yaml.ScalarNode {
				workflow.Name = valueNode.Value
			}
		case "description":
			if valueNode.Kind == yaml.ScalarNode {
				workflow.Description = valueNode.Value
			}
		// YAML 1.1 parsers resolve a bare `on` key as boolean true
		case "on", "true":
			trigger, err := parseTrigger(valueNode)
			if err != nil {
				return fmt.Errorf("failed to parse trigger: %w", err)
			}
			workflow.On = trigger
		case "env":
			env, err := parseEnv(valueNode)
			if err != nil {
				return fmt.Errorf("failed to parse workflow env: %w", err)
			}
			workflow.Env = env
		case "jobs":
			if valueNode.Kind != yaml.MappingNode {
				return fmt.Errorf("jobs should be a mapping")
			}
			workflow.Jobs = make(map[string]*model.Job)
			if err := valueNode.Pairs(func(jobName string, jobNode *yml.Node) error {
				job, err := s.parseJob(jobName, jobNode)
				if err != nil {
					return err
				}
				workflow.Jobs[jobName] = job
				workflow.JobOrder = append(workflow.JobOrder, jobName)
				return nil
			}); err != nil {
				return fmt.Errorf("failed to parse jobs: %w", err)
			}
		}
		return nil
	})
}

// parseTrigger accepts the three GitHub-style trigger notations: a bare
// event name, a sequence of event names, or a mapping with per-event
// filters.
func parseTrigger(node *yml.Node) (*model.Trigger, error) {
	trigger := &model.Trigger{}
	switch node.Kind {
	case yaml.ScalarNode:
		if err := setTriggerEvent(trigger, node.Value, nil); err != nil {
			return nil, err
		}
	case yaml.SequenceNode:
		for _, kind := range node.Strings() {
			if err := setTriggerEvent(trigger, kind, nil); err != nil {
				return nil, err
			}
		}
	case yaml.MappingNode:
		if err := node.Pairs(func(kind string, valueNode *yml.Node) error {
			return setTriggerEvent(trigger, kind, valueNode)
		}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("on should be a string, sequence or mapping")
	}
	return trigger, nil
}

func setTriggerEvent(trigger *model.Trigger, kind string, node *yml.Node) error {
	switch strings.ToLower(kind) {
	case "push":
		push := &model.PushTrigger{}
		if node != nil && node.Kind == yaml.MappingNode {
			if err := node.Pairs(func(key string, valueNode *yml.Node) error {
				switch strings.ToLower(key) {
				case "branches":
					push.Branches = valueNode.Strings()
				case "tags":
					push.Tags = valueNode.Strings()
				}
				return nil
			}); err != nil {
				return err
			}
		}
		trigger.Push = push
	default:
		return fmt.Errorf("unsupported trigger event: %s", kind)
	}
	return nil
}

// parseJob converts a YAML node to a job model
func (s *Service) parseJob(name string, node *yml.Node) (*model.Job, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("job %s should be a mapping", name)
	}

	job := &model.Job{Name: name}
	err := node.Pairs(func(key string, valueNode *yml.Node) error {
		switch strings.ToLower(key) {
		case "runs-on":
			job.RunsOn = valueNode.Text()
		case "needs":
			switch valueNode.Kind {
			case yaml.ScalarNode, yaml.SequenceNode:
				job.Needs = valueNode.Strings()
			default:
				return fmt.Errorf("job %s needs should be a string or a sequence", name)
			}
		case "if":
			job.If = valueNode.Text()
		case "env":
			env, err := parseEnv(valueNode)
			if err != nil {
				return fmt.Errorf("job %s: %w", name, err)
			}
			job.Env = env
		case "continue-on-error":
			flag, ok := valueNode.Interface().(bool)
			if !ok {
				return fmt.Errorf("job %s continue-on-error should be a boolean", name)
			}
			job.ContinueOnError = flag
		case "steps":
			if valueNode.Kind != yaml.SequenceNode {
				return fmt.Errorf("job %s steps should be a sequence", name)
			}
			return valueNode.Items(func(index int, stepNode *yml.Node) error {
				step, err := parseStep(stepNode)
				if err != nil {
					return fmt.Errorf("job %s step %d: %w", name, index+1, err)
				}
				job.Steps = append(job.Steps, step)
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// parseStep converts a YAML node to a step model
func parseStep(node *yml.Node) (*model.Step, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("step should be a mapping")
	}

	step := &model.Step{}
	err := node.Pairs(func(key string, valueNode *yml.Node) error {
		switch strings.ToLower(key) {
		case "id":
			step.ID = valueNode.Text()
		case "name":
			step.Name = valueNode.Text()
		case "uses":
			uses := valueNode.Text()
			if _, err := reference.Parse([]byte(uses)); err != nil {
				return fmt.Errorf("invalid uses %q: %w", uses, err)
			}
			step.Uses = uses
		case "run":
			step.Run = valueNode.Text()
		case "with":
			value, ok := valueNode.Interface().(map[string]interface{})
			if !ok {
				return fmt.Errorf("with should be a mapping")
			}
			step.With = value
		case "env":
			env, err := parseEnv(valueNode)
			if err != nil {
				return err
			}
			step.Env = env
		case "shell":
			step.Shell = valueNode.Text()
		case "working-directory":
			step.WorkingDir = valueNode.Text()
		case "if":
			step.If = valueNode.Text()
		case "timeout":
			step.Timeout = valueNode.Text()
		case "timeout-minutes":
			minutes, ok := valueNode.Interface().(int)
			if !ok {
				return fmt.Errorf("timeout-minutes should be an integer")
			}
			step.Timeout = fmt.Sprintf("%dm", minutes)
		case "continue-on-error":
			flag, ok := valueNode.Interface().(bool)
			if !ok {
				return fmt.Errorf("continue-on-error should be a boolean")
			}
			step.ContinueOnError = flag
		case "retry":
			retry, err := parseRetry(valueNode)
			if err != nil {
				return err
			}
			step.Retry = retry
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

// parseRetry converts a YAML node to a retry declaration
func parseRetry(node *yml.Node) (*model.Retry, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("retry should be a mapping")
	}

	retry := &model.Retry{}
	err := node.Pairs(func(key string, valueNode *yml.Node) error {
		switch strings.ToLower(key) {
		case "attempts":
			attempts, ok := valueNode.Interface().(int)
			if !ok {
				return fmt.Errorf("retry attempts should be an integer")
			}
			retry.Attempts = attempts
		case "delay":
			retry.Delay = valueNode.Text()
		case "factor":
			switch actual := valueNode.Interface().(type) {
			case float64:
				retry.Factor = actual
			case int:
				retry.Factor = float64(actual)
			default:
				return fmt.Errorf("retry factor should be a number")
			}
		case "jitter":
			flag, ok := valueNode.Interface().(bool)
			if !ok {
				return fmt.Errorf("retry jitter should be a boolean")
			}
			retry.Jitter = flag
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return retry, nil
}

// parseEnv converts a mapping of scalars into environment variables
func parseEnv(node *yml.Node) (map[string]string, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("env should be a mapping")
	}
	env := make(map[string]string)
	err := node.Pairs(func(key string, valueNode *yml.Node) error {
		if valueNode.Kind != yaml.ScalarNode {
			return fmt.Errorf("env %s should be a scalar", key)
		}
		env[key] = valueNode.Value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// normalizeLocation defaults the extension so that bare workflow names
// resolve to .yaml documents.
func normalizeLocation(location string) string {
	if filepath.Ext(location) == "" {
		location += ".yaml"
	}
	return location
}

// New creates a new workflow service instance
func New(opts ...Option) *Service {
	ret := &Service{
		metaService: meta.New(afs.New(), ""),
		cache:       make(map[string]*model.Workflow),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}
