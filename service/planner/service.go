// Package planner derives the execution order of workflow jobs from their
// needs declarations.
package planner

import (
	"errors"
	"fmt"

	"github.com/dominikbraun/graph"

	"github.com/modal-labs/conveyor/model"
)

// Plan describes the order in which jobs become eligible to run. Jobs within
// a stage have no dependencies on each other and may run in parallel; a stage
// only starts once every job in the previous stages finished.
type Plan struct {
	Workflow string     `json:"workflow"`
	Stages   [][]string `json:"stages"`
}

// Service builds execution plans from workflow job graphs
type Service struct{}

// New creates a new planner service
func New() *Service {
	return &Service{}
}

// Plan builds the job dependency graph and returns its topological stages.
// Jobs inside each stage keep workflow declaration order.
func (s *Service) Plan(workflow *model.Workflow) (*Plan, error) {
	if workflow == nil || len(workflow.Jobs) == 0 {
		return nil, fmt.Errorf("workflow has no jobs")
	}

	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	jobs := workflow.AllJobs()
	for _, job := range jobs {
		if err := g.AddVertex(job.Name); err != nil {
			return nil, fmt.Errorf("failed to add job %s: %w", job.Name, err)
		}
	}
	for _, job := range jobs {
		for _, need := range job.Needs {
			err := g.AddEdge(need, job.Name)
			switch {
			case err == nil:
			case errors.Is(err, graph.ErrEdgeCreatesCycle):
				return nil, fmt.Errorf("workflow %s contains cyclic job dependencies: %s -> %s", workflow.Name, need, job.Name)
			case errors.Is(err, graph.ErrVertexNotFound):
				return nil, fmt.Errorf("job %s needs unknown job %s", job.Name, need)
			default:
				return nil, fmt.Errorf("failed to link %s -> %s: %w", need, job.Name, err)
			}
		}
	}

	predecessors, err := g.PredecessorMap()
	if err != nil {
		return nil, err
	}
	adjacency, err := g.AdjacencyMap()
	if err != nil {
		return nil, err
	}

	pending := make(map[string]int, len(predecessors))
	for name, sources := range predecessors {
		pending[name] = len(sources)
	}

	var stages [][]string
	for len(pending) > 0 {
		var stage []string
		for _, job := range jobs {
			if degree, ok := pending[job.Name]; ok && degree == 0 {
				stage = append(stage, job.Name)
			}
		}
		if len(stage) == 0 {
			return nil, fmt.Errorf("workflow %s contains cyclic job dependencies", workflow.Name)
		}
		for _, name := range stage {
			delete(pending, name)
			for next := range adjacency[name] {
				pending[next]--
			}
		}
		stages = append(stages, stage)
	}
	return &Plan{Workflow: workflow.Name, Stages: stages}, nil
}
