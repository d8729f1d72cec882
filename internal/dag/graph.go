// Package dag models a scheduled workflow as a directed acyclic graph of
// named tasks that share a bundle of default arguments.
package dag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCycle is returned when the task dependencies do not form a DAG.
var ErrCycle = errors.New("dependency cycle")

// DefaultArgs is the configuration bundle applied to every task in a graph.
type DefaultArgs struct {
	Owner          string        `mapstructure:"owner" json:"owner"`
	DependsOnPast  bool          `mapstructure:"depends_on_past" json:"depends_on_past"`
	StartDate      time.Time     `mapstructure:"start_date" json:"start_date"`
	EmailOnFailure bool          `mapstructure:"email_on_failure" json:"email_on_failure"`
	EmailOnRetry   bool          `mapstructure:"email_on_retry" json:"email_on_retry"`
	Retries        int           `mapstructure:"retries" json:"retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" json:"retry_delay"`
}

// TaskFunc is the unit of work executed for a task.
type TaskFunc func(ctx context.Context) error

// Task is a named node of the graph.
type Task struct {
	ID string
	Fn TaskFunc
}

// Graph holds tasks and their upstream dependencies.
type Graph struct {
	ID          string
	Description string
	Args        DefaultArgs
	Schedule    time.Duration

	tasks    map[string]Task
	upstream map[string][]string
	added    []string
}

// New creates an empty graph.
func New(id, description string, args DefaultArgs, schedule time.Duration) *Graph {
	return &Graph{
		ID:          id,
		Description: description,
		Args:        args,
		Schedule:    schedule,
		tasks:       make(map[string]Task),
		upstream:    make(map[string][]string),
	}
}

// Add registers a task. IDs must be unique and non-empty.
func (g *Graph) Add(id string, fn TaskFunc) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("task id is required")
	}
	if fn == nil {
		return fmt.Errorf("task %s: function is required", id)
	}
	if _, exists := g.tasks[id]; exists {
		return fmt.Errorf("task %s already exists", id)
	}
	g.tasks[id] = Task{ID: id, Fn: fn}
	g.added = append(g.added, id)
	return nil
}

// SetUpstream declares that task runs only after upstream succeeds.
func (g *Graph) SetUpstream(task, upstream string) error {
	if _, ok := g.tasks[task]; !ok {
		return fmt.Errorf("unknown task %s", task)
	}
	if _, ok := g.tasks[upstream]; !ok {
		return fmt.Errorf("unknown task %s", upstream)
	}
	if task == upstream {
		return fmt.Errorf("task %s: %w", task, ErrCycle)
	}
	for _, existing := range g.upstream[task] {
		if existing == upstream {
			return nil
		}
	}
	g.upstream[task] = append(g.upstream[task], upstream)
	return nil
}

// Chain links ids into a linear sequence: ids[0] >> ids[1] >> ...
func (g *Graph) Chain(ids ...string) error {
	for i := 1; i < len(ids); i++ {
		if err := g.SetUpstream(ids[i], ids[i-1]); err != nil {
			return err
		}
	}
	return nil
}

// Task looks up a task by ID.
func (g *Graph) Task(id string) (Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// Upstream returns the direct dependencies of a task.
func (g *Graph) Upstream(id string) []string {
	return append([]string(nil), g.upstream[id]...)
}

// Len returns the number of tasks.
func (g *Graph) Len() int {
	return len(g.tasks)
}

// Order returns the task IDs in a topological order. Ties are broken by
// registration order so the result is deterministic.
func (g *Graph) Order() ([]string, error) {
	indegree := make(map[string]int, len(g.tasks))
	downstream := make(map[string][]string, len(g.tasks))
	for _, id := range g.added {
		indegree[id] = len(g.upstream[id])
		for _, up := range g.upstream[id] {
			downstream[up] = append(downstream[up], id)
		}
	}

	order := make([]string, 0, len(g.tasks))
	done := make(map[string]bool, len(g.tasks))
	for len(order) < len(g.added) {
		progressed := false
		for _, id := range g.added {
			if done[id] || indegree[id] > 0 {
				continue
			}
			done[id] = true
			order = append(order, id)
			for _, next := range downstream[id] {
				indegree[next]--
			}
			progressed = true
			break
		}
		if !progressed {
			return nil, fmt.Errorf("graph %s: %w", g.ID, ErrCycle)
		}
	}
	return order, nil
}
