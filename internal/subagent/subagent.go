// Package subagent provides delegation: named agent templates, a service
// that spawns child orchestrators, and the assign_task tool that exposes
// delegation to the model.
package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/loomlabs/loom/internal/agent"
)

// Template describes one named sub-agent: its instructions, the subset of
// tool names it may use, and an optional model override.
type Template struct {
	ID           string   `yaml:"id" json:"id"`
	Description  string   `yaml:"description" json:"description,omitempty"`
	SystemPrompt string   `yaml:"system_prompt" json:"system_prompt"`
	Tools        []string `yaml:"tools" json:"tools,omitempty"`
	Model        string   `yaml:"model" json:"model,omitempty"`
}

// Registry is the catalog of templates available for delegation.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
	order     []string
}

// NewRegistry creates an empty template registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]Template)}
}

// Register adds a template. Duplicate ids are rejected.
func (r *Registry) Register(tmpl Template) error {
	if tmpl.ID == "" {
		return fmt.Errorf("subagent: template id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[tmpl.ID]; exists {
		return fmt.Errorf("subagent: duplicate template id %q", tmpl.ID)
	}
	r.templates[tmpl.ID] = tmpl
	r.order = append(r.order, tmpl.ID)
	return nil
}

// Get resolves a template by id.
func (r *Registry) Get(id string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tmpl, ok := r.templates[id]
	return tmpl, ok
}

// List returns templates in registration order.
func (r *Registry) List() []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Template, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.templates[id])
	}
	return out
}

// TaskStatus is the lifecycle state of one delegated task.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskRecord tracks one delegated task.
type TaskRecord struct {
	ID          string     `json:"id"`
	Template    string     `json:"template"`
	Task        string     `json:"task"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Factory builds a child orchestrator for a template at the given delegation
// depth. The host supplies it so the service stays decoupled from provider
// and memory wiring; the child must carry its own conversation scope.
type Factory func(ctx context.Context, tmpl Template, depth int) (*agent.Orchestrator, error)

// Service spawns and tracks sub-agents. Delegation depth is bounded by
// maxDepth and the number of concurrently running tasks by maxActive.
type Service struct {
	registry  *Registry
	factory   Factory
	maxDepth  int
	maxActive int
	logger    *slog.Logger

	active atomic.Int64
	mu     sync.RWMutex
	tasks  map[string]*TaskRecord
}

// NewService creates a delegation service. Non-positive bounds default to a
// depth of 3 and 5 concurrent tasks.
func NewService(registry *Registry, factory Factory, maxDepth, maxActive int, logger *slog.Logger) *Service {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	if maxActive <= 0 {
		maxActive = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry:  registry,
		factory:   factory,
		maxDepth:  maxDepth,
		maxActive: maxActive,
		logger:    logger,
		tasks:     make(map[string]*TaskRecord),
	}
}

// Assign runs a template against a task and returns the sub-agent's terminal
// response. parentDepth is the delegating agent's own depth; the child runs
// one level deeper, and exceeding the bound fails before any model call.
func (s *Service) Assign(ctx context.Context, parentDepth int, templateID, task string) (string, error) {
	tmpl, ok := s.registry.Get(templateID)
	if !ok {
		return "", fmt.Errorf("subagent: agent template not found: %s", templateID)
	}
	depth := parentDepth + 1
	if depth > s.maxDepth {
		return "", fmt.Errorf("subagent: %s at depth %d: %w", templateID, depth, agent.ErrDepthExceeded)
	}
	// Reserve a slot before checking the bound so concurrent assigns cannot
	// all pass a stale read and overshoot maxActive.
	if s.active.Add(1) > int64(s.maxActive) {
		s.active.Add(-1)
		return "", fmt.Errorf("subagent: too many active sub-agents (%d)", s.maxActive)
	}
	defer s.active.Add(-1)

	record := &TaskRecord{
		ID:        uuid.NewString(),
		Template:  templateID,
		Task:      task,
		Status:    TaskRunning,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.tasks[record.ID] = record
	s.mu.Unlock()

	child, err := s.factory(ctx, tmpl, depth)
	if err != nil {
		s.complete(record.ID, "", err)
		return "", fmt.Errorf("subagent: spawn %s: %w", templateID, err)
	}
	s.warnMissingTools(child, tmpl)

	// Each delegated task gets a fresh conversation scope.
	msg, err := child.Send(ctx, "task-"+record.ID, task, agent.SendOptions{})
	if err != nil {
		s.complete(record.ID, "", err)
		return "", err
	}
	s.complete(record.ID, msg.Content, nil)
	return msg.Content, nil
}

// warnMissingTools reports template tool names the child cannot resolve.
// Missing tools are elided rather than fatal.
func (s *Service) warnMissingTools(child *agent.Orchestrator, tmpl Template) {
	for _, name := range tmpl.Tools {
		if _, ok := child.Tools().Lookup(name); !ok {
			s.logger.Warn("sub-agent tool unavailable, eliding",
				"template", tmpl.ID, "tool", name)
		}
	}
}

func (s *Service) complete(id, result string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.tasks[id]
	if !ok {
		return
	}
	record.CompletedAt = time.Now()
	if err != nil {
		record.Status = TaskFailed
		record.Error = err.Error()
		return
	}
	record.Status = TaskCompleted
	record.Result = result
}

// Task returns a delegated task record by id.
func (s *Service) Task(id string) (*TaskRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.tasks[id]
	return record, ok
}

// ActiveCount returns the number of running sub-agents.
func (s *Service) ActiveCount() int { return int(s.active.Load()) }
