package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loomlabs/loom/internal/agent/providers"
	"github.com/loomlabs/loom/pkg/models"
)

// MaxToolNameLength bounds registered tool names.
const MaxToolNameLength = 256

// MaxToolArgsSize bounds the raw argument payload accepted per call.
const MaxToolArgsSize = 10 << 20

// Tool is an executable capability offered to the model.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON schema for the tool's arguments.
	Schema() json.RawMessage
	// Execute runs the tool. Implementations honor ctx cancellation and
	// return either a result or an error; panics are contained by the
	// executor.
	Execute(ctx context.Context, args json.RawMessage) (*ToolResult, error)
}

// ToolResult is a tool's raw outcome before the executor wraps it into a
// models.ToolExecutionResult.
type ToolResult struct {
	Content  string
	Kind     models.ResultKind
	IsError  bool
	Metadata map[string]any
}

// ToolSource exposes a set of tools by name. The local registry and each
// MCP bridge are sources; the composite port unions them.
type ToolSource interface {
	// Definitions lists the source's tools in a stable order.
	Definitions() []providers.ToolDefinition
	// Lookup resolves a tool by its registered name.
	Lookup(name string) (Tool, bool)
}

// Registry is the catalog of built-in tools. Registration happens at
// startup; lookups afterwards are read-mostly and O(1).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Duplicate or oversized names are rejected.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("invalid tool name %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Lookup resolves a tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions lists registered tools in registration order.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return defs
}

// Composite unions multiple tool sources by name. Collisions resolve in
// declaration order: the first source to claim a name owns it, and later
// claims are reported at registration time.
type Composite struct {
	mu      sync.RWMutex
	sources []ToolSource
	logger  *slog.Logger
}

// NewComposite builds a composite port over sources in declaration order.
func NewComposite(logger *slog.Logger, sources ...ToolSource) *Composite {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Composite{logger: logger}
	for _, s := range sources {
		c.AddSource(s)
	}
	return c
}

// AddSource appends a source and reports name collisions against the
// sources already present.
func (c *Composite) AddSource(source ToolSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]struct{})
	for _, s := range c.sources {
		for _, def := range s.Definitions() {
			seen[def.Name] = struct{}{}
		}
	}
	for _, def := range source.Definitions() {
		if _, dup := seen[def.Name]; dup {
			c.logger.Warn("tool name collision, earlier source wins", "tool", def.Name)
		}
	}
	c.sources = append(c.sources, source)
}

// Lookup routes a name to the owning source in declaration order.
func (c *Composite) Lookup(name string) (Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sources {
		if t, ok := s.Lookup(name); ok {
			return t, true
		}
	}
	return nil, false
}

// Definitions returns the union of all sources, first-claim wins.
func (c *Composite) Definitions() []providers.ToolDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var defs []providers.ToolDefinition
	seen := make(map[string]struct{})
	for _, s := range c.sources {
		for _, def := range s.Definitions() {
			if _, dup := seen[def.Name]; dup {
				continue
			}
			seen[def.Name] = struct{}{}
			defs = append(defs, def)
		}
	}
	return defs
}

// FilteredDefinitions returns definitions restricted to the enabled set.
// An empty filter enables everything.
func (c *Composite) FilteredDefinitions(enabled []string) []providers.ToolDefinition {
	defs := c.Definitions()
	if len(enabled) == 0 {
		return defs
	}
	allow := make(map[string]struct{}, len(enabled))
	for _, name := range enabled {
		allow[name] = struct{}{}
	}
	filtered := defs[:0]
	for _, def := range defs {
		if _, ok := allow[def.Name]; ok {
			filtered = append(filtered, def)
		}
	}
	return filtered
}
