package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/loomlabs/loom/internal/agent"
	"github.com/loomlabs/loom/pkg/models"
)

type assignTaskArgs struct {
	Agent string `json:"agent" jsonschema:"description=Template id of the sub-agent to delegate to"`
	Task  string `json:"task" jsonschema:"description=The task for the sub-agent to complete"`
}

// AssignTaskTool exposes delegation to the model. Each orchestrator gets its
// own instance carrying that orchestrator's depth, so the depth bound holds
// across chains of delegation.
type AssignTaskTool struct {
	service *Service
	depth   int
	schema  json.RawMessage
}

// NewAssignTaskTool binds the tool to a service at the caller's depth.
func NewAssignTaskTool(service *Service, depth int) *AssignTaskTool {
	return &AssignTaskTool{
		service: service,
		depth:   depth,
		schema:  reflectSchema(&assignTaskArgs{}),
	}
}

// Name implements agent.Tool.
func (t *AssignTaskTool) Name() string { return "assign_task" }

// Description implements agent.Tool. Available templates are listed inline
// so the model can pick one without a discovery round-trip.
func (t *AssignTaskTool) Description() string {
	var b strings.Builder
	b.WriteString("Delegate a task to a specialized sub-agent and return its answer.")
	templates := t.service.registry.List()
	if len(templates) > 0 {
		b.WriteString(" Available agents:")
		for _, tmpl := range templates {
			b.WriteString(" " + tmpl.ID)
			if tmpl.Description != "" {
				b.WriteString(" (" + tmpl.Description + ")")
			}
			b.WriteString(";")
		}
	}
	return strings.TrimSuffix(b.String(), ";")
}

// Schema implements agent.Tool.
func (t *AssignTaskTool) Schema() json.RawMessage { return t.schema }

// Execute implements agent.Tool.
func (t *AssignTaskTool) Execute(ctx context.Context, args json.RawMessage) (*agent.ToolResult, error) {
	var params assignTaskArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if params.Agent == "" || params.Task == "" {
		return nil, fmt.Errorf("invalid arguments: agent and task are required")
	}
	result, err := t.service.Assign(ctx, t.depth, params.Agent, params.Task)
	if err != nil {
		return nil, err
	}
	return &agent.ToolResult{
		Content:  result,
		Kind:     models.ResultText,
		Metadata: map[string]any{"agent": params.Agent},
	}, nil
}

// reflectSchema derives a plain object schema from a typed argument struct.
func reflectSchema(v any) json.RawMessage {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}
