package mcp

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/loomlabs/loom/internal/agent"
	"github.com/loomlabs/loom/internal/agent/providers"
	"github.com/loomlabs/loom/pkg/models"
)

// maxBridgedNameLen bounds the names registered with LLM providers.
const maxBridgedNameLen = 64

// ToolBridge wraps one remote MCP tool as an agent tool. The bridged name is
// namespaced by server id so two servers exporting the same tool never
// collide.
type ToolBridge struct {
	client *Client
	tool   Tool
	name   string
}

// NewToolBridge creates a bridge with a precomputed safe name.
func NewToolBridge(client *Client, tool Tool, safeName string) *ToolBridge {
	return &ToolBridge{client: client, tool: tool, name: safeName}
}

// Name returns the namespaced name registered with the provider.
func (b *ToolBridge) Name() string { return b.name }

// Description returns the remote description, prefixed with its origin.
func (b *ToolBridge) Description() string {
	desc := strings.TrimSpace(b.tool.Description)
	if desc == "" {
		return fmt.Sprintf("MCP tool %s.%s", b.client.ServerID(), b.tool.Name)
	}
	return fmt.Sprintf("MCP tool %s.%s: %s", b.client.ServerID(), b.tool.Name, desc)
}

// Schema returns the remote input schema.
func (b *ToolBridge) Schema() json.RawMessage {
	if len(b.tool.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return b.tool.InputSchema
}

// Execute forwards the call to the remote server. A degraded server surfaces
// its error to the executor, which reports it on the tool message.
func (b *ToolBridge) Execute(ctx context.Context, args json.RawMessage) (*agent.ToolResult, error) {
	result, err := b.client.CallTool(ctx, b.tool.Name, args)
	if err != nil {
		return nil, err
	}
	return &agent.ToolResult{
		Content: result.Text(),
		Kind:    models.ResultText,
		IsError: result.IsError,
		Metadata: map[string]any{
			"mcp_server": b.client.ServerID(),
			"mcp_tool":   b.tool.Name,
		},
	}, nil
}

// Source is an agent.ToolSource over a manager's connected servers. Build it
// after ConnectAll; the snapshot is fixed until Refresh. Servers that failed
// to connect contribute no tools, so their names miss lookup and resolve as
// unknown tools at execution time.
type Source struct {
	manager *Manager
	tools   map[string]*ToolBridge
	order   []string
}

// NewSource snapshots the manager's tool catalogs into a source.
func NewSource(manager *Manager) *Source {
	s := &Source{manager: manager}
	s.Refresh()
	return s
}

// Refresh rebuilds the snapshot from the current catalogs.
func (s *Source) Refresh() {
	tools := make(map[string]*ToolBridge)
	var order []string
	used := make(map[string]struct{})
	for _, client := range s.manager.Clients() {
		for _, tool := range client.Tools() {
			name := safeToolName(client.ServerID(), tool.Name, used)
			tools[name] = NewToolBridge(client, tool, name)
			order = append(order, name)
		}
	}
	s.tools = tools
	s.order = order
}

// Definitions implements agent.ToolSource.
func (s *Source) Definitions() []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(s.order))
	for _, name := range s.order {
		b := s.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Name:        b.Name(),
			Description: b.Description(),
			Schema:      b.Schema(),
		})
	}
	return defs
}

// Lookup implements agent.ToolSource. Tools on a degraded server miss
// lookup, so calls against them resolve as unknown tools until Reset.
func (s *Source) Lookup(name string) (agent.Tool, bool) {
	b, ok := s.tools[name]
	if !ok || b.client.Degraded() {
		return nil, false
	}
	return b, true
}

// safeToolName builds "mcp_<server>_<tool>", lowercased with non-alphanumeric
// runs collapsed to underscores, truncated with a hash suffix when too long,
// and deduplicated against names already taken.
func safeToolName(serverID, toolName string, used map[string]struct{}) string {
	base := "mcp_" + sanitizeToolPart(serverID) + "_" + sanitizeToolPart(toolName)
	name := base
	if len(name) > maxBridgedNameLen {
		name = truncateWithHash(base, serverID, toolName)
	}
	if _, exists := used[name]; exists {
		name = dedupeWithHash(name, serverID, toolName)
	}
	used[name] = struct{}{}
	return name
}

func sanitizeToolPart(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	underscore := false
	for _, r := range value {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			underscore = false
		default:
			if !underscore {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	clean := strings.Trim(b.String(), "_")
	if clean == "" {
		return "tool"
	}
	return clean
}

func toolNameHash(serverID, toolName string) string {
	sum := sha1.Sum([]byte(serverID + ":" + toolName))
	return hex.EncodeToString(sum[:])[:8]
}

func truncateWithHash(base, serverID, toolName string) string {
	suffix := "_" + toolNameHash(serverID, toolName)
	trimLen := maxBridgedNameLen - len(suffix)
	if trimLen > len(base) {
		trimLen = len(base)
	}
	return base[:trimLen] + suffix
}

func dedupeWithHash(base, serverID, toolName string) string {
	name := base + "_" + toolNameHash(serverID, toolName)
	if len(name) <= maxBridgedNameLen {
		return name
	}
	return truncateWithHash(base, serverID, toolName)
}
