// Package providers implements the LLM provider abstraction: a unified
// streaming and non-streaming completion contract over heterogeneous HTTP
// APIs (OpenAI-compatible, GitHub Copilot, Anthropic native).
package providers

import (
	"context"
	"encoding/json"

	"github.com/loomlabs/loom/pkg/models"
)

// Request carries one completion call. Messages are never mutated by a
// provider; adapters shape a copy of the payload.
type Request struct {
	Model        string
	Messages     []*models.Message
	Temperature  float32
	TopP         float32
	MaxTokens    int
	Tools        []ToolDefinition
	IncludeUsage bool
}

// ToolDefinition describes one tool offered to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// Completion is the assembled result of one LLM call, streaming or not.
type Completion struct {
	Content      string
	ToolCalls    []models.ToolCall
	FinishReason string
	Usage        models.Usage
}

// Handlers receives streaming callbacks. Any field may be nil. Handlers are
// invoked from the stream-consuming goroutine in arrival order.
type Handlers struct {
	// OnChunk receives each text delta.
	OnChunk func(delta string)
	// OnToolCallDelta receives a tool call once its arguments are complete,
	// keyed by the provider-reported tool call index.
	OnToolCallDelta func(index int, call models.ToolCall)
	// OnFinish receives the final assembled completion.
	OnFinish func(c *Completion)
}

func (h Handlers) chunk(delta string) {
	if h.OnChunk != nil {
		h.OnChunk(delta)
	}
}

func (h Handlers) toolCall(index int, call models.ToolCall) {
	if h.OnToolCallDelta != nil {
		h.OnToolCallDelta(index, call)
	}
}

func (h Handlers) finish(c *Completion) {
	if h.OnFinish != nil {
		h.OnFinish(c)
	}
}

// ModelInfo describes one model offered by a provider.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	ContextSize int    `json:"context_size,omitempty"`
}

// Provider is the unified LLM contract consumed by the orchestrator.
type Provider interface {
	// Name returns the stable lowercase provider key used for routing,
	// logging and metrics.
	Name() string

	// GenerateCompletion performs a non-streaming call. Behaviour is the
	// degenerate single-chunk case of StreamCompletion.
	GenerateCompletion(ctx context.Context, req *Request) (*Completion, error)

	// StreamCompletion performs a streaming call, invoking handlers per
	// delta, and returns the assembled completion.
	StreamCompletion(ctx context.Context, req *Request, h Handlers) (*Completion, error)

	// ListModels returns the models the provider offers, where supported.
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// Descriptor selects request shaping for a provider endpoint. Providers are
// data-driven: one OpenAI-compatible adapter serves every endpoint that
// speaks the OpenAI chat shape.
type Descriptor struct {
	Key           string            `yaml:"key" json:"key"`
	BaseURL       string            `yaml:"base_url" json:"base_url"`
	APIKey        string            `yaml:"api_key" json:"api_key"`
	PromptCaching bool              `yaml:"prompt_caching" json:"prompt_caching"`
	IncludeUsage  bool              `yaml:"include_usage" json:"include_usage"`
	CustomHeaders map[string]string `yaml:"custom_headers" json:"custom_headers,omitempty"`
}
