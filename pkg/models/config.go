package models

import "time"

// ApprovalMode controls when tool execution requires operator approval.
type ApprovalMode string

const (
	// ApprovalNever executes tools without asking.
	ApprovalNever ApprovalMode = "never"
	// ApprovalSession asks once per tool name per conversation.
	ApprovalSession ApprovalMode = "session-scoped"
	// ApprovalAlways asks for every batch.
	ApprovalAlways ApprovalMode = "always"
)

// AgentConfig is the construction-time configuration for one agent. The core
// never parses configuration files; hosts build this value and hand it in.
type AgentConfig struct {
	ID           string  `yaml:"id" json:"id"`
	SystemPrompt string  `yaml:"system_prompt" json:"system_prompt"`
	Temperature  float32 `yaml:"temperature" json:"temperature"`
	TopP         float32 `yaml:"top_p" json:"top_p"`
	MaxTokens    int     `yaml:"max_tokens" json:"max_tokens"`
	Model        string  `yaml:"model" json:"model"`

	// EnabledTools filters the registry; empty means all registered tools.
	EnabledTools []string `yaml:"enabled_tools" json:"enabled_tools,omitempty"`

	MaxToolConcurrency  int          `yaml:"max_tool_concurrency" json:"max_tool_concurrency"`
	RequireToolApproval ApprovalMode `yaml:"require_tool_approval" json:"require_tool_approval"`
	MaxDelegationDepth  int          `yaml:"max_delegation_depth" json:"max_delegation_depth"`
	MaxLLMCallsPerTurn  int          `yaml:"max_llm_calls_per_turn" json:"max_llm_calls_per_turn"`
	ToolTimeout         time.Duration `yaml:"tool_timeout" json:"tool_timeout"`
}

// Normalize fills unset fields with defaults and returns the receiver.
func (c *AgentConfig) Normalize() *AgentConfig {
	if c.MaxToolConcurrency <= 0 {
		c.MaxToolConcurrency = 3
	}
	if c.RequireToolApproval == "" {
		c.RequireToolApproval = ApprovalNever
	}
	if c.MaxDelegationDepth <= 0 {
		c.MaxDelegationDepth = 3
	}
	if c.MaxLLMCallsPerTurn <= 0 {
		c.MaxLLMCallsPerTurn = 25
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
	return c
}
