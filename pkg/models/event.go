package models

import "time"

// AgentEventType discriminates the events emitted by the turn loop.
type AgentEventType string

const (
	EventMessageStarted   AgentEventType = "message_started"
	EventAssistantChunk   AgentEventType = "assistant_chunk"
	EventToolCalls        AgentEventType = "tool_calls"
	EventToolResult       AgentEventType = "tool_result"
	EventAssistantMessage AgentEventType = "assistant_message"
	EventDone             AgentEventType = "done"
	EventError            AgentEventType = "error"
	EventWarning          AgentEventType = "warning"
)

// AgentEvent is one entry in the per-conversation event stream. Sequence is
// monotonic within a conversation; no ordering is promised across
// conversations. Events are fire-and-forget: sinks must not block the loop.
type AgentEvent struct {
	Type           AgentEventType `json:"type"`
	Sequence       uint64         `json:"sequence"`
	Time           time.Time      `json:"time"`
	ConversationID string         `json:"conversation_id"`
	MessageID      string         `json:"message_id,omitempty"`

	// Delta carries streamed text for assistant_chunk.
	Delta string `json:"delta,omitempty"`

	// ToolCalls carries the batch for tool_calls.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResult carries the outcome for tool_result.
	ToolResult *ToolExecutionResult `json:"tool_result,omitempty"`

	// Message carries the full message for assistant_message.
	Message *Message `json:"message,omitempty"`

	// Usage carries the turn total for done.
	Usage *Usage `json:"usage,omitempty"`

	// Category and Text carry the classification for error and warning.
	Category ErrorCategory `json:"category,omitempty"`
	Text     string        `json:"text,omitempty"`
}
