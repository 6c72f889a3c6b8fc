package models

import "time"

// ResultKind indicates how a tool result body should be interpreted.
type ResultKind string

const (
	ResultText ResultKind = "text"
	ResultJSON ResultKind = "json"
)

// ErrorReason is the closed set of tool execution failure reasons.
type ErrorReason string

const (
	ReasonAborted          ErrorReason = "aborted"
	ReasonDenied           ErrorReason = "denied"
	ReasonTimeout          ErrorReason = "timeout"
	ReasonPermissionDenied ErrorReason = "permission_denied"
	ReasonNotFound         ErrorReason = "not_found"
	ReasonToolNotFound     ErrorReason = "tool_not_found"
	ReasonNetworkError     ErrorReason = "network_error"
	ReasonRateLimit        ErrorReason = "rate_limit"
	ReasonInvalidInput     ErrorReason = "invalid_input"
	ReasonUnknown          ErrorReason = "unknown"
)

// ToolExecutionResult is the outcome of one tool invocation. Results are
// ephemeral inside the loop; their serialized form becomes a tool Message.
type ToolExecutionResult struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Status      ToolStatus     `json:"status"`
	Kind        ResultKind     `json:"kind"`
	Body        string         `json:"body"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
	ErrorReason ErrorReason    `json:"error_reason,omitempty"`
}

// Message serializes the result as a tool message addressed to the tool call
// that produced it.
func (r *ToolExecutionResult) Message(id string, ts time.Time) *Message {
	msg := &Message{
		ID:         id,
		Role:       RoleTool,
		Content:    r.Body,
		ToolCallID: r.ID,
		Name:       r.Name,
		Status:     r.Status,
		Timestamp:  ts,
		Metadata: map[string]any{
			"duration_ms": r.DurationMs,
		},
	}
	if r.ErrorReason != "" {
		msg.Metadata["error_reason"] = string(r.ErrorReason)
	}
	return msg
}
