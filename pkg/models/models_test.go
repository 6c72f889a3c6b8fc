package models

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUsageAdd(t *testing.T) {
	var total Usage
	total.Add(&Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120, CachedPromptTokens: 40})
	total.Add(&Usage{PromptTokens: 50, CompletionTokens: 5, TotalTokens: 55})
	total.Add(nil)

	if total.PromptTokens != 150 {
		t.Errorf("prompt tokens = %d, want 150", total.PromptTokens)
	}
	if total.CompletionTokens != 25 {
		t.Errorf("completion tokens = %d, want 25", total.CompletionTokens)
	}
	if total.TotalTokens != 175 {
		t.Errorf("total tokens = %d, want 175", total.TotalTokens)
	}
	if total.CachedPromptTokens != 40 {
		t.Errorf("cached tokens = %d, want 40", total.CachedPromptTokens)
	}
}

func TestUsageNormalize(t *testing.T) {
	tests := []struct {
		name       string
		in         Usage
		wantPrompt int64
		wantTotal  int64
	}{
		{
			name:       "fresh and cached reported separately",
			in:         Usage{PromptTokens: 10, CachedPromptTokens: 90, CompletionTokens: 5},
			wantPrompt: 100,
			wantTotal:  105,
		},
		{
			name:       "prompt already inclusive",
			in:         Usage{PromptTokens: 100, CachedPromptTokens: 90, CompletionTokens: 5, TotalTokens: 105},
			wantPrompt: 100,
			wantTotal:  105,
		},
		{
			name:       "missing total computed",
			in:         Usage{PromptTokens: 30, CompletionTokens: 12},
			wantPrompt: 30,
			wantTotal:  42,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in
			got.Normalize()
			if got.PromptTokens != tt.wantPrompt {
				t.Errorf("prompt = %d, want %d", got.PromptTokens, tt.wantPrompt)
			}
			if got.TotalTokens != tt.wantTotal {
				t.Errorf("total = %d, want %d", got.TotalTokens, tt.wantTotal)
			}
		})
	}
}

func TestNormalizeUsage(t *testing.T) {
	u := NormalizeUsage(10, 90, 5, 0)
	if u.PromptTokens != 100 {
		t.Errorf("prompt = %d, want 100", u.PromptTokens)
	}
	if u.TotalTokens != 105 {
		t.Errorf("total = %d, want 105", u.TotalTokens)
	}
	if u.CachedPromptTokens != 90 {
		t.Errorf("cached = %d, want 90", u.CachedPromptTokens)
	}
}

func TestMessageCloneIsDeep(t *testing.T) {
	orig := &Message{
		ID:      "m1",
		Role:    RoleAssistant,
		Content: "hello",
		Parts: []ContentPart{
			{Type: PartText, Text: "hello"},
			{Type: PartAttachment, Attachment: &Attachment{ID: "a1", Data: []byte{1, 2}}},
		},
		ToolCalls: []ToolCall{{ID: "t1", Name: "echo", Arguments: `{"x":1}`}},
		Usage:     &Usage{PromptTokens: 1},
		Metadata:  map[string]any{"k": "v"},
	}

	clone := orig.Clone()
	clone.Content = "changed"
	clone.Parts[0].Text = "changed"
	clone.Parts[1].Attachment.Data[0] = 9
	clone.ToolCalls[0].Name = "other"
	clone.Usage.PromptTokens = 99
	clone.Metadata["k"] = "changed"

	if orig.Content != "hello" {
		t.Error("clone mutation reached original content")
	}
	if orig.Parts[0].Text != "hello" {
		t.Error("clone mutation reached original part")
	}
	if orig.Parts[1].Attachment.Data[0] != 1 {
		t.Error("clone mutation reached original attachment data")
	}
	if orig.ToolCalls[0].Name != "echo" {
		t.Error("clone mutation reached original tool call")
	}
	if orig.Usage.PromptTokens != 1 {
		t.Error("clone mutation reached original usage")
	}
	if orig.Metadata["k"] != "v" {
		t.Error("clone mutation reached original metadata")
	}
}

func TestMessageText(t *testing.T) {
	plain := &Message{Content: "body"}
	if got := plain.Text(); got != "body" {
		t.Errorf("Text() = %q, want %q", got, "body")
	}

	parts := &Message{
		Content: "ignored",
		Parts: []ContentPart{
			{Type: PartText, Text: "one "},
			{Type: PartAttachment, Attachment: &Attachment{ID: "a"}},
			{Type: PartText, Text: "two"},
		},
	}
	if got := parts.Text(); got != "one two" {
		t.Errorf("Text() = %q, want %q", got, "one two")
	}
}

func TestToolExecutionResultMessage(t *testing.T) {
	result := &ToolExecutionResult{
		ID:          "call-1",
		Name:        "search",
		Status:      ToolStatusError,
		Kind:        ResultText,
		Body:        "upstream timed out",
		DurationMs:  42,
		ErrorReason: ReasonTimeout,
	}
	ts := time.Now()
	msg := result.Message("msg-1", ts)

	if msg.Role != RoleTool {
		t.Errorf("role = %q, want tool", msg.Role)
	}
	if msg.ToolCallID != "call-1" {
		t.Errorf("tool call id = %q, want call-1", msg.ToolCallID)
	}
	if msg.Name != "search" {
		t.Errorf("name = %q, want search", msg.Name)
	}
	if msg.Status != ToolStatusError {
		t.Errorf("status = %q, want error", msg.Status)
	}
	if msg.Content != "upstream timed out" {
		t.Errorf("content = %q", msg.Content)
	}
	if msg.Metadata["duration_ms"] != int64(42) {
		t.Errorf("duration_ms = %v, want 42", msg.Metadata["duration_ms"])
	}
	if msg.Metadata["error_reason"] != "timeout" {
		t.Errorf("error_reason = %v, want timeout", msg.Metadata["error_reason"])
	}
}

type categorizedErr struct{ cat ErrorCategory }

func (e categorizedErr) Error() string           { return "categorized" }
func (e categorizedErr) Category() ErrorCategory { return e.cat }

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"typed", categorizedErr{cat: ErrRateLimit}, ErrRateLimit},
		{"wrapped typed", errors.Join(errors.New("outer"), categorizedErr{cat: ErrNotFound}), ErrNotFound},
		{"canceled", context.Canceled, ErrAborted},
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"plain", errors.New("boom"), ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategoryOf(tt.err); got != tt.want {
				t.Errorf("CategoryOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAgentConfigNormalize(t *testing.T) {
	cfg := (&AgentConfig{}).Normalize()
	if cfg.MaxToolConcurrency != 3 {
		t.Errorf("concurrency = %d, want 3", cfg.MaxToolConcurrency)
	}
	if cfg.MaxDelegationDepth != 3 {
		t.Errorf("depth = %d, want 3", cfg.MaxDelegationDepth)
	}
	if cfg.MaxLLMCallsPerTurn != 25 {
		t.Errorf("calls = %d, want 25", cfg.MaxLLMCallsPerTurn)
	}
	if cfg.ToolTimeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", cfg.ToolTimeout)
	}
	if cfg.RequireToolApproval != ApprovalNever {
		t.Errorf("approval = %q, want never", cfg.RequireToolApproval)
	}

	set := (&AgentConfig{MaxToolConcurrency: 7, MaxLLMCallsPerTurn: 2}).Normalize()
	if set.MaxToolConcurrency != 7 || set.MaxLLMCallsPerTurn != 2 {
		t.Error("explicit values overwritten by defaults")
	}
}
