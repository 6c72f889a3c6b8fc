// Package models defines the core data types shared across the orchestrator,
// the tool layer, and the provider adapters.
package models

import (
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolStatus indicates the outcome recorded on a tool message.
type ToolStatus string

const (
	ToolStatusSuccess ToolStatus = "success"
	ToolStatusError   ToolStatus = "error"
)

// PartType discriminates content parts.
type PartType string

const (
	PartText       PartType = "text"
	PartAttachment PartType = "attachment"
)

// ContentPart is one element of a multi-part message body. Provider adapters
// map parts onto their wire shapes; the orchestrator treats them as opaque.
type ContentPart struct {
	Type       PartType    `json:"type"`
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Attachment is an opaque binary reference handed through to the provider.
type Attachment struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// ToolCall is a structured request emitted by the model naming a tool and its
// arguments. Arguments stay in the raw JSON string form the model produced;
// callers parse lazily.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is a single turn-visible record. Messages are immutable once
// appended to memory; anything that needs to modify one works on a clone.
//
// Field applicability by role:
//   - assistant: ToolCalls (when the model requested tools)
//   - tool: ToolCallID, Name, Status
type Message struct {
	ID         string         `json:"id"`
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Parts      []ContentPart  `json:"parts,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Status     ToolStatus     `json:"status,omitempty"`
	Timestamp  time.Time      `json:"timestamp,omitempty"`
	Usage      *Usage         `json:"usage,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the message. Provider adapters clone before
// any request shaping so the caller's messages are never observably mutated.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Parts != nil {
		c.Parts = make([]ContentPart, len(m.Parts))
		copy(c.Parts, m.Parts)
		for i, p := range m.Parts {
			if p.Attachment != nil {
				a := *p.Attachment
				if a.Data != nil {
					a.Data = append([]byte(nil), a.Data...)
				}
				c.Parts[i].Attachment = &a
			}
		}
	}
	if m.ToolCalls != nil {
		c.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		copy(c.ToolCalls, m.ToolCalls)
	}
	if m.Usage != nil {
		u := *m.Usage
		c.Usage = &u
	}
	if m.Metadata != nil {
		c.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Text returns the plain-text view of the message body. For multi-part
// messages it concatenates the text parts in order.
func (m *Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}
