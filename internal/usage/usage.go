// Package usage provides per-conversation token accounting and display
// formatting.
package usage

import (
	"fmt"
	"sync"

	"github.com/loomlabs/loom/pkg/models"
)

// Tracker accumulates usage as an additive monoid per conversation and per
// provider:model key.
type Tracker struct {
	mu             sync.RWMutex
	byConversation map[string]*models.Usage
	byModel        map[string]*models.Usage
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byConversation: make(map[string]*models.Usage),
		byModel:        make(map[string]*models.Usage),
	}
}

// Add records usage for a conversation and a provider:model key.
func (t *Tracker) Add(conversationID, provider, model string, u models.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conversationID != "" {
		if t.byConversation[conversationID] == nil {
			t.byConversation[conversationID] = &models.Usage{}
		}
		t.byConversation[conversationID].Add(&u)
	}
	key := provider + ":" + model
	if t.byModel[key] == nil {
		t.byModel[key] = &models.Usage{}
	}
	t.byModel[key].Add(&u)
}

// Conversation returns the accumulated usage for a conversation.
func (t *Tracker) Conversation(conversationID string) models.Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if u := t.byConversation[conversationID]; u != nil {
		return *u
	}
	return models.Usage{}
}

// Model returns the accumulated usage for a provider:model key.
func (t *Tracker) Model(provider, model string) models.Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if u := t.byModel[provider+":"+model]; u != nil {
		return *u
	}
	return models.Usage{}
}

// Summary returns a copy of all provider:model totals.
func (t *Tracker) Summary() map[string]models.Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]models.Usage, len(t.byModel))
	for k, v := range t.byModel {
		out[k] = *v
	}
	return out
}

// FormatTokenCount formats a token count for display.
func FormatTokenCount(count int64) string {
	switch {
	case count <= 0:
		return "0"
	case count >= 1_000_000:
		return fmt.Sprintf("%.1fm", float64(count)/1_000_000)
	case count >= 10_000:
		return fmt.Sprintf("%dk", count/1_000)
	case count >= 1_000:
		return fmt.Sprintf("%.1fk", float64(count)/1_000)
	default:
		return fmt.Sprintf("%d", count)
	}
}

// FormatUsage renders a one-line usage summary.
func FormatUsage(u models.Usage) string {
	s := fmt.Sprintf("%s in / %s out", FormatTokenCount(u.PromptTokens), FormatTokenCount(u.CompletionTokens))
	if u.CachedPromptTokens > 0 {
		s += fmt.Sprintf(" (%s cached)", FormatTokenCount(u.CachedPromptTokens))
	}
	return s
}
