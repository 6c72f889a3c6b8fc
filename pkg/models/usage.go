package models

// Usage represents normalized token accounting for one LLM call.
//
// Normalization rules: PromptTokens always includes cached tokens (fresh +
// cached), and TotalTokens is the provider-reported total when present or
// PromptTokens+CompletionTokens otherwise.
type Usage struct {
	PromptTokens       int64 `json:"prompt_tokens"`
	CompletionTokens   int64 `json:"completion_tokens"`
	TotalTokens        int64 `json:"total_tokens"`
	CachedPromptTokens int64 `json:"cached_prompt_tokens,omitempty"`
}

// Add accumulates another usage record into this one.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.CachedPromptTokens += other.CachedPromptTokens
}

// Normalize enforces the usage invariants in place and returns the receiver.
// Fresh and cached prompt tokens reported separately are summed; a missing
// total is computed.
func (u *Usage) Normalize() *Usage {
	if u.PromptTokens < u.CachedPromptTokens {
		u.PromptTokens += u.CachedPromptTokens
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

// NormalizeUsage builds a normalized Usage from separately reported fresh and
// cached prompt token counts.
func NormalizeUsage(freshPrompt, cachedPrompt, completion, total int64) *Usage {
	u := &Usage{
		PromptTokens:       freshPrompt + cachedPrompt,
		CompletionTokens:   completion,
		TotalTokens:        total,
		CachedPromptTokens: cachedPrompt,
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}
