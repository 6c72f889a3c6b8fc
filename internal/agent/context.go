package agent

import (
	"fmt"
	"time"

	"github.com/loomlabs/loom/pkg/models"
)

// coreIdentity is the first system message of every prompt.
const coreIdentity = "You are a capable assistant that reasons step by step and uses the available tools when they help."

// TurnHint carries per-turn facts the context builder may surface as
// reminders. Zero values suppress the corresponding reminder.
type TurnHint struct {
	Now        time.Time
	WorkingDir string
}

// ContextBuilder assembles the prompt prefix prepended to history: the core
// identity, the configured system prompt, then short reminder notes. It is a
// pure function of its inputs and performs no I/O.
type ContextBuilder struct{}

// Build returns the system-message prefix for a turn.
func (ContextBuilder) Build(config *models.AgentConfig, hint TurnHint) []*models.Message {
	prefix := []*models.Message{{
		Role:    models.RoleSystem,
		Content: coreIdentity,
	}}
	if config != nil && config.SystemPrompt != "" {
		prefix = append(prefix, &models.Message{
			Role:    models.RoleSystem,
			Content: config.SystemPrompt,
		})
	}
	if !hint.Now.IsZero() {
		prefix = append(prefix, &models.Message{
			Role:    models.RoleSystem,
			Content: fmt.Sprintf("Current date: %s", hint.Now.Format("2006-01-02")),
		})
	}
	if hint.WorkingDir != "" {
		prefix = append(prefix, &models.Message{
			Role:    models.RoleSystem,
			Content: fmt.Sprintf("Working directory: %s", hint.WorkingDir),
		})
	}
	return prefix
}
