package agent

import (
	"testing"
	"time"

	"github.com/loomlabs/loom/pkg/models"
)

func TestContextBuilderPrefixOrder(t *testing.T) {
	var b ContextBuilder
	now := time.Date(2026, 8, 24, 15, 4, 5, 0, time.UTC)
	prefix := b.Build(&models.AgentConfig{SystemPrompt: "be brief"}, TurnHint{
		Now:        now,
		WorkingDir: "/srv/app",
	})

	if len(prefix) != 4 {
		t.Fatalf("got %d messages, want 4", len(prefix))
	}
	for i, msg := range prefix {
		if msg.Role != models.RoleSystem {
			t.Errorf("prefix[%d] role = %q, want system", i, msg.Role)
		}
	}
	if prefix[0].Content != coreIdentity {
		t.Errorf("prefix[0] = %q", prefix[0].Content)
	}
	if prefix[1].Content != "be brief" {
		t.Errorf("prefix[1] = %q", prefix[1].Content)
	}
	if prefix[2].Content != "Current date: 2026-08-24" {
		t.Errorf("prefix[2] = %q", prefix[2].Content)
	}
	if prefix[3].Content != "Working directory: /srv/app" {
		t.Errorf("prefix[3] = %q", prefix[3].Content)
	}
}

func TestContextBuilderZeroHints(t *testing.T) {
	var b ContextBuilder
	prefix := b.Build(nil, TurnHint{})
	if len(prefix) != 1 {
		t.Fatalf("got %d messages, want identity only", len(prefix))
	}
	if prefix[0].Content != coreIdentity {
		t.Errorf("prefix[0] = %q", prefix[0].Content)
	}
}

func TestContextBuilderEmptySystemPromptSkipped(t *testing.T) {
	var b ContextBuilder
	prefix := b.Build(&models.AgentConfig{}, TurnHint{WorkingDir: "/tmp"})
	if len(prefix) != 2 {
		t.Fatalf("got %d messages, want 2", len(prefix))
	}
	if prefix[1].Content != "Working directory: /tmp" {
		t.Errorf("prefix[1] = %q", prefix[1].Content)
	}
}
