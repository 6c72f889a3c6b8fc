package providers

import (
	"log/slog"

	"github.com/loomlabs/loom/internal/backoff"
	"github.com/loomlabs/loom/internal/transport"
)

// CopilotProvider targets the GitHub Copilot chat API. The wire shape is
// OpenAI-compatible; the one Copilot-specific requirement is the
// X-Initiator header, which must be "user" iff the last non-system message
// of the request is a user message. The header is derived from the outbound
// payload by a dedicated round-tripper so every call path gets it.
type CopilotProvider struct {
	*OpenAICompatProvider
}

// NewCopilot builds a Copilot provider from a descriptor pointing at the
// Copilot endpoint (or a local proxy for it).
func NewCopilot(desc Descriptor, policy backoff.Policy, logger *slog.Logger) *CopilotProvider {
	if desc.Key == "" {
		desc.Key = "copilot"
	}
	inner := newOpenAICompat(desc, policy, &transport.InitiatorTransport{}, logger)
	return &CopilotProvider{OpenAICompatProvider: inner}
}
