package agent

import (
	"context"
	"sync"

	"github.com/loomlabs/loom/pkg/models"
)

// ApprovalKind is the operator's decision over a tool call batch.
type ApprovalKind string

const (
	ApproveAll    ApprovalKind = "approve_all"
	ApproveSubset ApprovalKind = "approve_subset"
	DenyAll       ApprovalKind = "deny_all"
	Edit          ApprovalKind = "edit"
)

// ApprovalResponse is returned by an Approver for one batch.
type ApprovalResponse struct {
	Kind ApprovalKind
	// Indexes selects the approved invocations for ApproveSubset, by input
	// index.
	Indexes []int
	// Edited replaces the batch for Edit. The edited batch is re-presented
	// once; a second edit is treated as ApproveAll over the edited calls.
	Edited []models.ToolCall
}

// Approver arbitrates tool execution. Implementations are handler values
// rather than loose closures so cancellation and lifetime stay explicit;
// Review must honor ctx, which is cancelled when the turn aborts.
type Approver interface {
	Review(ctx context.Context, calls []models.ToolCall) (*ApprovalResponse, error)
}

// ApproveAllApprover approves every batch. Used for ApprovalNever mode.
type ApproveAllApprover struct{}

// Review implements Approver.
func (ApproveAllApprover) Review(ctx context.Context, calls []models.ToolCall) (*ApprovalResponse, error) {
	return &ApprovalResponse{Kind: ApproveAll}, nil
}

// SessionApprover wraps an inner approver with per-conversation memory:
// once a tool name has been approved for a conversation, later calls to it
// skip review. Implements the "session-scoped" approval policy.
type SessionApprover struct {
	Inner Approver

	mu       sync.Mutex
	approved map[string]map[string]struct{} // conversation -> tool names
}

// NewSessionApprover wraps inner with session-scoped memory.
func NewSessionApprover(inner Approver) *SessionApprover {
	return &SessionApprover{
		Inner:    inner,
		approved: make(map[string]map[string]struct{}),
	}
}

// ReviewFor reviews a batch for a conversation, consulting and updating the
// session memory.
func (a *SessionApprover) ReviewFor(ctx context.Context, conversationID string, calls []models.ToolCall) (*ApprovalResponse, error) {
	a.mu.Lock()
	session := a.approved[conversationID]
	allKnown := session != nil
	if session != nil {
		for _, call := range calls {
			if _, ok := session[call.Name]; !ok {
				allKnown = false
				break
			}
		}
	}
	a.mu.Unlock()

	if allKnown {
		return &ApprovalResponse{Kind: ApproveAll}, nil
	}
	resp, err := a.Inner.Review(ctx, calls)
	if err != nil {
		return nil, err
	}
	a.remember(conversationID, calls, resp)
	return resp, nil
}

func (a *SessionApprover) remember(conversationID string, calls []models.ToolCall, resp *ApprovalResponse) {
	var names []string
	switch resp.Kind {
	case ApproveAll:
		for _, c := range calls {
			names = append(names, c.Name)
		}
	case ApproveSubset:
		for _, idx := range resp.Indexes {
			if idx >= 0 && idx < len(calls) {
				names = append(names, calls[idx].Name)
			}
		}
	default:
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	session := a.approved[conversationID]
	if session == nil {
		session = make(map[string]struct{})
		a.approved[conversationID] = session
	}
	for _, name := range names {
		session[name] = struct{}{}
	}
}
