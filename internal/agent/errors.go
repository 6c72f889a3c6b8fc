// Package agent implements the orchestrator core: the reason-act turn loop,
// the tool registry and executor, the approval gate, the context builder and
// the event emitter.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loomlabs/loom/pkg/models"
)

var (
	// ErrTooManyIterations trips when a turn exceeds its LLM call budget.
	ErrTooManyIterations = errors.New("too many loop iterations")
	// ErrToolNotFound is returned by lookups for unregistered tools.
	ErrToolNotFound = errors.New("tool not found")
	// ErrDepthExceeded trips when delegation would exceed the depth cap.
	ErrDepthExceeded error = &depthExceededError{}
)

type depthExceededError struct{}

func (*depthExceededError) Error() string { return "delegation depth exceeded" }

// Category implements models.Categorized.
func (*depthExceededError) Category() models.ErrorCategory { return models.ErrDepthExceeded }

// LoopPhase identifies where in the turn loop an error occurred.
type LoopPhase string

const (
	PhaseInit         LoopPhase = "init"
	PhaseStream       LoopPhase = "stream"
	PhaseExecuteTools LoopPhase = "execute_tools"
	PhaseContinue     LoopPhase = "continue"
	PhaseComplete     LoopPhase = "complete"
)

// LoopError wraps a turn failure with its phase and iteration.
type LoopError struct {
	Phase     LoopPhase
	Iteration int
	Cat       models.ErrorCategory
	Cause     error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("turn failed in %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
}

func (e *LoopError) Unwrap() error { return e.Cause }

// Category implements models.Categorized.
func (e *LoopError) Category() models.ErrorCategory {
	if e.Cat != "" {
		return e.Cat
	}
	return models.CategoryOf(e.Cause)
}

// reasonForError classifies a tool implementation error into the closed
// error reason set. Typed errors win; string matching is the fallback for
// errors crossing process or library boundaries.
func reasonForError(err error) models.ErrorReason {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ReasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return models.ReasonAborted
	}
	if errors.Is(err, ErrToolNotFound) {
		return models.ReasonToolNotFound
	}
	switch models.CategoryOf(err) {
	case models.ErrTimeout:
		return models.ReasonTimeout
	case models.ErrAborted:
		return models.ReasonAborted
	case models.ErrRateLimit:
		return models.ReasonRateLimit
	case models.ErrNetwork:
		return models.ReasonNetworkError
	case models.ErrPermissionDenied:
		return models.ReasonPermissionDenied
	case models.ErrNotFound:
		return models.ReasonNotFound
	case models.ErrInvalidInput:
		return models.ReasonInvalidInput
	case models.ErrDenied:
		return models.ReasonDenied
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return models.ReasonTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return models.ReasonRateLimit
	case strings.Contains(msg, "permission") || strings.Contains(msg, "forbidden"):
		return models.ReasonPermissionDenied
	case strings.Contains(msg, "not found"):
		return models.ReasonNotFound
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") || strings.Contains(msg, "dns"):
		return models.ReasonNetworkError
	case strings.Contains(msg, "invalid"):
		return models.ReasonInvalidInput
	default:
		return models.ReasonUnknown
	}
}
