package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomlabs/loom/internal/agent/providers"
	"github.com/loomlabs/loom/internal/memory"
	"github.com/loomlabs/loom/internal/usage"
	"github.com/loomlabs/loom/pkg/models"
)

// LLMObserver receives per-call LLM measurements.
type LLMObserver interface {
	ObserveLLMCall(provider, model string, d time.Duration, u models.Usage)
}

// Options wires an orchestrator. Provider, Tools, Executor, Memory and
// Config are required; everything else defaults to a no-op.
type Options struct {
	Provider providers.Provider
	Tools    *Composite
	Executor *Executor
	Memory   memory.Store
	Emitter  *Emitter
	Config   *models.AgentConfig
	Approver Approver
	Observer LLMObserver
	Usage    *usage.Tracker
	Logger   *slog.Logger

	// Depth is this instance's delegation depth; 0 for the root agent.
	Depth int
}

// SendOptions adjusts one Send call.
type SendOptions struct {
	// Stream selects the streaming path (the canonical one). When false the
	// whole response arrives as a single chunk; behaviour is otherwise
	// identical.
	Stream bool
	// Hint feeds the context builder's reminders.
	Hint TurnHint
}

// Orchestrator drives the reason-act loop for one agent. Conversations are
// independent; a single turn runs on one coordinating goroutine, with
// concurrency confined to tool dispatch. The orchestrator is an explicit
// value owned by the host; there is no global state.
type Orchestrator struct {
	provider providers.Provider
	tools    *Composite
	executor *Executor
	memory   memory.Store
	builder  ContextBuilder
	emitter  *Emitter
	config   *models.AgentConfig
	approver Approver
	session  *SessionApprover
	observer LLMObserver
	usage    *usage.Tracker
	logger   *slog.Logger
	depth    int
}

// New validates options and builds an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Provider == nil:
		return nil, errors.New("agent: provider required")
	case opts.Tools == nil:
		return nil, errors.New("agent: tool port required")
	case opts.Executor == nil:
		return nil, errors.New("agent: executor required")
	case opts.Memory == nil:
		return nil, errors.New("agent: memory store required")
	case opts.Config == nil:
		return nil, errors.New("agent: config required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Emitter == nil {
		opts.Emitter = NewEmitter(opts.Logger)
	}
	o := &Orchestrator{
		provider: opts.Provider,
		tools:    opts.Tools,
		executor: opts.Executor,
		memory:   opts.Memory,
		emitter:  opts.Emitter,
		config:   opts.Config.Normalize(),
		approver: opts.Approver,
		observer: opts.Observer,
		usage:    opts.Usage,
		logger:   opts.Logger,
		depth:    opts.Depth,
	}
	// An approval policy without an approver must fail closed here rather
	// than silently executing every tool call unreviewed.
	if o.config.RequireToolApproval != models.ApprovalNever && opts.Approver == nil {
		return nil, fmt.Errorf("agent: approver required for approval mode %q", o.config.RequireToolApproval)
	}
	if o.config.RequireToolApproval == models.ApprovalSession {
		o.session = NewSessionApprover(opts.Approver)
	}
	return o, nil
}

// Config returns the agent configuration.
func (o *Orchestrator) Config() *models.AgentConfig { return o.config }

// Depth returns this instance's delegation depth.
func (o *Orchestrator) Depth() int { return o.depth }

// Tools returns the composite tool port.
func (o *Orchestrator) Tools() *Composite { return o.tools }

// Emitter returns the event emitter.
func (o *Orchestrator) Emitter() *Emitter { return o.emitter }

// Send runs one turn: it appends the user message, then loops the model
// against the tools until a terminal assistant message arrives. On success
// the terminal message is returned with all intermediate messages appended
// to memory in order. On failure the categorized error is returned; memory
// keeps whatever was already appended.
func (o *Orchestrator) Send(ctx context.Context, conversationID, userInput string, opts SendOptions) (*models.Message, error) {
	history, err := o.memory.Get(ctx, conversationID)
	if err != nil {
		o.warn(conversationID, "memory read failed, starting from empty history", err)
		history = nil
	}

	userMsg := &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   userInput,
		Timestamp: time.Now(),
	}
	o.persist(ctx, conversationID, userMsg)
	history = append(history, userMsg)

	o.emitter.Emit(models.AgentEvent{
		Type:           models.EventMessageStarted,
		ConversationID: conversationID,
		MessageID:      userMsg.ID,
	})

	turnUsage := &models.Usage{}
	for iteration := 1; iteration <= o.config.MaxLLMCallsPerTurn; iteration++ {
		assistant, failErr := o.step(ctx, conversationID, history, turnUsage, iteration, opts)
		if failErr != nil {
			o.emitError(conversationID, failErr)
			return nil, failErr
		}
		history = append(history, assistant)

		if len(assistant.ToolCalls) == 0 {
			o.emitter.Emit(models.AgentEvent{
				Type:           models.EventDone,
				ConversationID: conversationID,
				MessageID:      assistant.ID,
				Usage:          turnUsage,
			})
			return assistant, nil
		}

		toolMsgs, failErr := o.dispatchTools(ctx, conversationID, assistant, iteration)
		if failErr != nil {
			o.emitError(conversationID, failErr)
			return nil, failErr
		}
		history = append(history, toolMsgs...)
	}

	failErr := &LoopError{
		Phase:     PhaseContinue,
		Iteration: o.config.MaxLLMCallsPerTurn,
		Cat:       models.ErrTooManyIterations,
		Cause:     ErrTooManyIterations,
	}
	o.emitError(conversationID, failErr)
	return nil, failErr
}

// step performs one LLM call and persists the assistant message.
func (o *Orchestrator) step(ctx context.Context, conversationID string, history []*models.Message, turnUsage *models.Usage, iteration int, opts SendOptions) (*models.Message, error) {
	prompt := append(o.builder.Build(o.config, opts.Hint), history...)
	req := &providers.Request{
		Model:        o.config.Model,
		Messages:     prompt,
		Temperature:  o.config.Temperature,
		TopP:         o.config.TopP,
		MaxTokens:    o.config.MaxTokens,
		Tools:        o.tools.FilteredDefinitions(o.config.EnabledTools),
		IncludeUsage: true,
	}

	messageID := uuid.NewString()
	var partial strings.Builder
	start := time.Now()

	var completion *providers.Completion
	var err error
	if opts.Stream {
		completion, err = o.provider.StreamCompletion(ctx, req, o.streamHandlers(conversationID, messageID, &partial))
	} else {
		completion, err = o.provider.GenerateCompletion(ctx, req)
		if err == nil && completion.Content != "" {
			partial.WriteString(completion.Content)
			o.emitter.Emit(models.AgentEvent{
				Type:           models.EventAssistantChunk,
				ConversationID: conversationID,
				MessageID:      messageID,
				Delta:          completion.Content,
			})
		}
	}
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			o.persistAborted(conversationID, messageID, partial.String())
			return nil, &LoopError{Phase: PhaseStream, Iteration: iteration, Cat: models.ErrAborted, Cause: ctx.Err()}
		}
		return nil, &LoopError{Phase: PhaseStream, Iteration: iteration, Cause: err}
	}

	completion.Usage.Normalize()
	turnUsage.Add(&completion.Usage)
	if o.observer != nil {
		o.observer.ObserveLLMCall(o.provider.Name(), o.config.Model, elapsed, completion.Usage)
	}
	if o.usage != nil {
		o.usage.Add(conversationID, o.provider.Name(), o.config.Model, completion.Usage)
	}

	// A tool-requesting response with no text persists with empty content
	// and the tool calls set.
	assistant := &models.Message{
		ID:        messageID,
		Role:      models.RoleAssistant,
		Content:   completion.Content,
		ToolCalls: completion.ToolCalls,
		Timestamp: time.Now(),
		Usage:     &completion.Usage,
	}
	o.persist(ctx, conversationID, assistant)
	o.emitter.Emit(models.AgentEvent{
		Type:           models.EventAssistantMessage,
		ConversationID: conversationID,
		MessageID:      assistant.ID,
		Message:        assistant,
	})
	return assistant, nil
}

// streamHandlers builds the streaming handler set for one assistant message.
func (o *Orchestrator) streamHandlers(conversationID, messageID string, partial *strings.Builder) providers.Handlers {
	return providers.Handlers{
		OnChunk: func(delta string) {
			partial.WriteString(delta)
			o.emitter.Emit(models.AgentEvent{
				Type:           models.EventAssistantChunk,
				ConversationID: conversationID,
				MessageID:      messageID,
				Delta:          delta,
			})
		},
	}
}

// dispatchTools runs the assistant's tool calls and persists their results
// in tool-call order.
func (o *Orchestrator) dispatchTools(ctx context.Context, conversationID string, assistant *models.Message, iteration int) ([]*models.Message, error) {
	o.emitter.Emit(models.AgentEvent{
		Type:           models.EventToolCalls,
		ConversationID: conversationID,
		MessageID:      assistant.ID,
		ToolCalls:      assistant.ToolCalls,
	})

	results := o.executor.ExecuteAll(ctx, assistant.ToolCalls, o.approverFor(conversationID))
	if ctx.Err() != nil {
		return nil, &LoopError{Phase: PhaseExecuteTools, Iteration: iteration, Cat: models.ErrAborted, Cause: ctx.Err()}
	}

	toolMsgs := make([]*models.Message, 0, len(results))
	for _, result := range results {
		msg := result.Message(uuid.NewString(), time.Now())
		o.persist(ctx, conversationID, msg)
		o.emitter.Emit(models.AgentEvent{
			Type:           models.EventToolResult,
			ConversationID: conversationID,
			MessageID:      msg.ID,
			ToolResult:     result,
		})
		toolMsgs = append(toolMsgs, msg)
	}
	return toolMsgs, nil
}

// approverFor resolves the effective approver under the configured policy.
func (o *Orchestrator) approverFor(conversationID string) Approver {
	switch o.config.RequireToolApproval {
	case models.ApprovalAlways:
		return o.approver
	case models.ApprovalSession:
		if o.session == nil {
			return nil
		}
		return sessionBound{approver: o.session, conversationID: conversationID}
	default:
		return nil
	}
}

type sessionBound struct {
	approver       *SessionApprover
	conversationID string
}

func (s sessionBound) Review(ctx context.Context, calls []models.ToolCall) (*ApprovalResponse, error) {
	return s.approver.ReviewFor(ctx, s.conversationID, calls)
}

// persist appends one message to memory. Failure is a warning, not a turn
// failure: the loop continues on its in-memory history.
func (o *Orchestrator) persist(ctx context.Context, conversationID string, msg *models.Message) {
	if err := o.memory.Append(ctx, conversationID, []*models.Message{msg}); err != nil {
		o.warn(conversationID, "memory append failed, continuing in-memory", err)
	}
}

// persistAborted records partial streamed content when a turn is cancelled.
func (o *Orchestrator) persistAborted(conversationID, messageID, partial string) {
	if partial == "" {
		return
	}
	msg := &models.Message{
		ID:        messageID,
		Role:      models.RoleAssistant,
		Content:   partial,
		Timestamp: time.Now(),
		Metadata:  map[string]any{"aborted": true},
	}
	// The turn context is gone; persistence gets its own short deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o.persist(ctx, conversationID, msg)
}

func (o *Orchestrator) warn(conversationID, text string, err error) {
	o.logger.Warn(text, "conversation", conversationID, "error", err)
	o.emitter.Emit(models.AgentEvent{
		Type:           models.EventWarning,
		ConversationID: conversationID,
		Text:           fmt.Sprintf("%s: %v", text, err),
	})
}

func (o *Orchestrator) emitError(conversationID string, err error) {
	o.emitter.Emit(models.AgentEvent{
		Type:           models.EventError,
		ConversationID: conversationID,
		Category:       models.CategoryOf(err),
		Text:           err.Error(),
	})
}
