package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/loomlabs/loom/pkg/models"
)

// ExecutorConfig bounds tool execution.
type ExecutorConfig struct {
	// MaxConcurrency is the worker pool size (default 3).
	MaxConcurrency int
	// Timeout is the per-call deadline (default 30s).
	Timeout time.Duration
}

// normalize fills defaults.
func (c ExecutorConfig) normalize() ExecutorConfig {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// ExecObserver receives per-call measurements. Implementations must be
// cheap; they run on the worker path.
type ExecObserver interface {
	ObserveToolExecution(name string, status models.ToolStatus, d time.Duration)
}

// Executor runs tool call batches: approval arbitration, bounded-concurrency
// dispatch, per-call deadlines, argument validation and panic containment.
// Results always come back in input order regardless of completion order.
type Executor struct {
	tools    ToolSource
	config   ExecutorConfig
	logger   *slog.Logger
	observer ExecObserver

	schemas sync.Map // tool name -> *jsonschema.Schema (nil entry: unvalidatable)
}

// NewExecutor builds an executor over a tool source.
func NewExecutor(tools ToolSource, config ExecutorConfig, logger *slog.Logger, observer ExecObserver) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		tools:    tools,
		config:   config.normalize(),
		logger:   logger,
		observer: observer,
	}
}

// ExecuteAll runs a batch. A nil approver approves everything. Denied calls
// produce status=error results with reason denied; execution failures are
// contained as error results and never abort the batch.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall, approver Approver) []*models.ToolExecutionResult {
	calls, denied := e.arbitrate(ctx, calls, approver)

	results := make([]*models.ToolExecutionResult, len(calls))
	sem := make(chan struct{}, e.config.MaxConcurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		if reason, isDenied := denied[i]; isDenied {
			results[i] = errorResult(call, reason, "tool call "+string(reason), 0)
			continue
		}
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = errorResult(call, models.ReasonAborted, ctx.Err().Error(), 0)
				return
			}
			results[idx] = e.execute(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

// arbitrate applies the approval gate. It returns the (possibly edited)
// batch plus the denied index set. One edit per batch: an Edit response
// replaces the invocations and the edited batch is reviewed once more, with
// a second Edit treated as approval.
func (e *Executor) arbitrate(ctx context.Context, calls []models.ToolCall, approver Approver) ([]models.ToolCall, map[int]models.ErrorReason) {
	denied := make(map[int]models.ErrorReason)
	if approver == nil || len(calls) == 0 {
		return calls, denied
	}

	for pass := 0; ; pass++ {
		resp, err := approver.Review(ctx, calls)
		if err != nil {
			reason := models.ReasonDenied
			if ctx.Err() != nil {
				reason = models.ReasonAborted
			}
			for i := range calls {
				denied[i] = reason
			}
			return calls, denied
		}
		switch resp.Kind {
		case ApproveAll:
			return calls, denied
		case DenyAll:
			for i := range calls {
				denied[i] = models.ReasonDenied
			}
			return calls, denied
		case ApproveSubset:
			approved := make(map[int]struct{}, len(resp.Indexes))
			for _, idx := range resp.Indexes {
				approved[idx] = struct{}{}
			}
			for i := range calls {
				if _, ok := approved[i]; !ok {
					denied[i] = models.ReasonDenied
				}
			}
			return calls, denied
		case Edit:
			if pass > 0 || len(resp.Edited) == 0 {
				return calls, denied
			}
			calls = resp.Edited
		default:
			for i := range calls {
				denied[i] = models.ReasonDenied
			}
			return calls, denied
		}
	}
}

// execute runs a single call with validation, deadline and containment.
func (e *Executor) execute(ctx context.Context, call models.ToolCall) (result *models.ToolExecutionResult) {
	start := time.Now()
	defer func() {
		if result != nil && e.observer != nil {
			e.observer.ObserveToolExecution(call.Name, result.Status, time.Since(start))
		}
	}()

	if len(call.Arguments) > MaxToolArgsSize {
		return errorResult(call, models.ReasonInvalidInput, "arguments too large", sinceMs(start))
	}
	args := call.Arguments
	if args == "" {
		args = "{}"
	}
	var parsed any
	if err := json.Unmarshal([]byte(args), &parsed); err != nil {
		return errorResult(call, models.ReasonInvalidInput, "malformed arguments: "+err.Error(), sinceMs(start))
	}

	tool, ok := e.tools.Lookup(call.Name)
	if !ok {
		return errorResult(call, models.ReasonToolNotFound, fmt.Sprintf("tool not found: %s", call.Name), sinceMs(start))
	}

	if schema := e.schemaFor(tool); schema != nil {
		if err := schema.Validate(parsed); err != nil {
			return errorResult(call, models.ReasonInvalidInput, "arguments rejected by schema: "+err.Error(), sinceMs(start))
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	toolResult, err := e.runContained(execCtx, tool, json.RawMessage(args))
	elapsed := sinceMs(start)
	if err != nil {
		return errorResult(call, reasonForError(err), err.Error(), elapsed)
	}

	out := &models.ToolExecutionResult{
		ID:         call.ID,
		Name:       call.Name,
		Status:     models.ToolStatusSuccess,
		Kind:       toolResult.Kind,
		Body:       toolResult.Content,
		Metadata:   toolResult.Metadata,
		DurationMs: elapsed,
	}
	if out.Kind == "" {
		out.Kind = models.ResultText
	}
	if toolResult.IsError {
		out.Status = models.ToolStatusError
		out.ErrorReason = models.ReasonUnknown
	}
	return out
}

// runContained executes the tool on its own goroutine so a hung tool cannot
// outlive its deadline and a panicking one cannot take down the batch.
func (e *Executor) runContained(ctx context.Context, tool Tool, args json.RawMessage) (*ToolResult, error) {
	type outcome struct {
		result *ToolResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("tool panic",
					"tool", tool.Name(),
					"panic", r,
					"stack", string(debug.Stack()),
				)
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		result, err := tool.Execute(ctx, args)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-done:
		if o.err == nil && o.result == nil {
			return nil, fmt.Errorf("tool %s returned no result", tool.Name())
		}
		return o.result, o.err
	}
}

// schemaFor compiles and caches the tool's argument schema. Tools with
// absent or uncompilable schemas skip validation.
func (e *Executor) schemaFor(tool Tool) *jsonschema.Schema {
	name := tool.Name()
	if cached, ok := e.schemas.Load(name); ok {
		schema, _ := cached.(*jsonschema.Schema)
		return schema
	}
	var schema *jsonschema.Schema
	if raw := tool.Schema(); len(raw) > 0 {
		compiled, err := jsonschema.CompileString(name+".json", string(raw))
		if err != nil {
			e.logger.Debug("tool schema not compilable, skipping validation",
				"tool", name, "error", err)
		} else {
			schema = compiled
		}
	}
	e.schemas.Store(name, schema)
	return schema
}

func errorResult(call models.ToolCall, reason models.ErrorReason, body string, durationMs int64) *models.ToolExecutionResult {
	return &models.ToolExecutionResult{
		ID:          call.ID,
		Name:        call.Name,
		Status:      models.ToolStatusError,
		Kind:        models.ResultText,
		Body:        body,
		DurationMs:  durationMs,
		ErrorReason: reason,
	}
}

func sinceMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
