// Package main provides the CLI entry point for the loom agent orchestrator.
//
// Loom drives LLM turns against a tool registry: local built-ins, MCP
// servers and delegated sub-agents, with conversation memory and Prometheus
// metrics.
//
// # Basic Usage
//
// Run one turn:
//
//	loom run --config loom.yaml "summarize the open incidents"
//
// List the configured provider's models:
//
//	loom models --config loom.yaml
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/loomlabs/loom/internal/agent"
	"github.com/loomlabs/loom/internal/agent/providers"
	"github.com/loomlabs/loom/internal/backoff"
	"github.com/loomlabs/loom/internal/config"
	"github.com/loomlabs/loom/internal/mcp"
	"github.com/loomlabs/loom/internal/memory"
	"github.com/loomlabs/loom/internal/metrics"
	"github.com/loomlabs/loom/internal/subagent"
	"github.com/loomlabs/loom/internal/usage"
	"github.com/loomlabs/loom/pkg/models"
)

// Build information, populated by ldflags.
var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "loom",
		Short:         "Loom LLM agent orchestrator",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "loom.yaml", "path to configuration file")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newModelsCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	var conversationID string
	var noStream bool

	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Run one turn against the agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			rt, err := newRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.close()

			if cfg.Metrics.Addr != "" {
				go serveMetrics(cfg.Metrics.Addr, rt.metrics, logger)
			}
			if conversationID == "" {
				conversationID = uuid.NewString()
			}

			msg, err := rt.orchestrator.Send(ctx, conversationID, args[0], agent.SendOptions{
				Stream: !noStream,
				Hint: agent.TurnHint{
					Now:        time.Now(),
					WorkingDir: mustGetwd(),
				},
			})
			if err != nil {
				return err
			}
			if noStream {
				fmt.Println(msg.Content)
			} else {
				fmt.Println()
			}
			fmt.Fprintln(os.Stderr, usage.FormatUsage(rt.usage.Conversation(conversationID)))
			return nil
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id (default: a new one)")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the full response instead of streaming")
	return cmd
}

func newModelsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the configured provider's models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			desc, err := cfg.Descriptor()
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			provider := buildProvider(desc, logger)
			infos, err := provider.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			for _, info := range infos {
				if info.Name != "" && info.Name != info.ID {
					fmt.Printf("%s\t%s\n", info.ID, info.Name)
					continue
				}
				fmt.Println(info.ID)
			}
			return nil
		},
	}
}

// runtime bundles the wired components for one CLI invocation.
type runtime struct {
	orchestrator *agent.Orchestrator
	emitter      *agent.Emitter
	usage        *usage.Tracker
	metrics      *metrics.Metrics
	closers      []func() error
}

func (r *runtime) close() {
	r.emitter.Close()
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			fmt.Fprintln(os.Stderr, "shutdown:", err)
		}
	}
}

// newRuntime wires provider, memory, MCP, delegation and metrics into an
// orchestrator per the loaded configuration.
func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	desc, err := cfg.Descriptor()
	if err != nil {
		return nil, err
	}
	provider := buildProvider(desc, logger)

	store, storeCloser, err := buildMemory(cfg.Memory)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		usage:   usage.NewTracker(),
		metrics: metrics.New(),
	}
	if storeCloser != nil {
		rt.closers = append(rt.closers, storeCloser)
	}

	manager := mcp.NewManager(logger)
	for _, server := range cfg.MCPServers {
		if err := manager.AddServer(server); err != nil {
			return nil, err
		}
	}
	manager.ConnectAll(ctx)
	rt.closers = append(rt.closers, manager.Close)

	templates := subagent.NewRegistry()
	for _, tmpl := range cfg.Subagents {
		if err := templates.Register(tmpl); err != nil {
			return nil, err
		}
	}

	approver := newPromptApprover(os.Stdin, os.Stderr)

	// The delegation factory closes over svc, which is assigned right after
	// NewService returns; Assign never runs before then.
	var svc *subagent.Service
	factory := func(ctx context.Context, tmpl subagent.Template, depth int) (*agent.Orchestrator, error) {
		childConfig := cfg.Agent
		childConfig.SystemPrompt = tmpl.SystemPrompt
		childConfig.EnabledTools = tmpl.Tools
		if tmpl.Model != "" {
			childConfig.Model = tmpl.Model
		}
		return buildOrchestrator(provider, store, manager, svc, &childConfig, rt, depth, logger, nil, approver)
	}
	svc = subagent.NewService(templates, factory, cfg.Agent.MaxDelegationDepth, 0, logger)

	stdout := agent.EventSinkFunc(func(event models.AgentEvent) {
		if event.Type == models.EventAssistantChunk {
			fmt.Print(event.Delta)
		}
	})
	orchestrator, err := buildOrchestrator(provider, store, manager, svc, &cfg.Agent, rt, 0, logger, stdout, approver)
	if err != nil {
		return nil, err
	}
	rt.orchestrator = orchestrator
	rt.emitter = orchestrator.Emitter()
	return rt, nil
}

// buildOrchestrator assembles the tool surface and loop for one depth level.
// Each level gets its own assign_task instance so the depth bound holds.
func buildOrchestrator(provider providers.Provider, store memory.Store, manager *mcp.Manager, svc *subagent.Service, agentConfig *models.AgentConfig, rt *runtime, depth int, logger *slog.Logger, sink agent.EventSink, approver agent.Approver) (*agent.Orchestrator, error) {
	registry := agent.NewRegistry()
	if err := registry.Register(agent.NewEchoTool()); err != nil {
		return nil, err
	}
	if svc != nil {
		if err := registry.Register(subagent.NewAssignTaskTool(svc, depth)); err != nil {
			return nil, err
		}
	}
	composite := agent.NewComposite(logger, registry, mcp.NewSource(manager))

	executor := agent.NewExecutor(composite, agent.ExecutorConfig{
		MaxConcurrency: agentConfig.MaxToolConcurrency,
		Timeout:        agentConfig.ToolTimeout,
	}, logger, rt.metrics)

	var emitter *agent.Emitter
	if sink != nil {
		emitter = agent.NewEmitter(logger, sink)
	}
	return agent.New(agent.Options{
		Provider: provider,
		Tools:    composite,
		Executor: executor,
		Memory:   store,
		Emitter:  emitter,
		Config:   agentConfig,
		Approver: approver,
		Observer: rt.metrics,
		Usage:    rt.usage,
		Logger:   logger,
		Depth:    depth,
	})
}

// promptApprover reviews tool call batches on the terminal. Anything but an
// explicit yes denies the batch.
type promptApprover struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newPromptApprover(in io.Reader, out io.Writer) *promptApprover {
	return &promptApprover{in: bufio.NewReader(in), out: out}
}

// Review implements agent.Approver.
func (a *promptApprover) Review(ctx context.Context, calls []models.ToolCall) (*agent.ApprovalResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fmt.Fprintln(a.out, "tool calls awaiting approval:")
	for i, call := range calls {
		args := call.Arguments
		if len(args) > 200 {
			args = args[:200] + "..."
		}
		fmt.Fprintf(a.out, "  [%d] %s %s\n", i, call.Name, args)
	}
	fmt.Fprint(a.out, "approve? [y/N] ")

	type reply struct {
		line string
		err  error
	}
	answer := make(chan reply, 1)
	go func() {
		line, err := a.in.ReadString('\n')
		answer <- reply{line, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-answer:
		if r.err != nil {
			return &agent.ApprovalResponse{Kind: agent.DenyAll}, nil
		}
		switch strings.ToLower(strings.TrimSpace(r.line)) {
		case "y", "yes":
			return &agent.ApprovalResponse{Kind: agent.ApproveAll}, nil
		}
		return &agent.ApprovalResponse{Kind: agent.DenyAll}, nil
	}
}

func buildProvider(desc providers.Descriptor, logger *slog.Logger) providers.Provider {
	policy := backoff.DefaultPolicy()
	switch desc.Key {
	case "anthropic":
		return providers.NewAnthropic(desc, policy, nil, logger)
	case "copilot":
		return providers.NewCopilot(desc, policy, logger)
	default:
		return providers.NewOpenAICompat(desc, policy, logger)
	}
}

func buildMemory(cfg config.MemoryConfig) (memory.Store, func() error, error) {
	switch cfg.Backend {
	case "", "memory":
		return memory.NewInMemoryStore(), nil, nil
	case "file":
		store, err := memory.NewFileStore(cfg.Path)
		return store, nil, err
	case "sqlite":
		store, err := memory.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "addr", addr, "error", err)
	}
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return wd
}
