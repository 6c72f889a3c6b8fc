package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// clientVersion is reported in the initialize handshake.
const clientVersion = "0.3.0"

// degradedThreshold is the number of consecutive call timeouts after which
// the server is marked degraded and refuses further calls until Reset.
const degradedThreshold = 3

// ErrDegraded is returned for calls against a server marked degraded.
var ErrDegraded = errors.New("mcp: server degraded after repeated timeouts")

// Client drives one MCP server through a transport: handshake, tool
// discovery and tool calls. Timeouts are per call and do not kill the
// session; repeated consecutive timeouts degrade the server instead.
type Client struct {
	serverID    string
	transport   Transport
	callTimeout time.Duration
	logger      *slog.Logger

	mu                  sync.Mutex
	connected           bool
	tools               []Tool
	consecutiveTimeouts int
	degraded            bool
}

// NewClient wraps a transport for the named server. A non-positive timeout
// defaults to 30s.
func NewClient(serverID string, transport Transport, callTimeout time.Duration, logger *slog.Logger) *Client {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		serverID:    serverID,
		transport:   transport,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// ServerID returns the configured server identifier.
func (c *Client) ServerID() string { return c.serverID }

// Connect opens the transport and performs the initialize handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.transport.Connect(ctx); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	result, err := c.transport.Call(callCtx, "initialize", InitializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    ClientCapabilities{Tools: &struct{}{}},
		ClientInfo:      Implementation{Name: "loom", Version: clientVersion},
	})
	if err != nil {
		return fmt.Errorf("mcp: initialize %s: %w", c.serverID, err)
	}
	var init InitializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		return fmt.Errorf("mcp: initialize %s: decode: %w", c.serverID, err)
	}
	if err := c.transport.Notify(ctx, "notifications/initialized", struct{}{}); err != nil {
		return fmt.Errorf("mcp: initialized notification %s: %w", c.serverID, err)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.logger.Info("mcp server connected",
		"server", c.serverID,
		"remote", init.ServerInfo.Name,
		"protocol", init.ProtocolVersion,
	)
	return nil
}

// ListTools fetches and caches the server's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	result, err := c.transport.Call(callCtx, "tools/list", struct{}{})
	if err != nil {
		return nil, fmt.Errorf("mcp: tools/list %s: %w", c.serverID, err)
	}
	var list ListToolsResult
	if err := json.Unmarshal(result, &list); err != nil {
		return nil, fmt.Errorf("mcp: tools/list %s: decode: %w", c.serverID, err)
	}
	c.mu.Lock()
	c.tools = list.Tools
	c.mu.Unlock()
	return list.Tools, nil
}

// Tools returns the cached catalog from the last ListTools.
func (c *Client) Tools() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Tool(nil), c.tools...)
}

// CallTool invokes a remote tool with the per-call timeout. A timeout does
// not kill the session; it counts toward the degraded threshold.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*CallToolResult, error) {
	c.mu.Lock()
	if c.degraded {
		c.mu.Unlock()
		return nil, ErrDegraded
	}
	c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	result, err := c.transport.Call(callCtx, "tools/call", CallToolParams{
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			c.recordTimeout()
		}
		return nil, err
	}
	c.clearTimeouts()

	var callResult CallToolResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("mcp: tools/call %s/%s: decode: %w", c.serverID, name, err)
	}
	return &callResult, nil
}

func (c *Client) recordTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveTimeouts++
	if c.consecutiveTimeouts >= degradedThreshold && !c.degraded {
		c.degraded = true
		c.logger.Warn("mcp server degraded",
			"server", c.serverID,
			"consecutive_timeouts", c.consecutiveTimeouts,
		)
	}
}

func (c *Client) clearTimeouts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveTimeouts = 0
}

// Degraded reports whether the server is refusing calls.
func (c *Client) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Reset clears the degraded state, allowing calls again.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.degraded = false
	c.consecutiveTimeouts = 0
}

// Close tears down the transport. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return c.transport.Close()
}
