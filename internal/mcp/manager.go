package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ServerConfig describes one MCP server to connect to.
type ServerConfig struct {
	ID        string            `yaml:"id" json:"id"`
	Transport string            `yaml:"transport" json:"transport"` // stdio | http
	Command   string            `yaml:"command" json:"command,omitempty"`
	Args      []string          `yaml:"args" json:"args,omitempty"`
	Env       []string          `yaml:"env" json:"env,omitempty"`
	URL       string            `yaml:"url" json:"url,omitempty"`
	Headers   map[string]string `yaml:"headers" json:"headers,omitempty"`
	Timeout   time.Duration     `yaml:"timeout" json:"timeout,omitempty"`
}

// Manager owns a set of MCP clients. Subprocess lifetime is tied to the
// manager: Close is the only path that kills children.
type Manager struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	order   []string
	closed  bool
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger, clients: make(map[string]*Client)}
}

// AddServer registers a server configuration. Duplicate ids are rejected.
func (m *Manager) AddServer(cfg ServerConfig) error {
	if cfg.ID == "" {
		return errors.New("mcp: server id required")
	}
	var t Transport
	switch cfg.Transport {
	case "stdio", "":
		if cfg.Command == "" {
			return fmt.Errorf("mcp: server %s: command required for stdio transport", cfg.ID)
		}
		t = NewStdioTransport(cfg.Command, cfg.Args, cfg.Env, m.logger)
	case "http":
		if cfg.URL == "" {
			return fmt.Errorf("mcp: server %s: url required for http transport", cfg.ID)
		}
		t = NewHTTPTransport(cfg.URL, cfg.Headers, http.DefaultClient)
	default:
		return fmt.Errorf("mcp: server %s: unknown transport %q", cfg.ID, cfg.Transport)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("mcp: manager closed")
	}
	if _, exists := m.clients[cfg.ID]; exists {
		return fmt.Errorf("mcp: duplicate server id %q", cfg.ID)
	}
	m.clients[cfg.ID] = NewClient(cfg.ID, t, cfg.Timeout, m.logger)
	m.order = append(m.order, cfg.ID)
	return nil
}

// ConnectAll connects every registered server and loads its tool catalog.
// Individual failures are logged and skipped; the affected server's tools
// simply do not appear in the registry.
func (m *Manager) ConnectAll(ctx context.Context) {
	for _, client := range m.Clients() {
		if err := client.Connect(ctx); err != nil {
			m.logger.Warn("mcp server connect failed", "server", client.ServerID(), "error", err)
			continue
		}
		if _, err := client.ListTools(ctx); err != nil {
			m.logger.Warn("mcp tool discovery failed", "server", client.ServerID(), "error", err)
		}
	}
}

// Client returns the client for a server id.
func (m *Manager) Client(id string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	return c, ok
}

// Clients returns all clients in registration order.
func (m *Manager) Clients() []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Client, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.clients[id])
	}
	return out
}

// Close shuts down every client. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	clients := make([]*Client, 0, len(m.order))
	for _, id := range m.order {
		clients = append(clients, m.clients[id])
	}
	m.mu.Unlock()

	var firstErr error
	for _, c := range clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
