package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
)

// maxLineBytes bounds a single framed message; servers emitting bigger
// payloads are misbehaving.
const maxLineBytes = 10 << 20

// StdioTransport frames JSON-RPC messages as newline-terminated JSON over a
// child process's stdin/stdout. The transport owns the subprocess: it is
// spawned on Connect and killed on Close, never per call.
type StdioTransport struct {
	command string
	args    []string
	env     []string
	logger  *slog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	connected bool
	closed    bool

	nextID  atomic.Int64
	pending sync.Map // int64 -> chan *JSONRPCResponse
}

// NewStdioTransport prepares a stdio transport for the given command line.
func NewStdioTransport(command string, args, env []string, logger *slog.Logger) *StdioTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{command: command, args: args, env: env, logger: logger}
}

// Connect spawns the server process and starts the response reader.
func (t *StdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return nil
	}
	if t.closed {
		return errors.New("mcp: transport closed")
	}

	cmd := exec.CommandContext(ctx, t.command, t.args...)
	if len(t.env) > 0 {
		cmd.Env = append(cmd.Environ(), t.env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("mcp: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("mcp: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("mcp: start %s: %w", t.command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.connected = true
	go t.readLoop(stdout)
	return nil
}

// readLoop demultiplexes responses to their waiting callers.
func (t *StdioTransport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp JSONRPCResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			t.logger.Debug("mcp: skipping unparseable line", "error", err)
			continue
		}
		if resp.ID == 0 && resp.Result == nil && resp.Error == nil {
			// Server-initiated notification; the core ignores these.
			continue
		}
		if ch, ok := t.pending.LoadAndDelete(resp.ID); ok {
			ch.(chan *JSONRPCResponse) <- &resp
		}
	}
	t.failPending(errors.New("mcp: server closed stream"))
}

// Call sends a request and waits for its response.
func (t *StdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := t.nextID.Add(1)
	respCh := make(chan *JSONRPCResponse, 1)
	t.pending.Store(id, respCh)
	defer t.pending.Delete(id)

	if err := t.write(JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

// Notify sends a notification.
func (t *StdioTransport) Notify(ctx context.Context, method string, params any) error {
	return t.write(JSONRPCNotification{JSONRPC: "2.0", Method: method, Params: params})
}

func (t *StdioTransport) write(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mcp: marshal: %w", err)
	}
	data = append(data, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected || t.closed {
		return errors.New("mcp: transport not connected")
	}
	_, err = t.stdin.Write(data)
	return err
}

// Close terminates the subprocess and fails all pending calls.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	stdin := t.stdin
	cmd := t.cmd
	t.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
		cmd.Wait() //nolint:errcheck
	}
	t.failPending(errors.New("mcp: transport closed"))
	return nil
}

func (t *StdioTransport) failPending(err error) {
	t.pending.Range(func(key, value any) bool {
		t.pending.Delete(key)
		value.(chan *JSONRPCResponse) <- &JSONRPCResponse{
			Error: &JSONRPCError{Code: -32000, Message: err.Error()},
		}
		return true
	})
}
