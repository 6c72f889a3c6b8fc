package mcp

import (
	"context"
	"encoding/json"
)

// Transport moves JSON-RPC messages to and from one MCP server. Requests are
// multiplexed by id: implementations keep an id→channel map and a single
// reader demultiplexing responses, so out-of-order completion is supported.
type Transport interface {
	// Connect opens the transport (spawns the child process or validates
	// the endpoint). Idempotent once connected.
	Connect(ctx context.Context) error

	// Call sends a request and waits for the matching response or ctx end.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification; no response is expected.
	Notify(ctx context.Context, method string, params any) error

	// Close tears the transport down, terminating any child process and
	// failing all pending calls. Idempotent.
	Close() error
}
