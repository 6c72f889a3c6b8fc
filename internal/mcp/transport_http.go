package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/loomlabs/loom/internal/transport"
)

// sessionHeader carries the server-assigned session id across requests.
const sessionHeader = "Mcp-Session-Id"

// HTTPTransport POSTs one JSON-RPC request per call to a fixed endpoint,
// threading the session id the server assigns on the first response. Servers
// may answer a POST with either a JSON body or a text/event-stream; in the
// streaming case the response is the first event carrying a message id, and
// id-less server notifications are skipped.
type HTTPTransport struct {
	endpoint string
	headers  map[string]string
	client   *http.Client

	nextID atomic.Int64

	mu        sync.Mutex
	sessionID string
	closed    bool
}

// NewHTTPTransport prepares an HTTP transport for the given endpoint.
func NewHTTPTransport(endpoint string, headers map[string]string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{endpoint: endpoint, headers: headers, client: client}
}

// Connect validates nothing eagerly; the session starts with the first call.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("mcp: transport closed")
	}
	return nil
}

// Call POSTs the request and decodes the matching response.
func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := t.nextID.Add(1)
	body, err := t.post(ctx, JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}, true)
	if err != nil {
		return nil, err
	}
	var resp JSONRPCResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("mcp: decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// Notify POSTs a notification and discards the body.
func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	_, err := t.post(ctx, JSONRPCNotification{JSONRPC: "2.0", Method: method, Params: params}, false)
	return err
}

func (t *HTTPTransport) post(ctx context.Context, msg any, wantResponse bool) ([]byte, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.New("mcp: transport closed")
	}
	session := t.sessionID
	t.mu.Unlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if session != "" {
		req.Header.Set(sessionHeader, session)
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if s := resp.Header.Get(sessionHeader); s != "" {
		t.mu.Lock()
		t.sessionID = s
		t.mu.Unlock()
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxLineBytes))
		return nil, fmt.Errorf("mcp: http %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readSSEResponse(resp.Body, wantResponse)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxLineBytes))
}

// readSSEResponse scans a streamable-HTTP event stream for the response
// message: the first event whose payload carries a message id. Events without
// one are server notifications and are skipped.
func readSSEResponse(r io.Reader, wantResponse bool) ([]byte, error) {
	limited := io.LimitReader(r, maxLineBytes)
	if !wantResponse {
		io.Copy(io.Discard, limited) //nolint:errcheck
		return nil, nil
	}
	events := transport.NewSSEReader(limited)
	for {
		ev, err := events.Next()
		if err == io.EOF {
			return nil, errors.New("mcp: event stream ended without a response")
		}
		if err != nil {
			return nil, err
		}
		if ev.Data == "" {
			continue
		}
		var envelope struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal([]byte(ev.Data), &envelope); err != nil {
			return nil, fmt.Errorf("mcp: decode event: %w", err)
		}
		if len(envelope.ID) == 0 || string(envelope.ID) == "null" {
			continue
		}
		return []byte(ev.Data), nil
	}
}

// Close marks the transport unusable.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
