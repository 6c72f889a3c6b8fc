package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestHTTPTransportCallJSON(t *testing.T) {
	var sessions atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Method != "ping" {
			t.Errorf("method = %q", req.Method)
		}
		if r.Header.Get(sessionHeader) != "" {
			sessions.Add(1)
		}
		w.Header().Set(sessionHeader, "sess-1")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"ok":true}}`, req.ID)
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL, nil, nil)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Close()

	result, err := tr.Call(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(result) != `{"ok":true}` {
		t.Errorf("result = %s", result)
	}

	// The assigned session id rides on the next request.
	if _, err := tr.Call(context.Background(), "ping", nil); err != nil {
		t.Fatalf("second Call: %v", err)
	}
	if sessions.Load() != 1 {
		t.Errorf("session header sent on %d requests, want 1", sessions.Load())
	}
}

func TestHTTPTransportCallEventStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accept := r.Header.Get("Accept"); !strings.Contains(accept, "text/event-stream") {
			t.Errorf("Accept = %q, want event-stream offered", accept)
		}
		var req JSONRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		// A server notification precedes the response; it has no id and
		// must be skipped.
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
		fmt.Fprintf(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":%d,\"result\":{\"streamed\":true}}\n\n", req.ID)
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL, nil, nil)
	result, err := tr.Call(context.Background(), "tools/list", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(result) != `{"streamed":true}` {
		t.Errorf("result = %s", result)
	}
}

func TestHTTPTransportEventStreamWithoutResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL, nil, nil)
	if _, err := tr.Call(context.Background(), "ping", nil); err == nil ||
		!strings.Contains(err.Error(), "without a response") {
		t.Errorf("err = %v, want stream-ended error", err)
	}
}

func TestHTTPTransportNotify(t *testing.T) {
	var notified atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		notified.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL, nil, nil)
	if err := tr.Notify(context.Background(), "notifications/initialized", struct{}{}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if notified.Load() != 1 {
		t.Errorf("notify requests = %d", notified.Load())
	}
}

func TestHTTPTransportErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session expired", http.StatusNotFound)
	}))
	defer server.Close()

	tr := NewHTTPTransport(server.URL, nil, nil)
	if _, err := tr.Call(context.Background(), "ping", nil); err == nil ||
		!strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want http 404", err)
	}
}

func TestHTTPTransportClosed(t *testing.T) {
	tr := NewHTTPTransport("http://127.0.0.1:0", nil, nil)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tr.Connect(context.Background()); err == nil {
		t.Error("Connect after Close accepted")
	}
	if _, err := tr.Call(context.Background(), "ping", nil); err == nil {
		t.Error("Call after Close accepted")
	}
}
