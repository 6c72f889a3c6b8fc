package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestSanitizeToolPart(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"GitHub", "github"},
		{"my server!", "my_server"},
		{"a--b__c", "a_b_c"},
		{"__trim__", "trim"},
		{"", "tool"},
		{"!!!", "tool"},
	}
	for _, tt := range tests {
		if got := sanitizeToolPart(tt.in); got != tt.want {
			t.Errorf("sanitizeToolPart(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSafeToolName(t *testing.T) {
	used := make(map[string]struct{})

	name := safeToolName("Git Hub", "Search Repo", used)
	if name != "mcp_git_hub_search_repo" {
		t.Errorf("name = %q", name)
	}

	// Same pair again collides and gets a hash suffix.
	dup := safeToolName("Git Hub", "Search Repo", used)
	if dup == name {
		t.Error("collision not deduplicated")
	}
	if !strings.HasPrefix(dup, name+"_") {
		t.Errorf("dedupe name = %q, want %q prefix", dup, name)
	}

	long := safeToolName("server", strings.Repeat("x", 100), used)
	if len(long) > maxBridgedNameLen {
		t.Errorf("len = %d, want <= %d", len(long), maxBridgedNameLen)
	}
}

func testManager(t *testing.T, ft *fakeTransport) *Manager {
	t.Helper()
	m := NewManager(nil)
	m.clients["srv"] = NewClient("srv", ft, time.Second, nil)
	m.order = append(m.order, "srv")
	return m
}

func TestSourceExposesBridgedTools(t *testing.T) {
	ft := newFakeTransport()
	ft.respond["tools/call"] = func(params any) (json.RawMessage, error) {
		return json.RawMessage(`{"content":[{"type":"text","text":"ok"}],"isError":false}`), nil
	}
	m := testManager(t, ft)
	client, _ := m.Client("srv")
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := client.ListTools(context.Background()); err != nil {
		t.Fatalf("ListTools: %v", err)
	}

	source := NewSource(m)
	defs := source.Definitions()
	if len(defs) != 1 {
		t.Fatalf("got %d definitions, want 1", len(defs))
	}
	if defs[0].Name != "mcp_srv_search" {
		t.Errorf("bridged name = %q", defs[0].Name)
	}
	if !strings.Contains(defs[0].Description, "srv.search") {
		t.Errorf("description lacks origin: %q", defs[0].Description)
	}

	tool, ok := source.Lookup("mcp_srv_search")
	if !ok {
		t.Fatal("bridged tool not found")
	}
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"q":"x"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Content != "ok" || result.IsError {
		t.Errorf("result = %+v", result)
	}
	if result.Metadata["mcp_server"] != "srv" {
		t.Errorf("metadata = %+v", result.Metadata)
	}
}

func TestSourceMissesUnknownNames(t *testing.T) {
	m := testManager(t, newFakeTransport())
	source := NewSource(m)
	if _, ok := source.Lookup("mcp_srv_search"); ok {
		t.Error("tool resolved before discovery")
	}
	if _, ok := source.Lookup("nope"); ok {
		t.Error("unknown name resolved")
	}
}

func TestSourceHidesDegradedServerTools(t *testing.T) {
	ft := newFakeTransport()
	m := testManager(t, ft)
	client, _ := m.Client("srv")
	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := client.ListTools(context.Background()); err != nil {
		t.Fatal(err)
	}
	source := NewSource(m)
	if _, ok := source.Lookup("mcp_srv_search"); !ok {
		t.Fatal("healthy server tool not found")
	}

	client.mu.Lock()
	client.degraded = true
	client.mu.Unlock()
	if _, ok := source.Lookup("mcp_srv_search"); ok {
		t.Error("degraded server tool still resolvable")
	}

	client.Reset()
	if _, ok := source.Lookup("mcp_srv_search"); !ok {
		t.Error("tool not restored after Reset")
	}
}

func TestBridgeSchemaFallback(t *testing.T) {
	b := NewToolBridge(NewClient("srv", newFakeTransport(), time.Second, nil), Tool{Name: "bare"}, "mcp_srv_bare")
	if got := string(b.Schema()); got != `{"type":"object"}` {
		t.Errorf("schema = %s", got)
	}
}

func TestBridgeErrorResult(t *testing.T) {
	ft := newFakeTransport()
	ft.respond["tools/call"] = func(any) (json.RawMessage, error) {
		return json.RawMessage(`{"content":[{"type":"text","text":"bad input"}],"isError":true}`), nil
	}
	client := NewClient("srv", ft, time.Second, nil)
	b := NewToolBridge(client, Tool{Name: "search"}, "mcp_srv_search")

	result, err := b.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("isError not propagated")
	}
	if result.Content != "bad input" {
		t.Errorf("content = %q", result.Content)
	}
}
