package agent

import (
	"strings"
	"testing"
)

func TestRegistryRejectsBadNames(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&mockTool{name: ""}); err == nil {
		t.Error("empty name accepted")
	}
	if err := r.Register(&mockTool{name: strings.Repeat("x", MaxToolNameLength+1)}); err == nil {
		t.Error("oversized name accepted")
	}
	if err := r.Register(&mockTool{name: "echo"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&mockTool{name: "echo"}); err == nil {
		t.Error("duplicate name accepted")
	}
}

func TestRegistryDefinitionsOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"c", "a", "b"} {
		if err := r.Register(&mockTool{name: name, description: "does " + name}); err != nil {
			t.Fatal(err)
		}
	}
	defs := r.Definitions()
	if len(defs) != 3 {
		t.Fatalf("got %d definitions", len(defs))
	}
	// Registration order, not lexical.
	for i, want := range []string{"c", "a", "b"} {
		if defs[i].Name != want {
			t.Errorf("defs[%d] = %q, want %q", i, defs[i].Name, want)
		}
	}
	if defs[0].Description != "does c" {
		t.Errorf("description = %q", defs[0].Description)
	}
}

func TestCompositeFirstClaimWins(t *testing.T) {
	first := &mockTool{name: "shared", description: "from first"}
	second := &mockTool{name: "shared", description: "from second"}
	only := &mockTool{name: "only"}

	r1 := NewRegistry()
	r1.Register(first) //nolint:errcheck
	r2 := NewRegistry()
	r2.Register(second) //nolint:errcheck
	r2.Register(only)   //nolint:errcheck

	c := NewComposite(nil, r1, r2)

	tool, ok := c.Lookup("shared")
	if !ok || tool.Description() != "from first" {
		t.Errorf("collision resolved to %v", tool)
	}
	if _, ok := c.Lookup("only"); !ok {
		t.Error("second source tool not reachable")
	}

	defs := c.Definitions()
	if len(defs) != 2 {
		t.Fatalf("got %d definitions, want 2 (shared deduplicated)", len(defs))
	}
	if defs[0].Name != "shared" || defs[0].Description != "from first" {
		t.Errorf("defs[0] = %+v", defs[0])
	}
}

func TestFilteredDefinitions(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"a", "b", "c"} {
		r.Register(&mockTool{name: name}) //nolint:errcheck
	}
	c := NewComposite(nil, r)

	if got := c.FilteredDefinitions(nil); len(got) != 3 {
		t.Errorf("empty filter returned %d definitions, want all 3", len(got))
	}
	got := c.FilteredDefinitions([]string{"b", "missing"})
	if len(got) != 1 || got[0].Name != "b" {
		t.Errorf("filtered = %+v", got)
	}
}
