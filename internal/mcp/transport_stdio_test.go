package mcp

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// Framing tests ride small POSIX utilities: cat echoes each request line
// back, which parses as a response with the matching id.

func TestStdioTransportRoundTrip(t *testing.T) {
	tr := NewStdioTransport("cat", nil, nil, nil)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Concurrent calls get distinct ids and are demultiplexed independently.
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = tr.Call(ctx, "ping", map[string]string{"n": "x"})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("call %d: %v", i, err)
		}
	}

	// Notifications have no id and expect no response.
	if err := tr.Notify(ctx, "notifications/initialized", struct{}{}); err != nil {
		t.Errorf("Notify: %v", err)
	}
}

func TestStdioTransportCloseFailsPending(t *testing.T) {
	// sleep never answers, so the call parks until Close fails it.
	tr := NewStdioTransport("sleep", []string{"60"}, nil, nil)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := tr.Call(context.Background(), "ping", nil)
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "closed") {
			t.Errorf("pending call err = %v, want transport-closed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call not failed by Close")
	}

	// Idempotent.
	if err := tr.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestStdioTransportRejectsUseBeforeConnect(t *testing.T) {
	tr := NewStdioTransport("cat", nil, nil, nil)
	if _, err := tr.Call(context.Background(), "ping", nil); err == nil {
		t.Error("Call before Connect accepted")
	}
}
