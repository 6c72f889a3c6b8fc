package agent

import (
	"sync"
	"testing"
	"time"

	"github.com/loomlabs/loom/pkg/models"
)

// collectorSink records delivered events.
type collectorSink struct {
	mu     sync.Mutex
	events []models.AgentEvent
}

func (c *collectorSink) OnEvent(event models.AgentEvent) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func (c *collectorSink) snapshot() []models.AgentEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.AgentEvent(nil), c.events...)
}

func TestEmitterSequencePerConversation(t *testing.T) {
	sink := &collectorSink{}
	e := NewEmitter(nil, sink)

	for i := 0; i < 3; i++ {
		e.Emit(models.AgentEvent{Type: models.EventAssistantChunk, ConversationID: "a"})
	}
	e.Emit(models.AgentEvent{Type: models.EventAssistantChunk, ConversationID: "b"})
	e.Close()

	events := sink.snapshot()
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	var aSeqs, bSeqs []uint64
	for _, ev := range events {
		if ev.Time.IsZero() {
			t.Error("event not timestamped")
		}
		switch ev.ConversationID {
		case "a":
			aSeqs = append(aSeqs, ev.Sequence)
		case "b":
			bSeqs = append(bSeqs, ev.Sequence)
		}
	}
	for i, seq := range aSeqs {
		if seq != uint64(i+1) {
			t.Errorf("conversation a seq[%d] = %d, want %d", i, seq, i+1)
		}
	}
	if len(bSeqs) != 1 || bSeqs[0] != 1 {
		t.Errorf("conversation b seqs = %v, want [1] (independent counter)", bSeqs)
	}
}

func TestEmitterFanOut(t *testing.T) {
	first := &collectorSink{}
	second := &collectorSink{}
	e := NewEmitter(nil, first, second)

	e.Emit(models.AgentEvent{Type: models.EventDone, ConversationID: "c"})
	e.Close()

	if len(first.snapshot()) != 1 || len(second.snapshot()) != 1 {
		t.Errorf("fan-out delivered %d/%d events, want 1/1",
			len(first.snapshot()), len(second.snapshot()))
	}
}

func TestEmitterSlowSinkDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	delivered := make(chan struct{})
	var once sync.Once
	slow := EventSinkFunc(func(models.AgentEvent) {
		once.Do(func() { close(delivered) })
		<-release
	})
	e := NewEmitter(nil, slow)

	// Fill the buffer past capacity while the sink is stuck on the first
	// event. Emit must return promptly every time.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < sinkQueueSize*2; i++ {
			e.Emit(models.AgentEvent{Type: models.EventAssistantChunk, ConversationID: "x"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a backlogged sink")
	}
	<-delivered
	close(release)
	e.Close()
}

func TestEmitterCloseDrains(t *testing.T) {
	sink := &collectorSink{}
	e := NewEmitter(nil, sink)
	for i := 0; i < 50; i++ {
		e.Emit(models.AgentEvent{Type: models.EventToolResult, ConversationID: "d"})
	}
	e.Close()
	if got := len(sink.snapshot()); got != 50 {
		t.Errorf("drained %d events, want 50", got)
	}
}
