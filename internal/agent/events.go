package agent

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loomlabs/loom/pkg/models"
)

// EventSink receives agent events. Sinks must not block: the emitter
// dispatches through a bounded queue per sink and drops on overflow rather
// than stalling the turn loop.
type EventSink interface {
	OnEvent(event models.AgentEvent)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(models.AgentEvent)

// OnEvent implements EventSink.
func (f EventSinkFunc) OnEvent(event models.AgentEvent) { f(event) }

// sinkQueueSize bounds the per-sink buffer before drops begin.
const sinkQueueSize = 256

// Emitter fans events out to sinks with a monotonic per-conversation
// sequence. Emission order within a conversation is total; across
// conversations nothing is promised.
type Emitter struct {
	logger *slog.Logger

	mu     sync.Mutex
	queues []*sinkQueue
	seqs   map[string]*atomic.Uint64
}

type sinkQueue struct {
	sink    EventSink
	ch      chan models.AgentEvent
	done    chan struct{}
	dropped atomic.Uint64
}

// NewEmitter creates an emitter with the given sinks.
func NewEmitter(logger *slog.Logger, sinks ...EventSink) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{logger: logger, seqs: make(map[string]*atomic.Uint64)}
	for _, sink := range sinks {
		e.AddSink(sink)
	}
	return e
}

// AddSink registers a sink and starts its delivery goroutine.
func (e *Emitter) AddSink(sink EventSink) {
	q := &sinkQueue{
		sink: sink,
		ch:   make(chan models.AgentEvent, sinkQueueSize),
		done: make(chan struct{}),
	}
	go func() {
		defer close(q.done)
		for event := range q.ch {
			q.sink.OnEvent(event)
		}
	}()
	e.mu.Lock()
	e.queues = append(e.queues, q)
	e.mu.Unlock()
}

// Emit stamps the event and dispatches it fire-and-forget.
func (e *Emitter) Emit(event models.AgentEvent) {
	event.Time = time.Now()
	event.Sequence = e.nextSeq(event.ConversationID)

	e.mu.Lock()
	queues := e.queues
	e.mu.Unlock()
	for _, q := range queues {
		select {
		case q.ch <- event:
		default:
			if q.dropped.Add(1)%100 == 1 {
				e.logger.Warn("event sink backlogged, dropping",
					"type", string(event.Type),
					"dropped", q.dropped.Load(),
				)
			}
		}
	}
}

// Close stops dispatch and waits for queued events to drain. Emit must not
// be called after Close.
func (e *Emitter) Close() {
	e.mu.Lock()
	queues := e.queues
	e.queues = nil
	e.mu.Unlock()
	for _, q := range queues {
		close(q.ch)
	}
	for _, q := range queues {
		<-q.done
	}
}

func (e *Emitter) nextSeq(conversationID string) uint64 {
	e.mu.Lock()
	seq := e.seqs[conversationID]
	if seq == nil {
		seq = &atomic.Uint64{}
		e.seqs[conversationID] = seq
	}
	e.mu.Unlock()
	return seq.Add(1)
}
