// Package sink fans out job lifecycle events to whatever is watching a
// batch run: a terminal renderer, a plain log, or a JSON stream for another
// process to consume. The pub-sub shape (buffered channel per subscriber,
// non-blocking broadcast that drops on a full channel) is adapted from
// link270-shrinkray/internal/jobs/queue.go's Subscribe/Unsubscribe/broadcast.
// The JSON sink's event and field names follow
// original_source/json_progress.py's JSONProgressState/FileProgress/
// OverallProgress dataclasses.
package sink

import (
	"sync"

	"github.com/voldardard/mkv2cast/internal/jobstatus"
)

// Sink receives a copy of every job event published during a run.
type Sink interface {
	Handle(jobstatus.Event)
}

// Hub fans out events to any number of registered Sinks and additionally
// supports Subscribe/Unsubscribe channel-based consumers, for callers that
// want to pull events rather than implement Sink.
type Hub struct {
	mu          sync.Mutex
	sinks       []Sink
	subscribers map[chan jobstatus.Event]struct{}
}

// NewHub returns a Hub with no sinks or subscribers registered.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan jobstatus.Event]struct{})}
}

// Register adds s to the set of sinks notified by Publish.
func (h *Hub) Register(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

// Subscribe returns a buffered channel of job events. The caller must call
// Unsubscribe when done listening, or the channel leaks.
func (h *Hub) Subscribe() chan jobstatus.Event {
	ch := make(chan jobstatus.Event, 100)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (h *Hub) Unsubscribe(ch chan jobstatus.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[ch]; ok {
		delete(h.subscribers, ch)
		close(ch)
	}
}

// Publish delivers ev to every registered Sink and every subscriber channel.
// A subscriber whose buffer is full has the event dropped rather than
// blocking the publisher — a slow consumer must not stall the pipeline.
func (h *Hub) Publish(ev jobstatus.Event) {
	h.mu.Lock()
	sinks := make([]Sink, len(h.sinks))
	copy(sinks, h.sinks)
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()

	for _, s := range sinks {
		s.Handle(ev)
	}
}
