package streaming

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

const defaultChannelBuffer = 64

// subscriber holds a channel and filter for a single subscriber.
type subscriber struct {
	ch     chan Event
	filter EventFilter
}

// MemoryHub is an in-memory EventHub implementation using channels.
// It keeps the most recent events so that a subscriber connecting after an
// execution started can ask for them with EventFilter.Replay.
type MemoryHub struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	backlog []Event
	size    int
}

// Option configures a MemoryHub.
type Option func(*MemoryHub)

// WithBacklog keeps the last n published events for replay.
func WithBacklog(n int) Option {
	return func(h *MemoryHub) {
		if n > 0 {
			h.size = n
		}
	}
}

// NewMemoryHub creates a new MemoryHub.
func NewMemoryHub(opts ...Option) *MemoryHub {
	h := &MemoryHub{
		subs: make(map[uint64]*subscriber),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish sends an event to all matching subscribers.
// Non-blocking: if a subscriber's channel is full the event is dropped.
func (h *MemoryHub) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if h.size > 0 {
		h.mu.Lock()
		h.backlog = append(h.backlog, event)
		if len(h.backlog) > h.size {
			h.backlog = h.backlog[len(h.backlog)-h.size:]
		}
		h.mu.Unlock()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !matchFilter(sub.filter, event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// slow subscriber
		}
	}
	return nil
}

// Subscribe creates a new subscription filtered by the given EventFilter.
// Returns a receive-only channel, a cancel function, and any error.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan Event, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.seq.Add(1)
	ch := make(chan Event, defaultChannelBuffer)

	h.mu.Lock()
	if filter.Replay {
		for _, ev := range h.backlog {
			if len(ch) == cap(ch) {
				break
			}
			if matchFilter(filter, ev) {
				ch <- ev
			}
		}
	}
	h.subs[id] = &subscriber{ch: ch, filter: filter}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}

	return ch, cancel, nil
}

// History returns the retained events matching filter, oldest first.
// Replay is implied.
func (h *MemoryHub) History(filter EventFilter) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []Event
	for _, ev := range h.backlog {
		if matchFilter(filter, ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribers returns the number of active subscriptions.
func (h *MemoryHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// matchFilter returns true if the event passes the filter criteria.
func matchFilter(f EventFilter, e Event) bool {
	if f.ExecutionID != "" && f.ExecutionID != e.ExecutionID {
		return false
	}
	if f.Workflow != "" && f.Workflow != e.Workflow {
		return false
	}
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.Type) {
		return false
	}
	return true
}
