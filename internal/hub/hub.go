// Package hub fans analysis progress out to subscribers. Two
// transport shapes are supported per task id: stream subscribers
// (long-lived duplex connections draining a channel) and pull queues
// (polled by SSE handlers, with a synthetic heartbeat when idle).
// Delivery is best-effort: slow subscribers lose oldest events first.
package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/finsight-ai/finsight/internal/events"
	"github.com/finsight-ai/finsight/internal/logging"
)

// DefaultHeartbeat is how long a pull queue stays silent before a
// synthetic heartbeat is delivered to keep the transport alive.
const DefaultHeartbeat = time.Second

const defaultBufferSize = 64

// StreamSub is a channel-draining subscription for duplex transports.
type StreamSub struct {
	id string
	ch chan events.Event
}

// Events returns the subscription's event channel. It is closed when
// the subscriber is unsubscribed.
func (s *StreamSub) Events() <-chan events.Event { return s.ch }

// PullQueue is a polled subscription. Next blocks until an event
// arrives, the heartbeat interval elapses, or ctx is cancelled.
type PullQueue struct {
	id        string
	ch        chan events.Event
	heartbeat time.Duration
}

// Next returns the next event for this queue. When no real event
// arrives within the heartbeat interval a HeartbeatEvent is returned
// so the transport stays alive.
func (q *PullQueue) Next(ctx context.Context) (events.Event, error) {
	timer := time.NewTimer(q.heartbeat)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev, ok := <-q.ch:
		if !ok {
			return nil, context.Canceled
		}
		return ev, nil
	case <-timer.C:
		return events.NewHeartbeatEvent(q.id), nil
	}
}

// Hub maintains per-task subscriber sets and fans published events out
// to every subscriber of that task id, in emission order.
type Hub struct {
	mu      sync.RWMutex
	streams map[string][]*StreamSub
	queues  map[string][]*PullQueue

	heartbeat  time.Duration
	bufferSize int
	dropped    int64
	logger     *logging.Logger
}

// Option configures the hub.
type Option func(*Hub)

// WithHeartbeat overrides the pull-queue heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Hub) { h.heartbeat = d }
}

// WithBufferSize overrides per-subscriber buffering.
func WithBufferSize(n int) Option {
	return func(h *Hub) { h.bufferSize = n }
}

// New creates a hub.
func New(logger *logging.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	h := &Hub{
		streams:    make(map[string][]*StreamSub),
		queues:     make(map[string][]*PullQueue),
		heartbeat:  DefaultHeartbeat,
		bufferSize: defaultBufferSize,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SubscribeStream attaches a stream subscriber to a task id.
func (h *Hub) SubscribeStream(id string) *StreamSub {
	sub := &StreamSub{id: id, ch: make(chan events.Event, h.bufferSize)}
	h.mu.Lock()
	h.streams[id] = append(h.streams[id], sub)
	n := len(h.streams[id])
	h.mu.Unlock()
	h.logger.Info("stream subscriber attached", "task_id", id, "subscribers", n)
	return sub
}

// SubscribePull attaches a pull-queue subscriber to a task id.
func (h *Hub) SubscribePull(id string) *PullQueue {
	q := &PullQueue{id: id, ch: make(chan events.Event, h.bufferSize), heartbeat: h.heartbeat}
	h.mu.Lock()
	h.queues[id] = append(h.queues[id], q)
	n := len(h.queues[id])
	h.mu.Unlock()
	h.logger.Info("pull subscriber attached", "task_id", id, "subscribers", n)
	return q
}

// UnsubscribeStream detaches a stream subscriber and closes its
// channel. Safe to call for already-removed subscribers.
func (h *Hub) UnsubscribeStream(sub *StreamSub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.streams[sub.id]
	for i, s := range subs {
		if s == sub {
			h.streams[sub.id] = append(subs[:i], subs[i+1:]...)
			close(s.ch)
			break
		}
	}
	if len(h.streams[sub.id]) == 0 {
		delete(h.streams, sub.id)
	}
}

// UnsubscribePull detaches a pull queue and closes its channel.
func (h *Hub) UnsubscribePull(q *PullQueue) {
	h.mu.Lock()
	defer h.mu.Unlock()
	queues := h.queues[q.id]
	for i, existing := range queues {
		if existing == q {
			h.queues[q.id] = append(queues[:i], queues[i+1:]...)
			close(existing.ch)
			break
		}
	}
	if len(h.queues[q.id]) == 0 {
		delete(h.queues, q.id)
	}
}

// Publish fans an event out to every subscriber of its task id and to
// no one else. Full buffers drop their oldest event (ring behavior).
func (h *Hub) Publish(id string, ev events.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.streams[id] {
		h.send(sub.ch, ev)
	}
	for _, q := range h.queues[id] {
		h.send(q.ch, ev)
	}
}

func (h *Hub) send(ch chan events.Event, ev events.Event) {
	select {
	case ch <- ev:
	default:
		// Buffer full: drop oldest and try once more.
		select {
		case <-ch:
			atomic.AddInt64(&h.dropped, 1)
		default:
		}
		select {
		case ch <- ev:
		default:
			atomic.AddInt64(&h.dropped, 1)
		}
	}
}

// Dropped returns the total number of dropped events.
func (h *Hub) Dropped() int64 {
	return atomic.LoadInt64(&h.dropped)
}

// SubscriberCount returns the number of subscribers for a task id.
func (h *Hub) SubscriberCount(id string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[id]) + len(h.queues[id])
}
