package engine

import (
	"context"
	"sync/atomic"
)

// Hub fans summaries out to subscribers. Slow subscribers miss summaries
// instead of blocking the stream.
type Hub struct {
	broadcast  chan Summary
	register   chan chan Summary
	unregister chan chan Summary
	clients    map[chan Summary]struct{}
	clientBuf  int
	done       chan struct{}
	latest     atomic.Pointer[Summary]
}

type Option func(*Hub)

func WithBroadcastBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.broadcast = make(chan Summary, size)
		}
	}
}

func WithClientBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.clientBuf = size
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		broadcast:  make(chan Summary, 64),
		register:   make(chan chan Summary),
		unregister: make(chan chan Summary),
		clients:    make(map[chan Summary]struct{}),
		clientBuf:  16,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.flush()
			for ch := range h.clients {
				close(ch)
			}
			return
		case ch := <-h.register:
			h.clients[ch] = struct{}{}
		case ch := <-h.unregister:
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
		case summary := <-h.broadcast:
			h.fanOut(summary)
		}
	}
}

// flush delivers summaries still queued at shutdown.
func (h *Hub) flush() {
	for {
		select {
		case summary := <-h.broadcast:
			h.fanOut(summary)
		default:
			return
		}
	}
}

func (h *Hub) fanOut(summary Summary) {
	for ch := range h.clients {
		select {
		case ch <- summary:
		default:
		}
	}
}

func (h *Hub) Subscribe() chan Summary {
	return h.SubscribeWithBuffer(h.clientBuf)
}

func (h *Hub) SubscribeWithBuffer(size int) chan Summary {
	if size <= 0 {
		size = h.clientBuf
	}
	ch := make(chan Summary, size)
	select {
	case h.register <- ch:
	case <-h.done:
		close(ch)
	}
	return ch
}

// Unsubscribe closes ch. It is a no-op once the hub has stopped.
func (h *Hub) Unsubscribe(ch chan Summary) {
	select {
	case h.unregister <- ch:
	case <-h.done:
	}
}

// Publish records summary as the latest and queues it for subscribers.
// It never blocks; when the broadcast queue is full the summary is only
// kept as the latest.
func (h *Hub) Publish(summary Summary) {
	s := summary
	h.latest.Store(&s)
	select {
	case h.broadcast <- summary:
	default:
	}
}

// Latest returns the most recently published summary.
func (h *Hub) Latest() (Summary, bool) {
	s := h.latest.Load()
	if s == nil {
		return Summary{}, false
	}
	return *s, true
}
