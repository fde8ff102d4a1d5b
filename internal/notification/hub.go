package notification

import (
	"context"
	"sync"

	"github.com/dallo7/korosho/pkg/logger"
)

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

type subscriber struct {
	conn Conn
	send chan Event
}

// Hub broadcasts events to live websocket subscribers. A subscriber whose
// buffer is full is dropped.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	buffer      int
	logger      logger.Logger
}

func NewHub(buffer int, log logger.Logger) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		buffer:      buffer,
		logger:      log,
	}
}

// Subscribe delivers events to conn until ctx is done or a write fails. It
// blocks for the lifetime of the subscription.
func (h *Hub) Subscribe(ctx context.Context, conn Conn) {
	sub := &subscriber{conn: conn, send: make(chan Event, h.buffer)}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	defer h.remove(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.send:
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Warn("Dropping websocket subscriber", map[string]interface{}{"error": err.Error()})
				return
			}
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
}

// Publish queues e for every subscriber without blocking.
func (h *Hub) Publish(ctx context.Context, e Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		select {
		case sub.send <- e:
		default:
			delete(h.subscribers, sub)
			close(sub.send)
		}
	}
	return nil
}

// Subscribers reports the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
