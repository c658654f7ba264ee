// broadcast/broadcast.go
package broadcast

import (
	"sync"
)

// Hub fans a value out to subscribers. Each subscriber channel holds at most
// one value: a slow reader skips intermediate values and always sees the
// latest one.
type Hub[T any] struct {
	subscribers map[chan T]struct{}
	last        T
	hasLast     bool
	closed      bool
	mutex       sync.Mutex
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subscribers: make(map[chan T]struct{})}
}

// Subscribe returns a channel that immediately holds the latest value, if
// any. The channel is closed by Unsubscribe or Close.
func (h *Hub[T]) Subscribe() <-chan T {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	ch := make(chan T, 1)
	if h.closed {
		close(ch)
		return ch
	}
	if h.hasLast {
		ch <- h.last
	}
	h.subscribers[ch] = struct{}{}
	return ch
}

func (h *Hub[T]) Unsubscribe(sub <-chan T) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for ch := range h.subscribers {
		if ch == sub {
			delete(h.subscribers, ch)
			close(ch)
			return
		}
	}
}

// Publish replaces whatever a subscriber has not read yet with v.
func (h *Hub[T]) Publish(v T) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.closed {
		return
	}
	h.last, h.hasLast = v, true

	for ch := range h.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

func (h *Hub[T]) Len() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.subscribers)
}

// Close closes every subscriber channel. Later publishes are ignored.
func (h *Hub[T]) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
	}
	h.subscribers = nil
}
