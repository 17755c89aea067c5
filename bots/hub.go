package bots

import (
	"sync"
	"sync/atomic"
)

// Subscription is one consumer's view of a hub.
type Subscription[T any] struct {
	ch      chan T
	dropped atomic.Int64
}

// C yields broadcast values until the subscription is removed or the hub closes.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Dropped counts values skipped because the consumer's buffer was full.
func (s *Subscription[T]) Dropped() int64 {
	return s.dropped.Load()
}

// hub fans values out to subscribers without ever blocking the publisher.
type hub[T any] struct {
	mu     sync.RWMutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

func newHub[T any]() *hub[T] {
	return &hub[T]{subs: make(map[*Subscription[T]]struct{})}
}

func (h *hub[T]) Subscribe(buffer int) *Subscription[T] {
	sub := &Subscription[T]{ch: make(chan T, buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe is safe to call more than once and after Close.
func (h *hub[T]) Unsubscribe(sub *Subscription[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

func (h *hub[T]) Broadcast(value T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- value:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Close ends every subscription; later subscribers get a closed channel.
func (h *hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}
