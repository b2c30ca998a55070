package store

import "sync"

// subscriptionBuffer is the per-subscriber channel capacity. When a
// subscriber falls behind, the oldest pending event is dropped so the newest
// state is always the next delivery; a mutation never blocks on a slow
// reader.
const subscriptionBuffer = 8

// Hub fans record events out to point-read subscribers. Subscriptions to the
// same id are independent: each has its own channel and delivery sequence,
// and cancelling one never affects another.
type Hub[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]*subscription[T]
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[string]map[uint64]*subscription[T])}
}

// Subscribe registers a subscriber for the given record id and queues the
// initial snapshot as its first delivery. The returned cancel removes the
// subscriber and closes its channel; after cancel returns, no further
// delivery is made. Cancelling twice is safe.
func (h *Hub[T]) Subscribe(id string, initial Event[T]) (<-chan Event[T], CancelFunc) {
	sub := &subscription[T]{ch: make(chan Event[T], subscriptionBuffer)}
	sub.deliver(initial)

	h.mu.Lock()
	h.nextID++
	token := h.nextID
	byToken := h.subs[id]
	if byToken == nil {
		byToken = make(map[uint64]*subscription[T])
		h.subs[id] = byToken
	}
	byToken[token] = sub
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if byToken := h.subs[id]; byToken != nil {
			delete(byToken, token)
			if len(byToken) == 0 {
				delete(h.subs, id)
			}
		}
		h.mu.Unlock()
		sub.close()
	}
	return sub.ch, cancel
}

// Publish delivers an event to every subscriber of the record id.
func (h *Hub[T]) Publish(id string, ev Event[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs[id] {
		sub.deliver(ev)
	}
}

// subscription owns one delivery channel. The mutex serializes deliver and
// close so a send can never race a close: once closed is set, nothing is
// ever written to ch again.
type subscription[T any] struct {
	mu     sync.Mutex
	ch     chan Event[T]
	closed bool
}

func (s *subscription[T]) deliver(ev Event[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// Full buffer: drop the oldest event, keep the latest. Only
		// deliver writes to ch and it holds the lock, so the second
		// send cannot block.
		select {
		case <-s.ch:
		default:
		}
		s.ch <- ev
	}
}

func (s *subscription[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
