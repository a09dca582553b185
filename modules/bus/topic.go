package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the per-subscriber buffer of a topic.
const DefaultCapacity = 200

// Topic is an in-memory broadcast channel of T.
//
// Contract:
//   - Publish never blocks.
//   - Every subscriber gets its own bounded buffer; when it is full the
//     oldest buffered message is dropped to make room.
//   - A message reaches only subscribers listening at publish time.
type Topic[T any] struct {
	name     string
	capacity int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription[T]
	seq    atomic.Uint64
	closed bool

	dropped atomic.Uint64
}

func NewTopic[T any](name string, capacity int) *Topic[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Topic[T]{
		name:     name,
		capacity: capacity,
		subs:     make(map[uint64]*Subscription[T]),
	}
}

func (t *Topic[T]) Name() string {
	return t.name
}

// Publish delivers msg to every current subscriber and returns how many
// received it.
func (t *Topic[T]) Publish(msg T) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return 0
	}
	for _, s := range t.subs {
		if s.deliver(msg) {
			t.dropped.Add(1)
		}
	}
	return len(t.subs)
}

// Subscribe registers a new subscriber.
func (t *Topic[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{
		topic: t,
		id:    t.seq.Add(1),
		ch:    make(chan T, t.capacity),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		close(s.ch)
		s.closed = true
		return s
	}
	t.subs[s.id] = s
	return s
}

// Subscribers returns the number of live subscriptions.
func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Dropped returns how many messages were evicted from slow subscribers.
func (t *Topic[T]) Dropped() uint64 {
	return t.dropped.Load()
}

// Close closes every subscription. Later publishes are no-ops.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, s := range t.subs {
		s.close()
		delete(t.subs, id)
	}
}

func (t *Topic[T]) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, id)
}

// Subscription is one subscriber's view of a topic.
type Subscription[T any] struct {
	topic *Topic[T]
	id    uint64

	mu     sync.Mutex
	ch     chan T
	closed bool
}

// C returns the receive channel. It is closed by Close or when the topic
// closes.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close unsubscribes.
func (s *Subscription[T]) Close() {
	s.topic.remove(s.id)
	s.close()
}

func (s *Subscription[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// deliver enqueues msg, evicting the oldest message when the buffer is full.
// It reports whether a message was evicted.
func (s *Subscription[T]) deliver(msg T) (evicted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for {
		select {
		case s.ch <- msg:
			return evicted
		default:
		}
		select {
		case <-s.ch:
			evicted = true
		default:
		}
	}
}

// Consume hands every message of sub to handle until ctx ends or the topic
// closes, then unsubscribes. Messages are handled one at a time.
func Consume[T any](ctx context.Context, sub *Subscription[T], handle func(context.Context, T)) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			handle(ctx, msg)
		}
	}
}
