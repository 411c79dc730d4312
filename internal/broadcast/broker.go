// Package broadcast fans values out to any number of subscribers.
package broadcast

import "sync"

// Broker delivers every published value, in order, to each subscriber that
// was registered before the value was published. There is no replay.
//
// Publish blocks until every current subscriber has accepted the value or
// unsubscribed, so a slow subscriber applies back-pressure instead of losing
// values. TryPublish never waits and drops the value for full subscribers.
type Broker[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber[T]
	nextID uint64
	closed bool
}

type subscriber[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
}

// stop releases any Publish blocked on this subscriber.
func (s *subscriber[T]) stop() {
	s.once.Do(func() { close(s.done) })
}

// New constructs an empty broker.
func New[T any]() *Broker[T] {
	return &Broker[T]{subs: make(map[uint64]*subscriber[T])}
}

// Subscribe registers a subscriber with the given channel buffer. The returned
// cancel func is idempotent and closes the channel once no send is in flight.
func (b *Broker[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 0 {
		buffer = 0
	}
	sub := &subscriber[T]{ch: make(chan T, buffer), done: make(chan struct{})}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		sub.stop()
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish sends v to every current subscriber.
func (b *Broker[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- v:
		case <-sub.done:
		}
	}
}

// TryPublish offers v to every current subscriber without waiting. It
// returns how many subscribers missed v because their buffer was full.
func (b *Broker[T]) TryPublish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	dropped := 0
	for _, sub := range b.subs {
		select {
		case sub.ch <- v:
		case <-sub.done:
		default:
			dropped++
		}
	}
	return dropped
}

// Subscribers returns the current subscriber count.
func (b *Broker[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes all subscriber channels. Later subscriptions receive a closed channel.
func (b *Broker[T]) Close() {
	b.mu.RLock()
	for _, sub := range b.subs {
		sub.stop()
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.stop()
		delete(b.subs, id)
		close(sub.ch)
	}
}
