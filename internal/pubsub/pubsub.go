// Package pubsub provides a typed, synchronous publish/subscribe channel.
//
// A Channel is created once per owning entity and handed out by reference.
// Listeners are invoked in subscription order on the publishing goroutine;
// the returned unsubscribe function makes listener lifetime explicit.
package pubsub

import "sync"

// Channel delivers values of type T to its subscribers.
type Channel[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription[T]
}

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// New creates an empty channel.
func New[T any]() *Channel[T] {
	return &Channel[T]{}
}

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is a no-op.
func (c *Channel[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscription[T]{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.remove(id) })
	}
}

func (c *Channel[T]) remove(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, sub := range c.subs {
		if sub.id == id {
			c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers value to every current subscriber. Subscribers added or
// removed during delivery take effect on the next Publish.
func (c *Channel[T]) Publish(value T) {
	if c == nil {
		return
	}
	c.mu.RLock()
	subs := make([]subscription[T], len(c.subs))
	copy(subs, c.subs)
	c.mu.RUnlock()

	for _, sub := range subs {
		sub.fn(value)
	}
}

// Len returns the number of subscribers.
func (c *Channel[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}
