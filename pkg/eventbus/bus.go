// Package eventbus is a small typed publish/subscribe primitive. Listeners
// are grouped by a comparable key and receive a statically typed event value,
// so a consumer switching over event kinds gets compile-time checking instead
// of string-keyed dispatch.
package eventbus

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	// ErrListenerLimitExceeded is returned by Subscribe when a key already has
	// the maximum number of listeners. It exists to catch listener leaks during
	// development; the limit is off by default.
	ErrListenerLimitExceeded = errors.New("eventbus: listener limit exceeded")

	// ErrNilListener is returned when subscribing a nil function.
	ErrNilListener = errors.New("eventbus: nil listener")
)

// Listener receives one event.
type Listener[E any] func(E)

// Unsubscribe removes exactly the listener it was returned for. Calling it
// more than once is harmless.
type Unsubscribe func()

type entry[E any] struct {
	id   uint64
	fn   Listener[E]
	once bool
}

// Bus dispatches events of type E to listeners registered under keys of type K.
// It is safe for concurrent use. Listeners run on the emitting goroutine,
// outside the bus lock, in registration order.
type Bus[K comparable, E any] struct {
	mu           sync.Mutex
	listeners    map[K][]*entry[E]
	nextID       uint64
	maxListeners int
}

// New returns an empty bus with no listener limit.
func New[K comparable, E any]() *Bus[K, E] {
	return &Bus[K, E]{listeners: make(map[K][]*entry[E])}
}

// SetMaxListeners sets the per-key listener limit. Zero or negative disables it.
func (b *Bus[K, E]) SetMaxListeners(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxListeners = n
}

// MaxListeners returns the current per-key listener limit.
func (b *Bus[K, E]) MaxListeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxListeners
}

// Subscribe registers fn for every event emitted under key.
func (b *Bus[K, E]) Subscribe(key K, fn Listener[E]) (Unsubscribe, error) {
	return b.add(key, fn, false)
}

// SubscribeOnce registers fn for the next event emitted under key only.
func (b *Bus[K, E]) SubscribeOnce(key K, fn Listener[E]) (Unsubscribe, error) {
	return b.add(key, fn, true)
}

func (b *Bus[K, E]) add(key K, fn Listener[E], once bool) (Unsubscribe, error) {
	if fn == nil {
		return nil, ErrNilListener
	}

	b.mu.Lock()
	if b.maxListeners > 0 && len(b.listeners[key]) >= b.maxListeners {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %v already has %d listeners", ErrListenerLimitExceeded, key, b.maxListeners)
	}
	b.nextID++
	id := b.nextID
	b.listeners[key] = append(b.listeners[key], &entry[E]{id: id, fn: fn, once: once})
	b.mu.Unlock()

	var onceUnsub sync.Once
	return func() {
		onceUnsub.Do(func() { b.remove(key, id) })
	}, nil
}

func (b *Bus[K, E]) remove(key K, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ls := slices.DeleteFunc(b.listeners[key], func(e *entry[E]) bool { return e.id == id })
	if len(ls) == 0 {
		delete(b.listeners, key)
		return
	}
	b.listeners[key] = ls
}

// Emit delivers ev to every listener registered under key and returns how many
// were called. Once-listeners are detached before any listener runs, so a
// concurrent Emit can never deliver to them twice.
func (b *Bus[K, E]) Emit(key K, ev E) int {
	b.mu.Lock()
	current := b.listeners[key]
	if len(current) == 0 {
		b.mu.Unlock()
		return 0
	}
	snapshot := slices.Clone(current)
	remaining := slices.DeleteFunc(current, func(e *entry[E]) bool { return e.once })
	if len(remaining) == 0 {
		delete(b.listeners, key)
	} else {
		b.listeners[key] = remaining
	}
	b.mu.Unlock()

	for _, e := range snapshot {
		e.fn(ev)
	}
	return len(snapshot)
}

// UnsubscribeAll removes every listener for the given keys, or for all keys
// when none are given.
func (b *Bus[K, E]) UnsubscribeAll(keys ...K) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(keys) == 0 {
		clear(b.listeners)
		return
	}
	for _, k := range keys {
		delete(b.listeners, k)
	}
}

// ListenerCount returns the number of listeners registered under key.
func (b *Bus[K, E]) ListenerCount(key K) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[key])
}
