// Package store provides a small in-memory expiring map used for
// short-lived per-call bookkeeping.
package store

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value    V
	deadline time.Time
}

// Expiring is a generic map whose entries vanish after a per-entry TTL.
// Expired entries are dropped lazily on access and by a background sweep,
// so the map never grows without bound even if callers stop touching it.
type Expiring[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]entry[V]
	stop    chan struct{}
	once    sync.Once
	onEvict func(K, V)
}

// NewExpiring creates an expiring map and starts its sweep loop.
// sweepEvery bounds how stale an untouched expired entry can get.
func NewExpiring[K comparable, V any](sweepEvery time.Duration) *Expiring[K, V] {
	e := &Expiring[K, V]{
		entries: make(map[K]entry[V]),
		stop:    make(chan struct{}),
	}
	go e.sweepLoop(sweepEvery)
	return e
}

// OnEvict registers a callback invoked for entries removed by the sweep
// loop. It is not called for manual Delete or for lazy drops on access.
func (e *Expiring[K, V]) OnEvict(fn func(K, V)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEvict = fn
}

// Put stores value under key for the given TTL, replacing any prior entry.
func (e *Expiring[K, V]) Put(key K, value V, ttl time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries[key] = entry[V]{value: value, deadline: time.Now().Add(ttl)}
}

// Get returns the live value for key, dropping it lazily if expired.
func (e *Expiring[K, V]) Get(key K) (V, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(ent.deadline) {
		delete(e.entries, key)
		var zero V
		return zero, false
	}
	return ent.value, true
}

// Has reports whether key holds a live entry.
func (e *Expiring[K, V]) Has(key K) bool {
	_, ok := e.Get(key)
	return ok
}

// Delete removes key regardless of expiry.
func (e *Expiring[K, V]) Delete(key K) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.entries, key)
}

// Len counts live entries.
func (e *Expiring[K, V]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	n := 0
	for _, ent := range e.entries {
		if !now.After(ent.deadline) {
			n++
		}
	}
	return n
}

// Sweep removes every expired entry immediately and returns how many
// were dropped. Exposed so callers with their own cadence can sweep
// opportunistically instead of waiting for the background loop.
func (e *Expiring[K, V]) Sweep() int {
	type evicted struct {
		key   K
		value V
	}
	var dropped []evicted

	e.mu.Lock()
	now := time.Now()
	for k, ent := range e.entries {
		if now.After(ent.deadline) {
			dropped = append(dropped, evicted{k, ent.value})
			delete(e.entries, k)
		}
	}
	onEvict := e.onEvict
	e.mu.Unlock()

	// Callbacks run outside the lock so they may re-enter the store.
	if onEvict != nil {
		for _, d := range dropped {
			onEvict(d.key, d.value)
		}
	}
	return len(dropped)
}

// Close stops the sweep loop. The map stays usable; only the background
// eviction stops.
func (e *Expiring[K, V]) Close() {
	e.once.Do(func() { close(e.stop) })
}

func (e *Expiring[K, V]) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.Sweep()
		case <-e.stop:
			return
		}
	}
}
