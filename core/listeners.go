package core

import (
	"sync"
	"sync/atomic"
)

type listenerEntry[L any] struct {
	l       L
	removed atomic.Bool
}

// registry holds listeners in registration order. It has its own lock
// so that listeners can register or unregister while a dispatch is in
// progress without touching the Topology lock.
type registry[L any] struct {
	mu      sync.Mutex
	entries []*listenerEntry[L]
}

func (r *registry[L]) add(l L) *listenerEntry[L] {
	e := &listenerEntry[L]{l: l}
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
	return e
}

func (r *registry[L]) remove(target *listenerEntry[L]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e == target {
			r.removeAtLocked(i)
			return true
		}
	}
	return false
}

// removeFirst unregisters the first listener matching pred.
func (r *registry[L]) removeFirst(pred func(L) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if pred(e.l) {
			r.removeAtLocked(i)
			return true
		}
	}
	return false
}

func (r *registry[L]) removeAtLocked(i int) {
	r.entries[i].removed.Store(true)
	r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
}

func (r *registry[L]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// snapshot copies the current listener list. Dispatch iterates the
// copy, so listeners may mutate the registry while being notified.
func (r *registry[L]) snapshot() []*listenerEntry[L] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return nil
	}
	return append([]*listenerEntry[L](nil), r.entries...)
}

// each invokes fn for every listener registered at call time, skipping
// any listener unregistered before its turn.
func (r *registry[L]) each(fn func(L)) {
	for _, e := range r.snapshot() {
		if e.removed.Load() {
			continue
		}
		fn(e.l)
	}
}
