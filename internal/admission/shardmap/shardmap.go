// Package shardmap provides a striped-lock concurrent map keyed by client key.
// Sharding keeps unrelated clients off the same mutex under load.
package shardmap

import (
	"hash/fnv"
	"sync"
)

const shardCount = 64

// Map is a sharded map from string keys to values of type V.
// The zero value is not usable; call New.
type Map[V any] struct {
	shards [shardCount]shard[V]
}

type shard[V any] struct {
	mu      sync.Mutex
	entries map[string]V
}

// New creates an empty sharded map.
func New[V any]() *Map[V] {
	m := &Map[V]{}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]V)
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &m.shards[h.Sum32()%shardCount]
}

// Update runs fn under the shard lock with the current value for key (or the
// zero value and ok=false if absent). fn returns the new value and whether to
// keep the entry. Update returns fn's result value.
func (m *Map[V]) Update(key string, fn func(v V, ok bool) (V, bool)) V {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.entries[key]
	next, keep := fn(v, ok)
	if keep {
		s.entries[key] = next
	} else if ok {
		delete(s.entries, key)
	}
	return next
}

// Get returns the value for key without modifying the map.
func (m *Map[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	return v, ok
}

// Delete removes key and reports whether it was present.
func (m *Map[V]) Delete(key string) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok
}

// Range calls fn for every entry, one shard at a time. fn must not call back
// into the map for the same shard.
func (m *Map[V]) Range(fn func(key string, v V) bool) {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, v := range s.entries {
			if !fn(k, v) {
				s.mu.Unlock()
				return
			}
		}
		s.mu.Unlock()
	}
}

// Prune removes every entry for which fn returns true and returns the number
// of entries removed. Used by the background sweep.
func (m *Map[V]) Prune(fn func(key string, v V) bool) int {
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, v := range s.entries {
			if fn(k, v) {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the total number of entries.
func (m *Map[V]) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}
