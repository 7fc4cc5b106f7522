package monitor

import (
	"container/list"
	"sync"
)

// Arena is a capacity-bounded keyed store. Access to one key is serialized
// through that key's own lock so different keys proceed in parallel. When
// capacity is exceeded the least recently used key is evicted. A capacity of
// zero means unbounded.
type Arena[V any] struct {
	capacity int
	newValue func() V

	mu    sync.Mutex
	slots map[string]*slot[V]
	lru   *list.List
}

type slot[V any] struct {
	mu    sync.Mutex
	value V
	elem  *list.Element
}

// NewArena creates an arena; newValue builds the value of a fresh key
func NewArena[V any](capacity int, newValue func() V) *Arena[V] {
	return &Arena[V]{
		capacity: capacity,
		newValue: newValue,
		slots:    make(map[string]*slot[V]),
		lru:      list.New(),
	}
}

// With runs fn on the value of key, creating it if needed. fn holds the key's
// lock and must not call back into the arena for the same key.
func (a *Arena[V]) With(key string, fn func(v *V)) {
	s := a.acquire(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.value)
}

// Peek runs fn on the value of key only if it exists
func (a *Arena[V]) Peek(key string, fn func(v *V)) bool {
	a.mu.Lock()
	s, ok := a.slots[key]
	a.mu.Unlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.value)
	return true
}

// Delete removes key
func (a *Arena[V]) Delete(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.slots[key]; ok {
		a.lru.Remove(s.elem)
		delete(a.slots, key)
	}
}

// DeleteFunc removes every key for which match returns true
func (a *Arena[V]) DeleteFunc(match func(key string) bool) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for key, s := range a.slots {
		if match(key) {
			a.lru.Remove(s.elem)
			delete(a.slots, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored keys
func (a *Arena[V]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots)
}

func (a *Arena[V]) acquire(key string) *slot[V] {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s, ok := a.slots[key]; ok {
		a.lru.MoveToFront(s.elem)
		return s
	}

	s := &slot[V]{value: a.newValue()}
	s.elem = a.lru.PushFront(key)
	a.slots[key] = s

	if a.capacity > 0 && len(a.slots) > a.capacity {
		oldest := a.lru.Back()
		a.lru.Remove(oldest)
		delete(a.slots, oldest.Value.(string))
	}
	return s
}
