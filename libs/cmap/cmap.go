// Package cmap provides a goroutine-safe map keyed by string.
package cmap

import (
	"sort"
	"sync"
)

// CMap is a goroutine-safe map. Each CMap carries its own lock, so two maps
// never contend with each other.
type CMap[V any] struct {
	m map[string]V
	l sync.RWMutex
}

// NewCMap returns an empty CMap.
func NewCMap[V any]() *CMap[V] {
	return &CMap[V]{
		m: make(map[string]V),
	}
}

func (cm *CMap[V]) Set(key string, value V) {
	cm.l.Lock()
	defer cm.l.Unlock()
	cm.m[key] = value
}

// GetOrSet returns the existing value if present. Otherwise, it stores
// newValue and returns it. The second result reports whether the value was
// already present.
func (cm *CMap[V]) GetOrSet(key string, newValue V) (value V, alreadyExists bool) {
	cm.l.Lock()
	defer cm.l.Unlock()

	if v, ok := cm.m[key]; ok {
		return v, true
	}

	cm.m[key] = newValue
	return newValue, false
}

// SetIf stores value when pred, given the current value and whether one
// exists, returns true. It reports whether value was stored.
func (cm *CMap[V]) SetIf(key string, value V, pred func(old V, exists bool) bool) bool {
	cm.l.Lock()
	defer cm.l.Unlock()

	old, ok := cm.m[key]
	if !pred(old, ok) {
		return false
	}
	cm.m[key] = value
	return true
}

func (cm *CMap[V]) Get(key string) (V, bool) {
	cm.l.RLock()
	defer cm.l.RUnlock()
	v, ok := cm.m[key]
	return v, ok
}

func (cm *CMap[V]) Has(key string) bool {
	cm.l.RLock()
	defer cm.l.RUnlock()
	_, ok := cm.m[key]
	return ok
}

func (cm *CMap[V]) Delete(key string) {
	cm.l.Lock()
	defer cm.l.Unlock()
	delete(cm.m, key)
}

// DeleteIf removes key only when pred holds for its current value, and
// reports whether it did.
func (cm *CMap[V]) DeleteIf(key string, pred func(V) bool) bool {
	cm.l.Lock()
	defer cm.l.Unlock()

	v, ok := cm.m[key]
	if !ok || !pred(v) {
		return false
	}
	delete(cm.m, key)
	return true
}

func (cm *CMap[V]) Size() int {
	cm.l.RLock()
	defer cm.l.RUnlock()
	return len(cm.m)
}

func (cm *CMap[V]) Clear() {
	cm.l.Lock()
	defer cm.l.Unlock()
	cm.m = make(map[string]V)
}

// Keys returns a sorted copy of the keys.
func (cm *CMap[V]) Keys() []string {
	cm.l.RLock()
	defer cm.l.RUnlock()

	keys := make([]string, 0, len(cm.m))
	for k := range cm.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns a copy of the values in key order.
func (cm *CMap[V]) Values() []V {
	cm.l.RLock()
	defer cm.l.RUnlock()

	keys := make([]string, 0, len(cm.m))
	for k := range cm.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]V, 0, len(keys))
	for _, k := range keys {
		items = append(items, cm.m[k])
	}
	return items
}
