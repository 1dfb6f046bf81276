// Package cache implements the bounded, callback-populated LRU map used
// by the Controller's session cache (spec.md §4.4, component C4). It is a direct port of
// lru.py's HeapItem/LruDict: a dict backed by a min-heap ordered on
// insertion time, evicting the oldest entry once at capacity.
//
// No library in the reference pack offers populate-on-miss,
// "don't cache this" / "don't evict this" sentinels, or per-entry max
// age (see DESIGN.md), so this stays on container/heap rather than
// adopting golang-lru/v2 here — that library is used for real elsewhere,
// in the registry's simpler memoization cache.
package cache

import (
	"container/heap"
	"sync"
	"time"
)

// PopulateFunc resolves a cache miss. Returning ok=false is the
// DONT_POPULATE sentinel: the miss is not cached and Get returns the
// zero value.
type PopulateFunc[K comparable, V any] func(key K) (value V, ok bool)

// ExpireFunc is invoked on eviction. Returning evict=false is the
// DONT_EXPIRE sentinel: the entry is spared and the next-oldest entry is
// evicted instead.
type ExpireFunc[K comparable, V any] func(key K, value V) (evict bool)

type heapItem[K comparable] struct {
	key       K
	insertedAt time.Time
	index     int
}

type itemHeap[K comparable] []*heapItem[K]

func (h itemHeap[K]) Len() int            { return len(h) }
func (h itemHeap[K]) Less(i, j int) bool  { return h[i].insertedAt.Before(h[j].insertedAt) }
func (h itemHeap[K]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *itemHeap[K]) Push(x any) {
	item := x.(*heapItem[K])
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *itemHeap[K]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// LRU is a bounded map with populate-on-miss and evict-on-capacity
// callbacks. It is not designed for fine-grained concurrent correctness
// (the spec assigns that responsibility to a single owning goroutine,
// e.g. the Controller) but holds a mutex so concurrent callers degrade
// gracefully instead of crashing on a racy map access.
type LRU[K comparable, V any] struct {
	mu sync.Mutex

	maximumSize int
	maximumAge  time.Duration

	populate PopulateFunc[K, V]
	expire   ExpireFunc[K, V]

	data  map[K]entry[V]
	heap  itemHeap[K]
	items map[K]*heapItem[K]
	dirty bool
}

// New constructs an LRU with the given capacity and callbacks. Either
// callback may be nil.
func New[K comparable, V any](maximumSize int, populate PopulateFunc[K, V], expire ExpireFunc[K, V]) *LRU[K, V] {
	return &LRU[K, V]{
		maximumSize: maximumSize,
		populate:    populate,
		expire:      expire,
		data:        make(map[K]entry[V]),
		items:       make(map[K]*heapItem[K]),
	}
}

// SetPopulateCallback replaces the populate callback. Per spec.md §9(a),
// this marks the cache dirty: the next Get for any key is forced to
// repopulate once, after which the dirty bit clears.
func (l *LRU[K, V]) SetPopulateCallback(f PopulateFunc[K, V]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.populate = f
	l.dirty = true
}

// SetExpireCallback replaces the expire callback, also marking the cache
// dirty (see SetPopulateCallback).
func (l *LRU[K, V]) SetExpireCallback(f ExpireFunc[K, V]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expire = f
	l.dirty = true
}

// SetMaximumAge enables (or disables, with 0) per-entry time-based
// expiry, checked opportunistically on Get.
func (l *LRU[K, V]) SetMaximumAge(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maximumAge = d
}

// Len reports the number of entries currently cached.
func (l *LRU[K, V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.data)
}

// Get returns key's value, populating it via the populate callback on a
// miss (or on a dirty cache, exactly once). ok is false if the key was
// never cached and the populate callback declined (DONT_POPULATE) or is
// nil.
func (l *LRU[K, V]) Get(key K) (value V, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, present := l.data[key]
	if present && l.maximumAge > 0 && time.Since(e.insertedAt) > l.maximumAge {
		l.evictLocked(key)
		present = false
	}

	if !present || l.dirty {
		if l.populate == nil {
			if present {
				return e.value, true
			}
			var zero V
			return zero, false
		}
		v, populated := l.populate(key)
		if !populated {
			var zero V
			if present {
				return l.data[key].value, true
			}
			return zero, false
		}
		l.pushAndSetLocked(key, v)
	}
	if l.dirty {
		l.dirty = false
	}
	return l.data[key].value, true
}

// Set inserts or replaces key's value directly, bypassing the populate
// callback (the __setitem__ path in the original).
func (l *LRU[K, V]) Set(key K, value V) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pushAndSetLocked(key, value)
}

// Delete removes key without invoking the expire callback, for callers
// that are shutting the entry down themselves.
func (l *LRU[K, V]) Delete(key K) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if item, ok := l.items[key]; ok {
		heap.Remove(&l.heap, item.index)
		delete(l.items, key)
	}
	delete(l.data, key)
}

// ExpireItem pops and returns the oldest entry, invoking the expire
// callback. ok is false if the cache is empty.
func (l *LRU[K, V]) ExpireItem() (key K, value V, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		if l.heap.Len() == 0 {
			var zk K
			var zv V
			return zk, zv, false
		}
		item := heap.Pop(&l.heap).(*heapItem[K])
		delete(l.items, item.key)
		v := l.data[item.key]
		if l.expire != nil && !l.expire(item.key, v.value) {
			// DONT_EXPIRE: push it back with a fresh timestamp, making it
			// the newest entry, and try the next-oldest instead.
			l.pushHeapLocked(item.key)
			continue
		}
		delete(l.data, item.key)
		return item.key, v.value, true
	}
}

// pushAndSetLocked implements _push_and_set: push a fresh heap entry,
// evicting the oldest if the cache is already at capacity.
func (l *LRU[K, V]) pushAndSetLocked(key K, value V) {
	if _, exists := l.items[key]; !exists && l.heap.Len() >= l.maximumSize && l.maximumSize > 0 {
		l.evictOldestLocked()
	}
	if existing, exists := l.items[key]; exists {
		existing.insertedAt = time.Now()
		heap.Fix(&l.heap, existing.index)
	} else {
		l.pushHeapLocked(key)
	}
	l.data[key] = entry[V]{value: value, insertedAt: time.Now()}
}

func (l *LRU[K, V]) pushHeapLocked(key K) {
	item := &heapItem[K]{key: key, insertedAt: time.Now()}
	heap.Push(&l.heap, item)
	l.items[key] = item
}

// evictOldestLocked pops the single oldest entry and runs the expire
// callback, honoring DONT_EXPIRE by trying the next-oldest instead.
// Retries are bounded to one pass over the heap: if every entry declines
// eviction, the final candidate is forced out anyway so the capacity
// invariant holds (spec.md §9's open question on how the heap reconciles
// a rejecting expire_callback).
func (l *LRU[K, V]) evictOldestLocked() {
	attempts := l.heap.Len()
	for i := 0; i < attempts; i++ {
		item := heap.Pop(&l.heap).(*heapItem[K])
		delete(l.items, item.key)
		v, present := l.data[item.key]
		if present && l.expire != nil && !l.expire(item.key, v.value) && i < attempts-1 {
			l.pushHeapLocked(item.key)
			continue
		}
		delete(l.data, item.key)
		return
	}
}

// evictLocked removes a specific key (used for age-based expiry), still
// honoring the expire callback.
func (l *LRU[K, V]) evictLocked(key K) {
	item, ok := l.items[key]
	if !ok {
		return
	}
	v := l.data[key]
	if l.expire != nil && !l.expire(key, v.value) {
		return
	}
	heap.Remove(&l.heap, item.index)
	delete(l.items, key)
	delete(l.data, key)
}
