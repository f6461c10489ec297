package cache

import (
	"container/list"
	"sync"
)

// admission counts disk and rebuild hits per in-memory key. A key enters the
// memory cache only once its count reaches the threshold. The tracked key set
// is bounded by window: when it grows past it, the oldest tenth is dropped.
type admission struct {
	threshold int
	window    int
	enabled   bool

	mu    sync.Mutex
	hits  map[string]*list.Element
	order *list.List
}

type admissionEntry struct {
	key   string
	count int
}

func newAdmission(threshold, window int, enabled bool) *admission {
	return &admission{
		threshold: threshold,
		window:    window,
		enabled:   enabled,
		hits:      make(map[string]*list.Element),
		order:     list.New(),
	}
}

// note records a hit on key and returns its count. With the memory tier off,
// or a threshold of one or less, it returns the threshold without tracking.
func (a *admission) note(key string) int {
	if !a.enabled || a.threshold <= 1 {
		return a.threshold
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if elem, ok := a.hits[key]; ok {
		entry := elem.Value.(*admissionEntry)
		entry.count++
		return entry.count
	}

	a.hits[key] = a.order.PushBack(&admissionEntry{key: key, count: 1})
	if len(a.hits) > a.window {
		a.purge(max(1, a.window/10))
	}

	return 1
}

// admit reports whether a hit count qualifies for the memory tier.
func (a *admission) admit(count int) bool {
	return a.enabled && count >= a.threshold
}

// purge drops the n oldest tracked keys (must be called with lock held).
func (a *admission) purge(n int) {
	for i := 0; i < n; i++ {
		elem := a.order.Front()
		if elem == nil {
			return
		}
		a.order.Remove(elem)
		delete(a.hits, elem.Value.(*admissionEntry).key)
	}
}

// tracked returns the number of keys currently counted.
func (a *admission) tracked() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.hits)
}
