// Package resource implements TimelyResourceManager and JoinPolicy
// (spec §4.K): a weak-valued, bucketed registry of short-lived handle
// objects (tree/volume handles, open exchanges) that prunes entries whose
// referent has become unreachable, plus the rebalance scoring function
// used when two subtrees are joined.
package resource

import (
	"reflect"
	"runtime"
	"sync"
)

// BucketCount is the number of independent mutex-guarded buckets the
// registry hashes entries into.
const BucketCount = 64

// entry holds a weakly-referenced value via a finalizer-driven liveness
// flag: Go has no first-class weak pointer, so liveness is tracked by a
// finalizer clearing alive when the referent is collected, the same
// trick the teacher's hash-bucketed constraint cache uses to avoid
// pinning large values in a long-lived map.
type entry struct {
	key   any
	value any
	alive *bool
	prev  *entry
	next  *entry
}

type bucket struct {
	mu   sync.Mutex
	head *entry
}

// Manager is a 64-bucket weak-valued registry keyed by any comparable
// key. Register installs a value with a finalizer that marks it dead once
// unreachable; Prune walks every bucket, unlinking dead entries under each
// bucket's lock, and returns the evicted pairs. Prune invokes no callback
// and calls nothing on the live values it leaves in place.
type Manager struct {
	buckets [BucketCount]bucket
}

// NewManager constructs an empty TimelyResourceManager.
func NewManager() *Manager {
	return &Manager{}
}

func bucketIndex(key any) int {
	h := 0
	switch k := key.(type) {
	case int:
		h = k
	case uint32:
		h = int(k)
	case uint64:
		h = int(k)
	case string:
		for _, b := range []byte(k) {
			h = h*31 + int(b)
		}
	default:
		h = 0
	}
	if h < 0 {
		h = -h
	}
	return h % BucketCount
}

// Register installs value under key. A finalizer is attached only when
// value is a non-nil pointer; any other value is never marked dead by the
// garbage collector. Registering the same key twice keeps both entries;
// Lookup returns the most recently registered live entry for a key.
func (m *Manager) Register(key, value any) {
	alive := new(bool)
	*alive = true
	if v := reflect.ValueOf(value); v.Kind() == reflect.Pointer && !v.IsNil() {
		runtime.SetFinalizer(value, func(any) { *alive = false })
	}

	b := &m.buckets[bucketIndex(key)]
	e := &entry{key: key, value: value, alive: alive}

	b.mu.Lock()
	e.next = b.head
	if b.head != nil {
		b.head.prev = e
	}
	b.head = e
	b.mu.Unlock()
}

// Lookup returns the first live entry registered under key, if any.
func (m *Manager) Lookup(key any) (any, bool) {
	b := &m.buckets[bucketIndex(key)]
	b.mu.Lock()
	defer b.mu.Unlock()
	for e := b.head; e != nil; e = e.next {
		if e.key == key && *e.alive {
			return e.value, true
		}
	}
	return nil, false
}

// Prune removes every dead entry from every bucket, returning evicted
// (key, value) pairs for the caller's own bookkeeping. The unlink itself
// happens under each bucket's lock; this fix keeps the unlinked node's
// neighbors correctly relinked to each other (not just to the list head)
// so pruning an interior dead entry never drops its live neighbors from
// the chain.
func (m *Manager) Prune() []struct {
	Key   any
	Value any
} {
	var evicted []struct {
		Key   any
		Value any
	}
	for i := range m.buckets {
		b := &m.buckets[i]
		b.mu.Lock()
		e := b.head
		for e != nil {
			next := e.next
			if !*e.alive {
				if e.prev != nil {
					e.prev.next = e.next
				} else {
					b.head = e.next
				}
				if e.next != nil {
					e.next.prev = e.prev
				}
				evicted = append(evicted, struct {
					Key   any
					Value any
				}{e.key, e.value})
			}
			e = next
		}
		b.mu.Unlock()
	}
	return evicted
}
