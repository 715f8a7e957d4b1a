package resource

import (
	"fmt"
	"testing"
)

func TestRegisterLookupReturnsLiveValue(t *testing.T) {
	m := NewManager()
	m.Register("tree:1", "exchange-a")

	v, ok := m.Lookup("tree:1")
	if !ok {
		t.Fatal("expected Lookup to find a registered live entry")
	}
	if v != "exchange-a" {
		t.Errorf("expected value %q, got %q", "exchange-a", v)
	}

	if _, ok := m.Lookup("tree:missing"); ok {
		t.Error("expected Lookup for an unregistered key to report not found")
	}
}

// killEntry marks the first live entry under key dead, bypassing the
// finalizer so the test does not depend on GC timing.
func killEntry(m *Manager, key any) bool {
	b := &m.buckets[bucketIndex(key)]
	b.mu.Lock()
	defer b.mu.Unlock()
	for e := b.head; e != nil; e = e.next {
		if e.key == key && *e.alive {
			*e.alive = false
			return true
		}
	}
	return false
}

func TestLookupSkipsDeadEntries(t *testing.T) {
	m := NewManager()
	m.Register("tree:1", "exchange-a")

	if !killEntry(m, "tree:1") {
		t.Fatal("expected to find and kill the registered entry")
	}

	if _, ok := m.Lookup("tree:1"); ok {
		t.Error("expected Lookup to skip a dead entry")
	}
}

func TestPruneUnlinksInteriorDeadEntryWithoutDroppingLiveNeighbors(t *testing.T) {
	m := NewManager()

	// Find three keys that land in the same bucket, so the dead one sits
	// between two live neighbors in the chain regardless of hash spread.
	byBucket := make(map[int][]string)
	for i := 0; i < 1000 && len(byBucket) < BucketCount+1; i++ {
		k := fmt.Sprintf("key%d", i)
		idx := bucketIndex(k)
		byBucket[idx] = append(byBucket[idx], k)
		if len(byBucket[idx]) == 3 {
			break
		}
	}
	var key1, key2, key3 string
	for _, keys := range byBucket {
		if len(keys) >= 3 {
			key1, key2, key3 = keys[0], keys[1], keys[2]
			break
		}
	}
	if key1 == "" {
		t.Fatal("could not find three keys sharing a bucket within the search window")
	}

	m.Register(key1, "first")
	m.Register(key2, "middle")
	m.Register(key3, "last")

	if !killEntry(m, key2) {
		t.Fatal("expected to find and kill the middle entry")
	}

	evicted := m.Prune()
	if len(evicted) != 1 {
		t.Fatalf("expected exactly 1 evicted entry, got %d", len(evicted))
	}
	if evicted[0].Key != key2 {
		t.Errorf("expected evicted key %q, got %v", key2, evicted[0].Key)
	}

	if _, ok := m.Lookup(key1); !ok {
		t.Error("expected first live neighbor to survive pruning the interior dead entry")
	}
	if _, ok := m.Lookup(key3); !ok {
		t.Error("expected last live neighbor to survive pruning the interior dead entry")
	}
	if _, ok := m.Lookup(key2); ok {
		t.Error("expected pruned entry to no longer be found")
	}
}
