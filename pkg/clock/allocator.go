// Package clock implements the engine's monotonic logical timestamp
// source (spec §4.A). One Allocator is owned per engine instance and
// passed explicitly into every component that needs timestamps — there is
// no global singleton.
package clock

import (
	"sync/atomic"

	"github.com/pbeaman/persistit-sub006/pkg/primitives"
)

// Allocator hands out strictly-increasing primitives.Timestamp values via
// a wait-free atomic increment. It never wraps within a process lifetime:
// 64 bits is enough headroom that wraparound is not a practical concern.
type Allocator struct {
	seq uint64
}

// NewAllocator creates an Allocator starting after start, so timestamps
// issued after a restart never collide with ones already durable in the
// journal.
func NewAllocator(start primitives.Timestamp) *Allocator {
	return &Allocator{seq: uint64(start)}
}

// Next returns the next timestamp in the sequence. Safe for concurrent use.
func (a *Allocator) Next() primitives.Timestamp {
	return primitives.Timestamp(atomic.AddUint64(&a.seq, 1))
}

// Current returns the most recently allocated timestamp without advancing
// the sequence, for checkpoint and cleanup reporting.
func (a *Allocator) Current() primitives.Timestamp {
	return primitives.Timestamp(atomic.LoadUint64(&a.seq))
}
