// Package concurrency implements the session and claim primitives
// governing concurrent access to a shared resource (spec §4.H, §4.I):
// SessionContext binds a logical caller identity to a reassignable owner
// slot, and ReentrantClaim layers reentrant read/write claims on top of a
// SharedResource.
package concurrency

import (
	"sync"
	"sync/atomic"

	"github.com/pbeaman/persistit-sub006/pkg/dberror"
)

var sessionSeq atomic.Int64

// SessionID uniquely identifies a SessionContext for the lifetime of the
// process.
type SessionID int64

// SessionContext is a process-global, reassignable owner slot: one caller
// can "rebind" it to itself, interrupt only affects the session's current
// distinct owner, and a session with no owner is inert.
type SessionContext struct {
	id SessionID

	mu          sync.Mutex
	owner       any
	interrupted bool
}

// NewSessionContext allocates a SessionContext with a fresh process-wide
// unique id.
func NewSessionContext() *SessionContext {
	return &SessionContext{id: SessionID(sessionSeq.Add(1))}
}

// ID returns this session's unique identifier.
func (s *SessionContext) ID() SessionID { return s.id }

// Bind assigns owner as this session's current holder, clearing any prior
// interrupt flag raised against the previous owner. owner is compared by
// identity (==), so two distinct *Worker values bind as distinct owners
// even if otherwise equal.
func (s *SessionContext) Bind(owner any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner = owner
	s.interrupted = false
}

// Owner returns the session's current owner, or nil if unbound.
func (s *SessionContext) Owner() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// IsAlive reports the current owner's liveness (spec §4.H): a session
// with no owner bound is not alive, and a bound session is alive unless
// its owner has been interrupted and not yet rebound.
func (s *SessionContext) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner != nil && !s.interrupted
}

// Interrupt marks the session interrupted only if its current owner is
// distinct from requester — a caller cannot interrupt itself through this
// path, matching the weak-ownership model spec §4.H describes.
func (s *SessionContext) Interrupt(requester any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == nil || s.owner == requester {
		return
	}
	s.interrupted = true
}

// Interrupted reports and clears the session's interrupt flag.
func (s *SessionContext) Interrupted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.interrupted
	s.interrupted = false
	return was
}

// CheckInterrupted returns dberror.KindInterrupted if the session has a
// pending interrupt, clearing the flag as a side effect, else nil. Callers
// on a long-running loop call this between steps.
func (s *SessionContext) CheckInterrupted() error {
	if s.Interrupted() {
		return dberror.NewInterrupted("session")
	}
	return nil
}
