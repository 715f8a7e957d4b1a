package concurrency

import (
	"sync"
	"time"

	"github.com/pbeaman/persistit-sub006/pkg/dberror"
)

// SharedResource is the minimal lockable surface ReentrantClaim layers
// reentrancy on top of: an exclusive lock, a shared lock, and their
// release. LockExclusive/LockShared block up to timeout acquiring the
// underlying latch, returning false (not an error) if timeout elapses
// first — a plain failed-to-acquire outcome a try-style caller expects,
// distinct from an actual I/O or state error.
type SharedResource interface {
	LockExclusive(timeout time.Duration) (bool, error)
	LockShared(timeout time.Duration) (bool, error)
	UnlockExclusive()
	UnlockShared()
}

// holderState tracks one SessionID's nesting depth and whether it holds
// the resource as writer.
type holderState struct {
	readDepth  int
	writeDepth int
}

// ReentrantClaim wraps a SharedResource so the same SessionID can claim it
// repeatedly (read or write) without deadlocking against itself, and can
// upgrade an outstanding read claim to a write claim. Claims from
// different sessions contend on the underlying resource as usual: whether
// several sessions may hold it at once is decided by the SharedResource's
// own shared/exclusive rules.
type ReentrantClaim struct {
	mu        sync.Mutex
	resource  SharedResource
	holders   map[SessionID]*holderState
	writer    SessionID
	hasWriter bool
}

// NewReentrantClaim wraps resource.
func NewReentrantClaim(resource SharedResource) *ReentrantClaim {
	return &ReentrantClaim{resource: resource, holders: make(map[SessionID]*holderState)}
}

// Claim acquires a read or write hold for session within timeout, blocking
// on the underlying resource only on the session's first claim of that
// kind. A session already holding a read claim that requests a writer
// claim attempts an upgrade in place (see UpgradeClaim) rather than taking
// a second, conflicting lock on the same resource from the same session.
// Claim returns (false, a dberror.KindInUse error) if timeout elapses
// before the resource is acquired; the session's counters are left
// unchanged on that path.
func (c *ReentrantClaim) Claim(session SessionID, writer bool, timeout time.Duration) (bool, error) {
	c.mu.Lock()
	state, exists := c.holders[session]
	if !exists {
		state = &holderState{}
		c.holders[session] = state
	}

	if writer {
		if state.writeDepth > 0 {
			state.writeDepth++
			c.mu.Unlock()
			return true, nil
		}
		if state.readDepth > 0 {
			c.mu.Unlock()
			return c.upgrade(session, state, timeout)
		}
		c.mu.Unlock()
		acquired, err := c.resource.LockExclusive(timeout)
		if err != nil || !acquired {
			c.mu.Lock()
			c.pruneLocked(session, state)
			c.mu.Unlock()
		}
		if err != nil {
			return false, err
		}
		if !acquired {
			return false, dberror.NewInUse("claim acquisition timed out")
		}
		c.mu.Lock()
		state.writeDepth++
		c.hasWriter = true
		c.writer = session
		c.mu.Unlock()
		return true, nil
	}

	if state.readDepth > 0 || state.writeDepth > 0 {
		state.readDepth++
		c.mu.Unlock()
		return true, nil
	}
	c.mu.Unlock()
	acquired, err := c.resource.LockShared(timeout)
	if err != nil || !acquired {
		c.mu.Lock()
		c.pruneLocked(session, state)
		c.mu.Unlock()
	}
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, dberror.NewInUse("claim acquisition timed out")
	}
	c.mu.Lock()
	state.readDepth++
	c.mu.Unlock()
	return true, nil
}

// UpgradeClaim promotes session's outstanding read claim to a write claim
// within timeout. session must already hold at least one read claim; it
// is an error to upgrade a session with no claim at all. Per spec §4.I,
// failure to acquire the exclusive lock within timeout returns false
// without incrementing the session's write counter.
func (c *ReentrantClaim) UpgradeClaim(session SessionID, timeout time.Duration) (bool, error) {
	c.mu.Lock()
	state, exists := c.holders[session]
	if !exists || (state.readDepth == 0 && state.writeDepth == 0) {
		c.mu.Unlock()
		return false, dberror.New(dberror.KindInvalidState, "cannot upgrade a claim the session does not hold")
	}
	if state.writeDepth > 0 {
		state.writeDepth++
		c.mu.Unlock()
		return true, nil
	}
	c.mu.Unlock()
	return c.upgrade(session, state, timeout)
}

// upgrade performs the actual exclusive-lock attempt backing both a
// writer Claim over an existing read hold and an explicit UpgradeClaim.
// On timeout it returns (false, InUse) and leaves state.writeDepth at 0,
// matching spec §4.I's "failure returns false without incrementing".
func (c *ReentrantClaim) upgrade(session SessionID, state *holderState, timeout time.Duration) (bool, error) {
	acquired, err := c.resource.LockExclusive(timeout)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, dberror.NewInUse("claim upgrade timed out")
	}
	c.mu.Lock()
	state.writeDepth++
	c.hasWriter = true
	c.writer = session
	c.mu.Unlock()
	return true, nil
}

// Release drops one level of session's claim, releasing the underlying
// resource lock once the session's nesting depth (of that kind) reaches
// zero.
func (c *ReentrantClaim) Release(session SessionID, writer bool) error {
	c.mu.Lock()
	state, exists := c.holders[session]
	if !exists {
		c.mu.Unlock()
		return dberror.New(dberror.KindInvalidState, "release without a matching claim")
	}

	if writer {
		if state.writeDepth == 0 {
			c.mu.Unlock()
			return dberror.New(dberror.KindInvalidState, "release of a write claim the session does not hold")
		}
		state.writeDepth--
		releaseUnderlying := state.writeDepth == 0
		if releaseUnderlying {
			c.hasWriter = false
		}
		c.pruneLocked(session, state)
		c.mu.Unlock()
		if releaseUnderlying {
			c.resource.UnlockExclusive()
		}
		return nil
	}

	if state.readDepth == 0 {
		c.mu.Unlock()
		return dberror.New(dberror.KindInvalidState, "release of a read claim the session does not hold")
	}
	state.readDepth--
	releaseUnderlying := state.readDepth == 0 && state.writeDepth == 0
	c.pruneLocked(session, state)
	c.mu.Unlock()
	if releaseUnderlying {
		c.resource.UnlockShared()
	}
	return nil
}

func (c *ReentrantClaim) pruneLocked(session SessionID, state *holderState) {
	if state.readDepth == 0 && state.writeDepth == 0 {
		delete(c.holders, session)
	}
}

// IsWriter reports whether session currently holds a write claim.
func (c *ReentrantClaim) IsWriter(session SessionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, exists := c.holders[session]
	return exists && state.writeDepth > 0
}

// VerifyReleased reports whether every claim has been fully released; it
// is meant for tests and shutdown assertions, not hot-path use.
func (c *ReentrantClaim) VerifyReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.holders) == 0 && !c.hasWriter
}
