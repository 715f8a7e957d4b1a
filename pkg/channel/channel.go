// Package channel implements MediatedChannel (spec §4.B): a file handle
// wrapper that transparently reopens after an interrupt-induced closure,
// so that one caller's interruption never corrupts another caller's view
// of the file.
//
// The mediation is built as an explicit two-state machine (open / closed),
// with concurrent reopens coalesced through a singleflight group, rather
// than depending on any
// language-level thread-interruption semantics. Go has no such semantics;
// cancellation is modeled with a context.Context passed into each call,
// and "interrupted" means that context was done when the call observed
// it — after the channel itself has already been made consistent for
// other callers.
package channel

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/pbeaman/persistit-sub006/pkg/dberror"
)

type state int32

const (
	stateOpen state = iota
	stateClosed
)

// MediatedChannel wraps a single *os.File. All operations are positional;
// relative-offset variants are unsupported by design.
type MediatedChannel struct {
	path string
	flag int
	perm os.FileMode

	mu    sync.RWMutex
	file  *os.File
	state atomic.Int32

	reopenGroup singleflight.Group

	lockMu   sync.Mutex
	lockFile *os.File
	lockPath string
}

// Open opens path with the given flags/permissions, mediated for
// transparent reopen on interrupt-induced closure.
func Open(path string, flag int, perm os.FileMode) (*MediatedChannel, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, dberror.NewIo("open", err)
	}
	c := &MediatedChannel{path: path, flag: flag, perm: perm, file: f, lockPath: path + ".lck"}
	return c, nil
}

func (c *MediatedChannel) closed() bool {
	return state(c.state.Load()) == stateClosed
}

// currentFile returns the live *os.File, or an error once the sticky
// closed flag has been set. It does not reopen the file itself.
func (c *MediatedChannel) currentFile() (*os.File, error) {
	if c.closed() {
		return nil, dberror.New(dberror.KindIo, "channel is closed")
	}
	c.mu.RLock()
	f := c.file
	c.mu.RUnlock()
	return f, nil
}

// reopen re-opens the underlying file, coalescing concurrent callers into
// a single actual reopen (spec §4.B: "concurrent reopens coalesce to
// one"). Safe to call repeatedly; returns an error once Close has been
// called.
func (c *MediatedChannel) reopen() error {
	if c.closed() {
		return dberror.New(dberror.KindIo, "channel is closed")
	}
	_, err, _ := c.reopenGroup.Do("reopen", func() (any, error) {
		f, err := os.OpenFile(c.path, c.flag, c.perm)
		if err != nil {
			return nil, dberror.NewIo("reopen", err)
		}
		c.mu.Lock()
		old := c.file
		c.file = f
		c.mu.Unlock()
		if old != nil {
			old.Close()
		}
		return nil, nil
	})
	return err
}

// isReopenable reports whether err indicates the handle was asynchronously
// closed underneath us and a reopen-then-retry is warranted.
func isReopenable(err error) bool {
	return errors.Is(err, os.ErrClosed) || errors.Is(err, os.ErrInvalid)
}

// withRetry runs fn against the live file, transparently reopening and
// retrying each time the handle is found closed out from under the call.
// It runs fn on a goroutine and races it against ctx.Done(), so a caller's
// own interruption is observed while the call is still blocked rather
// than only after it happens to return (spec §4.B, scenario S7): if ctx
// fires first, withRetry forces the same reopen a spontaneously-closed
// handle would trigger — unblocking fn with a closed-handle error and
// giving any other caller sharing the old handle a live one to
// transparently retry against — then reports Interrupted to this caller
// without retrying its own operation. A successful call that only
// resolved after an earlier reopen still gets the post-hoc Interrupted
// check, covering a context that was already done before the call began.
func withRetry[T any](ctx context.Context, c *MediatedChannel, op string, fn func(*os.File) (T, error)) (T, error) {
	var zero T
	reopened := false
	for {
		f, err := c.currentFile()
		if err != nil {
			return zero, err
		}

		result, callErr, interrupted := callWithInterrupt(ctx, f, fn)
		if interrupted {
			if rerr := c.reopen(); rerr != nil {
				return zero, rerr
			}
			return zero, dberror.NewInterrupted(op)
		}
		if callErr != nil {
			if isReopenable(callErr) {
				if rerr := c.reopen(); rerr != nil {
					return zero, rerr
				}
				reopened = true
				continue
			}
			return zero, dberror.NewIo(op, callErr)
		}
		if reopened && ctx != nil && ctx.Err() != nil {
			return result, dberror.NewInterrupted(op)
		}
		return result, nil
	}
}

// callWithInterrupt runs fn(f) on a goroutine and returns as soon as
// either it completes or ctx is done, whichever comes first. On an
// interrupt the goroutine running fn is left to finish on its own and
// its result discarded; f is about to be superseded by a reopen, so
// nothing is waiting on fn's outcome anymore.
func callWithInterrupt[T any](ctx context.Context, f *os.File, fn func(*os.File) (T, error)) (result T, err error, interrupted bool) {
	if ctx == nil || ctx.Done() == nil {
		result, err = fn(f)
		return result, err, false
	}

	type outcome struct {
		result T
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, e := fn(f)
		done <- outcome{r, e}
	}()

	select {
	case o := <-done:
		return o.result, o.err, false
	case <-ctx.Done():
		go func() { <-done }()
		var zero T
		return zero, nil, true
	}
}

// Read reads len(buf) bytes starting at pos.
func (c *MediatedChannel) Read(ctx context.Context, buf []byte, pos int64) (int, error) {
	return withRetry(ctx, c, "read", func(f *os.File) (int, error) {
		return f.ReadAt(buf, pos)
	})
}

// Write writes buf starting at pos.
func (c *MediatedChannel) Write(ctx context.Context, buf []byte, pos int64) (int, error) {
	return withRetry(ctx, c, "write", func(f *os.File) (int, error) {
		return f.WriteAt(buf, pos)
	})
}

// Truncate resizes the file to exactly n bytes.
func (c *MediatedChannel) Truncate(ctx context.Context, n int64) error {
	_, err := withRetry(ctx, c, "truncate", func(f *os.File) (struct{}, error) {
		return struct{}{}, f.Truncate(n)
	})
	return err
}

// Size reports the current file size.
func (c *MediatedChannel) Size(ctx context.Context) (int64, error) {
	return withRetry(ctx, c, "size", func(f *os.File) (int64, error) {
		info, err := f.Stat()
		if err != nil {
			return 0, err
		}
		return info.Size(), nil
	})
}

// Force flushes pending writes to stable storage. When metadata is true
// this also forces filesystem metadata (matching File.Sync's behavior on
// most platforms; Go does not expose a metadata-only vs data-only
// distinction).
func (c *MediatedChannel) Force(ctx context.Context, metadata bool) error {
	_, err := withRetry(ctx, c, "force", func(f *os.File) (struct{}, error) {
		return struct{}{}, f.Sync()
	})
	return err
}

// TryLock attempts an advisory lock using a sibling .lck sidecar file, so
// the primary file's own byte-range semantics are left undisturbed. The
// sidecar is locked as a whole; pos and size do not narrow the lock. A shared-lock request that cannot create the sidecar
// (e.g. read-only media) silently succeeds with no lock enforced, per
// spec §4.B.
func (c *MediatedChannel) TryLock(pos, size int64, shared bool) (bool, error) {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()

	if c.lockFile == nil {
		f, err := os.OpenFile(c.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			if shared {
				// Read-only media: no sidecar, no enforcement, but the
				// caller proceeds as if it held the lock.
				return true, nil
			}
			return false, dberror.NewIo("trylock", err)
		}
		c.lockFile = f
	}
	return tryLockRange(c.lockFile, pos, size, shared)
}

// Close explicitly closes the channel. This is the only transition into
// the sticky-closed state; after Close, every subsequent operation fails
// rather than transparently reopening.
func (c *MediatedChannel) Close() error {
	if !c.state.CompareAndSwap(int32(stateOpen), int32(stateClosed)) {
		return nil
	}
	c.mu.Lock()
	f := c.file
	c.file = nil
	c.mu.Unlock()

	c.lockMu.Lock()
	if c.lockFile != nil {
		c.lockFile.Close()
		c.lockFile = nil
	}
	c.lockMu.Unlock()

	if f == nil {
		return nil
	}
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return dberror.NewIo("close", err)
	}
	return nil
}
