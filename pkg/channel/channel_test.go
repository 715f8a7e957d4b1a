package channel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pbeaman/persistit-sub006/pkg/dberror"
)

func TestWriteReadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment.0")

	c, err := Open(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	want := []byte("hello journal")
	if _, err := c.Write(ctx, want, 0); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := c.Force(ctx, true); err != nil {
		t.Fatalf("force failed: %v", err)
	}

	got := make([]byte, len(want))
	if _, err := c.Read(ctx, got, 0); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestSizeReflectsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment.0")

	c, err := Open(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	data := []byte("0123456789")
	if _, err := c.Write(ctx, data, 0); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	size, err := c.Size(ctx)
	if err != nil {
		t.Fatalf("size failed: %v", err)
	}
	if size != int64(len(data)) {
		t.Errorf("expected size %d, got %d", len(data), size)
	}
}

func TestCloseIsStickyAndIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment.0")

	c, err := Open(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second close should be a no-op, got error: %v", err)
	}

	ctx := context.Background()
	if _, err := c.Write(ctx, []byte("x"), 0); err == nil {
		t.Error("expected write against a closed channel to fail")
	}
}

func TestTryLockExclusiveExcludesSecondHolder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment.0")

	c1, err := Open(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open c1 failed: %v", err)
	}
	defer c1.Close()
	c2, err := Open(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open c2 failed: %v", err)
	}
	defer c2.Close()

	ok1, err := c1.TryLock(0, 64, false)
	if err != nil {
		t.Fatalf("c1 trylock failed: %v", err)
	}
	if !ok1 {
		t.Fatal("expected c1 to acquire the exclusive lock")
	}

	ok2, err := c2.TryLock(0, 64, false)
	if err != nil {
		t.Fatalf("c2 trylock failed: %v", err)
	}
	if ok2 {
		t.Error("expected c2 to be refused the lock while c1 holds it")
	}
}

// TestCallWithInterruptUnblocksOnContextCancellation exercises the core
// interrupt-resilience mechanism (spec §4.B): cancelling ctx while fn is
// still blocked must return promptly with interrupted=true, rather than
// only being noticed after fn happens to complete.
func TestCallWithInterruptUnblocksOnContextCancellation(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	type outcome struct{ interrupted bool }
	out := make(chan outcome, 1)
	go func() {
		_, _, interrupted := callWithInterrupt(ctx, nil, func(*os.File) (int, error) {
			close(started)
			<-block
			return 42, nil
		})
		out <- outcome{interrupted}
	}()

	<-started
	cancel()

	select {
	case o := <-out:
		if !o.interrupted {
			t.Errorf("expected callWithInterrupt to report interrupted once ctx was cancelled")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callWithInterrupt did not return promptly after context cancellation")
	}
	close(block)
}

// TestWithRetryInterruptsOneCallerWithoutAffectingAnother reproduces spec
// §8 scenario S7: caller A blocks inside a channel operation, its context
// is cancelled mid-call, and it must observe Interrupted while caller B's
// subsequent operation on the same channel succeeds against correct data
// (the forced reopen triggered by A's interrupt never leaves the channel
// unusable for anyone else).
func TestWithRetryInterruptsOneCallerWithoutAffectingAnother(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment.0")

	c, err := Open(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer c.Close()

	if _, err := c.Write(context.Background(), []byte("hello"), 0); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	block := make(chan struct{})
	started := make(chan struct{})
	ctxA, cancelA := context.WithCancel(context.Background())

	type result struct{ err error }
	resA := make(chan result, 1)
	go func() {
		_, err := withRetry(ctxA, c, "blockread", func(*os.File) (int, error) {
			close(started)
			<-block
			return 0, nil
		})
		resA <- result{err}
	}()

	<-started
	cancelA()

	select {
	case r := <-resA:
		if !dberror.Is(r.err, dberror.KindInterrupted) {
			t.Errorf("expected caller A to observe Interrupted, got %v", r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("caller A did not observe interruption promptly")
	}
	close(block)

	got := make([]byte, 5)
	if _, err := c.Read(context.Background(), got, 0); err != nil {
		t.Fatalf("caller B read after A's interrupt failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("expected caller B to read correct data, got %q", got)
	}
}
