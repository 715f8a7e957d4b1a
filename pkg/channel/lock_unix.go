//go:build unix

package channel

import (
	"os"
	"syscall"

	"github.com/pbeaman/persistit-sub006/pkg/dberror"
)

// tryLockRange attempts a non-blocking advisory lock on the sidecar file.
// pos/size are accepted for interface symmetry with the primary file's
// addressing but the sidecar is locked as a whole — byte-range locking on
// the sidecar would defeat its purpose of not perturbing the primary
// file's own range-lock semantics.
func tryLockRange(f *os.File, pos, size int64, shared bool) (bool, error) {
	how := syscall.LOCK_EX
	if shared {
		how = syscall.LOCK_SH
	}
	err := syscall.Flock(int(f.Fd()), how|syscall.LOCK_NB)
	if err == nil {
		return true, nil
	}
	if err == syscall.EWOULDBLOCK || err == syscall.EAGAIN {
		return false, nil
	}
	return false, dberror.NewIo("trylock", err)
}
