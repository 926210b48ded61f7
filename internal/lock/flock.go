// Package lock provides the non-blocking file-based advisory lock that
// serializes updateBranchFiles transactions on a single repository (spec
// §4.A). Adapted from the blocking flock primitive in grailbio-grit's
// git package: that implementation retries LOCK_EX on EWOULDBLOCK until it
// succeeds, which is wrong for this spec — REST writers must see a fast
// Locked failure when a push is in flight, not queue behind it.
package lock

import (
	"syscall"

	"github.com/LunchBadger/configstore/pkg/coreerr"
)

// flock wraps a single OS-level advisory lock held via flock(2).
type flock struct {
	path string
	fd   int
}

func newFlock(path string) *flock {
	return &flock{path: path}
}

// tryLock opens (creating if necessary) the sentinel file and attempts a
// non-blocking exclusive lock. It never retries: contention is reported
// immediately as coreerr.Locked().
func (f *flock) tryLock() error {
	fd, err := syscall.Open(f.path, syscall.O_CREAT|syscall.O_RDWR, 0644)
	if err != nil {
		return err
	}

	if err := syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		syscall.Close(fd)
		if err == syscall.EWOULDBLOCK || err == syscall.EAGAIN {
			return coreerr.Locked()
		}
		return err
	}

	f.fd = fd
	return nil
}

func (f *flock) unlock() error {
	err := syscall.Flock(f.fd, syscall.LOCK_UN)
	if closeErr := syscall.Close(f.fd); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// WithLock acquires a non-blocking exclusive lock on lockPath, runs body,
// and releases the lock on every exit path. If the lock is already held,
// it returns coreerr.Locked() immediately without running body. Any error
// body returns propagates unchanged; the lock is still released.
//
// The lock file is never unlinked after release — flock locks live on the
// open file descriptor, not the directory entry, so a stale lock file left
// behind by a crash is inert and harmless.
func WithLock[T any](lockPath string, body func() (T, error)) (T, error) {
	var zero T

	fl := newFlock(lockPath)
	if err := fl.tryLock(); err != nil {
		return zero, err
	}
	defer fl.unlock()

	return body()
}
