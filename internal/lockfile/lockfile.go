// Package lockfile provides a pidfile-based single-instance guard.
//
// The lock is a file holding the owner's PID, held with an exclusive
// non-blocking flock for as long as the process runs. A second instance
// pointed at the same path fails fast instead of binding the same ports.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrLocked indicates another live process holds the lock.
var ErrLocked = errors.New("lockfile held by another process")

// Lock is an acquired single-instance lock. Release with Unlock.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes an exclusive lock on path and writes the current PID into
// it. If another process holds the lock, Acquire returns ErrLocked wrapped
// with the holder's PID when it can be read.
//
// A leftover file from a crashed process does not block acquisition: the
// flock dies with its holder, so the stale file is simply reclaimed.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lockfile %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		holder := readPID(f)
		f.Close()
		if holder > 0 {
			return nil, fmt.Errorf("%w (pid %d)", ErrLocked, holder)
		}
		return nil, ErrLocked
	}

	// Lock is ours; replace whatever a previous holder left behind.
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate lockfile %s: %w", path, err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("write pid to %s: %w", path, err)
	}

	return &Lock{path: path, file: f}, nil
}

// Path returns the lockfile path.
func (l *Lock) Path() string {
	return l.path
}

// Unlock releases the lock and removes the pidfile. Safe to call once;
// the flock is also released implicitly if the process dies.
func (l *Lock) Unlock() error {
	// Remove before closing so a racing Acquire that grabs the flock after
	// our close never has its fresh pidfile deleted from under it.
	removeErr := os.Remove(l.path)
	closeErr := l.file.Close()
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		return fmt.Errorf("remove lockfile %s: %w", l.path, removeErr)
	}
	return closeErr
}

// readPID parses the PID recorded in the lockfile, or 0 if unreadable.
func readPID(f *os.File) int {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if n == 0 && err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}
