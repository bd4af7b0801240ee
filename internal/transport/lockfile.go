package transport

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// acquireLock takes an exclusive, non-blocking flock on path, truncates
// it, and stamps it with the current PID (spec.md §6: "the lockfile
// contains the server's PID"). A held lock signals a live server still
// owns the adjacent socket node.
func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("transport: lockfile %s held by another process: %w", path, err)
	}
	if err := f.Truncate(0); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, err
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("%d\n", os.Getpid())), 0); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, err
	}
	return f, nil
}

// releaseLock drops the flock and removes both the lockfile and its
// sibling socket node, undoing acquireLock and the listener's bind.
func releaseLock(f *os.File, socketPath, lockPath string) {
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	f.Close()
	os.Remove(socketPath)
	os.Remove(lockPath)
}
