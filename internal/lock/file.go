package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// FileLock enforces one service instance per host via a POSIX
// advisory lock on {runtime_dir}/{service}.lock. The file body carries
// the holding PID for operator inspection.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a file lock for a service in the runtime dir.
func NewFileLock(runtimeDir, service string) *FileLock {
	return &FileLock{path: filepath.Join(runtimeDir, service+".lock")}
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.path }

// Acquire takes the exclusive flock. A lock held by another process
// returns ErrNotAcquired.
func (l *FileLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("lock dir: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", l.path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("flock %s: %w", l.path, ErrNotAcquired)
	}

	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)
		f.Sync()
	}

	l.file = f
	return nil
}

// Release drops the flock and removes the file. Safe to call when not
// held.
func (l *FileLock) Release() error {
	if l.file == nil {
		return nil
	}

	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	os.Remove(l.path)
	return err
}
