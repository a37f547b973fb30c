package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	lockFileName   = "riff.lock"
	defaultTimeout = 2 * time.Second
	initialBackoff = 5 * time.Millisecond
	maxBackoff     = 50 * time.Millisecond
)

// ErrLockTimeout is returned when another process holds the write lock for too long.
var ErrLockTimeout = errors.New("local store write lock timeout")

// writeLocker serializes writers across processes (the CLI and the daemon share
// one data dir) using OS file locks. The lock is released when the process exits.
type writeLocker struct {
	lockPath string
	lockFile *os.File
}

func newWriteLocker(dataDir string) *writeLocker {
	return &writeLocker{
		lockPath: filepath.Join(dataDir, lockFileName),
	}
}

// acquire takes the exclusive lock, polling with capped exponential backoff until timeout.
func (l *writeLocker) acquire(timeout time.Duration) error {
	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.lockFile = f

	deadline := time.Now().Add(timeout)
	backoff := initialBackoff

	for {
		if err := l.tryLock(); err == nil {
			l.writeHolder()
			return nil
		}

		if time.Now().After(deadline) {
			holder := l.readHolder()
			l.lockFile.Close()
			l.lockFile = nil
			return fmt.Errorf("%w after %v (holder %s)", ErrLockTimeout, timeout, holder)
		}

		time.Sleep(backoff)
		backoff = min(backoff*2, maxBackoff)
	}
}

func (l *writeLocker) release() error {
	if l.lockFile == nil {
		return nil
	}
	l.lockFile.Truncate(0)
	l.unlock()
	err := l.lockFile.Close()
	l.lockFile = nil
	return err
}

// writeHolder records who holds the lock, for timeout diagnostics.
func (l *writeLocker) writeHolder() {
	l.lockFile.Truncate(0)
	l.lockFile.Seek(0, 0)
	fmt.Fprintf(l.lockFile, "pid:%d\ncmd:%s\ntime:%s\n",
		os.Getpid(), filepath.Base(os.Args[0]), time.Now().Format(time.RFC3339))
	l.lockFile.Sync()
}

func (l *writeLocker) readHolder() string {
	data, err := os.ReadFile(l.lockPath)
	if err != nil {
		return "unknown"
	}

	fields := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if k, v, ok := strings.Cut(line, ":"); ok {
			fields[k] = v
		}
	}
	pid := fields["pid"]
	if pid == "" {
		return "unknown"
	}

	desc := fmt.Sprintf("pid:%s cmd:%s since %s", pid, fields["cmd"], fields["time"])
	if n, err := strconv.Atoi(pid); err == nil && !isProcessAlive(n) {
		desc += " (stale)"
	}
	return desc
}

// tryLock and unlock live in lock_unix.go (flock) and lock_windows.go (LockFileEx).
