// Package lockfile guards the state directory against concurrent instances.
//
// Two processes sharing the same SQLite databases and WhatsApp session store
// would corrupt each other, so the service takes an exclusive flock on a lock
// file inside the state directory. The kernel releases the lock when the
// process exits, so a crash never leaves the directory locked.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "stagelink.lock"

// Lock is an acquired exclusive lock on a state directory.
type Lock struct {
	file     *os.File
	path     string
	acquired bool
}

// HeldError reports a lock held by another process.
type HeldError struct {
	LockPath string
	Holder   string
	Cause    error
}

func (e *HeldError) Error() string {
	msg := fmt.Sprintf("state directory is in use by another instance (lock file: %s", e.LockPath)
	if e.Holder != "" {
		msg += ", held by " + e.Holder
	}
	return msg + ")"
}

func (e *HeldError) Unwrap() error {
	return e.Cause
}

// Acquire takes an exclusive lock on the state directory, creating it if
// needed. It fails with a *HeldError when another process holds the lock.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("Lockfile.Acquire: create state directory %s: %w", stateDir, err)
	}

	lockPath := filepath.Join(stateDir, LockFileName)
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("Lockfile.Acquire: open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := describeHolder(lockPath)
		slog.Error("Lockfile.Acquire: lock held by another instance", "lock_path", lockPath, "holder", holder)
		return nil, &HeldError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	if _, err := fmt.Fprintf(file, "pid=%d\n", os.Getpid()); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("Lockfile.Acquire: write lock file %s: %w", lockPath, err)
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Lockfile.Acquire: sync lock file failed", "error", err, "lock_path", lockPath)
	}

	slog.Debug("Lockfile.Acquire: lock acquired", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath, acquired: true}, nil
}

// Release drops the lock and removes the lock file. Safe to call twice.
func (l *Lock) Release() error {
	if !l.acquired || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Lockfile.Release: unlock failed", "error", err, "lock_path", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Lockfile.Release: close failed", "error", err, "lock_path", l.path)
	}
	if err := os.Remove(l.path); err != nil {
		// Not critical, the flock itself is already gone.
		slog.Debug("Lockfile.Release: remove lock file failed", "error", err, "lock_path", l.path)
	}
	l.acquired = false
	l.file = nil
	return nil
}

// describeHolder reads the existing lock file and reports the holding process
// and whether it is still alive.
func describeHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil || len(data) == 0 {
		return ""
	}
	pid := parsePID(string(data))
	if pid <= 0 {
		return strings.TrimSpace(string(data))
	}
	if processAlive(pid) {
		return fmt.Sprintf("PID %d (running)", pid)
	}
	return fmt.Sprintf("PID %d (not running, stale lock)", pid)
}

func parsePID(content string) int {
	const prefix = "pid="
	idx := strings.Index(content, prefix)
	if idx < 0 {
		return 0
	}
	rest := content[idx+len(prefix):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	pid, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0
	}
	return pid
}

// processAlive checks for the process with signal 0, which probes existence
// without delivering anything.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
