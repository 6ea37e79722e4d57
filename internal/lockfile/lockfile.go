// Package lockfile holds an exclusive flock on the FormPipe state directory.
//
// The state directory carries the browser profile and the SQLite database; two processes driving
// the same browser profile corrupt each other's sessions. The lock is released by the kernel when
// the process exits, so a crash never leaves it held.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the lock file created in the state directory.
const LockFileName = "formpipe.lock"

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID     int
	Started time.Time
	Mode    string // one-shot or serve
}

func (h Holder) String() string {
	if h.PID == 0 {
		return "unknown process"
	}
	s := fmt.Sprintf("PID %d", h.PID)
	if h.Mode != "" {
		s += " (" + h.Mode + ")"
	}
	if !h.Started.IsZero() {
		s += " since " + h.Started.Format(time.RFC3339)
	}
	if isProcessRunning(h.PID) {
		return s + ", running"
	}
	return s + ", not running"
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the lock on stateDir, creating the directory if needed. mode is recorded for the
// benefit of a second instance. A held lock yields a *LockError.
func Acquire(stateDir, mode string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, LockFileName)

	// Not truncated until the lock is ours; the current holder's record must stay readable.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder, _ := ReadHolder(path)
		slog.Error("lockfile.Acquire: state directory in use", "lock_path", path, "holder", holder.String())
		return nil, &LockError{LockPath: path, Holder: holder, Cause: err}
	}

	record := fmt.Sprintf("pid=%d\nstarted=%s\nmode=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339), mode)
	if err := writeRecord(file, record); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock record to %s: %w", path, err)
	}

	slog.Info("lockfile.Acquire: state directory locked", "lock_path", path, "pid", os.Getpid(), "mode", mode)
	return &Lock{file: file, path: path}, nil
}

func writeRecord(f *os.File, record string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(record), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile.writeRecord: sync failed", "error", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release drops the lock and removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove while still holding the lock so no new holder's file is deleted.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lock.Release: remove failed", "lock_path", l.path, "error", err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lock.Release: unlock failed", "lock_path", l.path, "error", err)
	}
	err := l.file.Close()
	l.file = nil
	slog.Info("Lock.Release: state directory unlocked", "lock_path", l.path)
	return err
}

// LockError reports that another process holds the state directory.
type LockError struct {
	LockPath string
	Holder   Holder
	Cause    error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("state directory is locked by another FormPipe instance (%s); lock file %s. "+
		"If that process is gone the lock is stale and the file can be removed with: rm %s",
		e.Holder, e.LockPath, e.LockPath)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// ReadHolder parses the record in a lock file. Unknown lines are ignored.
func ReadHolder(path string) (Holder, error) {
	f, err := os.Open(path)
	if err != nil {
		return Holder{}, err
	}
	defer f.Close()
	return parseHolder(bufio.NewScanner(f)), nil
}

func parseHolder(sc *bufio.Scanner) Holder {
	var h Holder
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				h.PID = pid
			}
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				h.Started = t
			}
		case "mode":
			h.Mode = value
		}
	}
	return h
}

// isProcessRunning sends signal 0, which only checks that the process exists.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
