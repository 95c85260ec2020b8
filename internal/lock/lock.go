package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockHeldError is returned when another process holds the lock.
type LockHeldError struct {
	PID  int
	Path string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("lock held by PID %d (%s)", e.PID, e.Path)
}

// Lock represents an acquired lock file.
type Lock struct {
	file            *os.File
	path            string
	removeOnRelease bool
}

// Acquire takes the exclusive instance lock in dir without waiting. The daemon
// holds it for its whole lifetime. Returns LockHeldError if another process
// already holds it.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create instance dir: %w", err)
	}
	l, err := try(filepath.Join(dir, "LOCK"))
	if err != nil {
		return nil, err
	}
	l.removeOnRelease = true
	return l, nil
}

// Options bounds how long AcquireFile keeps trying.
type Options struct {
	Attempts int
	Delay    time.Duration
}

// DefaultOptions gives ten attempts 100ms apart.
var DefaultOptions = Options{Attempts: 10, Delay: 100 * time.Millisecond}

// AcquireFile takes an exclusive lock on path, retrying up to opts.Attempts
// times. The file is left in place on Release so that concurrent waiters keep
// locking the same inode.
func AcquireFile(ctx context.Context, path string, opts Options) (*Lock, error) {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		l, err := try(path)
		if err == nil {
			return l, nil
		}
		var held *LockHeldError
		if !errors.As(err, &held) {
			return nil, err
		}
		lastErr = err
		if attempt == opts.Attempts {
			break
		}
		timer := time.NewTimer(opts.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("acquire %s after %d attempts: %w", path, opts.Attempts, lastErr)
}

func try(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		// Read existing PID from file for diagnostics.
		data, _ := os.ReadFile(path)
		pid := parsePID(string(data))
		_ = f.Close()
		return nil, &LockHeldError{PID: pid, Path: path}
	}

	// Write PID + timestamp.
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if l.removeOnRelease {
		_ = os.Remove(l.path)
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}

// HolderPID reads the PID recorded in a lock file, or 0 if none.
func HolderPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return parsePID(string(data))
}

func parsePID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		if after, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ := strconv.Atoi(after)
			return pid
		}
	}
	return 0
}
