// Package lock keeps a second daemon from running the same chat session.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// HeldError is returned when another live process holds the lock.
type HeldError struct {
	Owner Owner
	Path  string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("session already served by pid %d (user %s, %s)", e.Owner.PID, e.Owner.UserID, e.Path)
}

// Owner describes the process holding a lock.
type Owner struct {
	PID     int
	UserID  string
	Started time.Time
}

// Lock is an acquired flock on a lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive, non-blocking flock on path and records the
// owner in it.
func Acquire(path, userID string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		owner, _ := Inspect(path)
		_ = f.Close()
		return nil, &HeldError{Owner: owner, Path: path}
	}

	owner := Owner{PID: os.Getpid(), UserID: userID, Started: time.Now().UTC()}
	if err := writeOwner(f, owner); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{file: f, path: path}, nil
}

func writeOwner(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nuser=%s\nstarted=%s\n", o.PID, o.UserID, o.Started.Format(time.RFC3339))
	return err
}

// Inspect reads the owner recorded in a lock file without locking it.
func Inspect(path string) (Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Owner{}, err
	}
	var o Owner
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			o.PID, _ = strconv.Atoi(value)
		case "user":
			o.UserID = value
		case "started":
			o.Started, _ = time.Parse(time.RFC3339, value)
		}
	}
	return o, nil
}

// Release drops the lock and removes the file. Safe on a nil or released lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}
