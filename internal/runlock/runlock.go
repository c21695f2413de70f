// Package runlock keeps two syncs from running against the same instance.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const LockFile = ".pack-sync.lock"

// ErrLocked is returned when another run holds the instance lock.
var ErrLocked = errors.New("instance is locked by another sync")

// Lock is a held instance lock.
type Lock struct {
	path string
}

// Acquire creates the lock file of instanceDir exclusively. The file holds
// the pid of the owning process.
func Acquire(instanceDir string) (*Lock, error) {
	if err := os.MkdirAll(instanceDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating instance directory: %w", err)
	}
	path := filepath.Join(instanceDir, LockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w (pid %s, remove %s if no sync is running)", ErrLocked, owner(path), path)
		}
		return nil, fmt.Errorf("creating lock: %w", err)
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing lock: %w", err)
	}
	return &Lock{path: path}, nil
}

// Release removes the lock file. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	path := l.path
	l.path = ""
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("releasing lock: %w", err)
	}
	return nil
}

func owner(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	if pid := strings.TrimSpace(string(data)); pid != "" {
		return pid
	}
	return "unknown"
}
