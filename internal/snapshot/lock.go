package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrLocked is returned when another process holds the repository lock.
var ErrLocked = errors.New("repository is locked by another process")

// Lock is an advisory per-repository lock file. It only guards against a second shiori process
// writing the same repository state; the stores themselves do not check it.
type Lock struct {
	path string
}

// AcquireLock creates the lock file for repoPath under dir. It fails with ErrLocked if the file
// already exists.
func AcquireLock(dir, repoPath string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	path := filepath.Join(dir, RepoKey(repoPath)+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			owner, _ := os.ReadFile(path)
			return nil, fmt.Errorf("%w (pid %s; remove %s if stale)", ErrLocked, strings.TrimSpace(string(owner)), path)
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close lock file: %w", err)
	}
	return &Lock{path: path}, nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
