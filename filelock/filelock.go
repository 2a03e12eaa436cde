// Package filelock coordinates token refreshes across processes with
// exclusive file locks keyed by credential key. Within one process the
// refresh package's Coordinator already serializes refreshes; this package
// extends the guarantee to multiple processes sharing a file-backed store.
package filelock

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// Manager creates per-key locks under a single directory.
type Manager struct {
	dir string
}

// NewManager creates a manager over an explicit lock directory.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("filelock: creating lock directory: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// NewManagerForApp creates a manager under the default lock directory,
// scoped by application name.
func NewManagerForApp(appName string) (*Manager, error) {
	return NewManager(filepath.Join(defaultDir(), appName))
}

// defaultDir prefers XDG_RUNTIME_DIR (per-user tmpfs on Linux) and falls
// back to a user-scoped directory under the system temp dir.
func defaultDir() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "oauthkit-locks")
	}
	return filepath.Join(os.TempDir(), "oauthkit-locks-"+currentUserID())
}

func currentUserID() string {
	if u, err := user.Current(); err == nil {
		return u.Uid
	}
	return "unknown"
}

// Dir returns the lock directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Acquire takes the exclusive lock for key, blocking until it is available.
// The caller must Release the returned lock.
func (m *Manager) Acquire(key string) (*Lock, error) {
	fl := flock.New(m.path(key))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("filelock: acquiring lock for %q: %w", key, err)
	}
	return &Lock{fl: fl}, nil
}

// TryAcquire takes the exclusive lock for key without blocking. It returns
// nil when another holder already has it.
func (m *Manager) TryAcquire(key string) (*Lock, error) {
	fl := flock.New(m.path(key))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("filelock: trying lock for %q: %w", key, err)
	}
	if !locked {
		return nil, nil
	}
	return &Lock{fl: fl}, nil
}

// path maps a credential key to a lock file, replacing characters that are
// not filename-safe.
func (m *Manager) path(key string) string {
	r := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_",
		"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
	)
	return filepath.Join(m.dir, r.Replace(key)+".lock")
}

// Lock is a held exclusive lock. Release it exactly once.
type Lock struct {
	fl *flock.Flock
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Release unlocks and removes the lock file (removal is best effort; a
// waiter may already have the file open).
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("filelock: releasing %s: %w", l.fl.Path(), err)
	}
	os.Remove(l.fl.Path())
	return nil
}
