package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// FileStore persists sessions and tokens as JSON files under a base
// directory, one file per provider domain. Domains are taken from the
// session's Domain field and from the `domain:rest` prefix of token keys;
// records without a domain land in the "default" files.
//
// Files are written with 0600 permissions and replaced atomically via a
// temp-file rename, so another process sharing the directory never reads a
// half-written file. A single in-process mutex serializes operations within
// one process; cross-process refresh coordination is the job of the filelock
// package, not the store.
type FileStore struct {
	mu      sync.Mutex
	baseDir string
}

var _ Store = (*FileStore)(nil)

const defaultDomain = "default"

// NewFileStore creates a file store under the XDG data directory for the
// given application name: $XDG_DATA_HOME/<appName>, falling back to
// ~/.local/share/<appName>.
func NewFileStore(appName string) (*FileStore, error) {
	baseDir := os.Getenv("XDG_DATA_HOME")
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("storage: determining home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".local", "share")
	}
	return NewFileStoreAt(filepath.Join(baseDir, appName))
}

// NewFileStoreAt creates a file store rooted at an explicit directory.
func NewFileStoreAt(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: creating storage directory: %w", err)
	}
	return &FileStore{baseDir: dir}, nil
}

// Dir returns the base directory of the store.
func (f *FileStore) Dir() string {
	return f.baseDir
}

// SaveSession upserts a session in its domain's sessions file.
func (f *FileStore) SaveSession(state string, session Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	domain := session.Domain
	if domain == "" {
		domain = defaultDomain
	}
	sessions, err := loadMap[Session](f.sessionsPath(domain))
	if err != nil {
		return err
	}
	sessions[state] = session
	return writeMap(f.sessionsPath(domain), sessions)
}

// GetSession looks the state up in the default domain first, then in every
// other sessions file. Sessions are short-lived, so the directory scan is
// acceptable.
func (f *FileStore) GetSession(state string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sessions, err := loadMap[Session](f.sessionsPath(defaultDomain))
	if err != nil {
		return nil, err
	}
	if session, ok := sessions[state]; ok {
		return &session, nil
	}

	domains, err := f.listDomains("sessions_")
	if err != nil {
		return nil, err
	}
	for _, domain := range domains {
		if domain == defaultDomain {
			continue
		}
		sessions, err := loadMap[Session](f.sessionsPath(domain))
		if err != nil {
			return nil, err
		}
		if session, ok := sessions[state]; ok {
			return &session, nil
		}
	}
	return nil, nil
}

// DeleteSession removes the state from whichever domain file holds it.
func (f *FileStore) DeleteSession(state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	domains, err := f.listDomains("sessions_")
	if err != nil {
		return err
	}
	for _, domain := range domains {
		path := f.sessionsPath(domain)
		sessions, err := loadMap[Session](path)
		if err != nil {
			return err
		}
		if _, ok := sessions[state]; ok {
			delete(sessions, state)
			return writeMap(path, sessions)
		}
	}
	return nil
}

// SaveToken upserts a token in its domain's tokens file.
func (f *FileStore) SaveToken(key string, token Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.tokensPath(domainOfKey(key))
	tokens, err := loadMap[Token](path)
	if err != nil {
		return err
	}
	tokens[key] = token
	return writeMap(path, tokens)
}

// GetToken returns a copy of the token for key, or nil if absent.
func (f *FileStore) GetToken(key string) (*Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tokens, err := loadMap[Token](f.tokensPath(domainOfKey(key)))
	if err != nil {
		return nil, err
	}
	token, ok := tokens[key]
	if !ok {
		return nil, nil
	}
	return &token, nil
}

// DeleteToken removes the token for key.
func (f *FileStore) DeleteToken(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.tokensPath(domainOfKey(key))
	tokens, err := loadMap[Token](path)
	if err != nil {
		return err
	}
	delete(tokens, key)
	return writeMap(path, tokens)
}

// domainOfKey extracts the provider domain from a credential key of the form
// "domain:rest". Unqualified keys share the default domain.
func domainOfKey(key string) string {
	if domain, _, ok := strings.Cut(key, ":"); ok && domain != "" {
		return domain
	}
	return defaultDomain
}

// sanitizeDomain makes a domain safe for use in a filename.
func sanitizeDomain(domain string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	return r.Replace(domain)
}

func (f *FileStore) sessionsPath(domain string) string {
	return filepath.Join(f.baseDir, "sessions_"+sanitizeDomain(domain)+".json")
}

func (f *FileStore) tokensPath(domain string) string {
	return filepath.Join(f.baseDir, "tokens_"+sanitizeDomain(domain)+".json")
}

// listDomains returns the domains that have a file with the given prefix.
func (f *FileStore) listDomains(prefix string) ([]string, error) {
	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		return nil, fmt.Errorf("storage: reading storage directory: %w", err)
	}
	var domains []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		domains = append(domains, strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json"))
	}
	return domains, nil
}

func loadMap[T any](path string) (map[string]T, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]T), nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: reading %s: %w", filepath.Base(path), err)
	}
	records := make(map[string]T)
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("storage: parsing %s: %w", filepath.Base(path), err)
	}
	return records, nil
}

func writeMap[T any](path string, records map[string]T) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: serializing %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("storage: writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}
