package storage

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the secretbox key length required by EncryptedFileStore.
const KeySize = 32

const nonceSize = 24

// EncryptedFileStore keeps tokens sealed at rest with NaCl secretbox,
// one file per credential key. Sessions are short-lived, carry no
// long-term credential, and are delegated to a plain FileStore.
//
// The caller owns key management; the store never writes the key to disk.
type EncryptedFileStore struct {
	mu       sync.Mutex
	sessions *FileStore
	baseDir  string
	key      [KeySize]byte
}

var _ Store = (*EncryptedFileStore)(nil)

// NewEncryptedFileStore creates an encrypted store rooted at dir using the
// given 32-byte secretbox key.
func NewEncryptedFileStore(dir string, key [KeySize]byte) (*EncryptedFileStore, error) {
	sessions, err := NewFileStoreAt(dir)
	if err != nil {
		return nil, err
	}
	return &EncryptedFileStore{
		sessions: sessions,
		baseDir:  dir,
		key:      key,
	}, nil
}

// SaveSession delegates to the plain session file store.
func (e *EncryptedFileStore) SaveSession(state string, session Session) error {
	return e.sessions.SaveSession(state, session)
}

// GetSession delegates to the plain session file store.
func (e *EncryptedFileStore) GetSession(state string) (*Session, error) {
	return e.sessions.GetSession(state)
}

// DeleteSession delegates to the plain session file store.
func (e *EncryptedFileStore) DeleteSession(state string) error {
	return e.sessions.DeleteSession(state)
}

// SaveToken seals the token and writes it to the key's file atomically.
func (e *EncryptedFileStore) SaveToken(key string, token Token) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	plaintext, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("storage: serializing token: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("storage: reading nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &e.key)

	path := e.tokenPath(key)
	tmp := path + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("storage: writing sealed token: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: replacing sealed token: %w", err)
	}
	return nil
}

// GetToken opens the sealed token for key, or returns nil if absent.
func (e *EncryptedFileStore) GetToken(key string) (*Token, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sealed, err := os.ReadFile(e.tokenPath(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: reading sealed token: %w", err)
	}
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("storage: sealed token for %q is truncated", key)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &e.key)
	if !ok {
		return nil, fmt.Errorf("storage: sealed token for %q failed authentication", key)
	}

	var token Token
	if err := json.Unmarshal(plaintext, &token); err != nil {
		return nil, fmt.Errorf("storage: parsing token: %w", err)
	}
	return &token, nil
}

// DeleteToken removes the sealed token file for key.
func (e *EncryptedFileStore) DeleteToken(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := os.Remove(e.tokenPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: deleting sealed token: %w", err)
	}
	return nil
}

func (e *EncryptedFileStore) tokenPath(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	return filepath.Join(e.baseDir, "token_"+r.Replace(key)+".sealed")
}
