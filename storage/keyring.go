package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore keeps tokens in the operating system credential manager
// (macOS Keychain, Windows Credential Manager, the Secret Service API on
// Linux), encrypted by the OS. Sessions are temporary and less sensitive;
// they go to a plain FileStore under the application's data directory.
type KeyringStore struct {
	appName  string
	sessions *FileStore
}

var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a keyring-backed store for the given application
// name. The name scopes both the keyring service and the session directory.
func NewKeyringStore(appName string) (*KeyringStore, error) {
	sessions, err := NewFileStore(appName)
	if err != nil {
		return nil, err
	}
	return &KeyringStore{
		appName:  appName,
		sessions: sessions,
	}, nil
}

// service is the keyring service name identifying this application.
func (k *KeyringStore) service() string {
	return "oauthkit-" + k.appName
}

// SaveSession delegates to the session file store.
func (k *KeyringStore) SaveSession(state string, session Session) error {
	return k.sessions.SaveSession(state, session)
}

// GetSession delegates to the session file store.
func (k *KeyringStore) GetSession(state string) (*Session, error) {
	return k.sessions.GetSession(state)
}

// DeleteSession delegates to the session file store.
func (k *KeyringStore) DeleteSession(state string) error {
	return k.sessions.DeleteSession(state)
}

// SaveToken stores the token as a JSON secret under the credential key.
func (k *KeyringStore) SaveToken(key string, token Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("storage: serializing token: %w", err)
	}
	if err := keyring.Set(k.service(), key, string(data)); err != nil {
		return fmt.Errorf("storage: saving token to keyring: %w", err)
	}
	return nil
}

// GetToken returns the token for key, or nil if the keyring has no entry.
func (k *KeyringStore) GetToken(key string) (*Token, error) {
	data, err := keyring.Get(k.service(), key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: reading token from keyring: %w", err)
	}
	var token Token
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		return nil, fmt.Errorf("storage: parsing token: %w", err)
	}
	return &token, nil
}

// DeleteToken removes the keyring entry for key; absent entries are fine.
func (k *KeyringStore) DeleteToken(key string) error {
	err := keyring.Delete(k.service(), key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("storage: deleting token from keyring: %w", err)
	}
	return nil
}
