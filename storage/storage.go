// Package storage defines the credential storage contract shared by all
// backends: sessions for in-flight authorization attempts and tokens for
// issued credentials, both keyed by opaque strings.
package storage

import "time"

// NowFunc returns the current time. It can be overridden in tests.
var NowFunc = time.Now

// Session is the client-side state of one in-flight authorization attempt.
// It is created when a flow starts and deleted once the authorization code
// has been redeemed (successfully or not).
type Session struct {
	State        string    `json:"state"`
	CodeVerifier string    `json:"code_verifier"`
	CreatedAt    time.Time `json:"created_at"`
	Domain       string    `json:"domain,omitempty"`
}

// NewSession creates a session for the given state and PKCE verifier.
func NewSession(state, codeVerifier string) Session {
	return Session{
		State:        state,
		CodeVerifier: codeVerifier,
		CreatedAt:    NowFunc(),
	}
}

// NewSessionWithDomain creates a session bound to a provider domain. Domain
// binding lets file-backed stores partition sessions per provider.
func NewSessionWithDomain(state, codeVerifier, domain string) Session {
	s := NewSession(state, codeVerifier)
	s.Domain = domain
	return s
}

// Token is one issued credential. ExpiresAt is the authoritative absolute
// expiry, derived once at issuance from expires_in; a zero ExpiresAt means
// the token never reports expired.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
	Scope        string    `json:"scope,omitempty"`
}

// Expired reports whether the token's expiry has passed.
func (t *Token) Expired() bool {
	return t.ExpiredAt(NowFunc())
}

// ExpiredAt reports whether the token is expired at the given instant.
func (t *Token) ExpiredAt(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt)
}

// Store is the pluggable backend for sessions and tokens.
//
// Implementations must be safe for concurrent use, must write whole records
// atomically (a reader never observes a partially written session or token),
// and must return independent copies from the Get methods so that callers
// cannot mutate stored state through aliasing. Get methods return (nil, nil)
// on a missing record; Delete methods are no-ops for absent records.
type Store interface {
	// SaveSession upserts a session under its state value.
	SaveSession(state string, session Session) error

	// GetSession returns a copy of the session for state, or nil if absent.
	GetSession(state string) (*Session, error)

	// DeleteSession removes the session for state.
	DeleteSession(state string) error

	// SaveToken upserts a token under a caller-chosen credential key,
	// fully replacing any prior value.
	SaveToken(key string, token Token) error

	// GetToken returns a copy of the token for key, or nil if absent.
	GetToken(key string) (*Token, error)

	// DeleteToken removes the token for key.
	DeleteToken(key string) error
}
