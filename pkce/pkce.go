// Package pkce implements the PKCE (Proof Key for Code Exchange) challenge
// generation of RFC 7636 for public OAuth 2.0 clients.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Method is the code challenge method sent to the authorization server.
// Only S256 is supported; the plain method is never offered.
const Method = "S256"

// verifierBytes is the entropy of the code verifier. 32 bytes encode to a
// 43-character verifier, the RFC 7636 minimum length.
const verifierBytes = 32

// Pair is a generated code verifier and its derived challenge. The verifier
// is the client-held secret; only the challenge is sent in the authorization
// request.
type Pair struct {
	Verifier  string
	Challenge string
}

// Generate creates a new PKCE pair. The verifier is 32 bytes from
// crypto/rand, base64url-encoded without padding. The challenge is the
// unpadded base64url encoding of the SHA-256 digest of the verifier's ASCII
// text, per RFC 7636 §4.2.
func Generate() (Pair, error) {
	raw := make([]byte, verifierBytes)
	if _, err := rand.Read(raw); err != nil {
		return Pair{}, fmt.Errorf("pkce: reading random bytes: %w", err)
	}

	verifier := base64.RawURLEncoding.EncodeToString(raw)
	return Pair{
		Verifier:  verifier,
		Challenge: ChallengeFromVerifier(verifier),
	}, nil
}

// ChallengeFromVerifier derives the S256 challenge for an existing verifier.
// The digest is taken over the verifier string itself, not the decoded
// random bytes.
func ChallengeFromVerifier(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
