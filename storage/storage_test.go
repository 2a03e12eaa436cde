package storage_test

import (
	"testing"
	"time"

	"github.com/oauthkit/oauthkit/storage"
	"github.com/stretchr/testify/require"
)

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

	past := storage.Token{
		AccessToken: "access",
		TokenType:   "Bearer",
		ExpiresIn:   3600,
		ExpiresAt:   now.Add(-100 * time.Second),
	}
	require.True(t, past.ExpiredAt(now))

	future := storage.Token{
		AccessToken: "access",
		TokenType:   "Bearer",
		ExpiresIn:   3600,
		ExpiresAt:   now.Add(time.Hour),
	}
	require.False(t, future.ExpiredAt(now))

	// Exactly at the expiry instant the token counts as expired.
	require.True(t, future.ExpiredAt(now.Add(time.Hour)))

	noExpiry := storage.Token{AccessToken: "access", TokenType: "Bearer"}
	require.False(t, noExpiry.ExpiredAt(now))
	require.False(t, noExpiry.ExpiredAt(now.Add(1000*time.Hour)))
}

func TestNewSessionCapturesCreationTime(t *testing.T) {
	fixed := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	storage.NowFunc = func() time.Time { return fixed }
	defer func() { storage.NowFunc = time.Now }()

	session := storage.NewSession("state-1", "verifier-1")
	require.Equal(t, "state-1", session.State)
	require.Equal(t, "verifier-1", session.CodeVerifier)
	require.Equal(t, fixed, session.CreatedAt)
	require.Empty(t, session.Domain)

	bound := storage.NewSessionWithDomain("state-2", "verifier-2", "github.com")
	require.Equal(t, "github.com", bound.Domain)
}
