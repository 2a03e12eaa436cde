package pkce_test

import (
	"regexp"
	"testing"

	"github.com/oauthkit/oauthkit/pkce"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var base64URLAlphabet = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func TestGenerateLengthsAndAlphabet(t *testing.T) {
	pair, err := pkce.Generate()
	require.NoError(t, err)

	require.Len(t, pair.Verifier, 43)
	require.Len(t, pair.Challenge, 43)
	require.Regexp(t, base64URLAlphabet, pair.Verifier)
	require.Regexp(t, base64URLAlphabet, pair.Challenge)
	require.NotEqual(t, pair.Verifier, pair.Challenge)
}

func TestGenerateProducesUniquePairs(t *testing.T) {
	first, err := pkce.Generate()
	require.NoError(t, err)
	second, err := pkce.Generate()
	require.NoError(t, err)

	require.NotEqual(t, first.Verifier, second.Verifier)
	require.NotEqual(t, first.Challenge, second.Challenge)
}

func TestChallengeFromVerifierFixedVector(t *testing.T) {
	// RFC 7636 appendix B test vector.
	const verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	const challenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	require.Equal(t, challenge, pkce.ChallengeFromVerifier(verifier))
}

func TestChallengeMatchesOAuth2Derivation(t *testing.T) {
	// The standard library for the rest of the flow derives challenges the
	// same way; generated pairs must interoperate with it.
	pair, err := pkce.Generate()
	require.NoError(t, err)

	require.Equal(t, oauth2.S256ChallengeFromVerifier(pair.Verifier), pair.Challenge)
}

func TestMethodConstant(t *testing.T) {
	require.Equal(t, "S256", pkce.Method)
}
