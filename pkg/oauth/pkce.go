package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

const (
	// stateBytes is the number of random bytes for the OAuth state parameter.
	// 32 bytes encodes to 43 base64url characters.
	stateBytes = 32

	// MethodS256 is the only supported PKCE challenge method. "plain" is never used.
	MethodS256 = "S256"
)

// PKCEChallenge represents a PKCE (Proof Key for Code Exchange) verifier/challenge pair.
type PKCEChallenge struct {
	// CodeVerifier is 32 random bytes, base64url-encoded without padding.
	// It is only ever sent in the token exchange request body.
	CodeVerifier string

	// CodeChallenge is base64url(SHA256(CodeVerifier)).
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}

// GeneratePKCE generates a new PKCE code verifier and its S256 challenge.
func GeneratePKCE() *PKCEChallenge {
	verifier, challenge := GeneratePKCERaw()
	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       challenge,
		CodeChallengeMethod: MethodS256,
	}
}

// GeneratePKCERaw generates a PKCE code verifier and challenge as raw strings.
func GeneratePKCERaw() (verifier, challenge string) {
	verifier = oauth2.GenerateVerifier()
	return verifier, ChallengeFromVerifier(verifier)
}

// ChallengeFromVerifier returns the S256 challenge for a verifier.
// The result is deterministic for a given verifier.
func ChallengeFromVerifier(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// GenerateState generates a random state parameter for OAuth.
// The state is the CSRF binding of a flow and the lookup key of its pending record,
// so it must be unguessable.
func GenerateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
