// Package oauth provides the random material used by OAuth authorization
// flows: CSRF state values and PKCE (RFC 7636) verifier/challenge pairs.
//
// Only the S256 challenge method is supported.
//
//	state, err := oauth.GenerateState()
//	pkce := oauth.GeneratePKCE()
//	// send pkce.CodeChallenge in the authorization URL,
//	// keep pkce.CodeVerifier for the token exchange.
package oauth
