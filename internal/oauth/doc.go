// Package oauth obtains, stores and refreshes OAuth 2.0 tokens on behalf of
// local tool servers.
//
// # Flow
//
// A flow starts with Manager.StartFlow, which builds an authorization URL
// (with PKCE for providers that support it), registers a PendingFlow keyed by
// its CSRF state and makes sure the loopback CallbackServer is listening. The
// user's browser is redirected back to
//
//	http://127.0.0.1:8765/oauth/callback?code=...&state=...
//
// where the pending flow is claimed exactly once, the code is exchanged
// synchronously and the outcome is queued for persistence on a separate
// goroutine.
//
// # Tokens
//
// The TokenStore keeps one StoredRecord per server id in a single 0600 file
// under the state directory, optionally AES-GCM encrypted. GetAccessToken
// refreshes an expired token before returning it; concurrent callers for the
// same server share one refresh.
//
// # Errors
//
// Failures wrap one of the Err* sentinels so callers can branch with
// errors.Is. RPCCode and ErrorKind map them to the codes reported over RPC.
package oauth
