// Package logging provides the structured logger used across harbor-bridge.
//
// It wraps log/slog with a subsystem-oriented, printf-style API so call sites
// stay short:
//
//	logging.Init(logging.LevelInfo, logging.FormatText, os.Stderr)
//
//	logging.Info("OAuth", "Started flow for provider=%s server=%s", provider, serverID)
//	logging.Error("TokenStore", err, "Failed to save token store")
//
// Every entry carries a "subsystem" attribute, and errors are attached as an
// "error" attribute rather than interpolated into the message.
//
// # Output
//
// The bridge talks JSON-RPC to its parent process over stdout, so logs always
// go to stderr (or another writer passed to Init). FormatJSON selects the
// slog JSON handler for machine consumption.
//
// # Security
//
// Access tokens, refresh tokens, client secrets and PKCE verifiers are never
// logged. OAuth state values are shortened with TruncateID. Security-relevant
// events (token stored, refreshed, revoked) go through Audit so they can be
// filtered on the "SECURITY_AUDIT" message prefix.
package logging
