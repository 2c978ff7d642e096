package oauth

import (
	"fmt"
	"time"
)

// ExpiryThreshold is how close to expires_at a token is already treated as expired.
const ExpiryThreshold = 60 * time.Second

// ClientCredentials are the app-level OAuth client id and secret for one provider.
type ClientCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// String redacts the client secret so credentials can be passed to loggers safely.
func (c ClientCredentials) String() string {
	return fmt.Sprintf("ClientCredentials{ClientID: %q, ClientSecret: [REDACTED]}", c.ClientID)
}

// GoString implements fmt.GoStringer for %#v formatting.
func (c ClientCredentials) GoString() string {
	return c.String()
}

// CredentialProvider supplies client credentials per provider id.
// ok is false when the provider is not configured.
type CredentialProvider interface {
	Get(providerID string) (creds ClientCredentials, ok bool)
}

// PendingFlow is one in-flight authorization attempt, between the authorization
// URL being issued and the browser redirect arriving.
type PendingFlow struct {
	// State is the CSRF value round-tripped through the provider and the
	// lookup key in the pending store.
	State string

	// CodeVerifier is set iff the provider has PKCE enabled. It only ever
	// leaves the process in the token exchange request body.
	CodeVerifier string

	ProviderID string

	// ServerID is the logical owner of the tokens this flow produces.
	ServerID string

	Scopes    []string
	StartedAt time.Time
}

// TokenSet is a provider token response. ExpiresAt is absolute epoch
// milliseconds; nil means the token never expires.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    *int64 `json:"expires_at"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`
}

// IsExpired reports whether the token expires within ExpiryThreshold of now.
// Tokens without an expiry never expire.
func (t TokenSet) IsExpired(now time.Time) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return *t.ExpiresAt < now.Add(ExpiryThreshold).UnixMilli()
}

// String keeps token values out of log output.
func (t TokenSet) String() string {
	expires := "never"
	if t.ExpiresAt != nil {
		expires = time.UnixMilli(*t.ExpiresAt).UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("TokenSet{AccessToken: [REDACTED], RefreshToken: %s, TokenType: %s, ExpiresAt: %s}",
		redactedPresence(t.RefreshToken), t.TokenType, expires)
}

// GoString implements fmt.GoStringer for %#v formatting.
func (t TokenSet) GoString() string {
	return t.String()
}

func redactedPresence(v string) string {
	if v == "" {
		return "<none>"
	}
	return "[REDACTED]"
}

// StoredRecord associates a logical server with its tokens. Timestamps are
// epoch milliseconds.
type StoredRecord struct {
	ServerID   string   `json:"server_id"`
	ProviderID string   `json:"provider"`
	Tokens     TokenSet `json:"tokens"`
	Scopes     []string `json:"scopes"`
	CreatedAt  int64    `json:"created_at"`
	UpdatedAt  int64    `json:"updated_at"`
}

// CallbackOutcome is published by the callback listener once a redirect with a
// matching pending flow has been handled. Exactly one of Tokens and Err is set.
type CallbackOutcome struct {
	State      string
	ServerID   string
	ProviderID string
	Scopes     []string
	Tokens     *TokenSet
	Err        error
}

// expiresAtFrom converts an absolute expiry to the epoch-ms pointer form.
func expiresAtFrom(expiry time.Time) *int64 {
	if expiry.IsZero() {
		return nil
	}
	ms := expiry.UnixMilli()
	return &ms
}
