package providers

import (
	"sort"

	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// Provider identifiers.
const (
	Google = "google"
	GitHub = "github"
)

// Config is the static endpoint set for one OAuth provider.
type Config struct {
	// ID is the provider identifier used by callers ("google", "github").
	ID string

	// DisplayName is shown in provider listings.
	DisplayName string

	AuthorizationURL string
	TokenURL         string

	// RevocationURL is empty when the provider has no revocation endpoint.
	RevocationURL string

	// PKCEEnabled controls whether flows for this provider carry a code verifier.
	PKCEEnabled bool

	// OfflineAccess requests a refresh token on every authorization
	// (access_type=offline and prompt=consent).
	OfflineAccess bool

	// Scopes maps each supported scope to a human-readable description.
	Scopes map[string]string
}

// ScopeNames returns the provider's scope identifiers in sorted order.
func (c Config) ScopeNames() []string {
	names := make([]string, 0, len(c.Scopes))
	for name := range c.Scopes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var registry = map[string]Config{
	Google: {
		ID:               Google,
		DisplayName:      "Google",
		AuthorizationURL: "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:         google.Endpoint.TokenURL,
		RevocationURL:    "https://oauth2.googleapis.com/revoke",
		PKCEEnabled:      true,
		OfflineAccess:    true,
		Scopes: map[string]string{
			"https://www.googleapis.com/auth/gmail.readonly":    "Read Gmail messages",
			"https://www.googleapis.com/auth/gmail.send":        "Send Gmail messages",
			"https://www.googleapis.com/auth/gmail.modify":      "Read, send and modify Gmail messages",
			"https://www.googleapis.com/auth/drive.readonly":    "Read Google Drive files",
			"https://www.googleapis.com/auth/drive.file":        "Access Drive files created by this app",
			"https://www.googleapis.com/auth/drive":             "Full access to Google Drive",
			"https://www.googleapis.com/auth/calendar.readonly": "Read Google Calendar events",
			"https://www.googleapis.com/auth/calendar.events":   "Manage Google Calendar events",
			"https://www.googleapis.com/auth/calendar":          "Full access to Google Calendar",
			"https://www.googleapis.com/auth/userinfo.email":    "View email address",
			"https://www.googleapis.com/auth/userinfo.profile":  "View basic profile info",
			"openid": "OpenID Connect authentication",
		},
	},
	GitHub: {
		ID:               GitHub,
		DisplayName:      "GitHub",
		AuthorizationURL: github.Endpoint.AuthURL,
		TokenURL:         github.Endpoint.TokenURL,
		PKCEEnabled:      false,
		Scopes: map[string]string{
			"repo":       "Full access to repositories",
			"read:user":  "Read user profile data",
			"user:email": "Read user email addresses",
			"gist":       "Create and manage gists",
		},
	},
}

// Get returns the configuration for a provider id.
func Get(id string) (Config, bool) {
	cfg, ok := registry[id]
	return cfg, ok
}

// IsKnown reports whether id names a registered provider.
func IsKnown(id string) bool {
	_, ok := registry[id]
	return ok
}

// List returns every registered provider, ordered by id.
func List() []Config {
	out := make([]Config, 0, len(registry))
	for _, cfg := range registry {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the registered provider ids in order.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
