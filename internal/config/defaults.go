package config

import "time"

const (
	// DefaultCallbackHost is the loopback address the callback listener binds.
	DefaultCallbackHost = "127.0.0.1"

	// DefaultCallbackPort is the fixed port registered with the providers.
	DefaultCallbackPort = 8765

	// DefaultCallbackPath is the redirect path on the callback listener.
	DefaultCallbackPath = "/oauth/callback"

	DefaultRateLimit = 10
	DefaultRateBurst = 20

	DefaultHTTPTimeout    = 30 * time.Second
	DefaultPendingFlowTTL = 10 * time.Minute

	// TokensFileName and CredentialsFileName live in the state directory.
	TokensFileName      = "oauth_tokens.json"
	CredentialsFileName = "oauth_credentials.json"
)

// GetDefaultConfig returns the default configuration. dir is the state directory.
func GetDefaultConfig(dir string) BridgeConfig {
	return BridgeConfig{
		Callback: CallbackConfig{
			Host:      DefaultCallbackHost,
			Port:      DefaultCallbackPort,
			RateLimit: DefaultRateLimit,
			RateBurst: DefaultRateBurst,
		},
		OAuth: OAuthConfig{
			HTTPTimeout:    DefaultHTTPTimeout,
			PendingFlowTTL: DefaultPendingFlowTTL,
		},
		Storage: StorageConfig{
			Dir: dir,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
