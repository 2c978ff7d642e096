package config

import "time"

// BridgeConfig is the top-level configuration structure for harbor-bridge.
//
// Values are read from config.yaml in the state directory, then overridden by
// HARBOR_* environment variables.
type BridgeConfig struct {
	Callback CallbackConfig `yaml:"callback"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CallbackConfig configures the local OAuth redirect listener.
type CallbackConfig struct {
	Host      string `yaml:"host,omitempty" env:"HARBOR_CALLBACK_HOST"`            // Loopback address to bind (default: 127.0.0.1)
	Port      int    `yaml:"port,omitempty" env:"HARBOR_CALLBACK_PORT"`            // Listener port (default: 8765)
	RateLimit int    `yaml:"rateLimit,omitempty" env:"HARBOR_CALLBACK_RATE_LIMIT"` // Requests per second per client IP, 0 disables
	RateBurst int    `yaml:"rateBurst,omitempty" env:"HARBOR_CALLBACK_RATE_BURST"`
}

// OAuthConfig configures provider interaction.
type OAuthConfig struct {
	// HTTPTimeout bounds every call to a provider token or revocation endpoint.
	HTTPTimeout time.Duration `yaml:"httpTimeout,omitempty" env:"HARBOR_OAUTH_HTTP_TIMEOUT"`

	// PendingFlowTTL is how long an unanswered authorization stays claimable.
	// Zero keeps pending flows until the process exits.
	PendingFlowTTL time.Duration `yaml:"pendingFlowTTL" env:"HARBOR_OAUTH_PENDING_FLOW_TTL"`
}

// StorageConfig configures on-disk state.
type StorageConfig struct {
	Dir string `yaml:"dir,omitempty" env:"HARBOR_STATE_DIR"`

	// EncryptionKey is a base64 32-byte AES key. Only read from the environment.
	EncryptionKey string `yaml:"-" env:"HARBOR_TOKEN_ENCRYPTION_KEY"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" env:"HARBOR_LOG_LEVEL"`
	Format string `yaml:"format,omitempty" env:"HARBOR_LOG_FORMAT"`
}
