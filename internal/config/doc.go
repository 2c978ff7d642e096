// Package config loads harbor-bridge configuration.
//
// # State Directory
//
// All persistent state lives in a single per-user directory, ~/.harbor by
// default (override with HARBOR_STATE_DIR or --state-dir):
//   - config.yaml: optional settings described below
//   - oauth_tokens.json: the token store (mode 0600)
//   - oauth_credentials.json: OAuth client credentials per provider (mode 0600)
//
// The directory itself is created with mode 0700.
//
// # Configuration File
//
//	callback:
//	  host: 127.0.0.1
//	  port: 8765
//	  rateLimit: 10
//	  rateBurst: 20
//	oauth:
//	  httpTimeout: 30s
//	  pendingFlowTTL: 10m
//	logging:
//	  level: info
//	  format: text
//
// A missing config.yaml is not an error; defaults apply.
//
// # Environment Overrides
//
// Every field can be overridden with a HARBOR_* variable, parsed with
// github.com/caarlos0/env. HARBOR_TOKEN_ENCRYPTION_KEY is only ever read
// from the environment and enables AES-256-GCM encryption of stored tokens.
package config
