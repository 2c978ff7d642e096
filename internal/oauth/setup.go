package oauth

import (
	"fmt"

	"github.com/giantswarm/mcp-oauth/security"

	"harbor-bridge/internal/config"
	"harbor-bridge/internal/instrumentation"
)

// Components is the wired OAuth subsystem for one process.
type Components struct {
	Manager  *Manager
	Flows    *FlowManager
	Pending  *PendingFlowStore
	Tokens   *TokenStore
	Callback *CallbackServer
}

// Setup builds the OAuth subsystem from configuration. Tokens are loaded from
// the state directory; the callback listener is not started until the first
// flow needs it.
func Setup(cfg config.BridgeConfig, creds CredentialStore, metrics *instrumentation.Metrics) (*Components, error) {
	encryptor, err := newEncryptor(cfg.Storage.EncryptionKey)
	if err != nil {
		return nil, err
	}

	flows := NewFlowManager(FlowManagerConfig{
		RedirectURI: cfg.RedirectURI(),
		HTTPTimeout: cfg.OAuth.HTTPTimeout,
		Metrics:     metrics,
	})

	pending := NewPendingFlowStore(cfg.OAuth.PendingFlowTTL)

	tokens := NewTokenStore(TokenStoreConfig{
		Storage:     config.NewStorage(cfg.Storage.Dir),
		FileName:    config.TokensFileName,
		Encryptor:   encryptor,
		Refresher:   flows,
		Credentials: creds,
		Metrics:     metrics,
	})

	callback := NewCallbackServer(CallbackServerConfig{
		Addr:        cfg.ListenAddr(),
		Path:        config.DefaultCallbackPath,
		Flows:       pending,
		Exchanger:   flows,
		Credentials: creds,
		Recorder:    tokens,
		RateLimit:   cfg.Callback.RateLimit,
		RateBurst:   cfg.Callback.RateBurst,
		Metrics:     metrics,
	})

	manager := NewManager(ManagerConfig{
		Flows:       flows,
		Pending:     pending,
		Tokens:      tokens,
		Callback:    callback,
		Credentials: creds,
		Metrics:     metrics,
	})

	return &Components{
		Manager:  manager,
		Flows:    flows,
		Pending:  pending,
		Tokens:   tokens,
		Callback: callback,
	}, nil
}

// newEncryptor returns a disabled encryptor for an empty key.
func newEncryptor(base64Key string) (*security.Encryptor, error) {
	if base64Key == "" {
		return security.NewEncryptor(nil)
	}
	key, err := security.KeyFromBase64(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid token encryption key: %w", err)
	}
	return security.NewEncryptor(key)
}
