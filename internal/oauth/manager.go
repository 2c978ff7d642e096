package oauth

import (
	"context"
	"fmt"
	"strings"

	"harbor-bridge/internal/instrumentation"
	"harbor-bridge/internal/providers"
	"harbor-bridge/pkg/logging"
)

// clientIDPreviewLen is how much of a client id credentials status shows.
const clientIDPreviewLen = 12

// CredentialStore is a CredentialProvider that can also be changed at runtime.
type CredentialStore interface {
	CredentialProvider

	// Set stores credentials for providerID and persists them.
	Set(providerID string, creds ClientCredentials) error

	// Remove deletes credentials for providerID. Removing an absent entry is
	// not an error.
	Remove(providerID string) error
}

// ManagerConfig wires a Manager. All fields except Metrics are required.
type ManagerConfig struct {
	Flows       *FlowManager
	Pending     *PendingFlowStore
	Tokens      *TokenStore
	Callback    *CallbackServer
	Credentials CredentialStore
	Metrics     *instrumentation.Metrics
}

// Manager implements the operations exposed to RPC and CLI callers on top of
// the flow manager, stores and callback listener.
type Manager struct {
	flows       *FlowManager
	pending     *PendingFlowStore
	tokens      *TokenStore
	callback    *CallbackServer
	credentials CredentialStore
	metrics     *instrumentation.Metrics
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		flows:       cfg.Flows,
		pending:     cfg.Pending,
		tokens:      cfg.Tokens,
		callback:    cfg.Callback,
		credentials: cfg.Credentials,
		metrics:     cfg.Metrics,
	}
}

// StartFlowResult is returned by StartFlow.
type StartFlowResult struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// TokenInfo is returned by GetTokens.
type TokenInfo struct {
	HasTokens   bool     `json:"has_tokens"`
	AccessToken string   `json:"access_token,omitempty"`
	ExpiresAt   *int64   `json:"expires_at,omitempty"`
	Provider    string   `json:"provider,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
}

// StatusInfo is returned by Status.
type StatusInfo struct {
	Authenticated   bool     `json:"authenticated"`
	Provider        string   `json:"provider,omitempty"`
	Scopes          []string `json:"scopes,omitempty"`
	IsExpired       bool     `json:"is_expired"`
	ExpiresAt       *int64   `json:"expires_at,omitempty"`
	HasRefreshToken bool     `json:"has_refresh_token"`
}

// RevokeResult is returned by Revoke.
type RevokeResult struct {
	Success bool `json:"success"`
	// Existed is false when there was nothing to revoke.
	Existed bool `json:"existed"`
	// RemoteRevoked is true when the provider confirmed revocation.
	RemoteRevoked bool `json:"remote_revoked"`
}

// ProviderInfo describes one entry of ListProviders.
type ProviderInfo struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Configured bool              `json:"configured"`
	PKCE       bool              `json:"pkce"`
	Scopes     map[string]string `json:"scopes"`
}

// CredentialStatus describes one provider in CredentialsStatus.
type CredentialStatus struct {
	Configured      bool   `json:"configured"`
	ClientIDPreview string `json:"client_id_preview,omitempty"`
}

// StartFlow begins an authorization for serverID. The pending flow is
// registered and the callback listener is running before the URL is returned.
func (m *Manager) StartFlow(ctx context.Context, providerID, serverID string, scopes []string) (*StartFlowResult, error) {
	providerID = strings.TrimSpace(providerID)
	serverID = strings.TrimSpace(serverID)
	switch {
	case providerID == "":
		return nil, missingParameter("provider")
	case serverID == "":
		return nil, missingParameter("server_id")
	}
	scopes = compactScopes(scopes)
	if len(scopes) == 0 {
		return nil, missingParameter("scopes")
	}

	if _, ok := m.flows.Provider(providerID); !ok {
		return nil, unknownProvider(providerID)
	}
	creds, ok := m.credentials.Get(providerID)
	if !ok {
		return nil, notConfigured(providerID)
	}

	authURL, flow, err := m.flows.StartFlow(providerID, serverID, scopes, creds)
	if err != nil {
		return nil, fmt.Errorf("failed to start OAuth flow: %w", err)
	}

	m.pending.Store(flow)
	if err := m.callback.EnsureStarted(); err != nil {
		// Nobody can answer this flow.
		m.pending.Take(flow.State)
		return nil, err
	}

	m.metrics.RecordFlowStarted(ctx, providerID)
	logging.Info("OAuth", "Started flow for provider=%s server=%s state=%s",
		providerID, serverID, logging.TruncateID(flow.State))

	return &StartFlowResult{AuthURL: authURL, State: flow.State}, nil
}

// WaitForCompletion blocks until the flow for state has been handled by the
// callback listener.
func (m *Manager) WaitForCompletion(ctx context.Context, state string) (CallbackOutcome, error) {
	return m.callback.WaitForOutcome(ctx, state)
}

// GetTokens returns a usable access token for serverID, refreshing it if it
// has expired. A server without tokens is not an error.
func (m *Manager) GetTokens(ctx context.Context, serverID string) (*TokenInfo, error) {
	if strings.TrimSpace(serverID) == "" {
		return nil, missingParameter("server_id")
	}
	if !m.tokens.Has(serverID) {
		return &TokenInfo{HasTokens: false}, nil
	}

	access, err := m.tokens.GetAccessToken(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	info := &TokenInfo{HasTokens: true, AccessToken: access}
	if rec, ok := m.tokens.Get(serverID); ok {
		info.ExpiresAt = rec.Tokens.ExpiresAt
		info.Provider = rec.ProviderID
		info.Scopes = rec.Scopes
	}
	return info, nil
}

// Status reports what is stored for serverID without refreshing.
func (m *Manager) Status(serverID string) (*StatusInfo, error) {
	if strings.TrimSpace(serverID) == "" {
		return nil, missingParameter("server_id")
	}

	rec, ok := m.tokens.Get(serverID)
	if !ok {
		return &StatusInfo{Authenticated: false}, nil
	}
	return &StatusInfo{
		Authenticated:   true,
		Provider:        rec.ProviderID,
		Scopes:          rec.Scopes,
		IsExpired:       m.tokens.IsExpired(serverID),
		ExpiresAt:       rec.Tokens.ExpiresAt,
		HasRefreshToken: rec.Tokens.RefreshToken != "",
	}, nil
}

// Revoke forgets the tokens for serverID. The provider's revocation endpoint
// is called when it has one; failing that call, or failing to persist the
// removal, is logged and does not fail the revoke.
func (m *Manager) Revoke(ctx context.Context, serverID string) (*RevokeResult, error) {
	if strings.TrimSpace(serverID) == "" {
		return nil, missingParameter("server_id")
	}

	rec, existed := m.tokens.Remove(serverID)
	if !existed {
		return &RevokeResult{Success: true}, nil
	}

	if err := m.tokens.Save(); err != nil {
		m.metrics.RecordPersistFailure(ctx, "revoke")
		logging.Error("OAuth", err, "Revoked tokens for server=%s could not be persisted", serverID)
	}
	logging.Audit("token_revoked", "server_id", serverID, "provider", rec.ProviderID)

	result := &RevokeResult{Success: true, Existed: true}

	// Revoking the refresh token invalidates the whole grant where supported.
	token := rec.Tokens.RefreshToken
	if token == "" {
		token = rec.Tokens.AccessToken
	}
	remote, err := m.flows.RevokeToken(ctx, rec.ProviderID, token)
	switch {
	case err != nil:
		logging.Warn("OAuth", "Provider %s did not confirm revocation for server=%s: %v", rec.ProviderID, serverID, err)
	case remote:
		result.RemoteRevoked = true
	}
	m.metrics.RecordTokenRevocation(ctx, rec.ProviderID, result.RemoteRevoked)

	return result, nil
}

// ListProviders describes every known provider and whether it has credentials.
func (m *Manager) ListProviders() []ProviderInfo {
	all := providers.List()
	out := make([]ProviderInfo, 0, len(all))
	for _, p := range all {
		_, configured := m.credentials.Get(p.ID)
		scopes := make(map[string]string, len(p.Scopes))
		for k, v := range p.Scopes {
			scopes[k] = v
		}
		out = append(out, ProviderInfo{
			ID:         p.ID,
			Name:       p.DisplayName,
			Configured: configured,
			PKCE:       p.PKCEEnabled,
			Scopes:     scopes,
		})
	}
	return out
}

// CredentialsStatus reports, per known provider, whether credentials are set.
// Secrets are never included; client ids are shortened.
func (m *Manager) CredentialsStatus() map[string]CredentialStatus {
	out := make(map[string]CredentialStatus)
	for _, id := range providers.IDs() {
		creds, ok := m.credentials.Get(id)
		if !ok {
			out[id] = CredentialStatus{Configured: false}
			continue
		}
		out[id] = CredentialStatus{Configured: true, ClientIDPreview: clientIDPreview(creds.ClientID)}
	}
	return out
}

// SetCredentials stores client credentials for a known provider.
func (m *Manager) SetCredentials(providerID, clientID, clientSecret string) error {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return missingParameter("provider")
	}
	if !providers.IsKnown(providerID) {
		return unknownProvider(providerID)
	}

	clientID = strings.TrimSpace(clientID)
	clientSecret = strings.TrimSpace(clientSecret)
	if clientID == "" {
		return missingParameter("client_id")
	}
	if clientSecret == "" {
		return missingParameter("client_secret")
	}

	if err := m.credentials.Set(providerID, ClientCredentials{ClientID: clientID, ClientSecret: clientSecret}); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	logging.Info("OAuth", "Configured OAuth credentials for %s", providerID)
	return nil
}

// RemoveCredentials deletes stored client credentials for a provider.
func (m *Manager) RemoveCredentials(providerID string) error {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return missingParameter("provider")
	}

	if err := m.credentials.Remove(providerID); err != nil {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	logging.Info("OAuth", "Removed OAuth credentials for %s", providerID)
	return nil
}

// Close stops the callback listener and the pending flow sweep.
func (m *Manager) Close(ctx context.Context) error {
	m.pending.Stop()
	return m.callback.Shutdown(ctx)
}

func compactScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	seen := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func clientIDPreview(id string) string {
	if len(id) > clientIDPreviewLen {
		id = id[:clientIDPreviewLen]
	}
	return id + "..."
}
