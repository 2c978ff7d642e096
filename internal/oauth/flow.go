package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"harbor-bridge/internal/instrumentation"
	"harbor-bridge/internal/providers"
	"harbor-bridge/pkg/logging"
	pkgoauth "harbor-bridge/pkg/oauth"
)

// DefaultHTTPTimeout bounds provider calls when no client is supplied.
const DefaultHTTPTimeout = 30 * time.Second

// maxErrorBody caps how much of a provider error response is kept.
const maxErrorBody = 4096

// ProviderLookup resolves a provider id to its endpoint configuration.
type ProviderLookup func(id string) (providers.Config, bool)

// FlowManagerConfig configures a FlowManager.
type FlowManagerConfig struct {
	// RedirectURI is sent in both the authorization URL and the token exchange.
	RedirectURI string

	// HTTPClient is used for provider calls. Nil creates one with HTTPTimeout.
	HTTPClient  *http.Client
	HTTPTimeout time.Duration

	// Providers defaults to providers.Get.
	Providers ProviderLookup

	Metrics *instrumentation.Metrics
}

// FlowManager builds authorization URLs and talks to provider token endpoints.
// It holds no per-flow state; pending flows live in a PendingFlowStore.
type FlowManager struct {
	redirectURI string
	httpClient  *http.Client
	lookup      ProviderLookup
	metrics     *instrumentation.Metrics
	now         func() time.Time
}

// NewFlowManager creates a FlowManager.
func NewFlowManager(cfg FlowManagerConfig) *FlowManager {
	lookup := cfg.Providers
	if lookup == nil {
		lookup = providers.Get
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: timeout}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &FlowManager{
		redirectURI: cfg.RedirectURI,
		httpClient: &http.Client{
			Timeout:       base.Timeout,
			Jar:           base.Jar,
			CheckRedirect: base.CheckRedirect,
			Transport:     &acceptJSONTransport{base: transport},
		},
		lookup:  lookup,
		metrics: cfg.Metrics,
		now:     time.Now,
	}
}

// RedirectURI returns the redirect URI used for every flow.
func (m *FlowManager) RedirectURI() string {
	return m.redirectURI
}

// Provider returns the configuration for id.
func (m *FlowManager) Provider(id string) (providers.Config, bool) {
	return m.lookup(id)
}

// StartFlow builds the authorization URL for a new flow. The returned
// PendingFlow is not stored anywhere; the caller must register it before the
// user can complete the redirect.
func (m *FlowManager) StartFlow(providerID, serverID string, scopes []string, creds ClientCredentials) (string, *PendingFlow, error) {
	p, ok := m.lookup(providerID)
	if !ok {
		return "", nil, unknownProvider(providerID)
	}

	state, err := pkgoauth.GenerateState()
	if err != nil {
		return "", nil, err
	}

	flow := &PendingFlow{
		State:      state,
		ProviderID: providerID,
		ServerID:   serverID,
		Scopes:     append([]string(nil), scopes...),
		StartedAt:  m.now(),
	}

	var opts []oauth2.AuthCodeOption
	if p.PKCEEnabled {
		pkce := pkgoauth.GeneratePKCE()
		flow.CodeVerifier = pkce.CodeVerifier
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", pkce.CodeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", pkce.CodeChallengeMethod),
		)
	}
	if p.OfflineAccess {
		opts = append(opts, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	}

	authURL := m.oauth2Config(p, creds, scopes).AuthCodeURL(state, opts...)

	logging.Debug("OAuth", "Built authorization URL for provider=%s server=%s state=%s pkce=%t",
		providerID, serverID, logging.TruncateID(state), p.PKCEEnabled)
	return authURL, flow, nil
}

// ExchangeCode redeems an authorization code. The code verifier is sent only
// when the flow carries one. There are no retries; a failed exchange means the
// user has to start over.
func (m *FlowManager) ExchangeCode(ctx context.Context, code string, flow *PendingFlow, creds ClientCredentials) (*TokenSet, error) {
	p, ok := m.lookup(flow.ProviderID)
	if !ok {
		return nil, unknownProvider(flow.ProviderID)
	}

	var opts []oauth2.AuthCodeOption
	if flow.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(flow.CodeVerifier))
	}

	start := time.Now()
	tok, err := m.oauth2Config(p, creds, nil).Exchange(m.clientContext(ctx), code, opts...)
	m.metrics.RecordCodeExchange(ctx, p.ID, flow.CodeVerifier != "", time.Since(start), err)
	if err != nil {
		return nil, exchangeError(p.ID, err)
	}

	ts := tokenSetFrom(tok)
	logging.Info("OAuth", "Exchanged authorization code for provider=%s server=%s (refresh token: %t)",
		p.ID, flow.ServerID, ts.RefreshToken != "")
	return &ts, nil
}

// RefreshTokens runs a refresh_token grant. When the provider does not rotate
// the refresh token, the original one is kept in the result.
func (m *FlowManager) RefreshTokens(ctx context.Context, refreshToken, providerID string, creds ClientCredentials) (*TokenSet, error) {
	p, ok := m.lookup(providerID)
	if !ok {
		return nil, unknownProvider(providerID)
	}
	if refreshToken == "" {
		return nil, ErrRefreshUnavailable
	}

	start := time.Now()
	src := m.oauth2Config(p, creds, nil).TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		m.metrics.RecordTokenRefresh(ctx, p.ID, false, time.Since(start), err)
		return nil, exchangeError(p.ID, err)
	}

	ts := tokenSetFrom(tok)
	if ts.RefreshToken == "" {
		ts.RefreshToken = refreshToken
	}
	rotated := ts.RefreshToken != refreshToken
	m.metrics.RecordTokenRefresh(ctx, p.ID, rotated, time.Since(start), nil)

	logging.Debug("OAuth", "Refreshed token for provider=%s (rotated: %t)", p.ID, rotated)
	return &ts, nil
}

// RevokeToken asks the provider to revoke token. Providers without a
// revocation endpoint are a no-op and report false.
func (m *FlowManager) RevokeToken(ctx context.Context, providerID, token string) (bool, error) {
	p, ok := m.lookup(providerID)
	if !ok {
		return false, unknownProvider(providerID)
	}
	if p.RevocationURL == "" || token == "" {
		return false, nil
	}

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.RevocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return true, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("revocation request to %s failed: %w", p.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return true, &TokenExchangeError{ProviderID: p.ID, Status: resp.StatusCode, Body: string(body)}
	}
	return true, nil
}

func (m *FlowManager) oauth2Config(p providers.Config, creds ClientCredentials, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.AuthorizationURL,
			TokenURL: p.TokenURL,
			// client_id and client_secret go in the form body
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: m.redirectURI,
		Scopes:      scopes,
	}
}

// clientContext hands our HTTP client to golang.org/x/oauth2.
func (m *FlowManager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// exchangeError converts an oauth2 error into a TokenExchangeError carrying
// the provider status and body.
func exchangeError(providerID string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		body := re.Body
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &TokenExchangeError{ProviderID: providerID, Status: status, Body: string(body)}
	}
	return &TokenExchangeError{ProviderID: providerID, Err: err}
}

func tokenSetFrom(tok *oauth2.Token) TokenSet {
	ts := TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    expiresAtFrom(tok.Expiry),
	}
	if ts.TokenType == "" {
		ts.TokenType = "Bearer"
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	return ts
}

// acceptJSONTransport asks providers for JSON token responses. GitHub answers
// form-encoded without it.
type acceptJSONTransport struct {
	base http.RoundTripper
}

func (t *acceptJSONTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Accept", "application/json")
	return t.base.RoundTrip(req)
}
