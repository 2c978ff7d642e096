package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harbor-bridge/internal/providers"
	pkgoauth "harbor-bridge/pkg/oauth"
)

var testCreds = ClientCredentials{ClientID: "client-123", ClientSecret: "secret-456"}

func TestFlowManager_StartFlow_Google(t *testing.T) {
	fm := NewFlowManager(FlowManagerConfig{RedirectURI: testRedirectURI})

	authURL, flow, err := fm.StartFlow(providers.Google, "gmail", []string{"a", "b"}, testCreds)
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "accounts.google.com", u.Host)

	q := u.Query()
	assert.Equal(t, "client-123", q.Get("client_id"))
	assert.Equal(t, testRedirectURI, q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, flow.State, q.Get("state"))
	assert.Equal(t, "a b", q.Get("scope"))
	assert.Equal(t, pkgoauth.MethodS256, q.Get("code_challenge_method"))
	assert.Equal(t, pkgoauth.ChallengeFromVerifier(flow.CodeVerifier), q.Get("code_challenge"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Empty(t, q.Get("client_secret"))

	assert.NotEmpty(t, flow.CodeVerifier)
	assert.NotContains(t, authURL, flow.CodeVerifier)
	assert.Equal(t, "gmail", flow.ServerID)
	assert.Equal(t, providers.Google, flow.ProviderID)
	assert.Equal(t, []string{"a", "b"}, flow.Scopes)
}

func TestFlowManager_StartFlow_GitHubHasNoPKCE(t *testing.T) {
	fm := NewFlowManager(FlowManagerConfig{RedirectURI: testRedirectURI})

	authURL, flow, err := fm.StartFlow(providers.GitHub, "gh", []string{"repo"}, testCreds)
	require.NoError(t, err)

	assert.Empty(t, flow.CodeVerifier)
	assert.NotContains(t, authURL, "code_challenge")
	assert.NotContains(t, authURL, "access_type")
	assert.True(t, strings.HasPrefix(authURL, "https://github.com/login/oauth/authorize?"))
}

func TestFlowManager_StartFlow_UnknownProvider(t *testing.T) {
	fm := NewFlowManager(FlowManagerConfig{RedirectURI: testRedirectURI})

	_, _, err := fm.StartFlow("dropbox", "x", []string{"a"}, testCreds)
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.Contains(t, err.Error(), "dropbox")
}

func TestFlowManager_StartFlow_StatesAreUnique(t *testing.T) {
	fm := NewFlowManager(FlowManagerConfig{RedirectURI: testRedirectURI})

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		_, flow, err := fm.StartFlow(providers.Google, "s", []string{"a"}, testCreds)
		require.NoError(t, err)
		assert.False(t, seen[flow.State], "duplicate state")
		seen[flow.State] = true
	}
}

func TestFlowManager_ExchangeCode_WithPKCE(t *testing.T) {
	fp := newFakeProvider(t)
	fm := fp.flowManager()

	_, flow, err := fm.StartFlow(providers.Google, "gmail", []string{"a"}, testCreds)
	require.NoError(t, err)

	before := time.Now()
	tokens, err := fm.ExchangeCode(context.Background(), "the-code", flow, testCreds)
	require.NoError(t, err)

	form := fp.lastRequest()
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "the-code", form.Get("code"))
	assert.Equal(t, testRedirectURI, form.Get("redirect_uri"))
	assert.Equal(t, "client-123", form.Get("client_id"))
	assert.Equal(t, "secret-456", form.Get("client_secret"))
	assert.Equal(t, flow.CodeVerifier, form.Get("code_verifier"))

	assert.Equal(t, "access-authorization_code", tokens.AccessToken)
	assert.Equal(t, "refresh-new", tokens.RefreshToken)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Equal(t, "repo", tokens.Scope)
	require.NotNil(t, tokens.ExpiresAt)
	assert.GreaterOrEqual(t, *tokens.ExpiresAt, before.Add(time.Hour).UnixMilli()-1000)
}

func TestFlowManager_ExchangeCode_WithoutPKCE(t *testing.T) {
	fp := newFakeProvider(t)
	fm := fp.flowManager()

	_, flow, err := fm.StartFlow(providers.GitHub, "gh", []string{"repo"}, testCreds)
	require.NoError(t, err)

	_, err = fm.ExchangeCode(context.Background(), "c", flow, testCreds)
	require.NoError(t, err)

	form := fp.lastRequest()
	_, present := form["code_verifier"]
	assert.False(t, present)
}

func TestFlowManager_ExchangeCode_DefaultsTokenTypeAndExpiry(t *testing.T) {
	fp := newFakeProvider(t)
	fp.respond = func(url.Values) (int, any) {
		return http.StatusOK, map[string]any{"access_token": "abc"}
	}
	fm := fp.flowManager()

	tokens, err := fm.ExchangeCode(context.Background(), "c", &PendingFlow{ProviderID: providers.GitHub}, testCreds)
	require.NoError(t, err)

	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Nil(t, tokens.ExpiresAt)
	assert.Empty(t, tokens.RefreshToken)
}

func TestFlowManager_ExchangeCode_ProviderRejects(t *testing.T) {
	fp := newFakeProvider(t)
	fp.respond = func(url.Values) (int, any) {
		return http.StatusBadRequest, map[string]any{"error": "invalid_grant"}
	}
	fm := fp.flowManager()

	_, err := fm.ExchangeCode(context.Background(), "c", &PendingFlow{ProviderID: providers.GitHub}, testCreds)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenExchangeFailed)

	var te *TokenExchangeError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusBadRequest, te.Status)
	assert.Contains(t, te.Body, "invalid_grant")
	assert.Equal(t, int32(1), fp.tokenCalls.Load(), "no retries")
}

func TestFlowManager_ExchangeCode_UnknownProvider(t *testing.T) {
	fm := NewFlowManager(FlowManagerConfig{RedirectURI: testRedirectURI})

	_, err := fm.ExchangeCode(context.Background(), "c", &PendingFlow{ProviderID: "gone"}, testCreds)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestFlowManager_RefreshTokens(t *testing.T) {
	t.Run("rotated refresh token is used", func(t *testing.T) {
		fp := newFakeProvider(t)
		fm := fp.flowManager()

		tokens, err := fm.RefreshTokens(context.Background(), "refresh-old", providers.Google, testCreds)
		require.NoError(t, err)

		form := fp.lastRequest()
		assert.Equal(t, "refresh_token", form.Get("grant_type"))
		assert.Equal(t, "refresh-old", form.Get("refresh_token"))
		_, hasVerifier := form["code_verifier"]
		assert.False(t, hasVerifier)

		assert.Equal(t, "access-refresh_token", tokens.AccessToken)
		assert.Equal(t, "refresh-new", tokens.RefreshToken)
	})

	t.Run("original refresh token is kept when omitted", func(t *testing.T) {
		fp := newFakeProvider(t)
		fp.respond = func(url.Values) (int, any) {
			return http.StatusOK, map[string]any{"access_token": "fresh", "expires_in": 60}
		}
		fm := fp.flowManager()

		tokens, err := fm.RefreshTokens(context.Background(), "refresh-old", providers.Google, testCreds)
		require.NoError(t, err)
		assert.Equal(t, "fresh", tokens.AccessToken)
		assert.Equal(t, "refresh-old", tokens.RefreshToken)
	})

	t.Run("empty refresh token", func(t *testing.T) {
		fm := NewFlowManager(FlowManagerConfig{RedirectURI: testRedirectURI})
		_, err := fm.RefreshTokens(context.Background(), "", providers.Google, testCreds)
		assert.ErrorIs(t, err, ErrRefreshUnavailable)
	})

	t.Run("provider error", func(t *testing.T) {
		fp := newFakeProvider(t)
		fp.respond = func(url.Values) (int, any) {
			return http.StatusUnauthorized, map[string]any{"error": "invalid_client"}
		}
		fm := fp.flowManager()

		_, err := fm.RefreshTokens(context.Background(), "r", providers.Google, testCreds)
		assert.ErrorIs(t, err, ErrTokenExchangeFailed)
	})
}

func TestFlowManager_RevokeToken(t *testing.T) {
	fp := newFakeProvider(t)
	fm := fp.flowManager()

	remote, err := fm.RevokeToken(context.Background(), providers.Google, "tok")
	require.NoError(t, err)
	assert.True(t, remote)
	assert.Equal(t, []string{"tok"}, fp.revoked)

	// github has no revocation endpoint
	remote, err = fm.RevokeToken(context.Background(), providers.GitHub, "tok")
	require.NoError(t, err)
	assert.False(t, remote)
	assert.Equal(t, int32(1), fp.revokeCalls.Load())

	fp.revokeStatus = http.StatusBadRequest
	_, err = fm.RevokeToken(context.Background(), providers.Google, "tok")
	assert.ErrorIs(t, err, ErrTokenExchangeFailed)
}

func TestFlowManager_SendsAcceptJSON(t *testing.T) {
	var accept string
	srv := newFakeProvider(t)
	srv.respond = func(url.Values) (int, any) {
		return http.StatusOK, map[string]any{"access_token": "x"}
	}
	base := srv.server.Client().Transport
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		accept = r.Header.Get("Accept")
		return base.RoundTrip(r)
	})}

	fm := NewFlowManager(FlowManagerConfig{RedirectURI: testRedirectURI, HTTPClient: client, Providers: srv.lookup})
	_, err := fm.ExchangeCode(context.Background(), "c", &PendingFlow{ProviderID: providers.GitHub}, testCreds)
	require.NoError(t, err)
	assert.Equal(t, "application/json", accept)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
