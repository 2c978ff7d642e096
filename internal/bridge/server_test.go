package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"testing"

	mcp_client "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harbor-bridge/internal/oauth"
)

// fakeService records the arguments it was called with and returns canned results.
type fakeService struct {
	startArgs  []string
	scopes     []string
	setArgs    []string
	removed    string
	err        error
	tokens     *oauth.TokenInfo
	revokeResp *oauth.RevokeResult
}

var _ Service = (*fakeService)(nil)

func (f *fakeService) StartFlow(_ context.Context, providerID, serverID string, scopes []string) (*oauth.StartFlowResult, error) {
	f.startArgs = []string{providerID, serverID}
	f.scopes = scopes
	if f.err != nil {
		return nil, f.err
	}
	return &oauth.StartFlowResult{AuthURL: "https://accounts.example.com/auth?state=abc", State: "abc"}, nil
}

func (f *fakeService) GetTokens(_ context.Context, serverID string) (*oauth.TokenInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.tokens != nil {
		return f.tokens, nil
	}
	return &oauth.TokenInfo{HasTokens: false}, nil
}

func (f *fakeService) Status(serverID string) (*oauth.StatusInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &oauth.StatusInfo{Authenticated: true, Provider: "google", HasRefreshToken: true}, nil
}

func (f *fakeService) Revoke(_ context.Context, serverID string) (*oauth.RevokeResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.revokeResp, nil
}

func (f *fakeService) ListProviders() []oauth.ProviderInfo {
	return []oauth.ProviderInfo{
		{ID: "github", Name: "GitHub"},
		{ID: "google", Name: "Google", Configured: true, PKCE: true},
	}
}

func (f *fakeService) CredentialsStatus() map[string]oauth.CredentialStatus {
	return map[string]oauth.CredentialStatus{
		"github": {},
		"google": {Configured: true, ClientIDPreview: "123456789012..."},
	}
}

func (f *fakeService) SetCredentials(providerID, clientID, clientSecret string) error {
	f.setArgs = []string{providerID, clientID, clientSecret}
	return f.err
}

func (f *fakeService) RemoveCredentials(providerID string) error {
	f.removed = providerID
	return f.err
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok, "expected text content")
	return text.Text
}

func errorPayload(t *testing.T, result *mcp.CallToolResult) ErrorPayload {
	t.Helper()
	require.True(t, result.IsError, "expected an error result")
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &payload))
	return payload
}

func TestHandleStartFlow(t *testing.T) {
	svc := &fakeService{}
	s := NewServer(svc, "test")

	result, err := s.handleStartFlow(context.Background(), callRequest(ToolStartFlow, map[string]any{
		"provider":  "google",
		"server_id": "gmail",
		"scopes":    []any{"openid", "email"},
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var res oauth.StartFlowResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &res))
	assert.Equal(t, "abc", res.State)
	assert.Contains(t, res.AuthURL, "state=abc")

	assert.Equal(t, []string{"google", "gmail"}, svc.startArgs)
	assert.Equal(t, []string{"openid", "email"}, svc.scopes)
}

func TestHandleStartFlow_ScopeValidation(t *testing.T) {
	tests := []struct {
		name   string
		scopes any
	}{
		{name: "non-string element", scopes: []any{"openid", 42}},
		{name: "not an array", scopes: "openid email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			s := NewServer(svc, "test")

			result, err := s.handleStartFlow(context.Background(), callRequest(ToolStartFlow, map[string]any{
				"provider":  "google",
				"server_id": "gmail",
				"scopes":    tt.scopes,
			}))
			require.NoError(t, err)

			payload := errorPayload(t, result)
			assert.Equal(t, oauth.CodeInvalidParams, payload.Code)
			assert.Equal(t, "invalid_parameter", payload.Kind)
			assert.Nil(t, svc.startArgs, "service must not be called")
		})
	}
}

func TestHandlers_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{
			name:     "missing parameter",
			err:      fmt.Errorf("%w: scopes", oauth.ErrMissingParameter),
			wantCode: oauth.CodeInvalidParams,
			wantKind: "missing_parameter",
		},
		{
			name:     "unknown provider",
			err:      fmt.Errorf("%w: dropbox", oauth.ErrUnknownProvider),
			wantCode: oauth.CodeInvalidParams,
			wantKind: "unknown_provider",
		},
		{
			name:     "not configured",
			err:      fmt.Errorf("%w: google", oauth.ErrNotConfigured),
			wantCode: oauth.CodeServerError,
			wantKind: "not_configured",
		},
		{
			name:     "refresh unavailable",
			err:      fmt.Errorf("failed to get access token: %w", oauth.ErrRefreshUnavailable),
			wantCode: oauth.CodeServerError,
			wantKind: "refresh_unavailable",
		},
		{
			name:     "unclassified",
			err:      errors.New("boom"),
			wantCode: oauth.CodeServerError,
			wantKind: "internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(&fakeService{err: tt.err}, "test")

			calls := map[string]func() (*mcp.CallToolResult, error){
				ToolStartFlow: func() (*mcp.CallToolResult, error) {
					return s.handleStartFlow(context.Background(), callRequest(ToolStartFlow, map[string]any{
						"provider": "google", "server_id": "gmail", "scopes": []any{"openid"},
					}))
				},
				ToolGetTokens: func() (*mcp.CallToolResult, error) {
					return s.handleGetTokens(context.Background(), callRequest(ToolGetTokens, map[string]any{"server_id": "gmail"}))
				},
				ToolStatus: func() (*mcp.CallToolResult, error) {
					return s.handleStatus(context.Background(), callRequest(ToolStatus, map[string]any{"server_id": "gmail"}))
				},
				ToolRevoke: func() (*mcp.CallToolResult, error) {
					return s.handleRevoke(context.Background(), callRequest(ToolRevoke, map[string]any{"server_id": "gmail"}))
				},
				ToolSetCredentials: func() (*mcp.CallToolResult, error) {
					return s.handleSetCredentials(context.Background(), callRequest(ToolSetCredentials, map[string]any{
						"provider": "google", "client_id": "id", "client_secret": "secret",
					}))
				},
				ToolRemoveCredentials: func() (*mcp.CallToolResult, error) {
					return s.handleRemoveCredentials(context.Background(), callRequest(ToolRemoveCredentials, map[string]any{"provider": "google"}))
				},
			}

			for tool, call := range calls {
				result, err := call()
				require.NoError(t, err, tool)
				payload := errorPayload(t, result)
				assert.Equal(t, tt.wantCode, payload.Code, tool)
				assert.Equal(t, tt.wantKind, payload.Kind, tool)
				assert.Equal(t, tt.err.Error(), payload.Message, tool)
			}
		})
	}
}

func TestHandleGetTokens(t *testing.T) {
	expiresAt := int64(1700000000)
	svc := &fakeService{tokens: &oauth.TokenInfo{
		HasTokens:   true,
		AccessToken: "ya29.token",
		ExpiresAt:   &expiresAt,
		Provider:    "google",
		Scopes:      []string{"openid"},
	}}
	s := NewServer(svc, "test")

	result, err := s.handleGetTokens(context.Background(), callRequest(ToolGetTokens, map[string]any{"server_id": "gmail"}))
	require.NoError(t, err)

	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &info))
	assert.Equal(t, true, info["has_tokens"])
	assert.Equal(t, "ya29.token", info["access_token"])
	assert.Equal(t, float64(expiresAt), info["expires_at"])
}

func TestHandleGetTokens_NoRecord(t *testing.T) {
	s := NewServer(&fakeService{}, "test")

	result, err := s.handleGetTokens(context.Background(), callRequest(ToolGetTokens, map[string]any{"server_id": "unknown"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.JSONEq(t, `{"has_tokens":false}`, resultText(t, result))
}

func TestHandleRevoke(t *testing.T) {
	svc := &fakeService{revokeResp: &oauth.RevokeResult{Success: true, Existed: true}}
	s := NewServer(svc, "test")

	result, err := s.handleRevoke(context.Background(), callRequest(ToolRevoke, map[string]any{"server_id": "gmail"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"existed":true,"remote_revoked":false}`, resultText(t, result))
}

func TestHandleCredentials(t *testing.T) {
	svc := &fakeService{}
	s := NewServer(svc, "test")

	result, err := s.handleSetCredentials(context.Background(), callRequest(ToolSetCredentials, map[string]any{
		"provider":      "google",
		"client_id":     "id-123",
		"client_secret": "shh",
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"provider":"google"}`, resultText(t, result))
	assert.Equal(t, []string{"google", "id-123", "shh"}, svc.setArgs)

	result, err = s.handleRemoveCredentials(context.Background(), callRequest(ToolRemoveCredentials, map[string]any{"provider": "google"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "google", svc.removed)

	result, err = s.handleGetCredentialsStatus(context.Background(), callRequest(ToolGetCredentialsStatus, nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, `"client_id_preview":"123456789012..."`)
	assert.NotContains(t, text, "secret")
}

func TestHandleListProviders(t *testing.T) {
	s := NewServer(&fakeService{}, "test")

	result, err := s.handleListProviders(context.Background(), callRequest(ToolListProviders, nil))
	require.NoError(t, err)

	var body struct {
		Providers []oauth.ProviderInfo `json:"providers"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &body))
	require.Len(t, body.Providers, 2)
	assert.Equal(t, "github", body.Providers[0].ID)
	assert.True(t, body.Providers[1].PKCE)
}

func TestStringSlice(t *testing.T) {
	got, err := stringSlice(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = stringSlice([]string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)

	got, err = stringSlice([]any{})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = stringSlice(map[string]any{})
	assert.ErrorIs(t, err, oauth.ErrInvalidParameter)
}

func TestServer_ToolsOverInProcessClient(t *testing.T) {
	svc := &fakeService{}
	s := NewServer(svc, "test")

	ctx := context.Background()
	client, err := mcp_client.NewInProcessClient(s.MCPServer())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Start(ctx))

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "bridge-test", Version: "0.0.0"}
	_, err = client.Initialize(ctx, initReq)
	require.NoError(t, err)

	tools, err := client.ListTools(ctx, mcp.ListToolsRequest{})
	require.NoError(t, err)

	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		ToolGetCredentialsStatus,
		ToolGetTokens,
		ToolListProviders,
		ToolRemoveCredentials,
		ToolRevoke,
		ToolSetCredentials,
		ToolStartFlow,
		ToolStatus,
	}, names)

	result, err := client.CallTool(ctx, callRequest(ToolStartFlow, map[string]any{
		"provider":  "github",
		"server_id": "repo-bot",
		"scopes":    []string{"repo"},
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, []string{"github", "repo-bot"}, svc.startArgs)
	assert.Equal(t, []string{"repo"}, svc.scopes)
}
