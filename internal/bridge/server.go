package bridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"harbor-bridge/internal/oauth"
	"harbor-bridge/pkg/logging"
)

// Tool names.
const (
	ToolStartFlow            = "oauth_start_flow"
	ToolGetTokens            = "oauth_get_tokens"
	ToolStatus               = "oauth_status"
	ToolRevoke               = "oauth_revoke"
	ToolListProviders        = "oauth_list_providers"
	ToolGetCredentialsStatus = "oauth_get_credentials_status"
	ToolSetCredentials       = "oauth_set_credentials"
	ToolRemoveCredentials    = "oauth_remove_credentials"
)

// Service is the set of OAuth operations the bridge exposes.
// *oauth.Manager implements it.
type Service interface {
	StartFlow(ctx context.Context, providerID, serverID string, scopes []string) (*oauth.StartFlowResult, error)
	GetTokens(ctx context.Context, serverID string) (*oauth.TokenInfo, error)
	Status(serverID string) (*oauth.StatusInfo, error)
	Revoke(ctx context.Context, serverID string) (*oauth.RevokeResult, error)
	ListProviders() []oauth.ProviderInfo
	CredentialsStatus() map[string]oauth.CredentialStatus
	SetCredentials(providerID, clientID, clientSecret string) error
	RemoveCredentials(providerID string) error
}

// Server is the MCP server wrapping a Service.
type Server struct {
	service   Service
	mcpServer *server.MCPServer
}

// NewServer creates a bridge server and registers its tools.
func NewServer(service Service, version string) *Server {
	mcpServer := server.NewMCPServer(
		"harbor-bridge",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		service:   service,
		mcpServer: mcpServer,
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Serve speaks MCP over in/out until ctx is cancelled or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(logging.Logger().Handler(), slog.LevelError))

	logging.Info("Bridge", "Serving OAuth tools over stdio")
	return stdio.Listen(ctx, in, out)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(ToolStartFlow,
		mcp.WithDescription("Start an OAuth authorization flow and return the URL to open in a browser"),
		mcp.WithString("provider",
			mcp.Required(),
			mcp.Description("Provider id, e.g. google or github"),
		),
		mcp.WithString("server_id",
			mcp.Required(),
			mcp.Description("Id of the server the tokens are for"),
		),
		mcp.WithArray("scopes",
			mcp.Required(),
			mcp.Description("Scopes to request"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	), s.handleStartFlow)

	s.mcpServer.AddTool(mcp.NewTool(ToolGetTokens,
		mcp.WithDescription("Get a valid access token for a server, refreshing it if it has expired"),
		mcp.WithString("server_id", mcp.Required(), mcp.Description("Server id")),
	), s.handleGetTokens)

	s.mcpServer.AddTool(mcp.NewTool(ToolStatus,
		mcp.WithDescription("Report the stored authentication state for a server"),
		mcp.WithString("server_id", mcp.Required(), mcp.Description("Server id")),
	), s.handleStatus)

	s.mcpServer.AddTool(mcp.NewTool(ToolRevoke,
		mcp.WithDescription("Forget the tokens for a server and revoke them with the provider where supported"),
		mcp.WithString("server_id", mcp.Required(), mcp.Description("Server id")),
	), s.handleRevoke)

	s.mcpServer.AddTool(mcp.NewTool(ToolListProviders,
		mcp.WithDescription("List the supported OAuth providers and whether they are configured"),
	), s.handleListProviders)

	s.mcpServer.AddTool(mcp.NewTool(ToolGetCredentialsStatus,
		mcp.WithDescription("Report which providers have client credentials configured"),
	), s.handleGetCredentialsStatus)

	s.mcpServer.AddTool(mcp.NewTool(ToolSetCredentials,
		mcp.WithDescription("Store OAuth client credentials for a provider"),
		mcp.WithString("provider", mcp.Required(), mcp.Description("Provider id")),
		mcp.WithString("client_id", mcp.Required(), mcp.Description("OAuth client id")),
		mcp.WithString("client_secret", mcp.Required(), mcp.Description("OAuth client secret")),
	), s.handleSetCredentials)

	s.mcpServer.AddTool(mcp.NewTool(ToolRemoveCredentials,
		mcp.WithDescription("Remove stored OAuth client credentials for a provider"),
		mcp.WithString("provider", mcp.Required(), mcp.Description("Provider id")),
	), s.handleRemoveCredentials)
}

// jsonResult renders v as the text content of a successful result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ErrorPayload is the body of a failed tool result.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func errorResult(err error) *mcp.CallToolResult {
	payload := ErrorPayload{
		Code:    oauth.RPCCode(err),
		Kind:    oauth.ErrorKind(err),
		Message: err.Error(),
	}
	data, _ := json.Marshal(payload)
	return mcp.NewToolResultError(string(data))
}
